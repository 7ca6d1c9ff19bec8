package tools

import (
	"fmt"
	"sort"

	"grocerybot/store"
)

// Registry maps tool names to implementations
type Registry map[string]Tool

// NewRegistry builds the full tool set around a store handle. The store is
// usually transaction-bound, so registries are cheap and built per message.
func NewRegistry(st *store.Store, kc KrogerAPI) Registry {
	all := []Tool{
		NewGetShoppingList(st),
		NewAddItem(st),
		NewRemoveItem(st),
		NewUpdateItem(st),
		NewClearList(st),
		NewCheckOffItem(st),
		NewFinalizeOrder(st),
		NewGetOrderHistory(st),

		NewGetIngredients(st),
		NewUpdateIngredient(st),
		NewSetIngredientAlias(st),
		NewSetPurchaseSource(st),
		NewGetNonKrogerItems(st),

		NewGetRecipes(st),
		NewAddRecipe(st),
		NewUpdateRecipe(st),
		NewImportRecipesBatch(st),
		NewGetRecipeNotes(st),
		NewAddRecipeNote(st),

		NewGetMealPlan(st),
		NewAddMeal(st),
		NewRemoveMeal(st),
		NewGenerateListFromMeals(st),
		NewCompleteMealPlan(st),

		NewGetPantry(st),
		NewAddPantryItem(st),
		NewAddPantryBatch(st),
		NewUpdatePantryItem(st),
		NewRemovePantryItem(st),

		NewGetPreferences(st),
		NewUpdatePreference(st),

		NewResolveKrogerProduct(st, kc),
		NewConfirmKrogerProduct(st),
		NewAddToKrogerCart(st, kc),
		NewMatchPurchases(st, kc),
	}

	registry := make(Registry, len(all))
	for _, t := range all {
		registry[t.Name()] = t
	}
	return registry
}

// GetTools returns all tools sorted by name. Prompt caching keys on an
// identical prefix, so the catalogue order must not vary between messages.
func (r Registry) GetTools() []Tool {
	tools := make([]Tool, 0, len(r))
	for _, tool := range r {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetTool retrieves a tool by name from the registry
func (r Registry) GetTool(name string) (Tool, error) {
	tool, exists := r[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return tool, nil
}
