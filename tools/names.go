package tools

import "errors"

// ErrUnknownTool is returned when the model asks for a name outside the
// registry's closed set.
var ErrUnknownTool = errors.New("unknown tool")

// The full tool catalogue. The model only ever sees these names; anything
// else fails dispatch with ErrUnknownTool.
const (
	NameGetShoppingList = "get_shopping_list"
	NameGetIngredients  = "get_ingredients"
	NameGetRecipes      = "get_recipes"
	NameGetMealPlan     = "get_meal_plan"
	NameGetPantry       = "get_pantry"
	NameGetPreferences  = "get_preferences"
	NameGetRecipeNotes  = "get_recipe_notes"
	NameGetOrderHistory = "get_order_history"
	NameGetNonKroger    = "get_non_kroger_items"

	NameAddItem            = "add_item"
	NameRemoveItem         = "remove_item"
	NameUpdateItem         = "update_item"
	NameClearList          = "clear_list"
	NameCheckOffItem       = "check_off_item"
	NameFinalizeOrder      = "finalize_order"
	NameUpdateIngredient   = "update_ingredient"
	NameSetIngredientAlias = "set_ingredient_alias"
	NameSetPurchaseSource  = "set_purchase_source"

	NameAddRecipe          = "add_recipe"
	NameUpdateRecipe       = "update_recipe"
	NameImportRecipesBatch = "import_recipes_batch"
	NameAddRecipeNote      = "add_recipe_note"

	NameAddMeal               = "add_meal"
	NameRemoveMeal            = "remove_meal"
	NameGenerateListFromMeals = "generate_list_from_meals"
	NameCompleteMealPlan      = "complete_meal_plan"

	NameUpdatePreference = "update_preference"

	NameAddPantryItem    = "add_pantry_item"
	NameAddPantryBatch   = "add_pantry_batch"
	NameUpdatePantryItem = "update_pantry_item"
	NameRemovePantryItem = "remove_pantry_item"

	NameResolveKrogerProduct = "resolve_kroger_product"
	NameConfirmKrogerProduct = "confirm_kroger_product"
	NameAddToKrogerCart      = "add_to_kroger_cart"
	NameMatchPurchases       = "match_purchases_to_ingredients"
)
