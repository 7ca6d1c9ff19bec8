package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"gorm.io/gorm"

	"grocerybot/store"
)

// GetMealPlan returns the plan currently being built.
type GetMealPlan struct{ st *store.Store }

func NewGetMealPlan(st *store.Store) *GetMealPlan { return &GetMealPlan{st: st} }

func (t *GetMealPlan) Name() string  { return NameGetMealPlan }
func (t *GetMealPlan) Title() string { return "Get Meal Plan" }
func (t *GetMealPlan) Description() string {
	return "Returns the meal plan currently in planning, with its meals in order."
}

func (t *GetMealPlan) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *GetMealPlan) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"plan": {Type: "object"},
		},
	}
}

func (t *GetMealPlan) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	plan, err := t.st.GetPlanningMealPlan()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]any{"plan": nil}, nil
	}
	if err != nil {
		return nil, err
	}

	meals := make([]map[string]any, 0, len(plan.Meals))
	for _, m := range plan.Meals {
		meal := map[string]any{"meal_name": m.MealName, "added_at": m.AddedAt}
		if m.RecipeID != 0 {
			meal["recipe_id"] = m.RecipeID
		}
		if m.Notes != "" {
			meal["notes"] = m.Notes
		}
		meals = append(meals, meal)
	}
	return map[string]any{
		"plan": map[string]any{
			"id":              plan.ID,
			"week_start_date": plan.WeekStartDate.Format("2006-01-02"),
			"meals":           meals,
			"status":          string(plan.Status),
		},
	}, nil
}

// AddMeal appends a meal to the planning-status plan, creating the plan on
// the next unused week when none exists.
type AddMeal struct{ st *store.Store }

func NewAddMeal(st *store.Store) *AddMeal { return &AddMeal{st: st} }

func (t *AddMeal) Name() string  { return NameAddMeal }
func (t *AddMeal) Title() string { return "Add Meal" }
func (t *AddMeal) Description() string {
	return "Adds a meal to the plan being built. Link a recipe_id when the meal comes from a saved recipe."
}

type addMealParams struct {
	MealName string `json:"meal_name"`
	RecipeID uint   `json:"recipe_id"`
	Notes    string `json:"notes"`
}

func (p addMealParams) validate() error { return requireString("meal_name", p.MealName) }

func (t *AddMeal) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"meal_name": {Type: "string"},
			"recipe_id": {Type: "integer"},
			"notes":     {Type: "string"},
		},
		Required: []string{"meal_name"},
	}
}

func (t *AddMeal) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":   {Type: "boolean"},
			"meal_name": {Type: "string"},
			"plan_id":   {Type: "integer"},
		},
		Required: []string{"success", "meal_name", "plan_id"},
	}
}

func (t *AddMeal) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[addMealParams](input)
	if err != nil {
		return nil, err
	}

	plan, err := t.st.GetOrCreatePlanningMealPlan(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	meal := store.Meal{
		MealName: strings.TrimSpace(params.MealName),
		RecipeID: params.RecipeID,
		Notes:    strings.TrimSpace(params.Notes),
		AddedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	plan.Meals = append(plan.Meals, meal)
	if err := t.st.SaveMealPlan(plan); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionAddMeal,
		fmt.Sprintf("meal=%s", meal.MealName),
		fmt.Sprintf("plan_id=%d", plan.ID),
		map[string]any{"plan_id": plan.ID})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "meal_name": meal.MealName, "plan_id": plan.ID}, nil
}

// RemoveMeal takes a meal off the planning-status plan by name.
type RemoveMeal struct{ st *store.Store }

func NewRemoveMeal(st *store.Store) *RemoveMeal { return &RemoveMeal{st: st} }

func (t *RemoveMeal) Name() string  { return NameRemoveMeal }
func (t *RemoveMeal) Title() string { return "Remove Meal" }
func (t *RemoveMeal) Description() string {
	return "Removes a meal from the plan being built."
}

type removeMealParams struct {
	MealName string `json:"meal_name"`
}

func (p removeMealParams) validate() error { return requireString("meal_name", p.MealName) }

func (t *RemoveMeal) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"meal_name": {Type: "string"},
		},
		Required: []string{"meal_name"},
	}
}

func (t *RemoveMeal) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success": {Type: "boolean"},
			"removed": {Type: "string"},
		},
		Required: []string{"success", "removed"},
	}
}

func (t *RemoveMeal) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[removeMealParams](input)
	if err != nil {
		return nil, err
	}

	plan, err := t.st.GetPlanningMealPlan()
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(plan.Meals) == 0) {
		return nil, errors.New("no active meal plan or no meals to remove")
	}
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(strings.TrimSpace(params.MealName))
	remaining := make([]store.Meal, 0, len(plan.Meals))
	for _, m := range plan.Meals {
		if strings.ToLower(m.MealName) != want {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == len(plan.Meals) {
		return nil, fmt.Errorf("meal %q not found in the plan", params.MealName)
	}

	plan.Meals = remaining
	if err := t.st.SaveMealPlan(plan); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionRemoveMeal,
		fmt.Sprintf("meal=%s", params.MealName), "removed", nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "removed": params.MealName}, nil
}

// GenerateListFromMeals pushes recipe ingredients from planned meals onto
// the shopping list, skipping what's already listed or stocked in the
// pantry.
type GenerateListFromMeals struct{ st *store.Store }

func NewGenerateListFromMeals(st *store.Store) *GenerateListFromMeals {
	return &GenerateListFromMeals{st: st}
}

func (t *GenerateListFromMeals) Name() string  { return NameGenerateListFromMeals }
func (t *GenerateListFromMeals) Title() string { return "Generate List From Meals" }
func (t *GenerateListFromMeals) Description() string {
	return "Adds the ingredients of all recipe-linked meals in the current plan to the shopping list, skipping items already on the list or in the pantry."
}

func (t *GenerateListFromMeals) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *GenerateListFromMeals) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":          {Type: "boolean"},
			"items_added":      {Type: "integer"},
			"skipped_existing": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"skipped_pantry":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"success", "items_added"},
	}
}

func (t *GenerateListFromMeals) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	plan, err := t.st.GetPlanningMealPlan()
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(plan.Meals) == 0) {
		return nil, errors.New("no active meal plan or no meals planned")
	}
	if err != nil {
		return nil, err
	}

	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	existing, err := t.st.ListItems(list.ID)
	if err != nil {
		return nil, err
	}
	onList := make(map[uint]bool, len(existing))
	for _, item := range existing {
		onList[item.IngredientID] = true
	}

	pantry, err := t.st.PantryItems()
	if err != nil {
		return nil, err
	}
	pantryNames := make(map[string]bool, len(pantry))
	for _, p := range pantry {
		pantryNames[store.NormalizeName(p.ItemName)] = true
	}

	added := 0
	var skippedExisting, skippedPantry []string
	for _, meal := range plan.Meals {
		if meal.RecipeID == 0 {
			continue
		}
		lines, err := t.st.RecipeIngredients(meal.RecipeID)
		if err != nil {
			return nil, err
		}
		for _, ri := range lines {
			if onList[ri.IngredientID] {
				skippedExisting = append(skippedExisting, ri.Ingredient.Name)
				continue
			}
			if pantryNames[ri.Ingredient.NormalizedName] {
				skippedPantry = append(skippedPantry, ri.Ingredient.Name)
				continue
			}
			recipeID := meal.RecipeID
			item := store.ShoppingListItem{
				ShoppingListID: list.ID,
				IngredientID:   ri.IngredientID,
				Quantity:       ri.Quantity,
				Unit:           ri.Unit,
				AddedBy:        "meal plan",
				AddedAt:        time.Now().UTC(),
				FromRecipeID:   &recipeID,
			}
			if err := t.st.AddListItem(&item); err != nil {
				return nil, err
			}
			onList[ri.IngredientID] = true
			added++
		}
	}

	err = t.st.LogEvent(store.ActionGenerateList,
		fmt.Sprintf("meals=%d", len(plan.Meals)),
		fmt.Sprintf("added=%d", added), nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":          true,
		"items_added":      added,
		"skipped_existing": skippedExisting,
		"skipped_pantry":   skippedPantry,
	}, nil
}

// CompleteMealPlan closes out the plan being built.
type CompleteMealPlan struct{ st *store.Store }

func NewCompleteMealPlan(st *store.Store) *CompleteMealPlan { return &CompleteMealPlan{st: st} }

func (t *CompleteMealPlan) Name() string  { return NameCompleteMealPlan }
func (t *CompleteMealPlan) Title() string { return "Complete Meal Plan" }
func (t *CompleteMealPlan) Description() string {
	return "Marks the current meal plan completed. The next add_meal starts a fresh plan for a later week."
}

func (t *CompleteMealPlan) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *CompleteMealPlan) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success": {Type: "boolean"},
			"plan_id": {Type: "integer"},
		},
		Required: []string{"success", "plan_id"},
	}
}

func (t *CompleteMealPlan) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	plan, err := t.st.GetPlanningMealPlan()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New("no active meal plan to complete")
	}
	if err != nil {
		return nil, err
	}

	plan.Status = store.PlanStatusCompleted
	if err := t.st.SaveMealPlan(plan); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionCompleteMealPlan,
		fmt.Sprintf("plan_id=%d", plan.ID), "completed",
		map[string]any{"plan_id": plan.ID})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "plan_id": plan.ID}, nil
}
