package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"grocerybot/store"
)

// recipeIngredientInput is the shared shape for ingredient lines in recipe
// tools.
type recipeIngredientInput struct {
	Name      string     `json:"name"`
	Quantity  flexNumber `json:"quantity"`
	Unit      string     `json:"unit"`
	PrepNotes string     `json:"prep_notes"`
	Optional  bool       `json:"optional"`
}

var recipeIngredientSchema = &jsonschema.Schema{
	Type: "array",
	Items: &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":       {Type: "string"},
			"quantity":   {Type: "number"},
			"unit":       {Type: "string"},
			"prep_notes": {Type: "string"},
			"optional":   {Type: "boolean"},
		},
		Required: []string{"name"},
	},
}

// GetRecipes searches saved recipes with their ingredient lines and note
// summaries.
type GetRecipes struct{ st *store.Store }

func NewGetRecipes(st *store.Store) *GetRecipes { return &GetRecipes{st: st} }

func (t *GetRecipes) Name() string  { return NameGetRecipes }
func (t *GetRecipes) Title() string { return "Get Recipes" }
func (t *GetRecipes) Description() string {
	return "Searches saved recipes by name, cuisine, or tag. Returns ingredients and a summary of cooking notes."
}

type getRecipesParams struct {
	Name    string `json:"name"`
	Cuisine string `json:"cuisine"`
	Tags    string `json:"tags"`
	Limit   int    `json:"limit"`
}

func (t *GetRecipes) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":    {Type: "string"},
			"cuisine": {Type: "string"},
			"tags":    {Type: "string"},
			"limit":   {Type: "integer"},
		},
	}
}

func (t *GetRecipes) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipes": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"count":   {Type: "integer"},
		},
		Required: []string{"recipes", "count"},
	}
}

func (t *GetRecipes) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[getRecipesParams](input)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}

	recipes, err := t.st.SearchRecipes(params.Name, params.Cuisine, params.Tags)
	if err != nil {
		return nil, err
	}
	if len(recipes) > params.Limit {
		recipes = recipes[:params.Limit]
	}

	result := make([]map[string]any, 0, len(recipes))
	for _, r := range recipes {
		lines, err := t.st.RecipeIngredients(r.ID)
		if err != nil {
			return nil, err
		}
		ingredients := make([]map[string]any, 0, len(lines))
		for _, ri := range lines {
			ingredients = append(ingredients, map[string]any{
				"name":       ri.Ingredient.Name,
				"quantity":   ri.Quantity,
				"unit":       ri.Unit,
				"prep_notes": ri.PrepNotes,
			})
		}

		notes, err := t.st.NotesForRecipeID(r.ID)
		if err != nil {
			return nil, err
		}
		recipeData := map[string]any{
			"id":           r.ID,
			"name":         r.Name,
			"ingredients":  ingredients,
			"instructions": r.Instructions,
			"cuisine":      r.Cuisine,
			"tags":         []string(r.Tags),
			"note_count":   len(notes),
		}
		hasPositive := false
		for _, n := range notes {
			if n.Outcome == store.OutcomeBetter {
				hasPositive = true
				break
			}
		}
		recipeData["has_positive_notes"] = hasPositive
		if len(notes) > 0 {
			recipeData["latest_note"] = map[string]any{
				"title":   notes[0].Title,
				"outcome": string(notes[0].Outcome),
				"user":    notes[0].User,
			}
		}
		result = append(result, recipeData)
	}
	return map[string]any{"recipes": result, "count": len(result)}, nil
}

// AddRecipe creates a recipe with structured ingredient lines, creating
// ingredient records as needed and backfilling any orphaned notes.
type AddRecipe struct{ st *store.Store }

func NewAddRecipe(st *store.Store) *AddRecipe { return &AddRecipe{st: st} }

func (t *AddRecipe) Name() string  { return NameAddRecipe }
func (t *AddRecipe) Title() string { return "Add Recipe" }
func (t *AddRecipe) Description() string {
	return "Saves a recipe with its ingredients. New ingredients get catalog records automatically. Reports which ingredients still lack Kroger mappings."
}

type addRecipeParams struct {
	Name         string                  `json:"name"`
	Ingredients  []recipeIngredientInput `json:"ingredients"`
	Instructions string                  `json:"instructions"`
	Cuisine      string                  `json:"cuisine"`
	Tags         []string                `json:"tags"`
	SourceURL    string                  `json:"source_url"`
}

func (p addRecipeParams) validate() error { return requireString("name", p.Name) }

func (t *AddRecipe) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":         {Type: "string"},
			"ingredients":  recipeIngredientSchema,
			"instructions": {Type: "string"},
			"cuisine":      {Type: "string"},
			"tags":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"source_url":   {Type: "string"},
		},
		Required: []string{"name"},
	}
}

func (t *AddRecipe) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":              {Type: "boolean"},
			"recipe_id":            {Type: "integer"},
			"name":                 {Type: "string"},
			"ingredient_count":     {Type: "integer"},
			"unmapped_ingredients": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"notes_linked":         {Type: "integer"},
		},
		Required: []string{"success", "recipe_id", "name"},
	}
}

func (t *AddRecipe) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[addRecipeParams](input)
	if err != nil {
		return nil, err
	}

	recipe := store.Recipe{
		Name:         strings.TrimSpace(params.Name),
		Instructions: params.Instructions,
		Cuisine:      params.Cuisine,
		Tags:         datatypes.JSONSlice[string](params.Tags),
		SourceURL:    params.SourceURL,
	}
	if err := t.st.CreateRecipe(&recipe); err != nil {
		return nil, err
	}

	var unmapped []string
	linked := 0
	for _, line := range params.Ingredients {
		if strings.TrimSpace(line.Name) == "" {
			continue
		}
		ingredient, _, err := t.st.GetOrCreateIngredient(line.Name)
		if err != nil {
			return nil, err
		}
		ri := store.RecipeIngredient{
			RecipeID:     recipe.ID,
			IngredientID: ingredient.ID,
			Quantity:     line.Quantity.value,
			Unit:         line.Unit,
			PrepNotes:    line.PrepNotes,
			Optional:     line.Optional,
		}
		if err := t.st.AddRecipeIngredient(&ri); err != nil {
			return nil, err
		}
		linked++
		if !ingredient.Resolved() {
			unmapped = append(unmapped, ingredient.Name)
		}
	}

	notesLinked, err := t.st.BackfillOrphanedNotes(&recipe)
	if err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionAddRecipe,
		fmt.Sprintf("name=%s, ingredients=%d", recipe.Name, linked),
		fmt.Sprintf("recipe_id=%d", recipe.ID),
		map[string]any{"recipe_id": recipe.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":              true,
		"recipe_id":            recipe.ID,
		"name":                 recipe.Name,
		"ingredient_count":     linked,
		"unmapped_ingredients": unmapped,
		"notes_linked":         notesLinked,
	}, nil
}

// UpdateRecipe edits an existing recipe: description, added or removed
// ingredient lines.
type UpdateRecipe struct{ st *store.Store }

func NewUpdateRecipe(st *store.Store) *UpdateRecipe { return &UpdateRecipe{st: st} }

func (t *UpdateRecipe) Name() string  { return NameUpdateRecipe }
func (t *UpdateRecipe) Title() string { return "Update Recipe" }
func (t *UpdateRecipe) Description() string {
	return "Updates an existing recipe: change the description, add ingredients, or remove ingredients."
}

type updateRecipeParams struct {
	RecipeName        string                  `json:"recipe_name"`
	UpdateDescription string                  `json:"update_description"`
	AddIngredients    []recipeIngredientInput `json:"add_ingredients"`
	RemoveIngredients []string                `json:"remove_ingredients"`
}

func (p updateRecipeParams) validate() error { return requireString("recipe_name", p.RecipeName) }

func (t *UpdateRecipe) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipe_name":        {Type: "string"},
			"update_description": {Type: "string"},
			"add_ingredients":    recipeIngredientSchema,
			"remove_ingredients": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"recipe_name"},
	}
}

func (t *UpdateRecipe) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":     {Type: "boolean"},
			"recipe_id":   {Type: "integer"},
			"recipe_name": {Type: "string"},
			"changes":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"success", "recipe_id", "recipe_name"},
	}
}

func (t *UpdateRecipe) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[updateRecipeParams](input)
	if err != nil {
		return nil, err
	}

	recipe, err := t.st.FindRecipeByName(params.RecipeName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("recipe %q not found", params.RecipeName)
	}
	if err != nil {
		return nil, err
	}

	var changes []string
	if params.UpdateDescription != "" {
		recipe.Description = params.UpdateDescription
		changes = append(changes, "description updated")
	}

	lines, err := t.st.RecipeIngredients(recipe.ID)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range params.RemoveIngredients {
		want := store.NormalizeName(name)
		for i := range lines {
			if strings.Contains(lines[i].Ingredient.NormalizedName, want) {
				if err := t.st.DB().Delete(&lines[i]).Error; err != nil {
					return nil, fmt.Errorf("removing recipe ingredient: %w", err)
				}
				removed = append(removed, lines[i].Ingredient.Name)
				break
			}
		}
	}
	if len(removed) > 0 {
		changes = append(changes, "removed: "+strings.Join(removed, ", "))
	}

	var added []string
	for _, line := range params.AddIngredients {
		if strings.TrimSpace(line.Name) == "" {
			continue
		}
		ingredient, _, err := t.st.GetOrCreateIngredient(line.Name)
		if err != nil {
			return nil, err
		}
		already := false
		for _, existing := range lines {
			if existing.IngredientID == ingredient.ID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		ri := store.RecipeIngredient{
			RecipeID:     recipe.ID,
			IngredientID: ingredient.ID,
			Quantity:     line.Quantity.value,
			Unit:         line.Unit,
			PrepNotes:    line.PrepNotes,
			Optional:     line.Optional,
		}
		if err := t.st.AddRecipeIngredient(&ri); err != nil {
			return nil, err
		}
		added = append(added, ingredient.Name)
	}
	if len(added) > 0 {
		changes = append(changes, "added: "+strings.Join(added, ", "))
	}

	if len(changes) == 0 {
		return map[string]any{"message": "No changes made.", "recipe_name": recipe.Name}, nil
	}

	if err := t.st.SaveRecipe(recipe); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionUpdateRecipe,
		fmt.Sprintf("recipe=%s", recipe.Name),
		"changes: "+strings.Join(changes, ", "),
		map[string]any{"recipe_id": recipe.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":     true,
		"recipe_id":   recipe.ID,
		"recipe_name": recipe.Name,
		"changes":     changes,
	}, nil
}

// ImportRecipesBatch creates many recipes in one call, sharing ingredient
// records across them.
type ImportRecipesBatch struct{ st *store.Store }

func NewImportRecipesBatch(st *store.Store) *ImportRecipesBatch { return &ImportRecipesBatch{st: st} }

func (t *ImportRecipesBatch) Name() string  { return NameImportRecipesBatch }
func (t *ImportRecipesBatch) Title() string { return "Import Recipes Batch" }
func (t *ImportRecipesBatch) Description() string {
	return "Imports multiple recipes at once. Use when the user pastes several recipes or a recipe collection."
}

type importRecipesParams struct {
	Recipes []addRecipeParams `json:"recipes"`
}

func (p importRecipesParams) validate() error {
	if len(p.Recipes) == 0 {
		return errors.New("recipes is required")
	}
	return nil
}

func (t *ImportRecipesBatch) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipes": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name":         {Type: "string"},
						"ingredients":  recipeIngredientSchema,
						"instructions": {Type: "string"},
						"cuisine":      {Type: "string"},
						"tags":         {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					},
					Required: []string{"name"},
				},
			},
		},
		Required: []string{"recipes"},
	}
}

func (t *ImportRecipesBatch) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":         {Type: "boolean"},
			"recipes_created": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"summary":         {Type: "object"},
		},
		Required: []string{"success", "recipes_created", "summary"},
	}
}

func (t *ImportRecipesBatch) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[importRecipesParams](input)
	if err != nil {
		return nil, err
	}

	var recipesCreated []map[string]any
	var ingredientsCreated []string
	var needingKroger []string
	seen := map[uint]bool{}

	for _, rp := range params.Recipes {
		if strings.TrimSpace(rp.Name) == "" {
			continue
		}
		recipe := store.Recipe{
			Name:         strings.TrimSpace(rp.Name),
			Instructions: rp.Instructions,
			Cuisine:      rp.Cuisine,
			Tags:         datatypes.JSONSlice[string](rp.Tags),
		}
		if err := t.st.CreateRecipe(&recipe); err != nil {
			return nil, err
		}

		lineCount := 0
		for _, line := range rp.Ingredients {
			if strings.TrimSpace(line.Name) == "" {
				continue
			}
			ingredient, _, err := t.st.GetOrCreateIngredient(line.Name)
			if err != nil {
				return nil, err
			}
			ri := store.RecipeIngredient{
				RecipeID:     recipe.ID,
				IngredientID: ingredient.ID,
				Quantity:     line.Quantity.value,
				Unit:         line.Unit,
				PrepNotes:    line.PrepNotes,
				Optional:     line.Optional,
			}
			if err := t.st.AddRecipeIngredient(&ri); err != nil {
				return nil, err
			}
			lineCount++
			if !seen[ingredient.ID] {
				seen[ingredient.ID] = true
				ingredientsCreated = append(ingredientsCreated, ingredient.Name)
				if !ingredient.Resolved() {
					needingKroger = append(needingKroger, ingredient.Name)
				}
			}
		}

		notesLinked, err := t.st.BackfillOrphanedNotes(&recipe)
		if err != nil {
			return nil, err
		}
		recipesCreated = append(recipesCreated, map[string]any{
			"name":             recipe.Name,
			"id":               recipe.ID,
			"ingredient_count": lineCount,
			"notes_linked":     notesLinked,
		})
	}

	err = t.st.LogEvent(store.ActionAddRecipe,
		fmt.Sprintf("batch import: %d recipes", len(recipesCreated)),
		fmt.Sprintf("ingredients=%d", len(ingredientsCreated)), nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":                    true,
		"recipes_created":            recipesCreated,
		"ingredients_created":        ingredientsCreated,
		"ingredients_needing_kroger": needingKroger,
		"summary": map[string]any{
			"recipe_count":         len(recipesCreated),
			"ingredient_count":     len(ingredientsCreated),
			"needing_kroger_count": len(needingKroger),
		},
	}, nil
}
