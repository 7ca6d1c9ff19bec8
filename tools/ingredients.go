package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"grocerybot/store"
)

// GetIngredients searches the known-ingredient catalog.
type GetIngredients struct{ st *store.Store }

func NewGetIngredients(st *store.Store) *GetIngredients { return &GetIngredients{st: st} }

func (t *GetIngredients) Name() string  { return NameGetIngredients }
func (t *GetIngredients) Title() string { return "Get Ingredients" }
func (t *GetIngredients) Description() string {
	return "Searches known ingredients by name. Can filter to ingredients with or without a Kroger product mapping."
}

type getIngredientsParams struct {
	Name        string `json:"name"`
	HasKrogerID *bool  `json:"has_kroger_id"`
}

func (t *GetIngredients) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":          {Type: "string", Description: "Substring to match against ingredient names."},
			"has_kroger_id": {Type: "boolean"},
		},
	}
}

func (t *GetIngredients) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"ingredients": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"id":                {Type: "integer"},
						"name":              {Type: "string"},
						"preferred_brand":   {Type: "string"},
						"preferred_size":    {Type: "string"},
						"kroger_product_id": {Type: "string"},
						"category":          {Type: "string"},
					},
					Required: []string{"id", "name"},
				},
			},
			"count": {Type: "integer"},
		},
		Required: []string{"ingredients", "count"},
	}
}

func (t *GetIngredients) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[getIngredientsParams](input)
	if err != nil {
		return nil, err
	}

	ingredients, err := t.st.SearchIngredients(params.Name, params.HasKrogerID, 50)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(ingredients))
	for _, i := range ingredients {
		result = append(result, map[string]any{
			"id":                i.ID,
			"name":              i.Name,
			"preferred_brand":   i.PreferredBrand,
			"preferred_size":    i.PreferredSize,
			"kroger_product_id": i.KrogerProductID,
			"category":          i.Category,
		})
	}
	return map[string]any{"ingredients": result, "count": len(result)}, nil
}

// UpdateIngredient sets preferred brand, size, or category.
type UpdateIngredient struct{ st *store.Store }

func NewUpdateIngredient(st *store.Store) *UpdateIngredient { return &UpdateIngredient{st: st} }

func (t *UpdateIngredient) Name() string  { return NameUpdateIngredient }
func (t *UpdateIngredient) Title() string { return "Update Ingredient" }
func (t *UpdateIngredient) Description() string {
	return "Updates an ingredient's preferred brand, preferred size, or category."
}

type updateIngredientParams struct {
	Name           string `json:"name"`
	PreferredBrand string `json:"preferred_brand"`
	PreferredSize  string `json:"preferred_size"`
	Category       string `json:"category"`
}

func (p updateIngredientParams) validate() error { return requireString("name", p.Name) }

func (t *UpdateIngredient) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":            {Type: "string"},
			"preferred_brand": {Type: "string"},
			"preferred_size":  {Type: "string"},
			"category":        {Type: "string"},
		},
		Required: []string{"name"},
	}
}

func (t *UpdateIngredient) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":         {Type: "boolean"},
			"ingredient_id":   {Type: "integer"},
			"name":            {Type: "string"},
			"preferred_brand": {Type: "string"},
			"preferred_size":  {Type: "string"},
			"category":        {Type: "string"},
		},
		Required: []string{"success", "ingredient_id", "name"},
	}
}

func (t *UpdateIngredient) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[updateIngredientParams](input)
	if err != nil {
		return nil, err
	}

	ingredient, _, err := t.st.GetOrCreateIngredient(params.Name)
	if err != nil {
		return nil, err
	}
	if params.PreferredBrand != "" {
		ingredient.PreferredBrand = params.PreferredBrand
	}
	if params.PreferredSize != "" {
		ingredient.PreferredSize = params.PreferredSize
	}
	if params.Category != "" {
		ingredient.Category = params.Category
	}
	if err := t.st.SaveIngredient(ingredient); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionUpdateIngredient,
		fmt.Sprintf("name=%s", params.Name),
		fmt.Sprintf("ingredient_id=%d", ingredient.ID),
		map[string]any{"ingredient_id": ingredient.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"ingredient_id":   ingredient.ID,
		"name":            ingredient.Name,
		"preferred_brand": ingredient.PreferredBrand,
		"preferred_size":  ingredient.PreferredSize,
		"category":        ingredient.Category,
	}, nil
}

// SetIngredientAlias registers an alternate name for an ingredient so
// future mentions dedupe to the same record.
type SetIngredientAlias struct{ st *store.Store }

func NewSetIngredientAlias(st *store.Store) *SetIngredientAlias { return &SetIngredientAlias{st: st} }

func (t *SetIngredientAlias) Name() string  { return NameSetIngredientAlias }
func (t *SetIngredientAlias) Title() string { return "Set Ingredient Alias" }
func (t *SetIngredientAlias) Description() string {
	return "Adds an alias to an ingredient, e.g. 'green onions' for 'scallions', so both names resolve to the same item."
}

type setAliasParams struct {
	IngredientName string `json:"ingredient_name"`
	Alias          string `json:"alias"`
}

func (p setAliasParams) validate() error {
	if err := requireString("ingredient_name", p.IngredientName); err != nil {
		return err
	}
	return requireString("alias", p.Alias)
}

func (t *SetIngredientAlias) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"ingredient_name": {Type: "string"},
			"alias":           {Type: "string"},
		},
		Required: []string{"ingredient_name", "alias"},
	}
}

func (t *SetIngredientAlias) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":       {Type: "boolean"},
			"ingredient_id": {Type: "integer"},
			"name":          {Type: "string"},
			"aliases":       {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"success", "ingredient_id", "name", "aliases"},
	}
}

func (t *SetIngredientAlias) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[setAliasParams](input)
	if err != nil {
		return nil, err
	}

	ingredient, _, err := t.st.GetOrCreateIngredient(params.IngredientName)
	if err != nil {
		return nil, err
	}
	if err := t.st.AddIngredientAlias(ingredient, params.Alias); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionUpdateIngredient,
		fmt.Sprintf("name=%s, alias=%s", params.IngredientName, params.Alias),
		fmt.Sprintf("ingredient_id=%d", ingredient.ID),
		map[string]any{"ingredient_id": ingredient.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":       true,
		"ingredient_id": ingredient.ID,
		"name":          ingredient.Name,
		"aliases":       []string(ingredient.Aliases),
	}, nil
}

// SetPurchaseSource marks an ingredient as bought somewhere other than
// Kroger, or resets it back to Kroger.
type SetPurchaseSource struct{ st *store.Store }

func NewSetPurchaseSource(st *store.Store) *SetPurchaseSource { return &SetPurchaseSource{st: st} }

func (t *SetPurchaseSource) Name() string  { return NameSetPurchaseSource }
func (t *SetPurchaseSource) Title() string { return "Set Purchase Source" }
func (t *SetPurchaseSource) Description() string {
	return "Marks an ingredient as purchased from a specific store other than Kroger (sprouts, liquor_store, costco, farmers_market, other). Pass an empty source to reset to Kroger."
}

type setPurchaseSourceParams struct {
	Name           string `json:"name"`
	PurchaseSource string `json:"purchase_source"`
}

func (p setPurchaseSourceParams) validate() error { return requireString("name", p.Name) }

func (t *SetPurchaseSource) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string"},
			"purchase_source": {
				Type:        "string",
				Description: "Where to purchase: 'sprouts', 'liquor_store', 'costco', 'farmers_market', 'other', or empty to reset to Kroger.",
			},
		},
		Required: []string{"name"},
	}
}

func (t *SetPurchaseSource) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":         {Type: "boolean"},
			"ingredient_id":   {Type: "integer"},
			"name":            {Type: "string"},
			"purchase_source": {Type: "string"},
		},
		Required: []string{"success", "ingredient_id", "name"},
	}
}

func (t *SetPurchaseSource) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[setPurchaseSourceParams](input)
	if err != nil {
		return nil, err
	}

	// "kroger", "null" and "none" all mean the default source.
	source := strings.ToLower(strings.TrimSpace(params.PurchaseSource))
	switch source {
	case "null", "none", "kroger":
		source = ""
	}

	ingredient, _, err := t.st.GetOrCreateIngredient(params.Name)
	if err != nil {
		return nil, err
	}
	ingredient.PurchaseSource = source
	if err := t.st.SaveIngredient(ingredient); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionUpdateIngredient,
		fmt.Sprintf("name=%s, source=%s", params.Name, params.PurchaseSource),
		fmt.Sprintf("ingredient_id=%d", ingredient.ID),
		map[string]any{"ingredient_id": ingredient.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"ingredient_id":   ingredient.ID,
		"name":            ingredient.Name,
		"purchase_source": ingredient.PurchaseSource,
	}, nil
}

// GetNonKrogerItems lists active-list items bought elsewhere, grouped by
// purchase source.
type GetNonKrogerItems struct{ st *store.Store }

func NewGetNonKrogerItems(st *store.Store) *GetNonKrogerItems { return &GetNonKrogerItems{st: st} }

func (t *GetNonKrogerItems) Name() string  { return NameGetNonKroger }
func (t *GetNonKrogerItems) Title() string { return "Get Non-Kroger Items" }
func (t *GetNonKrogerItems) Description() string {
	return "Returns shopping list items that need to be purchased somewhere other than Kroger, grouped by purchase source."
}

func (t *GetNonKrogerItems) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *GetNonKrogerItems) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"by_source": {Type: "object"},
			"count":     {Type: "integer"},
		},
		Required: []string{"by_source", "count"},
	}
}

func (t *GetNonKrogerItems) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	items, err := t.st.ListItems(list.ID)
	if err != nil {
		return nil, err
	}

	bySource := map[string]any{}
	count := 0
	for _, item := range items {
		source := item.Ingredient.PurchaseSource
		if source == "" {
			continue
		}
		group, _ := bySource[source].([]map[string]any)
		group = append(group, map[string]any{
			"name":     item.Ingredient.Name,
			"quantity": item.Quantity,
			"unit":     item.Unit,
		})
		bySource[source] = group
		count++
	}
	return map[string]any{"by_source": bySource, "count": count}, nil
}
