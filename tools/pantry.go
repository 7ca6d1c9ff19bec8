package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"gorm.io/gorm"

	"grocerybot/store"
)

// GetPantry returns everything on hand, with ingredient links where known.
type GetPantry struct{ st *store.Store }

func NewGetPantry(st *store.Store) *GetPantry { return &GetPantry{st: st} }

func (t *GetPantry) Name() string  { return NameGetPantry }
func (t *GetPantry) Title() string { return "Get Pantry" }
func (t *GetPantry) Description() string {
	return "Returns all pantry items with quantities and their linked ingredient records."
}

func (t *GetPantry) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *GetPantry) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"item_name": {Type: "string"},
						"quantity":  {Type: "number"},
						"unit":      {Type: "string"},
					},
					Required: []string{"item_name"},
				},
			},
			"count": {Type: "integer"},
		},
		Required: []string{"items", "count"},
	}
}

func (t *GetPantry) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	items, err := t.st.PantryItems()
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(items))
	for _, i := range items {
		data := map[string]any{
			"item_name":     i.ItemName,
			"quantity":      i.Quantity,
			"unit":          i.Unit,
			"ingredient_id": i.IngredientID,
		}
		if i.Ingredient != nil {
			data["preferred_brand"] = i.Ingredient.PreferredBrand
			data["has_kroger_mapping"] = i.Ingredient.Resolved()
		}
		result = append(result, data)
	}
	return map[string]any{"items": result, "count": len(result)}, nil
}

// AddPantryItem upserts one pantry item, linking it to the ingredient
// catalog.
type AddPantryItem struct{ st *store.Store }

func NewAddPantryItem(st *store.Store) *AddPantryItem { return &AddPantryItem{st: st} }

func (t *AddPantryItem) Name() string  { return NameAddPantryItem }
func (t *AddPantryItem) Title() string { return "Add Pantry Item" }
func (t *AddPantryItem) Description() string {
	return "Adds an item to the pantry, or updates quantity/unit if it's already stocked."
}

type pantryItemParams struct {
	ItemName string     `json:"item_name"`
	Quantity flexNumber `json:"quantity"`
	Unit     string     `json:"unit"`
}

func (p pantryItemParams) validate() error { return requireString("item_name", p.ItemName) }

var pantryItemInputSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"item_name": {Type: "string"},
		"quantity":  {Type: "number"},
		"unit":      {Type: "string"},
	},
	Required: []string{"item_name"},
}

func (t *AddPantryItem) InputSchema() *jsonschema.Schema { return pantryItemInputSchema }

func (t *AddPantryItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":   {Type: "boolean"},
			"item_name": {Type: "string"},
			"action":    {Type: "string", Enum: []any{"added", "updated"}},
		},
		Required: []string{"success", "item_name", "action"},
	}
}

// upsertPantryItem is shared by the single and batch add tools. Returns
// "added" or "updated".
func upsertPantryItem(st *store.Store, params pantryItemParams) (string, uint, error) {
	ingredient, _, err := st.GetOrCreateIngredient(params.ItemName)
	if err != nil {
		return "", 0, err
	}

	existing, err := st.FindPantryItem(params.ItemName)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, err
	}

	if err == nil {
		if params.Quantity.value != nil {
			existing.Quantity = params.Quantity.value
		}
		if params.Unit != "" {
			existing.Unit = params.Unit
		}
		if existing.IngredientID == nil {
			existing.IngredientID = &ingredient.ID
		}
		if err := st.SavePantryItem(existing); err != nil {
			return "", 0, err
		}
		return "updated", ingredient.ID, nil
	}

	item := store.PantryItem{
		ItemName:     strings.TrimSpace(params.ItemName),
		Quantity:     params.Quantity.value,
		Unit:         params.Unit,
		IngredientID: &ingredient.ID,
	}
	if err := st.CreatePantryItem(&item); err != nil {
		return "", 0, err
	}
	return "added", ingredient.ID, nil
}

func (t *AddPantryItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[pantryItemParams](input)
	if err != nil {
		return nil, err
	}

	action, ingredientID, err := upsertPantryItem(t.st, params)
	if err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionAddPantryItem,
		fmt.Sprintf("name=%s", params.ItemName), action, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":       true,
		"item_name":     strings.TrimSpace(params.ItemName),
		"action":        action,
		"ingredient_id": ingredientID,
	}, nil
}

// AddPantryBatch upserts many pantry items in one call.
type AddPantryBatch struct{ st *store.Store }

func NewAddPantryBatch(st *store.Store) *AddPantryBatch { return &AddPantryBatch{st: st} }

func (t *AddPantryBatch) Name() string  { return NameAddPantryBatch }
func (t *AddPantryBatch) Title() string { return "Add Pantry Batch" }
func (t *AddPantryBatch) Description() string {
	return "Adds or updates multiple pantry items at once. Use when the user lists several things they have on hand."
}

type addPantryBatchParams struct {
	Items []pantryItemParams `json:"items"`
}

func (p addPantryBatchParams) validate() error {
	if len(p.Items) == 0 {
		return errors.New("items is required")
	}
	return nil
}

func (t *AddPantryBatch) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items": {Type: "array", Items: pantryItemInputSchema},
		},
		Required: []string{"items"},
	}
}

func (t *AddPantryBatch) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success": {Type: "boolean"},
			"added":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"updated": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"count":   {Type: "integer"},
		},
		Required: []string{"success", "count"},
	}
}

func (t *AddPantryBatch) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[addPantryBatchParams](input)
	if err != nil {
		return nil, err
	}

	var added, updated []string
	for _, item := range params.Items {
		if strings.TrimSpace(item.ItemName) == "" {
			continue
		}
		action, _, err := upsertPantryItem(t.st, item)
		if err != nil {
			return nil, err
		}
		if action == "added" {
			added = append(added, strings.TrimSpace(item.ItemName))
		} else {
			updated = append(updated, strings.TrimSpace(item.ItemName))
		}
	}

	err = t.st.LogEvent(store.ActionAddPantryItem,
		fmt.Sprintf("batch=%d", len(params.Items)),
		fmt.Sprintf("added=%d, updated=%d", len(added), len(updated)), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"added":   added,
		"updated": updated,
		"count":   len(added) + len(updated),
	}, nil
}

// UpdatePantryItem changes quantity or unit of an existing pantry item.
type UpdatePantryItem struct{ st *store.Store }

func NewUpdatePantryItem(st *store.Store) *UpdatePantryItem { return &UpdatePantryItem{st: st} }

func (t *UpdatePantryItem) Name() string  { return NameUpdatePantryItem }
func (t *UpdatePantryItem) Title() string { return "Update Pantry Item" }
func (t *UpdatePantryItem) Description() string {
	return "Updates the quantity or unit of an existing pantry item."
}

func (t *UpdatePantryItem) InputSchema() *jsonschema.Schema { return pantryItemInputSchema }

func (t *UpdatePantryItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":   {Type: "boolean"},
			"item_name": {Type: "string"},
		},
		Required: []string{"success", "item_name"},
	}
}

func (t *UpdatePantryItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[pantryItemParams](input)
	if err != nil {
		return nil, err
	}

	item, err := t.st.FindPantryItem(params.ItemName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pantry item %q not found", params.ItemName)
	}
	if err != nil {
		return nil, err
	}

	if params.Quantity.value != nil {
		item.Quantity = params.Quantity.value
	}
	if params.Unit != "" {
		item.Unit = params.Unit
	}
	if err := t.st.SavePantryItem(item); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionUpdatePantryItem,
		fmt.Sprintf("name=%s", params.ItemName), "updated", nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "item_name": item.ItemName}, nil
}

// RemovePantryItem deletes a pantry item.
type RemovePantryItem struct{ st *store.Store }

func NewRemovePantryItem(st *store.Store) *RemovePantryItem { return &RemovePantryItem{st: st} }

func (t *RemovePantryItem) Name() string  { return NameRemovePantryItem }
func (t *RemovePantryItem) Title() string { return "Remove Pantry Item" }
func (t *RemovePantryItem) Description() string {
	return "Removes an item from the pantry, e.g. when it has run out."
}

type removePantryParams struct {
	ItemName string `json:"item_name"`
}

func (p removePantryParams) validate() error { return requireString("item_name", p.ItemName) }

func (t *RemovePantryItem) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"item_name": {Type: "string"},
		},
		Required: []string{"item_name"},
	}
}

func (t *RemovePantryItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success": {Type: "boolean"},
			"removed": {Type: "string"},
		},
		Required: []string{"success", "removed"},
	}
}

func (t *RemovePantryItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[removePantryParams](input)
	if err != nil {
		return nil, err
	}

	item, err := t.st.FindPantryItem(params.ItemName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pantry item %q not found", params.ItemName)
	}
	if err != nil {
		return nil, err
	}

	removed := item.ItemName
	if err := t.st.DeletePantryItem(item); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionRemovePantryItem,
		fmt.Sprintf("name=%s", params.ItemName), "removed", nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "removed": removed}, nil
}
