package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"gorm.io/gorm"

	"grocerybot/store"
)

// GetShoppingList returns the active list's items joined with ingredient
// brand and Kroger data.
type GetShoppingList struct{ st *store.Store }

func NewGetShoppingList(st *store.Store) *GetShoppingList { return &GetShoppingList{st: st} }

func (t *GetShoppingList) Name() string  { return NameGetShoppingList }
func (t *GetShoppingList) Title() string { return "Get Shopping List" }
func (t *GetShoppingList) Description() string {
	return "Returns all items on the active shopping list with quantities, who added them, and Kroger resolution status."
}

func (t *GetShoppingList) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *GetShoppingList) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"list_id":    {Type: "integer"},
			"item_count": {Type: "integer"},
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"item_id":           {Type: "integer"},
						"name":              {Type: "string"},
						"quantity":          {Type: "number"},
						"unit":              {Type: "string"},
						"added_by":          {Type: "string"},
						"checked_off":       {Type: "boolean"},
						"preferred_brand":   {Type: "string"},
						"kroger_product_id": {Type: "string"},
						"purchase_source":   {Type: "string"},
					},
					Required: []string{"item_id", "name", "added_by", "checked_off"},
				},
			},
		},
		Required: []string{"items", "item_count"},
	}
}

type listItemOut struct {
	ItemID          uint     `json:"item_id"`
	Name            string   `json:"name"`
	Quantity        *float64 `json:"quantity"`
	Unit            string   `json:"unit,omitempty"`
	AddedBy         string   `json:"added_by"`
	CheckedOff      bool     `json:"checked_off"`
	PreferredBrand  string   `json:"preferred_brand,omitempty"`
	KrogerProductID string   `json:"kroger_product_id,omitempty"`
	FromRecipeID    *uint    `json:"from_recipe_id,omitempty"`
	PurchaseSource  string   `json:"purchase_source,omitempty"`
}

func (t *GetShoppingList) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	list, err := t.st.GetActiveList()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]any{"items": []any{}, "list_id": nil, "item_count": 0}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := t.st.ListItems(list.ID)
	if err != nil {
		return nil, err
	}

	out := struct {
		Items     []listItemOut `json:"items"`
		ListID    uint          `json:"list_id"`
		ItemCount int           `json:"item_count"`
	}{Items: make([]listItemOut, 0, len(items)), ListID: list.ID, ItemCount: len(items)}

	for _, item := range items {
		out.Items = append(out.Items, listItemOut{
			ItemID:          item.ID,
			Name:            item.Ingredient.Name,
			Quantity:        item.Quantity,
			Unit:            item.Unit,
			AddedBy:         item.AddedBy,
			CheckedOff:      item.CheckedOff,
			PreferredBrand:  item.Ingredient.PreferredBrand,
			KrogerProductID: item.Ingredient.KrogerProductID,
			FromRecipeID:    item.FromRecipeID,
			PurchaseSource:  item.Ingredient.PurchaseSource,
		})
	}
	return toMap(out)
}

// AddItem adds one item to the active list, creating the ingredient record
// on first sight.
type AddItem struct{ st *store.Store }

func NewAddItem(st *store.Store) *AddItem { return &AddItem{st: st} }

func (t *AddItem) Name() string  { return NameAddItem }
func (t *AddItem) Title() string { return "Add Item" }
func (t *AddItem) Description() string {
	return "Adds an item to the active shopping list. Creates the ingredient record if it's new. Reports whether the item still needs Kroger product resolution."
}

type addItemParams struct {
	Name     string     `json:"name"`
	AddedBy  string     `json:"added_by"`
	Quantity flexNumber `json:"quantity"`
	Unit     string     `json:"unit"`
}

func (p addItemParams) validate() error {
	if err := requireString("name", p.Name); err != nil {
		return err
	}
	return requireString("added_by", p.AddedBy)
}

func (t *AddItem) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":     {Type: "string", Description: "Item name, e.g. 'whole milk'."},
			"added_by": {Type: "string", Description: "Display name of the household member adding the item."},
			"quantity": {Type: "number"},
			"unit":     {Type: "string"},
		},
		Required: []string{"name", "added_by"},
	}
}

func (t *AddItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":                 {Type: "boolean"},
			"item_id":                 {Type: "integer"},
			"ingredient_id":           {Type: "integer"},
			"name":                    {Type: "string"},
			"has_kroger_mapping":      {Type: "boolean"},
			"needs_kroger_resolution": {Type: "boolean"},
		},
		Required: []string{"success", "item_id", "ingredient_id", "name"},
	}
}

func (t *AddItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[addItemParams](input)
	if err != nil {
		return nil, err
	}

	ingredient, _, err := t.st.GetOrCreateIngredient(params.Name)
	if err != nil {
		return nil, err
	}
	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}

	qty := params.Quantity.value
	if qty == nil {
		one := 1.0
		qty = &one
	}

	item := store.ShoppingListItem{
		ShoppingListID: list.ID,
		IngredientID:   ingredient.ID,
		Quantity:       qty,
		Unit:           params.Unit,
		AddedBy:        params.AddedBy,
		AddedAt:        time.Now().UTC(),
	}
	if err := t.st.AddListItem(&item); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionAddItem,
		fmt.Sprintf("name=%s, added_by=%s", params.Name, params.AddedBy),
		fmt.Sprintf("item_id=%d", item.ID),
		map[string]any{"ingredient_id": ingredient.ID, "item_id": item.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":            true,
		"item_id":            item.ID,
		"ingredient_id":      ingredient.ID,
		"name":               ingredient.Name,
		"preferred_brand":    ingredient.PreferredBrand,
		"kroger_product_id":  ingredient.KrogerProductID,
		"has_kroger_mapping": ingredient.Resolved(),
		"purchase_source":    ingredient.PurchaseSource,
		"needs_kroger_resolution": !ingredient.Resolved() &&
			ingredient.PurchaseSource == "",
	}, nil
}

// RemoveItem takes an item off the active list by name.
type RemoveItem struct{ st *store.Store }

func NewRemoveItem(st *store.Store) *RemoveItem { return &RemoveItem{st: st} }

func (t *RemoveItem) Name() string  { return NameRemoveItem }
func (t *RemoveItem) Title() string { return "Remove Item" }
func (t *RemoveItem) Description() string {
	return "Removes an item from the active shopping list by name."
}

type removeItemParams struct {
	Name string `json:"name"`
}

func (p removeItemParams) validate() error { return requireString("name", p.Name) }

func (t *RemoveItem) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string"},
		},
		Required: []string{"name"},
	}
}

func (t *RemoveItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success": {Type: "boolean"},
			"removed": {Type: "string"},
		},
		Required: []string{"success", "removed"},
	}
}

func (t *RemoveItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[removeItemParams](input)
	if err != nil {
		return nil, err
	}

	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	item, err := t.st.FindListItem(list.ID, params.Name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %q not found on the shopping list", params.Name)
	}
	if err != nil {
		return nil, err
	}

	removedName := item.Ingredient.Name
	if err := t.st.DeleteListItem(item); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionRemoveItem,
		fmt.Sprintf("name=%s", params.Name),
		fmt.Sprintf("removed=%s", removedName), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "removed": removedName}, nil
}

// UpdateItem changes quantity or unit on an existing list item.
type UpdateItem struct{ st *store.Store }

func NewUpdateItem(st *store.Store) *UpdateItem { return &UpdateItem{st: st} }

func (t *UpdateItem) Name() string  { return NameUpdateItem }
func (t *UpdateItem) Title() string { return "Update Item" }
func (t *UpdateItem) Description() string {
	return "Updates the quantity or unit of an item already on the shopping list."
}

type updateItemParams struct {
	ItemName string     `json:"item_name"`
	Quantity flexNumber `json:"quantity"`
	Unit     string     `json:"unit"`
}

func (p updateItemParams) validate() error { return requireString("item_name", p.ItemName) }

func (t *UpdateItem) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"item_name": {Type: "string"},
			"quantity":  {Type: "number"},
			"unit":      {Type: "string"},
		},
		Required: []string{"item_name"},
	}
}

func (t *UpdateItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":  {Type: "boolean"},
			"item_id":  {Type: "integer"},
			"name":     {Type: "string"},
			"quantity": {Type: "number"},
			"unit":     {Type: "string"},
		},
		Required: []string{"success", "item_id", "name"},
	}
}

func (t *UpdateItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[updateItemParams](input)
	if err != nil {
		return nil, err
	}

	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	item, err := t.st.FindListItem(list.ID, params.ItemName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %q not found on the shopping list", params.ItemName)
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
	if err := t.st.SaveListItem(item); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionUpdateItem,
		fmt.Sprintf("name=%s", params.ItemName), "updated quantity/unit", nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":  true,
		"item_id":  item.ID,
		"name":     item.Ingredient.Name,
		"quantity": item.Quantity,
		"unit":     item.Unit,
	}, nil
}

// ClearList removes every item from the active list.
type ClearList struct{ st *store.Store }

func NewClearList(st *store.Store) *ClearList { return &ClearList{st: st} }

func (t *ClearList) Name() string  { return NameClearList }
func (t *ClearList) Title() string { return "Clear List" }
func (t *ClearList) Description() string {
	return "Removes all items from the active shopping list. The list itself stays active."
}

func (t *ClearList) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *ClearList) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":       {Type: "boolean"},
			"items_removed": {Type: "integer"},
		},
		Required: []string{"success", "items_removed"},
	}
}

func (t *ClearList) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	removed, err := t.st.ClearList(list.ID)
	if err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionClearList, "clear_list",
		fmt.Sprintf("removed=%d", removed), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "items_removed": removed}, nil
}

// CheckOffItem toggles the checked_off flag on a list item.
type CheckOffItem struct{ st *store.Store }

func NewCheckOffItem(st *store.Store) *CheckOffItem { return &CheckOffItem{st: st} }

func (t *CheckOffItem) Name() string  { return NameCheckOffItem }
func (t *CheckOffItem) Title() string { return "Check Off Item" }
func (t *CheckOffItem) Description() string {
	return "Toggles an item's checked-off state on the shopping list."
}

type checkOffParams struct {
	Name string `json:"name"`
}

func (p checkOffParams) validate() error { return requireString("name", p.Name) }

func (t *CheckOffItem) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name": {Type: "string"},
		},
		Required: []string{"name"},
	}
}

func (t *CheckOffItem) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":     {Type: "boolean"},
			"name":        {Type: "string"},
			"checked_off": {Type: "boolean"},
		},
		Required: []string{"success", "name", "checked_off"},
	}
}

func (t *CheckOffItem) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[checkOffParams](input)
	if err != nil {
		return nil, err
	}

	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	item, err := t.st.FindListItem(list.ID, params.Name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %q not found on the shopping list", params.Name)
	}
	if err != nil {
		return nil, err
	}

	item.CheckedOff = !item.CheckedOff
	if err := t.st.SaveListItem(item); err != nil {
		return nil, err
	}
	status := "unchecked"
	if item.CheckedOff {
		status = "checked off"
	}
	err = t.st.LogEvent(store.ActionCheckOffItem,
		fmt.Sprintf("name=%s", params.Name), status, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"name":        item.Ingredient.Name,
		"checked_off": item.CheckedOff,
	}, nil
}

// FinalizeOrder archives the active list and opens a fresh one.
type FinalizeOrder struct{ st *store.Store }

func NewFinalizeOrder(st *store.Store) *FinalizeOrder { return &FinalizeOrder{st: st} }

func (t *FinalizeOrder) Name() string  { return NameFinalizeOrder }
func (t *FinalizeOrder) Title() string { return "Finalize Order" }
func (t *FinalizeOrder) Description() string {
	return "Archives the current shopping list as ordered and starts a new empty list. Fails if the list is empty."
}

func (t *FinalizeOrder) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *FinalizeOrder) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":       {Type: "boolean"},
			"items_ordered": {Type: "integer"},
			"new_list_id":   {Type: "integer"},
		},
		Required: []string{"success", "items_ordered", "new_list_id"},
	}
}

func (t *FinalizeOrder) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	count, err := t.st.CountListItems(list.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("shopping list is empty - nothing to order")
	}

	if err := t.st.ArchiveList(list); err != nil {
		return nil, err
	}
	newList, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionFinalizeOrder,
		fmt.Sprintf("items=%d", count),
		fmt.Sprintf("new_list_id=%d", newList.ID),
		map[string]any{"new_list_id": newList.ID})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":       true,
		"items_ordered": count,
		"new_list_id":   newList.ID,
	}, nil
}

// GetOrderHistory returns past (ordered) lists with item counts.
type GetOrderHistory struct{ st *store.Store }

func NewGetOrderHistory(st *store.Store) *GetOrderHistory { return &GetOrderHistory{st: st} }

func (t *GetOrderHistory) Name() string  { return NameGetOrderHistory }
func (t *GetOrderHistory) Title() string { return "Get Order History" }
func (t *GetOrderHistory) Description() string {
	return "Returns recently ordered shopping lists with item counts."
}

type orderHistoryParams struct {
	Limit int `json:"limit"`
}

func (t *GetOrderHistory) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"limit": {Type: "integer"},
		},
	}
}

func (t *GetOrderHistory) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"orders": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"id":         {Type: "integer"},
						"item_count": {Type: "integer"},
						"ordered_at": {Type: "string"},
					},
					Required: []string{"id", "item_count"},
				},
			},
		},
		Required: []string{"orders"},
	}
}

func (t *GetOrderHistory) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[orderHistoryParams](input)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = 5
	}

	lists, err := t.st.OrderedLists(params.Limit)
	if err != nil {
		return nil, err
	}

	orders := make([]map[string]any, 0, len(lists))
	for _, l := range lists {
		count, err := t.st.CountListItems(l.ID)
		if err != nil {
			return nil, err
		}
		order := map[string]any{"id": l.ID, "item_count": count}
		if l.OrderedAt != nil {
			order["ordered_at"] = l.OrderedAt.Format(time.RFC3339)
		}
		orders = append(orders, order)
	}
	return map[string]any{"orders": orders}, nil
}
