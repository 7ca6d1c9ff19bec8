package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"grocerybot/kroger"
	"grocerybot/store"
)

// KrogerAPI is the retailer surface the tools need. *kroger.Client
// satisfies it; tests swap in a fake.
type KrogerAPI interface {
	Configured() bool
	Authenticated(ctx context.Context) bool
	AuthURL() string
	SearchProducts(ctx context.Context, term, brand string, limit int) ([]kroger.Product, error)
	AddToCart(ctx context.Context, items []kroger.CartItem) error
	PurchaseHistory(ctx context.Context, limit int) ([]kroger.Purchase, error)
}

// nonBrandWords are product attributes the model sometimes passes as brand
// hints. They over-filter the catalog search and are dropped.
var nonBrandWords = map[string]bool{
	"organic": true, "fresh": true, "frozen": true, "dried": true,
	"canned": true, "whole": true, "raw": true, "natural": true,
	"pure": true, "low": true, "fat": true, "free": true,
	"reduced": true, "light": true,
}

// ResolveKrogerProduct searches the Kroger catalog for candidate products.
type ResolveKrogerProduct struct {
	st *store.Store
	kc KrogerAPI
}

func NewResolveKrogerProduct(st *store.Store, kc KrogerAPI) *ResolveKrogerProduct {
	return &ResolveKrogerProduct{st: st, kc: kc}
}

func (t *ResolveKrogerProduct) Name() string  { return NameResolveKrogerProduct }
func (t *ResolveKrogerProduct) Title() string { return "Resolve Kroger Product" }
func (t *ResolveKrogerProduct) Description() string {
	return "Searches the Kroger catalog for products matching an ingredient. Present the candidates to the user before confirming one."
}

type resolveParams struct {
	IngredientName string `json:"ingredient_name"`
	BrandHint      string `json:"brand_hint"`
}

func (p resolveParams) validate() error { return requireString("ingredient_name", p.IngredientName) }

func (t *ResolveKrogerProduct) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"ingredient_name": {Type: "string"},
			"brand_hint":      {Type: "string", Description: "Actual brand name only, not attributes like 'organic'."},
		},
		Required: []string{"ingredient_name"},
	}
}

func (t *ResolveKrogerProduct) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"ingredient_name": {Type: "string"},
			"results":         {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
		Required: []string{"ingredient_name", "results"},
	}
}

func (t *ResolveKrogerProduct) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[resolveParams](input)
	if err != nil {
		return nil, err
	}
	if !t.kc.Configured() {
		return nil, kroger.ErrNotConfigured
	}

	brand := strings.TrimSpace(params.BrandHint)
	if nonBrandWords[strings.ToLower(brand)] {
		brand = ""
	}

	products, err := t.kc.SearchProducts(ctx, params.IngredientName, brand, 5)
	if err != nil {
		return nil, fmt.Errorf("kroger search failed: %w", err)
	}

	results := make([]map[string]any, 0, len(products))
	for _, p := range products {
		results = append(results, map[string]any{
			"productId":   p.ProductID,
			"description": p.Description,
			"brand":       p.Brand,
			"size":        p.Size,
			"price":       p.Price,
		})
	}

	err = t.st.LogEvent(store.ActionResolveKroger,
		fmt.Sprintf("ingredient=%s", params.IngredientName),
		fmt.Sprintf("results=%d", len(results)), nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ingredient_name": params.IngredientName,
		"results":         results,
	}, nil
}

// ConfirmKrogerProduct stores a confirmed product mapping on the
// ingredient.
type ConfirmKrogerProduct struct{ st *store.Store }

func NewConfirmKrogerProduct(st *store.Store) *ConfirmKrogerProduct {
	return &ConfirmKrogerProduct{st: st}
}

func (t *ConfirmKrogerProduct) Name() string  { return NameConfirmKrogerProduct }
func (t *ConfirmKrogerProduct) Title() string { return "Confirm Kroger Product" }
func (t *ConfirmKrogerProduct) Description() string {
	return "Saves a user-confirmed Kroger product mapping onto an ingredient, along with brand, size, and price."
}

type confirmParams struct {
	IngredientName  string     `json:"ingredient_name"`
	KrogerProductID string     `json:"kroger_product_id"`
	Brand           string     `json:"brand"`
	Size            string     `json:"size"`
	Price           flexNumber `json:"price"`
}

func (p confirmParams) validate() error {
	if err := requireString("ingredient_name", p.IngredientName); err != nil {
		return err
	}
	return requireString("kroger_product_id", p.KrogerProductID)
}

func (t *ConfirmKrogerProduct) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"ingredient_name":   {Type: "string"},
			"kroger_product_id": {Type: "string"},
			"brand":             {Type: "string"},
			"size":              {Type: "string"},
			"price":             {Type: "number"},
		},
		Required: []string{"ingredient_name", "kroger_product_id"},
	}
}

func (t *ConfirmKrogerProduct) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":           {Type: "boolean"},
			"ingredient_id":     {Type: "integer"},
			"name":              {Type: "string"},
			"kroger_product_id": {Type: "string"},
		},
		Required: []string{"success", "ingredient_id", "name", "kroger_product_id"},
	}
}

func (t *ConfirmKrogerProduct) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[confirmParams](input)
	if err != nil {
		return nil, err
	}

	ingredient, _, err := t.st.GetOrCreateIngredient(params.IngredientName)
	if err != nil {
		return nil, err
	}
	ingredient.KrogerProductID = strings.TrimSpace(params.KrogerProductID)
	if params.Brand != "" {
		ingredient.PreferredBrand = params.Brand
	}
	if params.Size != "" {
		ingredient.PreferredSize = params.Size
	}
	if params.Price.value != nil {
		ingredient.LastKnownPrice = params.Price.value
	}
	if err := t.st.SaveIngredient(ingredient); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionConfirmKroger,
		fmt.Sprintf("ingredient=%s, product=%s", params.IngredientName, ingredient.KrogerProductID),
		fmt.Sprintf("ingredient_id=%d", ingredient.ID),
		map[string]any{"ingredient_id": ingredient.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":           true,
		"ingredient_id":     ingredient.ID,
		"name":              ingredient.Name,
		"kroger_product_id": ingredient.KrogerProductID,
		"brand":             ingredient.PreferredBrand,
		"size":              ingredient.PreferredSize,
		"price":             ingredient.LastKnownPrice,
	}, nil
}

// AddToKrogerCart pushes the active list's resolved items into the user's
// online cart, then archives the list. All-or-nothing over Kroger-sourced
// items: any unresolved item aborts before the cart call.
type AddToKrogerCart struct {
	st *store.Store
	kc KrogerAPI
}

func NewAddToKrogerCart(st *store.Store, kc KrogerAPI) *AddToKrogerCart {
	return &AddToKrogerCart{st: st, kc: kc}
}

func (t *AddToKrogerCart) Name() string  { return NameAddToKrogerCart }
func (t *AddToKrogerCart) Title() string { return "Add To Kroger Cart" }
func (t *AddToKrogerCart) Description() string {
	return "Adds every resolved shopping list item to the user's Kroger cart and archives the list. Fails if any Kroger-sourced item lacks a product mapping. Items marked for other stores are skipped."
}

func (t *AddToKrogerCart) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *AddToKrogerCart) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":            {Type: "boolean"},
			"items_added":        {Type: "integer"},
			"list_archived":      {Type: "boolean"},
			"skipped_non_kroger": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
	}
}

func (t *AddToKrogerCart) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	if !t.kc.Configured() {
		return nil, kroger.ErrNotConfigured
	}
	if !t.kc.Authenticated(ctx) {
		// Structured so the model can relay the link to the user.
		return map[string]any{
			"error":    "not_authenticated",
			"auth_url": t.kc.AuthURL(),
		}, nil
	}

	list, err := t.st.GetOrCreateActiveList()
	if err != nil {
		return nil, err
	}
	items, err := t.st.ListItems(list.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("shopping list is empty")
	}

	var cartItems []kroger.CartItem
	var unresolved []string
	var skipped []map[string]any
	for _, item := range items {
		if item.Ingredient.PurchaseSource != "" {
			skipped = append(skipped, map[string]any{
				"name":   item.Ingredient.Name,
				"source": item.Ingredient.PurchaseSource,
			})
			continue
		}
		if !item.Ingredient.Resolved() {
			unresolved = append(unresolved, item.Ingredient.Name)
			continue
		}
		qty := 1
		if item.Quantity != nil {
			qty = int(math.Max(1, *item.Quantity))
		}
		cartItems = append(cartItems, kroger.CartItem{
			UPC:      item.Ingredient.KrogerProductID,
			Quantity: qty,
		})
	}

	if len(unresolved) > 0 {
		return map[string]any{
			"error":          "unresolved_items",
			"unresolved":     unresolved,
			"resolved_count": len(cartItems),
		}, nil
	}

	if err := t.kc.AddToCart(ctx, cartItems); err != nil {
		return nil, fmt.Errorf("kroger cart error: %w", err)
	}

	if err := t.st.ArchiveList(list); err != nil {
		return nil, err
	}
	err = t.st.LogEvent(store.ActionAddToCart,
		fmt.Sprintf("items=%d", len(cartItems)), "success, list archived", nil)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"success":       true,
		"items_added":   len(cartItems),
		"list_archived": true,
	}
	if len(skipped) > 0 {
		result["skipped_non_kroger"] = skipped
	}
	return result, nil
}

// MatchPurchases fuzzy-matches Kroger purchase history against ingredients
// with no product mapping, for user confirmation.
type MatchPurchases struct {
	st *store.Store
	kc KrogerAPI
}

func NewMatchPurchases(st *store.Store, kc KrogerAPI) *MatchPurchases {
	return &MatchPurchases{st: st, kc: kc}
}

func (t *MatchPurchases) Name() string  { return NameMatchPurchases }
func (t *MatchPurchases) Title() string { return "Match Purchases To Ingredients" }
func (t *MatchPurchases) Description() string {
	return "Fetches Kroger purchase history and fuzzy-matches it against ingredients missing product mappings. Returns candidate matches for user confirmation."
}

func (t *MatchPurchases) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

func (t *MatchPurchases) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"matches":               {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"unmatched_ingredients": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"summary":               {Type: "object"},
		},
	}
}

func (t *MatchPurchases) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	if !t.kc.Configured() {
		return nil, kroger.ErrNotConfigured
	}
	if !t.kc.Authenticated(ctx) {
		return map[string]any{
			"error":    "not_authenticated",
			"auth_url": t.kc.AuthURL(),
			"message":  "Visit the auth URL to connect the Kroger account and enable purchase history.",
		}, nil
	}

	purchases, err := t.kc.PurchaseHistory(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("fetching purchase history: %w", err)
	}
	if len(purchases) == 0 {
		return nil, errors.New("no purchase history available")
	}

	hasKroger := false
	unmapped, err := t.st.SearchIngredients("", &hasKroger, 0)
	if err != nil {
		return nil, err
	}
	if len(unmapped) == 0 {
		return map[string]any{
			"message":               "All ingredients already have Kroger mappings.",
			"matches":               []any{},
			"unmatched_ingredients": []any{},
		}, nil
	}

	matched := map[uint]bool{}
	var matches []map[string]any
	for _, purchase := range purchases {
		if purchase.ProductID == "" {
			continue
		}
		desc := strings.ToLower(purchase.Description)
		for i := range unmapped {
			ing := &unmapped[i]
			if matched[ing.ID] {
				continue
			}
			confidence := kroger.Similarity(ing.NormalizedName, desc)
			if kroger.NameInDescription(ing.NormalizedName, desc) {
				confidence = math.Max(confidence, 0.7)
			}
			if confidence >= 0.5 {
				matches = append(matches, map[string]any{
					"ingredient":    ing.Name,
					"ingredient_id": ing.ID,
					"purchase":      purchase.Description,
					"brand":         purchase.Brand,
					"productId":     purchase.ProductID,
					"size":          purchase.Size,
					"confidence":    math.Round(confidence*100) / 100,
				})
				matched[ing.ID] = true
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i]["confidence"].(float64) > matches[j]["confidence"].(float64)
	})

	var unmatched []string
	for _, ing := range unmapped {
		if !matched[ing.ID] {
			unmatched = append(unmatched, ing.Name)
		}
	}

	return map[string]any{
		"matches":               matches,
		"unmatched_ingredients": unmatched,
		"summary": map[string]any{
			"total_ingredients": len(unmapped),
			"matched":           len(matches),
			"unmatched":         len(unmatched),
		},
	}, nil
}
