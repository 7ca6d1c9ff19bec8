package tools

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"grocerybot/kroger"
	"grocerybot/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate())
	return s
}

// fakeKroger scripts the retailer surface for tool tests.
type fakeKroger struct {
	configured    bool
	authenticated bool
	authURL       string
	products      []kroger.Product
	purchases     []kroger.Purchase
	searchTerms   []string
	cartItems     []kroger.CartItem
	cartErr       error
}

func (f *fakeKroger) Configured() bool { return f.configured }

func (f *fakeKroger) Authenticated(ctx context.Context) bool { return f.authenticated }

func (f *fakeKroger) AuthURL() string { return f.authURL }

func (f *fakeKroger) AddToCart(ctx context.Context, items []kroger.CartItem) error {
	f.cartItems = items
	return f.cartErr
}

func (f *fakeKroger) SearchProducts(ctx context.Context, term, brand string, limit int) ([]kroger.Product, error) {
	f.searchTerms = append(f.searchTerms, term)
	return f.products, nil
}

func (f *fakeKroger) PurchaseHistory(ctx context.Context, limit int) ([]kroger.Purchase, error) {
	return f.purchases, nil
}

func addTestItem(t *testing.T, st *store.Store, name string) map[string]any {
	t.Helper()
	out, err := NewAddItem(st).Run(context.Background(), map[string]any{
		"name": name, "added_by": "Sam",
	})
	require.NoError(t, err)
	return out
}

func TestAddItemCreatesIngredientAndFlagsResolution(t *testing.T) {
	st := newTestStore(t)

	out := addTestItem(t, st, "Whole Milk")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Whole Milk", out["name"])
	assert.Equal(t, false, out["has_kroger_mapping"])
	assert.Equal(t, true, out["needs_kroger_resolution"])

	list, err := NewGetShoppingList(st).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list["item_count"])
}

func TestAddItemValidation(t *testing.T) {
	st := newTestStore(t)

	_, err := NewAddItem(st).Run(context.Background(), map[string]any{"name": "milk"})
	assert.ErrorContains(t, err, "added_by")
}

func TestAddItemAcceptsStringQuantity(t *testing.T) {
	st := newTestStore(t)

	_, err := NewAddItem(st).Run(context.Background(), map[string]any{
		"name": "eggs", "added_by": "Sam", "quantity": "2",
	})
	require.NoError(t, err)

	list, err := st.GetActiveList()
	require.NoError(t, err)
	items, err := st.ListItems(list.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Quantity)
	assert.Equal(t, 2.0, *items[0].Quantity)
}

func TestRemoveItemSubstringMatch(t *testing.T) {
	st := newTestStore(t)
	addTestItem(t, st, "boneless chicken thighs")

	out, err := NewRemoveItem(st).Run(context.Background(), map[string]any{"name": "chicken"})
	require.NoError(t, err)
	assert.Equal(t, "boneless chicken thighs", out["removed"])

	_, err = NewRemoveItem(st).Run(context.Background(), map[string]any{"name": "chicken"})
	assert.ErrorContains(t, err, "not found")
}

func TestUpdateItemQuantity(t *testing.T) {
	st := newTestStore(t)
	addTestItem(t, st, "milk")

	out, err := NewUpdateItem(st).Run(context.Background(), map[string]any{
		"item_name": "milk", "quantity": 3, "unit": "gallons",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "gallons", out["unit"])
}

func TestCheckOffItemToggles(t *testing.T) {
	st := newTestStore(t)
	addTestItem(t, st, "butter")

	tool := NewCheckOffItem(st)
	out, err := tool.Run(context.Background(), map[string]any{"name": "butter"})
	require.NoError(t, err)
	assert.Equal(t, true, out["checked_off"])

	out, err = tool.Run(context.Background(), map[string]any{"name": "butter"})
	require.NoError(t, err)
	assert.Equal(t, false, out["checked_off"])
}

func TestClearList(t *testing.T) {
	st := newTestStore(t)
	addTestItem(t, st, "milk")
	addTestItem(t, st, "eggs")

	out, err := NewClearList(st).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, out["items_removed"])
}

func TestFinalizeOrderRejectsEmptyList(t *testing.T) {
	st := newTestStore(t)

	_, err := NewFinalizeOrder(st).Run(context.Background(), nil)
	assert.ErrorContains(t, err, "empty")
}

func TestFinalizeOrderArchivesAndOpensNewList(t *testing.T) {
	st := newTestStore(t)
	addTestItem(t, st, "milk")

	oldList, err := st.GetActiveList()
	require.NoError(t, err)

	out, err := NewFinalizeOrder(st).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["items_ordered"])
	assert.NotEqualValues(t, oldList.ID, out["new_list_id"])

	history, err := NewGetOrderHistory(st).Run(context.Background(), nil)
	require.NoError(t, err)
	orders := history["orders"].([]map[string]any)
	require.Len(t, orders, 1)
	assert.Equal(t, oldList.ID, orders[0]["id"])
}

func TestAddRecipeLinksNotes(t *testing.T) {
	st := newTestStore(t)

	// Note arrives before the recipe exists.
	_, err := NewAddRecipeNote(st).Run(context.Background(), map[string]any{
		"recipe_name": "Pad Thai",
		"user":        "Sam",
		"note_text":   "double the tamarind",
		"outcome":     "better",
	})
	require.NoError(t, err)

	out, err := NewAddRecipe(st).Run(context.Background(), map[string]any{
		"name":    "Pad Thai",
		"cuisine": "thai",
		"ingredients": []any{
			map[string]any{"name": "rice noodles", "quantity": 8, "unit": "oz"},
			map[string]any{"name": "tamarind paste"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 1, out["notes_linked"])

	recipes, err := NewGetRecipes(st).Run(context.Background(), map[string]any{"name": "pad thai"})
	require.NoError(t, err)
	found := recipes["recipes"].([]map[string]any)
	require.Len(t, found, 1)
	assert.EqualValues(t, 1, found[0]["note_count"])
	assert.Equal(t, true, found[0]["has_positive_notes"])
}

func TestGenerateListFromMealsSkipsPantryAndExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewAddRecipe(st).Run(ctx, map[string]any{
		"name": "Omelette",
		"ingredients": []any{
			map[string]any{"name": "eggs", "quantity": 3},
			map[string]any{"name": "butter"},
			map[string]any{"name": "chives"},
		},
	})
	require.NoError(t, err)

	recipe, err := st.FindRecipeByName("Omelette")
	require.NoError(t, err)

	_, err = NewAddPantryItem(st).Run(ctx, map[string]any{"item_name": "butter"})
	require.NoError(t, err)
	addTestItem(t, st, "eggs")

	_, err = NewAddMeal(st).Run(ctx, map[string]any{
		"meal_name": "Omelette night", "recipe_id": recipe.ID,
	})
	require.NoError(t, err)

	out, err := NewGenerateListFromMeals(st).Run(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out["items_added"])
	assert.Equal(t, []string{"eggs"}, out["skipped_existing"])
	assert.Equal(t, []string{"butter"}, out["skipped_pantry"])

	list, err := st.GetActiveList()
	require.NoError(t, err)
	items, err := st.ListItems(list.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "meal plan", items[1].AddedBy)
	require.NotNil(t, items[1].FromRecipeID)
	assert.Equal(t, recipe.ID, *items[1].FromRecipeID)
}

func TestCompleteMealPlanThenAddMealStartsNewPlan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := NewAddMeal(st).Run(ctx, map[string]any{"meal_name": "tacos"})
	require.NoError(t, err)

	_, err = NewCompleteMealPlan(st).Run(ctx, nil)
	require.NoError(t, err)

	second, err := NewAddMeal(st).Run(ctx, map[string]any{"meal_name": "curry"})
	require.NoError(t, err)
	assert.NotEqual(t, first["plan_id"], second["plan_id"])
}

func TestPantryBatchUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewAddPantryItem(st).Run(ctx, map[string]any{"item_name": "rice", "quantity": 1})
	require.NoError(t, err)

	out, err := NewAddPantryBatch(st).Run(ctx, map[string]any{
		"items": []any{
			map[string]any{"item_name": "rice", "quantity": 2},
			map[string]any{"item_name": "soy sauce"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"soy sauce"}, out["added"])
	assert.Equal(t, []string{"rice"}, out["updated"])
	assert.Equal(t, 2, out["count"])
}

func TestUpdatePreferenceAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	up := NewUpdatePreference(st)
	for _, v := range []string{"cilantro", "olives"} {
		_, err := up.Run(ctx, map[string]any{"user": "Alex", "category": "dislikes", "value": v})
		require.NoError(t, err)
	}
	_, err := up.Run(ctx, map[string]any{"user": "Alex", "category": "spice_tolerance", "value": "medium"})
	require.NoError(t, err)

	out, err := NewGetPreferences(st).Run(ctx, map[string]any{"user": "alex"})
	require.NoError(t, err)
	prefs := out["preferences"].([]map[string]any)
	require.Len(t, prefs, 1)
	data := prefs[0]["data"].(map[string]any)
	assert.ElementsMatch(t, []any{"cilantro", "olives"}, data["dislikes"])
	assert.Equal(t, "medium", data["spice_tolerance"])
}

func TestSetPurchaseSourceNormalizesNull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewSetPurchaseSource(st).Run(ctx, map[string]any{
		"name": "sourdough", "purchase_source": "farmers market",
	})
	require.NoError(t, err)

	ing, err := st.FindIngredient("sourdough")
	require.NoError(t, err)
	assert.Equal(t, "farmers market", ing.PurchaseSource)

	_, err = NewSetPurchaseSource(st).Run(ctx, map[string]any{
		"name": "sourdough", "purchase_source": "null",
	})
	require.NoError(t, err)

	ing, err = st.FindIngredient("sourdough")
	require.NoError(t, err)
	assert.Empty(t, ing.PurchaseSource)
}

func TestResolveKrogerProductFiltersNonBrandHint(t *testing.T) {
	st := newTestStore(t)
	kc := &fakeKroger{
		configured: true,
		products: []kroger.Product{
			{ProductID: "0001", Description: "Simple Truth Organic Milk", Brand: "Simple Truth"},
		},
	}

	out, err := NewResolveKrogerProduct(st, kc).Run(context.Background(), map[string]any{
		"ingredient_name": "milk", "brand_hint": "Organic",
	})
	require.NoError(t, err)
	results := out["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "0001", results[0]["productId"])
}

func TestConfirmKrogerProduct(t *testing.T) {
	st := newTestStore(t)

	out, err := NewConfirmKrogerProduct(st).Run(context.Background(), map[string]any{
		"ingredient_name":   "milk",
		"kroger_product_id": "0001111041700",
		"brand":             "Kroger",
		"size":              "1 gal",
		"price":             3.49,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])

	ing, err := st.FindIngredient("milk")
	require.NoError(t, err)
	assert.True(t, ing.Resolved())
	assert.Equal(t, "Kroger", ing.PreferredBrand)
	require.NotNil(t, ing.LastKnownPrice)
	assert.Equal(t, 3.49, *ing.LastKnownPrice)
}

func TestAddToKrogerCartRequiresAuth(t *testing.T) {
	st := newTestStore(t)
	kc := &fakeKroger{configured: true, authURL: "https://example.test/auth"}

	out, err := NewAddToKrogerCart(st, kc).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "not_authenticated", out["error"])
	assert.Equal(t, "https://example.test/auth", out["auth_url"])
}

func TestAddToKrogerCartAllOrNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	kc := &fakeKroger{configured: true, authenticated: true}
	tool := NewAddToKrogerCart(st, kc)

	addTestItem(t, st, "milk")
	addTestItem(t, st, "mystery sauce")
	addTestItem(t, st, "sourdough")

	_, err := NewConfirmKrogerProduct(st).Run(ctx, map[string]any{
		"ingredient_name": "milk", "kroger_product_id": "0001",
	})
	require.NoError(t, err)
	_, err = NewSetPurchaseSource(st).Run(ctx, map[string]any{
		"name": "sourdough", "purchase_source": "farmers market",
	})
	require.NoError(t, err)

	// mystery sauce is Kroger-sourced but unresolved, so nothing is sent.
	out, err := tool.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "unresolved_items", out["error"])
	assert.Equal(t, []string{"mystery sauce"}, out["unresolved"])
	assert.Nil(t, kc.cartItems)

	_, err = NewConfirmKrogerProduct(st).Run(ctx, map[string]any{
		"ingredient_name": "mystery sauce", "kroger_product_id": "0002",
	})
	require.NoError(t, err)

	out, err = tool.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 2, out["items_added"])
	assert.Equal(t, true, out["list_archived"])
	require.Len(t, kc.cartItems, 2)

	skipped := out["skipped_non_kroger"].([]map[string]any)
	require.Len(t, skipped, 1)
	assert.Equal(t, "sourdough", skipped[0]["name"])

	// List is archived; a fresh one is empty.
	list, err := st.GetOrCreateActiveList()
	require.NoError(t, err)
	count, err := st.CountListItems(list.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestMatchPurchases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	kc := &fakeKroger{
		configured:    true,
		authenticated: true,
		purchases: []kroger.Purchase{
			{ProductID: "0009", Description: "kroger whole milk vitamin d", Brand: "Kroger"},
		},
	}

	_, _, err := st.GetOrCreateIngredient("whole milk")
	require.NoError(t, err)
	_, _, err = st.GetOrCreateIngredient("saffron")
	require.NoError(t, err)

	out, err := NewMatchPurchases(st, kc).Run(ctx, nil)
	require.NoError(t, err)

	matches := out["matches"].([]map[string]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "whole milk", matches[0]["ingredient"])
	assert.GreaterOrEqual(t, matches[0]["confidence"].(float64), 0.7)
	assert.Equal(t, []string{"saffron"}, out["unmatched_ingredients"])
}

func TestRegistryDispatch(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry(st, &fakeKroger{})

	assert.Len(t, registry.GetTools(), 35)

	tool, err := registry.GetTool(NameAddItem)
	require.NoError(t, err)
	assert.Equal(t, NameAddItem, tool.Name())

	_, err = registry.GetTool("self_destruct")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistryCatalogueOrderIsStable(t *testing.T) {
	st := newTestStore(t)
	registry := NewRegistry(st, &fakeKroger{})

	names := func() []string {
		all := registry.GetTools()
		out := make([]string, len(all))
		for i, tool := range all {
			out[i] = tool.Name()
		}
		return out
	}

	first := names()
	assert.True(t, sort.StringsAreSorted(first))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, names())
	}
}
