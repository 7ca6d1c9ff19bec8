package coordinator

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grocerybot/store"
)

type fakeKrogerStatus struct {
	configured    bool
	authenticated bool
}

func (f *fakeKrogerStatus) Configured() bool                   { return f.configured }
func (f *fakeKrogerStatus) Authenticated(context.Context) bool { return f.authenticated }

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, time.August, 25, 9, 0, 0, 0, time.UTC)
	}
}

func addListItem(t *testing.T, st *store.Store, name, addedBy string, mutate func(*store.Ingredient)) {
	t.Helper()
	list, err := st.GetOrCreateActiveList()
	require.NoError(t, err)
	ing, _, err := st.GetOrCreateIngredient(name)
	require.NoError(t, err)
	if mutate != nil {
		mutate(ing)
		require.NoError(t, st.SaveIngredient(ing))
	}
	require.NoError(t, st.AddListItem(&store.ShoppingListItem{
		ShoppingListID: list.ID,
		IngredientID:   ing.ID,
		AddedBy:        addedBy,
		AddedAt:        time.Now(),
	}))
}

func TestBuildEmptyStore(t *testing.T) {
	st := newTestStore(t)
	builder := NewContextBuilder(st, nil, nil, quietLogger())
	builder.now = fixedClock()

	text, snapshot, err := builder.Build(context.Background(), "Erich", "add milk")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "=== CURRENT CONTEXT ==="))
	assert.True(t, strings.HasSuffix(text, "=== USER MESSAGE ==="))
	assert.Contains(t, text, "TODAY: Tuesday, August 25, 2026")
	assert.Contains(t, text, "USER: Erich")
	assert.Contains(t, text, "CURRENT SHOPPING LIST (0 items):\n(empty)")
	assert.Contains(t, text, "RECENT CONVERSATION:\n(no recent messages)")
	// No classifier means every section loads.
	assert.Contains(t, text, "SAVED RECIPES:\n(no saved recipes)")
	assert.Contains(t, text, "PANTRY (on hand):\n(pantry empty or not tracked)")
	// Kroger line only appears when the client is configured.
	assert.NotContains(t, text, "KROGER STATUS")

	assert.EqualValues(t, 0, snapshot["shopping_list_size"])
	assert.EqualValues(t, 0, snapshot["recent_messages_count"])
	assert.Equal(t, false, snapshot["shopping_list_truncated"])
}

func TestBuildListMarkers(t *testing.T) {
	st := newTestStore(t)

	addListItem(t, st, "whole milk", "Erich", func(i *store.Ingredient) {
		i.KrogerProductID = "0001111041700"
		i.PreferredBrand = "Kroger"
	})
	addListItem(t, st, "rotisserie chicken", "Lauren", func(i *store.Ingredient) {
		i.PurchaseSource = "costco"
	})
	addListItem(t, st, "saffron", "Lauren", nil)

	builder := NewContextBuilder(st, nil, nil, quietLogger())
	text, snapshot, err := builder.Build(context.Background(), "Lauren", "what do we need?")
	require.NoError(t, err)

	assert.Contains(t, text, "CURRENT SHOPPING LIST (3 items):")
	assert.Contains(t, text, "- whole milk [Kroger] (added by Erich) [kroger: resolved]")
	assert.Contains(t, text, "- rotisserie chicken (added by Lauren) [source: costco]")
	assert.Contains(t, text, "- saffron (added by Lauren) [kroger: needs resolution]")
	assert.EqualValues(t, 3, snapshot["shopping_list_size"])
}

func TestBuildTruncatesLongList(t *testing.T) {
	st := newTestStore(t)
	list, err := st.GetOrCreateActiveList()
	require.NoError(t, err)
	for i := 0; i < contextListCap+5; i++ {
		ing, _, err := st.GetOrCreateIngredient("item " + strings.Repeat("x", i+1))
		require.NoError(t, err)
		require.NoError(t, st.AddListItem(&store.ShoppingListItem{
			ShoppingListID: list.ID,
			IngredientID:   ing.ID,
			AddedBy:        "Erich",
			AddedAt:        time.Now(),
		}))
	}

	builder := NewContextBuilder(st, nil, nil, quietLogger())
	text, snapshot, err := builder.Build(context.Background(), "Erich", "show the list")
	require.NoError(t, err)

	assert.Contains(t, text, "... and 5 more items (list truncated)")
	assert.Equal(t, true, snapshot["shopping_list_truncated"])
	assert.EqualValues(t, contextListCap+5, snapshot["shopping_list_size"])
}

func TestBuildConversationHistory(t *testing.T) {
	st := newTestStore(t)
	long := strings.Repeat("a", responseTruncateAt+50)
	require.NoError(t, st.CreateConversation(&store.Conversation{
		Timestamp: time.Now().Add(-2 * time.Minute),
		User:      "Erich",
		Message:   "plan dinner",
		Response:  long,
	}))
	require.NoError(t, st.CreateConversation(&store.Conversation{
		Timestamp: time.Now().Add(-1 * time.Minute),
		User:      "Lauren",
		Message:   "add eggs",
		Response:  "Added eggs.",
	}))

	builder := NewContextBuilder(st, nil, nil, quietLogger())
	text, snapshot, err := builder.Build(context.Background(), "Erich", "anything else?")
	require.NoError(t, err)

	// Oldest first, long responses truncated.
	first := strings.Index(text, "Erich: plan dinner")
	second := strings.Index(text, "Lauren: add eggs")
	require.Greater(t, first, -1)
	require.Greater(t, second, -1)
	assert.Less(t, first, second)
	assert.Contains(t, text, strings.Repeat("a", responseTruncateAt)+"...")
	assert.NotContains(t, text, strings.Repeat("a", responseTruncateAt+1))
	assert.EqualValues(t, 2, snapshot["recent_messages_count"])
}

func TestBuildTruncatesResponsesOnRuneBoundary(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateConversation(&store.Conversation{
		Timestamp: time.Now(),
		User:      "Lauren",
		Message:   "what's for dinner?",
		Response:  strings.Repeat("é", responseTruncateAt+10),
	}))

	builder := NewContextBuilder(st, nil, nil, quietLogger())
	text, _, err := builder.Build(context.Background(), "Lauren", "and tomorrow?")
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(text))
	assert.Contains(t, text, strings.Repeat("é", responseTruncateAt)+"...")
	assert.NotContains(t, text, strings.Repeat("é", responseTruncateAt+1))
}

func TestBuildClassifierSelectsSections(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateRecipe(&store.Recipe{Name: "Bean Chili", Cuisine: "tex-mex"}))

	classifier := &scriptedLLM{steps: []step{
		{res: textResponse(`{"context_sections":{"recipes":true}}`)},
	}}
	builder := NewContextBuilder(st, classifier, nil, quietLogger())

	text, snapshot, err := builder.Build(context.Background(), "Erich", "what recipes do we have?")
	require.NoError(t, err)

	assert.Contains(t, text, "SAVED RECIPES:")
	assert.Contains(t, text, "Bean Chili (tex-mex)")
	assert.NotContains(t, text, "PANTRY (on hand):")
	assert.NotContains(t, text, "DIETARY PREFERENCES:")

	classified := snapshot["classifier_sections"].(map[string]any)
	assert.Equal(t, true, classified["recipes"])
	assert.Equal(t, false, classified["pantry"])

	// The classifier ran on its own tight budget.
	require.Len(t, classifier.opts, 1)
	assert.Equal(t, classifierMaxTokens, classifier.opts[0].MaxTokens)
	assert.Equal(t, classifierTimeout, classifier.opts[0].Timeout)
}

func TestBuildClassifierFailureLoadsEverything(t *testing.T) {
	st := newTestStore(t)

	for _, cl := range []*scriptedLLM{
		{steps: []step{{err: assert.AnError}}},
		{steps: []step{{res: textResponse("sorry, I can't classify that")}}},
	} {
		builder := NewContextBuilder(st, cl, nil, quietLogger())
		text, _, err := builder.Build(context.Background(), "Lauren", "hm")
		require.NoError(t, err)
		assert.Contains(t, text, "SAVED RECIPES:")
		assert.Contains(t, text, "PANTRY (on hand):")
		assert.Contains(t, text, "ORDER HISTORY:")
	}
}

func TestBuildKrogerStatus(t *testing.T) {
	st := newTestStore(t)

	builder := NewContextBuilder(st, nil, &fakeKrogerStatus{configured: true}, quietLogger())
	text, _, err := builder.Build(context.Background(), "Erich", "hi")
	require.NoError(t, err)
	assert.Contains(t, text, "KROGER STATUS: needs_auth")

	builder = NewContextBuilder(st, nil, &fakeKrogerStatus{configured: true, authenticated: true}, quietLogger())
	text, _, err = builder.Build(context.Background(), "Erich", "hi")
	require.NoError(t, err)
	assert.Contains(t, text, "KROGER STATUS: authenticated")
}

func TestUseTimezone(t *testing.T) {
	st := newTestStore(t)
	builder := NewContextBuilder(st, nil, nil, quietLogger())
	require.NoError(t, builder.UseTimezone("America/Denver"))
	require.Error(t, builder.UseTimezone("Not/AZone"))
}
