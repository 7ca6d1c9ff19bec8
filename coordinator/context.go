package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"grocerybot/store"
)

const (
	// contextListCap bounds the shopping list enumeration; everything past
	// it is summarized as a count.
	contextListCap = 50
	// recentMessageLimit and responseTruncateAt bound conversation history
	// growth in the context block.
	recentMessageLimit = 5
	responseTruncateAt = 200

	classifierMaxTokens = 200
	classifierTimeout   = 5 * time.Second
)

// sections controls which optional context blocks get loaded. The shopping
// list and recent conversation are always present.
type sections struct {
	Recipes      bool `json:"recipes"`
	MealPlan     bool `json:"meal_plan"`
	Pantry       bool `json:"pantry"`
	Preferences  bool `json:"preferences"`
	RecipeNotes  bool `json:"recipe_notes"`
	OrderHistory bool `json:"order_history"`
}

func allSections() sections {
	return sections{
		Recipes:      true,
		MealPlan:     true,
		Pantry:       true,
		Preferences:  true,
		RecipeNotes:  true,
		OrderHistory: true,
	}
}

// KrogerStatus is the slice of the retailer client the context builder
// reports on.
type KrogerStatus interface {
	Configured() bool
	Authenticated(ctx context.Context) bool
}

// ContextBuilder assembles the bounded text snapshot prepended to the first
// user turn of every message. A cheap classifier call picks which optional
// sections to load; any classifier failure degrades to loading everything.
type ContextBuilder struct {
	st         *store.Store
	classifier LLMClient
	kroger     KrogerStatus
	logger     *slog.Logger
	now        func() time.Time
}

func NewContextBuilder(st *store.Store, classifier LLMClient, kroger KrogerStatus, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{st: st, classifier: classifier, kroger: kroger, logger: logger, now: time.Now}
}

// UseTimezone pins the TODAY line to the household's local time.
func (b *ContextBuilder) UseTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", name, err)
	}
	base := b.now
	b.now = func() time.Time { return base().In(loc) }
	return nil
}

func (b *ContextBuilder) classify(ctx context.Context, userMessage string) sections {
	if b.classifier == nil {
		return allSections()
	}

	prompt := Prompt{
		System: classifierPrompt,
		Messages: []Message{
			{Role: "user", Content: MessageParts{{Type: "text", Text: userMessage}}},
		},
	}
	res, err := b.classifier.Invoke(ctx, prompt, CallOptions{
		MaxTokens: classifierMaxTokens,
		Timeout:   classifierTimeout,
	})
	if err != nil {
		b.logger.Warn("classifier failed, loading all sections", "error", err)
		return allSections()
	}

	var parsed struct {
		ContextSections sections `json:"context_sections"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Content)), &parsed); err != nil {
		b.logger.Warn("classifier returned non-JSON, loading all sections", "error", err)
		return allSections()
	}
	b.logger.Info("classifier sections",
		"recipes", parsed.ContextSections.Recipes,
		"meal_plan", parsed.ContextSections.MealPlan,
		"pantry", parsed.ContextSections.Pantry,
		"preferences", parsed.ContextSections.Preferences,
		"recipe_notes", parsed.ContextSections.RecipeNotes,
		"order_history", parsed.ContextSections.OrderHistory,
	)
	return parsed.ContextSections
}

// Build returns the formatted context block and a snapshot map persisted on
// the conversation row.
func (b *ContextBuilder) Build(ctx context.Context, user, userMessage string) (string, map[string]any, error) {
	secs := b.classify(ctx, userMessage)

	items, err := b.activeListItems()
	if err != nil {
		return "", nil, err
	}
	totalItems := len(items)
	truncated := false
	if len(items) > contextListCap {
		items = items[:contextListCap]
		truncated = true
	}

	conversations, err := b.st.RecentConversations(recentMessageLimit)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("=== CURRENT CONTEXT ===\n\n")
	fmt.Fprintf(&sb, "TODAY: %s\n", b.now().Format("Monday, January 2, 2006"))
	fmt.Fprintf(&sb, "USER: %s\n\n", user)

	fmt.Fprintf(&sb, "CURRENT SHOPPING LIST (%d items):\n", totalItems)
	sb.WriteString(formatListItems(items, truncated, totalItems))

	sb.WriteString("\n\nRECENT CONVERSATION:\n")
	sb.WriteString(formatConversations(conversations))

	snapshot := map[string]any{
		"shopping_list_size":      totalItems,
		"recent_messages_count":   len(conversations),
		"shopping_list_truncated": truncated,
		"classifier_sections": map[string]any{
			"recipes":       secs.Recipes,
			"meal_plan":     secs.MealPlan,
			"pantry":        secs.Pantry,
			"preferences":   secs.Preferences,
			"recipe_notes":  secs.RecipeNotes,
			"order_history": secs.OrderHistory,
		},
	}

	if secs.Recipes {
		recipes, err := b.st.SearchRecipes("", "", "")
		if err != nil {
			return "", nil, err
		}
		if len(recipes) > 20 {
			recipes = recipes[:20]
		}
		sb.WriteString("\n\nSAVED RECIPES:\n")
		sb.WriteString(formatRecipes(recipes))
		snapshot["recipes_count"] = len(recipes)
	}

	if secs.MealPlan {
		plan, err := b.st.GetPlanningMealPlan()
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, err
		}
		sb.WriteString("\n\nCURRENT MEAL PLAN:\n")
		sb.WriteString(formatMealPlan(plan))
		snapshot["meal_plan_active"] = plan != nil
	}

	if secs.Pantry {
		pantry, err := b.st.PantryItems()
		if err != nil {
			return "", nil, err
		}
		sb.WriteString("\n\nPANTRY (on hand):\n")
		sb.WriteString(formatPantry(pantry))
		snapshot["pantry_items_count"] = len(pantry)
	}

	if secs.Preferences {
		prefs, err := b.st.AllPreferences()
		if err != nil {
			return "", nil, err
		}
		sb.WriteString("\n\nDIETARY PREFERENCES:\n")
		sb.WriteString(formatPreferences(prefs))
		snapshot["preferences_count"] = len(prefs)
	}

	if secs.RecipeNotes {
		notes, err := b.st.RecipeNotesFor("", 10)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString("\n\nRECENT RECIPE NOTES:\n")
		sb.WriteString(formatNotes(notes))
		snapshot["recent_notes_count"] = len(notes)
	}

	if secs.OrderHistory {
		orders, err := b.st.OrderedLists(5)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString("\n\nORDER HISTORY:\n")
		sb.WriteString(b.formatOrders(orders))
	}

	if b.kroger != nil && b.kroger.Configured() {
		status := "needs_auth"
		if b.kroger.Authenticated(ctx) {
			status = "authenticated"
		}
		fmt.Fprintf(&sb, "\n\nKROGER STATUS: %s", status)
	}

	sb.WriteString("\n\n=== USER MESSAGE ===")
	return sb.String(), snapshot, nil
}

func (b *ContextBuilder) activeListItems() ([]store.ShoppingListItem, error) {
	list, err := b.st.GetActiveList()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.st.ListItems(list.ID)
}

func formatListItems(items []store.ShoppingListItem, truncated bool, total int) string {
	if len(items) == 0 {
		return "(empty)"
	}
	lines := make([]string, 0, len(items)+1)
	for _, item := range items {
		parts := []string{"- " + item.Ingredient.Name}
		if item.Quantity != nil && item.Unit != "" {
			parts = append(parts, fmt.Sprintf("(%g %s)", *item.Quantity, item.Unit))
		} else if item.Quantity != nil {
			parts = append(parts, fmt.Sprintf("(%g)", *item.Quantity))
		}
		if item.Ingredient.PreferredBrand != "" {
			parts = append(parts, "["+item.Ingredient.PreferredBrand+"]")
		}
		if item.AddedBy != "" {
			parts = append(parts, "(added by "+item.AddedBy+")")
		}
		switch {
		case item.Ingredient.KrogerProductID != "":
			parts = append(parts, "[kroger: resolved]")
		case item.Ingredient.PurchaseSource != "":
			parts = append(parts, "[source: "+item.Ingredient.PurchaseSource+"]")
		default:
			parts = append(parts, "[kroger: needs resolution]")
		}
		if item.CheckedOff {
			parts = append(parts, "[checked off]")
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("... and %d more items (list truncated)", total-len(items)))
	}
	return strings.Join(lines, "\n")
}

func formatConversations(conversations []store.Conversation) string {
	if len(conversations) == 0 {
		return "(no recent messages)"
	}
	// Newest first from the store; present oldest first.
	lines := make([]string, 0, len(conversations)*2)
	for i := len(conversations) - 1; i >= 0; i-- {
		c := conversations[i]
		lines = append(lines, fmt.Sprintf("%s: %s", c.User, c.Message))
		if c.Response != "" {
			response := c.Response
			// Truncate on rune boundaries so a multi-byte character is
			// never split mid-sequence.
			if runes := []rune(response); len(runes) > responseTruncateAt {
				response = string(runes[:responseTruncateAt]) + "..."
			}
			lines = append(lines, "Assistant: "+response)
		}
	}
	return strings.Join(lines, "\n")
}

func formatRecipes(recipes []store.Recipe) string {
	if len(recipes) == 0 {
		return "(no saved recipes)"
	}
	lines := make([]string, 0, len(recipes))
	for _, r := range recipes {
		parts := []string{fmt.Sprintf("- [#%d] %s", r.ID, r.Name)}
		if r.Cuisine != "" {
			parts = append(parts, "("+r.Cuisine+")")
		}
		if len(r.Tags) > 0 {
			parts = append(parts, "["+strings.Join(r.Tags, ", ")+"]")
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func formatMealPlan(plan *store.MealPlan) string {
	if plan == nil {
		return "(no active meal plan)"
	}
	if len(plan.Meals) == 0 {
		return "(meal plan started, no meals added yet)"
	}
	lines := make([]string, 0, len(plan.Meals))
	for _, m := range plan.Meals {
		parts := []string{"- " + m.MealName}
		if m.RecipeID != 0 {
			parts = append(parts, fmt.Sprintf("[recipe #%d]", m.RecipeID))
		}
		if m.Notes != "" {
			parts = append(parts, "("+m.Notes+")")
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func formatPantry(items []store.PantryItem) string {
	if len(items) == 0 {
		return "(pantry empty or not tracked)"
	}
	lines := make([]string, 0, len(items))
	for _, i := range items {
		line := "- " + i.ItemName
		if i.Quantity != nil && i.Unit != "" {
			line += fmt.Sprintf(" (%g %s)", *i.Quantity, i.Unit)
		} else if i.Quantity != nil {
			line += fmt.Sprintf(" (%g)", *i.Quantity)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatPreferences(prefs map[string]datatypes.JSONMap) string {
	if len(prefs) == 0 {
		return "(no preferences set)"
	}
	var lines []string
	for user, data := range prefs {
		for category, value := range data {
			switch v := value.(type) {
			case []any:
				strs := make([]string, 0, len(v))
				for _, item := range v {
					strs = append(strs, fmt.Sprint(item))
				}
				lines = append(lines, fmt.Sprintf("- %s / %s: %s", user, category, strings.Join(strs, ", ")))
			default:
				lines = append(lines, fmt.Sprintf("- %s / %s: %v", user, category, v))
			}
		}
	}
	if len(lines) == 0 {
		return "(no preferences set)"
	}
	return strings.Join(lines, "\n")
}

func formatNotes(notes []store.RecipeNote) string {
	if len(notes) == 0 {
		return "(no recipe notes)"
	}
	marker := map[store.NoteOutcome]string{
		store.OutcomeBetter:  "+",
		store.OutcomeWorse:   "-",
		store.OutcomeNeutral: "~",
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		m, ok := marker[n.Outcome]
		if !ok {
			m = "~"
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s): %s", m, n.RecipeName, n.User, n.NoteText))
	}
	return strings.Join(lines, "\n")
}

func (b *ContextBuilder) formatOrders(orders []store.ShoppingList) string {
	if len(orders) == 0 {
		return "(no order history)"
	}
	lines := make([]string, 0, len(orders))
	for _, o := range orders {
		count, err := b.st.CountListItems(o.ID)
		if err != nil {
			count = 0
		}
		date := "unknown date"
		if o.OrderedAt != nil {
			date = o.OrderedAt.Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf("- Order #%d (%s): %d items", o.ID, date, count))
	}
	return strings.Join(lines, "\n")
}
