package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"grocerybot/store"
)

// GetRecipeNotes returns cooking feedback, optionally scoped to one recipe.
type GetRecipeNotes struct{ st *store.Store }

func NewGetRecipeNotes(st *store.Store) *GetRecipeNotes { return &GetRecipeNotes{st: st} }

func (t *GetRecipeNotes) Name() string  { return NameGetRecipeNotes }
func (t *GetRecipeNotes) Title() string { return "Get Recipe Notes" }
func (t *GetRecipeNotes) Description() string {
	return "Returns cooking notes and feedback, newest first. Filter by recipe name to see what worked last time."
}

type getNotesParams struct {
	RecipeName string `json:"recipe_name"`
}

func (t *GetRecipeNotes) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipe_name": {Type: "string"},
		},
	}
}

func (t *GetRecipeNotes) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"notes": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
			"count": {Type: "integer"},
		},
		Required: []string{"notes", "count"},
	}
}

func (t *GetRecipeNotes) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[getNotesParams](input)
	if err != nil {
		return nil, err
	}

	notes, err := t.st.RecipeNotesFor(params.RecipeName, 20)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		result = append(result, map[string]any{
			"recipe_name": n.RecipeName,
			"title":       n.Title,
			"user":        n.User,
			"note_text":   n.NoteText,
			"note_type":   string(n.NoteType),
			"outcome":     string(n.Outcome),
			"created_at":  n.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"notes": result, "count": len(result)}, nil
}

// AddRecipeNote records cooking feedback keyed by recipe name. The note
// links to the recipe row when one exists, otherwise it waits for backfill.
type AddRecipeNote struct{ st *store.Store }

func NewAddRecipeNote(st *store.Store) *AddRecipeNote { return &AddRecipeNote{st: st} }

func (t *AddRecipeNote) Name() string  { return NameAddRecipeNote }
func (t *AddRecipeNote) Title() string { return "Add Recipe Note" }
func (t *AddRecipeNote) Description() string {
	return "Records feedback about cooking a recipe: what was changed, how it turned out. Works even if the recipe hasn't been saved yet."
}

type addNoteParams struct {
	RecipeName string `json:"recipe_name"`
	User       string `json:"user"`
	NoteText   string `json:"note_text"`
	Title      string `json:"title"`
	NoteType   string `json:"note_type"`
	Outcome    string `json:"outcome"`
}

func (p addNoteParams) validate() error {
	if err := requireString("recipe_name", p.RecipeName); err != nil {
		return err
	}
	if err := requireString("user", p.User); err != nil {
		return err
	}
	return requireString("note_text", p.NoteText)
}

func (t *AddRecipeNote) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"recipe_name": {Type: "string"},
			"user":        {Type: "string"},
			"note_text":   {Type: "string"},
			"title":       {Type: "string"},
			"note_type": {
				Type: "string",
				Enum: []any{"ingredient_change", "technique", "timing", "general"},
			},
			"outcome": {
				Type: "string",
				Enum: []any{"better", "worse", "neutral"},
			},
		},
		Required: []string{"recipe_name", "user", "note_text"},
	}
}

func (t *AddRecipeNote) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":     {Type: "boolean"},
			"note_id":     {Type: "integer"},
			"recipe_name": {Type: "string"},
		},
		Required: []string{"success", "note_id", "recipe_name"},
	}
}

func noteTypeFrom(s string) store.NoteType {
	switch strings.ToLower(s) {
	case "ingredient_change":
		return store.NoteTypeIngredientChange
	case "technique":
		return store.NoteTypeTechnique
	case "timing":
		return store.NoteTypeTiming
	default:
		return store.NoteTypeGeneral
	}
}

func outcomeFrom(s string) store.NoteOutcome {
	switch strings.ToLower(s) {
	case "better":
		return store.OutcomeBetter
	case "worse":
		return store.OutcomeWorse
	default:
		return store.OutcomeNeutral
	}
}

func (t *AddRecipeNote) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[addNoteParams](input)
	if err != nil {
		return nil, err
	}

	note := store.RecipeNote{
		RecipeName: strings.TrimSpace(params.RecipeName),
		User:       strings.TrimSpace(params.User),
		NoteText:   strings.TrimSpace(params.NoteText),
		Title:      strings.TrimSpace(params.Title),
		NoteType:   noteTypeFrom(params.NoteType),
		Outcome:    outcomeFrom(params.Outcome),
	}
	if err := t.st.CreateRecipeNote(&note); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionAddRecipeNote,
		fmt.Sprintf("recipe=%s, user=%s", note.RecipeName, note.User),
		fmt.Sprintf("note_id=%d", note.ID),
		map[string]any{"note_id": note.ID})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":     true,
		"note_id":     note.ID,
		"recipe_name": note.RecipeName,
	}, nil
}
