package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"grocerybot/store"
)

// GetPreferences returns dietary preferences, per user or for everyone.
type GetPreferences struct{ st *store.Store }

func NewGetPreferences(st *store.Store) *GetPreferences { return &GetPreferences{st: st} }

func (t *GetPreferences) Name() string  { return NameGetPreferences }
func (t *GetPreferences) Title() string { return "Get Preferences" }
func (t *GetPreferences) Description() string {
	return "Returns dietary preferences, dislikes, loves, and allergies per household member."
}

type getPreferencesParams struct {
	User string `json:"user"`
}

func (t *GetPreferences) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"user": {Type: "string"},
		},
	}
}

func (t *GetPreferences) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"preferences": {Type: "array", Items: &jsonschema.Schema{Type: "object"}},
		},
		Required: []string{"preferences"},
	}
}

func (t *GetPreferences) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[getPreferencesParams](input)
	if err != nil {
		return nil, err
	}

	all, err := t.st.AllPreferences()
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(all))
	for user, data := range all {
		if params.User != "" && !strings.EqualFold(user, params.User) {
			continue
		}
		result = append(result, map[string]any{"user": user, "data": map[string]any(data)})
	}
	return map[string]any{"preferences": result}, nil
}

// UpdatePreference records a preference. Set categories (dietary, dislikes,
// loves, allergies) accumulate; other categories overwrite.
type UpdatePreference struct{ st *store.Store }

func NewUpdatePreference(st *store.Store) *UpdatePreference { return &UpdatePreference{st: st} }

func (t *UpdatePreference) Name() string  { return NameUpdatePreference }
func (t *UpdatePreference) Title() string { return "Update Preference" }
func (t *UpdatePreference) Description() string {
	return "Records a dietary preference for a household member. Categories dietary/dislikes/loves/allergies accumulate values; any other category is overwritten."
}

type updatePreferenceParams struct {
	User     string `json:"user"`
	Category string `json:"category"`
	Value    string `json:"value"`
}

func (p updatePreferenceParams) validate() error {
	if err := requireString("user", p.User); err != nil {
		return err
	}
	if err := requireString("category", p.Category); err != nil {
		return err
	}
	return requireString("value", p.Value)
}

func (t *UpdatePreference) InputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"user":     {Type: "string"},
			"category": {Type: "string", Description: "E.g. dietary, dislikes, loves, allergies, spice_tolerance."},
			"value":    {Type: "string"},
		},
		Required: []string{"user", "category", "value"},
	}
}

func (t *UpdatePreference) OutputSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"success":  {Type: "boolean"},
			"user":     {Type: "string"},
			"category": {Type: "string"},
			"value":    {Type: "string"},
		},
		Required: []string{"success", "user", "category", "value"},
	}
}

func (t *UpdatePreference) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	params, err := decodeInput[updatePreferenceParams](input)
	if err != nil {
		return nil, err
	}

	user := strings.TrimSpace(params.User)
	category := strings.ToLower(strings.TrimSpace(params.Category))
	value := strings.TrimSpace(params.Value)

	if _, err := t.st.UpdatePreference(user, category, value); err != nil {
		return nil, err
	}

	err = t.st.LogEvent(store.ActionUpdatePreference,
		fmt.Sprintf("%s.%s=%s", user, category, value), "updated", nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"user":     user,
		"category": category,
		"value":    value,
	}, nil
}
