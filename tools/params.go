package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// validator is implemented by param structs that check required fields
// before the tool body runs.
type validator interface {
	validate() error
}

// decodeInput converts the model-supplied input map into a typed params
// struct and validates it. Malformed or incomplete input fails here, before
// any database work happens.
func decodeInput[T any](input map[string]any) (T, error) {
	var params T
	b, err := json.Marshal(input)
	if err != nil {
		return params, fmt.Errorf("encoding tool input: %w", err)
	}
	if err := json.Unmarshal(b, &params); err != nil {
		return params, fmt.Errorf("invalid tool input: %w", err)
	}
	if v, ok := any(&params).(validator); ok {
		if err := v.validate(); err != nil {
			return params, err
		}
	}
	return params, nil
}

// flexNumber accepts a JSON number or a numeric string. Models sometimes
// send quantities as strings ("2" instead of 2).
type flexNumber struct {
	value *float64
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		f.value = nil
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparseable quantities are dropped rather than failing the tool.
		f.value = nil
		return nil
	}
	f.value = &n
	return nil
}

func (f flexNumber) MarshalJSON() ([]byte, error) {
	if f.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.value)
}

func requireString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}
