package store

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// setCategories accumulate values instead of overwriting; everything else is
// a scalar assignment.
var setCategories = map[string]bool{
	"dietary":   true,
	"dislikes":  true,
	"loves":     true,
	"allergies": true,
}

// GetPreferences returns a user's preference map, empty when unset.
func (s *Store) GetPreferences(user string) (datatypes.JSONMap, error) {
	var pref Preference
	err := s.db.Where(`"user" = ?`, user).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return datatypes.JSONMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading preferences for %s: %w", user, err)
	}
	if pref.Data == nil {
		return datatypes.JSONMap{}, nil
	}
	return pref.Data, nil
}

// AllPreferences returns every user's preference map keyed by user.
func (s *Store) AllPreferences() (map[string]datatypes.JSONMap, error) {
	var prefs []Preference
	if err := s.db.Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}
	out := make(map[string]datatypes.JSONMap, len(prefs))
	for _, p := range prefs {
		if p.Data == nil {
			out[p.User] = datatypes.JSONMap{}
			continue
		}
		out[p.User] = p.Data
	}
	return out, nil
}

// UpdatePreference sets a category for a user. Set categories (dietary,
// dislikes, loves, allergies) accumulate distinct values; anything else
// overwrites.
func (s *Store) UpdatePreference(user, category string, value any) (datatypes.JSONMap, error) {
	var pref Preference
	err := s.db.Where(`"user" = ?`, user).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = Preference{User: user, Data: datatypes.JSONMap{}}
	} else if err != nil {
		return nil, fmt.Errorf("loading preferences for %s: %w", user, err)
	}
	if pref.Data == nil {
		pref.Data = datatypes.JSONMap{}
	}

	if setCategories[category] {
		existing, _ := pref.Data[category].([]any)
		var additions []any
		switch v := value.(type) {
		case []any:
			additions = v
		case []string:
			for _, s := range v {
				additions = append(additions, s)
			}
		default:
			additions = []any{value}
		}
		for _, add := range additions {
			seen := false
			for _, have := range existing {
				if have == add {
					seen = true
					break
				}
			}
			if !seen {
				existing = append(existing, add)
			}
		}
		pref.Data[category] = existing
	} else {
		pref.Data[category] = value
	}

	if err := s.db.Save(&pref).Error; err != nil {
		return nil, fmt.Errorf("saving preferences for %s: %w", user, err)
	}
	return pref.Data, nil
}
