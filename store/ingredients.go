package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// GetOrCreateIngredient resolves a name to an ingredient, matching first on
// normalized name, then on aliases, and creating a new row when neither
// matches. Alias matching is a linear scan over ingredients that have
// aliases; at household scale the table stays small.
func (s *Store) GetOrCreateIngredient(name string) (*Ingredient, bool, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, false, fmt.Errorf("ingredient name %q normalizes to empty", name)
	}

	var ing Ingredient
	err := s.db.Where("normalized_name = ?", normalized).First(&ing).Error
	if err == nil {
		return &ing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("looking up ingredient %q: %w", name, err)
	}

	var withAliases []Ingredient
	err = s.db.Where("aliases IS NOT NULL").Find(&withAliases).Error
	if err != nil {
		return nil, false, fmt.Errorf("scanning aliases: %w", err)
	}
	for i := range withAliases {
		for _, alias := range withAliases[i].Aliases {
			if NormalizeName(alias) == normalized {
				return &withAliases[i], false, nil
			}
		}
	}

	ing = Ingredient{Name: name, NormalizedName: normalized}
	if err := s.db.Create(&ing).Error; err != nil {
		return nil, false, fmt.Errorf("creating ingredient %q: %w", name, err)
	}
	return &ing, true, nil
}

// FindIngredient matches on normalized name or alias without creating.
func (s *Store) FindIngredient(name string) (*Ingredient, error) {
	normalized := NormalizeName(name)
	var ing Ingredient
	err := s.db.Where("normalized_name = ?", normalized).First(&ing).Error
	if err == nil {
		return &ing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up ingredient %q: %w", name, err)
	}

	var withAliases []Ingredient
	if err := s.db.Where("aliases IS NOT NULL").Find(&withAliases).Error; err != nil {
		return nil, fmt.Errorf("scanning aliases: %w", err)
	}
	for i := range withAliases {
		for _, alias := range withAliases[i].Aliases {
			if NormalizeName(alias) == normalized {
				return &withAliases[i], nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// SearchIngredients returns ingredients whose name contains the query,
// case-insensitively, optionally filtered by whether a Kroger product is
// linked. An empty query returns everything.
func (s *Store) SearchIngredients(query string, hasKroger *bool, limit int) ([]Ingredient, error) {
	q := s.db.Order("normalized_name")
	if query != "" {
		pattern := "%" + NormalizeName(query) + "%"
		q = q.Where("normalized_name LIKE ?", pattern)
	}
	if hasKroger != nil {
		if *hasKroger {
			q = q.Where("kroger_product_id IS NOT NULL AND kroger_product_id <> ''")
		} else {
			q = q.Where("(kroger_product_id IS NULL OR kroger_product_id = '')")
		}
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Ingredient
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("searching ingredients: %w", err)
	}
	return out, nil
}

// UnresolvedIngredients returns ingredients with no Kroger product that are
// purchased at Kroger (empty purchase source).
func (s *Store) UnresolvedIngredients() ([]Ingredient, error) {
	var out []Ingredient
	err := s.db.
		Where("(kroger_product_id IS NULL OR kroger_product_id = '')").
		Where("(purchase_source IS NULL OR purchase_source = '')").
		Order("normalized_name").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing unresolved ingredients: %w", err)
	}
	return out, nil
}

// NonKrogerIngredients returns ingredients bought somewhere other than
// Kroger, grouped for the caller by their purchase source.
func (s *Store) NonKrogerIngredients() ([]Ingredient, error) {
	var out []Ingredient
	err := s.db.
		Where("purchase_source IS NOT NULL AND purchase_source <> ''").
		Order("purchase_source, normalized_name").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing non-kroger ingredients: %w", err)
	}
	return out, nil
}

func (s *Store) GetIngredient(id uint) (*Ingredient, error) {
	var ing Ingredient
	if err := s.db.First(&ing, id).Error; err != nil {
		return nil, err
	}
	return &ing, nil
}

func (s *Store) SaveIngredient(ing *Ingredient) error {
	if err := s.db.Save(ing).Error; err != nil {
		return fmt.Errorf("saving ingredient %d: %w", ing.ID, err)
	}
	return nil
}

// AddIngredientAlias appends an alias unless it already resolves to this
// ingredient or collides with another ingredient's name.
func (s *Store) AddIngredientAlias(ing *Ingredient, alias string) error {
	normalized := NormalizeName(alias)
	if normalized == "" {
		return fmt.Errorf("alias %q normalizes to empty", alias)
	}
	if normalized == ing.NormalizedName {
		return nil
	}
	for _, a := range ing.Aliases {
		if NormalizeName(a) == normalized {
			return nil
		}
	}
	var other Ingredient
	err := s.db.Where("normalized_name = ? AND id <> ?", normalized, ing.ID).First(&other).Error
	if err == nil {
		return fmt.Errorf("alias %q already names ingredient %q", alias, other.Name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checking alias collision: %w", err)
	}
	ing.Aliases = append(ing.Aliases, strings.TrimSpace(alias))
	return s.SaveIngredient(ing)
}
