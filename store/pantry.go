package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// PantryItems returns the pantry, ingredient links preloaded.
func (s *Store) PantryItems() ([]PantryItem, error) {
	var out []PantryItem
	err := s.db.Preload("Ingredient").Order("item_name").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("loading pantry: %w", err)
	}
	return out, nil
}

// FindPantryItem matches by item name or by linked ingredient name/alias.
func (s *Store) FindPantryItem(name string) (*PantryItem, error) {
	normalized := NormalizeName(name)
	var items []PantryItem
	if err := s.db.Preload("Ingredient").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("loading pantry: %w", err)
	}
	for i := range items {
		if NormalizeName(items[i].ItemName) == normalized {
			return &items[i], nil
		}
	}
	ing, err := s.FindIngredient(name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	for i := range items {
		if items[i].IngredientID != nil && *items[i].IngredientID == ing.ID {
			return &items[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// InPantry reports whether an ingredient is stocked.
func (s *Store) InPantry(ingredientID uint) (bool, error) {
	var count int64
	err := s.db.Model(&PantryItem{}).
		Where("ingredient_id = ?", ingredientID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking pantry: %w", err)
	}
	return count > 0, nil
}

func (s *Store) CreatePantryItem(item *PantryItem) error {
	if err := s.db.Create(item).Error; err != nil {
		return fmt.Errorf("creating pantry item %q: %w", item.ItemName, err)
	}
	return nil
}

func (s *Store) SavePantryItem(item *PantryItem) error {
	if err := s.db.Save(item).Error; err != nil {
		return fmt.Errorf("saving pantry item %d: %w", item.ID, err)
	}
	return nil
}

func (s *Store) DeletePantryItem(item *PantryItem) error {
	if err := s.db.Delete(item).Error; err != nil {
		return fmt.Errorf("deleting pantry item %d: %w", item.ID, err)
	}
	return nil
}
