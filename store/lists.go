package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetActiveList returns the single active shopping list, or
// gorm.ErrRecordNotFound when none exists.
func (s *Store) GetActiveList() (*ShoppingList, error) {
	var list ShoppingList
	err := s.db.Where("status = ?", ListStatusActive).First(&list).Error
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// GetOrCreateActiveList returns the active list, creating one if none
// exists. The partial unique index on status='active' means a concurrent
// creator loses with a constraint error; on any create failure we re-read,
// which picks up the winner's row.
func (s *Store) GetOrCreateActiveList() (*ShoppingList, error) {
	list, err := s.GetActiveList()
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up active list: %w", err)
	}

	created := ShoppingList{Status: ListStatusActive}
	if err := s.db.Create(&created).Error; err != nil {
		if list, rerr := s.GetActiveList(); rerr == nil {
			return list, nil
		}
		return nil, fmt.Errorf("creating active list: %w", err)
	}
	return &created, nil
}

// ListItems returns the items on a list with ingredients preloaded, oldest
// first.
func (s *Store) ListItems(listID uint) ([]ShoppingListItem, error) {
	var items []ShoppingListItem
	err := s.db.Preload("Ingredient").
		Where("shopping_list_id = ?", listID).
		Order("added_at").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("loading items for list %d: %w", listID, err)
	}
	return items, nil
}

// FindListItem locates an item on the list by ingredient name or alias,
// falling back to a normalized-name substring match so "milk" finds
// "whole milk".
func (s *Store) FindListItem(listID uint, name string) (*ShoppingListItem, error) {
	ing, err := s.FindIngredient(name)
	if err == nil {
		var item ShoppingListItem
		err = s.db.Preload("Ingredient").
			Where("shopping_list_id = ? AND ingredient_id = ?", listID, ing.ID).
			First(&item).Error
		if err == nil {
			return &item, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var item ShoppingListItem
	err = s.db.Preload("Ingredient").
		Joins("JOIN ingredients ON ingredients.id = shopping_list_items.ingredient_id").
		Where("shopping_list_items.shopping_list_id = ?", listID).
		Where("ingredients.normalized_name LIKE ?", "%"+NormalizeName(name)+"%").
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CountListItems returns how many items are on a list.
func (s *Store) CountListItems(listID uint) (int64, error) {
	var count int64
	err := s.db.Model(&ShoppingListItem{}).
		Where("shopping_list_id = ?", listID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting items for list %d: %w", listID, err)
	}
	return count, nil
}

// OrderedLists returns archived lists, most recently ordered first.
func (s *Store) OrderedLists(limit int) ([]ShoppingList, error) {
	q := s.db.Where("status = ?", ListStatusOrdered).Order("ordered_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []ShoppingList
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading ordered lists: %w", err)
	}
	return out, nil
}

// ItemOnList reports whether an ingredient is already on the list.
func (s *Store) ItemOnList(listID, ingredientID uint) (bool, error) {
	var count int64
	err := s.db.Model(&ShoppingListItem{}).
		Where("shopping_list_id = ? AND ingredient_id = ?", listID, ingredientID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking list membership: %w", err)
	}
	return count > 0, nil
}

func (s *Store) AddListItem(item *ShoppingListItem) error {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	if err := s.db.Create(item).Error; err != nil {
		return fmt.Errorf("adding list item: %w", err)
	}
	return nil
}

func (s *Store) SaveListItem(item *ShoppingListItem) error {
	if err := s.db.Save(item).Error; err != nil {
		return fmt.Errorf("saving list item %d: %w", item.ID, err)
	}
	return nil
}

func (s *Store) DeleteListItem(item *ShoppingListItem) error {
	if err := s.db.Delete(item).Error; err != nil {
		return fmt.Errorf("deleting list item %d: %w", item.ID, err)
	}
	return nil
}

// ClearList removes every item from the list. Returns how many were removed.
func (s *Store) ClearList(listID uint) (int64, error) {
	res := s.db.Where("shopping_list_id = ?", listID).Delete(&ShoppingListItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("clearing list %d: %w", listID, res.Error)
	}
	return res.RowsAffected, nil
}

// ArchiveList marks the list ordered with the current timestamp. Archiving
// frees the unique active slot for the next list.
func (s *Store) ArchiveList(list *ShoppingList) error {
	now := time.Now().UTC()
	list.Status = ListStatusOrdered
	list.OrderedAt = &now
	if err := s.db.Save(list).Error; err != nil {
		return fmt.Errorf("archiving list %d: %w", list.ID, err)
	}
	return nil
}
