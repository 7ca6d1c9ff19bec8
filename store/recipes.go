package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// FindRecipeByName matches a recipe by normalized name.
func (s *Store) FindRecipeByName(name string) (*Recipe, error) {
	normalized := NormalizeName(name)
	var recipes []Recipe
	if err := s.db.Find(&recipes).Error; err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	for i := range recipes {
		if NormalizeName(recipes[i].Name) == normalized {
			return &recipes[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *Store) GetRecipe(id uint) (*Recipe, error) {
	var r Recipe
	if err := s.db.First(&r, id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// SearchRecipes filters by name substring, cuisine, or tag. Empty filters
// return everything, newest first.
func (s *Store) SearchRecipes(query, cuisine, tag string) ([]Recipe, error) {
	q := s.db.Order("created_at DESC")
	if query != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+NormalizeName(query)+"%")
	}
	if cuisine != "" {
		q = q.Where("LOWER(cuisine) = ?", NormalizeName(cuisine))
	}
	var out []Recipe
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("searching recipes: %w", err)
	}
	if tag == "" {
		return out, nil
	}
	want := NormalizeName(tag)
	filtered := out[:0]
	for _, r := range out {
		for _, t := range r.Tags {
			if NormalizeName(t) == want {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered, nil
}

func (s *Store) CreateRecipe(r *Recipe) error {
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("creating recipe %q: %w", r.Name, err)
	}
	return nil
}

func (s *Store) SaveRecipe(r *Recipe) error {
	if err := s.db.Save(r).Error; err != nil {
		return fmt.Errorf("saving recipe %d: %w", r.ID, err)
	}
	return nil
}

// RecipeIngredients returns a recipe's ingredient lines with the linked
// ingredient rows preloaded.
func (s *Store) RecipeIngredients(recipeID uint) ([]RecipeIngredient, error) {
	var out []RecipeIngredient
	err := s.db.Preload("Ingredient").
		Where("recipe_id = ?", recipeID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("loading ingredients for recipe %d: %w", recipeID, err)
	}
	return out, nil
}

func (s *Store) AddRecipeIngredient(ri *RecipeIngredient) error {
	if err := s.db.Create(ri).Error; err != nil {
		return fmt.Errorf("adding recipe ingredient: %w", err)
	}
	return nil
}

// ReplaceRecipeIngredients swaps a recipe's ingredient lines for a new set.
func (s *Store) ReplaceRecipeIngredients(recipeID uint, lines []RecipeIngredient) error {
	err := s.db.Where("recipe_id = ?", recipeID).Delete(&RecipeIngredient{}).Error
	if err != nil {
		return fmt.Errorf("clearing ingredients for recipe %d: %w", recipeID, err)
	}
	for i := range lines {
		lines[i].RecipeID = recipeID
		if err := s.db.Create(&lines[i]).Error; err != nil {
			return fmt.Errorf("adding recipe ingredient: %w", err)
		}
	}
	return nil
}

// CreateRecipeNote stores a note; the recipe link is set when a matching
// recipe exists, otherwise the note waits for backfill.
func (s *Store) CreateRecipeNote(note *RecipeNote) error {
	note.RecipeNameNormalized = NormalizeName(note.RecipeName)
	recipe, err := s.FindRecipeByName(note.RecipeName)
	if err == nil {
		note.RecipeID = &recipe.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := s.db.Create(note).Error; err != nil {
		return fmt.Errorf("creating recipe note: %w", err)
	}
	return nil
}

// RecipeNotesFor returns notes matching a recipe name (normalized), newest
// first. Empty name returns all notes.
func (s *Store) RecipeNotesFor(recipeName string, limit int) ([]RecipeNote, error) {
	q := s.db.Order("created_at DESC")
	if recipeName != "" {
		q = q.Where("recipe_name_normalized = ?", NormalizeName(recipeName))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []RecipeNote
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading recipe notes: %w", err)
	}
	return out, nil
}

// NotesForRecipeID returns a recipe's linked notes, newest first.
func (s *Store) NotesForRecipeID(recipeID uint) ([]RecipeNote, error) {
	var out []RecipeNote
	err := s.db.Where("recipe_id = ?", recipeID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("loading notes for recipe %d: %w", recipeID, err)
	}
	return out, nil
}

// BackfillOrphanedNotes links notes written before their recipe existed.
// Called after recipe creation; returns how many notes were linked.
func (s *Store) BackfillOrphanedNotes(recipe *Recipe) (int64, error) {
	res := s.db.Model(&RecipeNote{}).
		Where("recipe_id IS NULL AND recipe_name_normalized = ?", NormalizeName(recipe.Name)).
		Update("recipe_id", recipe.ID)
	if res.Error != nil {
		return 0, fmt.Errorf("backfilling notes for recipe %d: %w", recipe.ID, res.Error)
	}
	return res.RowsAffected, nil
}
