// Package seed preloads recipes and pantry stock from a JSON document so a
// fresh database doesn't start the household from zero.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"grocerybot/store"
)

// Source yields the raw seed document.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Data is the seed document shape.
type Data struct {
	Recipes []RecipeSeed `json:"recipes"`
	Pantry  []PantrySeed `json:"pantry"`
}

type RecipeSeed struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Instructions string           `json:"instructions"`
	Cuisine      string           `json:"cuisine"`
	Tags         []string         `json:"tags"`
	Ingredients  []IngredientSeed `json:"ingredients"`
}

type IngredientSeed struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity"`
	Unit     string   `json:"unit"`
	Optional bool     `json:"optional"`
}

type PantrySeed struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity"`
	Unit     string   `json:"unit"`
}

// Apply loads the document and inserts anything not already present, in one
// transaction. Re-running against a seeded database is a no-op.
func Apply(ctx context.Context, st *store.Store, src Source, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading seed data: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing seed data: %w", err)
	}

	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint: errcheck

	var recipesAdded, pantryAdded int

	for _, r := range data.Recipes {
		if r.Name == "" {
			continue
		}
		_, err := tx.FindRecipeByName(r.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking recipe %q: %w", r.Name, err)
		}

		recipe := &store.Recipe{
			Name:         r.Name,
			Description:  r.Description,
			Instructions: r.Instructions,
			Cuisine:      r.Cuisine,
			Tags:         r.Tags,
		}
		if err := tx.CreateRecipe(recipe); err != nil {
			return err
		}
		for _, line := range r.Ingredients {
			ing, _, err := tx.GetOrCreateIngredient(line.Name)
			if err != nil {
				return err
			}
			err = tx.AddRecipeIngredient(&store.RecipeIngredient{
				RecipeID:     recipe.ID,
				IngredientID: ing.ID,
				Quantity:     line.Quantity,
				Unit:         line.Unit,
				Optional:     line.Optional,
			})
			if err != nil {
				return err
			}
		}
		recipesAdded++
	}

	for _, p := range data.Pantry {
		if p.Name == "" {
			continue
		}
		_, err := tx.FindPantryItem(p.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking pantry item %q: %w", p.Name, err)
		}

		ing, _, err := tx.GetOrCreateIngredient(p.Name)
		if err != nil {
			return err
		}
		item := &store.PantryItem{
			ItemName:     p.Name,
			IngredientID: &ing.ID,
			Quantity:     p.Quantity,
			Unit:         p.Unit,
		}
		if err := tx.CreatePantryItem(item); err != nil {
			return err
		}
		pantryAdded++
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info("seed data applied", "recipes_added", recipesAdded, "pantry_added", pantryAdded)
	return nil
}
