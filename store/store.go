package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the typed data-access layer over a single gorm handle. A Store
// returned by Begin operates inside that transaction; savepoints allow
// rolling back an individual tool call without losing earlier work in the
// same message.
type Store struct {
	db *gorm.DB
}

// New wraps an already-open gorm handle. Tests use this with the sqlite
// driver; production goes through OpenPostgres.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenPostgres opens a postgres-backed store and runs migrations.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the schema. The partial unique index on active
// shopping lists closes the race where two concurrent writers each create an
// active list; the loser's insert fails and retries against the winner's row.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&Ingredient{},
		&Recipe{},
		&RecipeIngredient{},
		&ShoppingList{},
		&ShoppingListItem{},
		&MealPlan{},
		&PantryItem{},
		&Preference{},
		&RecipeNote{},
		&EventLog{},
		&Conversation{},
		&KrogerToken{},
	)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	err = s.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_shopping_lists_single_active
		 ON shopping_lists (status) WHERE status = 'active'`,
	).Error
	if err != nil {
		return fmt.Errorf("creating active-list index: %w", err)
	}
	return nil
}

// Ping verifies the underlying connection is alive.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DB exposes the raw handle for queries the typed helpers don't cover.
func (s *Store) DB() *gorm.DB { return s.db }

// Begin starts a transaction and returns a Store bound to it.
func (s *Store) Begin() (*Store, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("beginning transaction: %w", tx.Error)
	}
	return &Store{db: tx}, nil
}

func (s *Store) Commit() error   { return s.db.Commit().Error }
func (s *Store) Rollback() error { return s.db.Rollback().Error }

// SavePoint marks a rollback point inside an open transaction. Each tool
// call in a coordinator turn gets its own savepoint so a failed tool leaves
// earlier tools' writes intact.
func (s *Store) SavePoint(name string) error {
	return s.db.SavePoint(name).Error
}

func (s *Store) RollbackTo(name string) error {
	return s.db.RollbackTo(name).Error
}
