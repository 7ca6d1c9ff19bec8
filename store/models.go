package store

import (
	"time"

	"gorm.io/datatypes"
)

// ListStatus is the lifecycle state of a shopping list. Only one list may be
// active at a time; everything else is archived as ordered.
type ListStatus string

const (
	ListStatusActive  ListStatus = "active"
	ListStatusOrdered ListStatus = "ordered"
)

// PlanStatus is the lifecycle state of a meal plan.
type PlanStatus string

const (
	PlanStatusPlanning  PlanStatus = "planning"
	PlanStatusCompleted PlanStatus = "completed"
)

// ConversationStatus records how a user message was resolved.
type ConversationStatus string

const (
	ConversationSuccess    ConversationStatus = "success"
	ConversationParseError ConversationStatus = "parse_error"
	ConversationAPIError   ConversationStatus = "api_error"
)

// NoteType categorizes recipe feedback.
type NoteType string

const (
	NoteTypeIngredientChange NoteType = "ingredient_change"
	NoteTypeTechnique        NoteType = "technique"
	NoteTypeTiming           NoteType = "timing"
	NoteTypeGeneral          NoteType = "general"
)

// NoteOutcome records whether a change described in a note worked out.
type NoteOutcome string

const (
	OutcomeBetter  NoteOutcome = "better"
	OutcomeWorse   NoteOutcome = "worse"
	OutcomeNeutral NoteOutcome = "neutral"
)

// ActionType identifies the write operation recorded in an event log row.
type ActionType string

const (
	ActionAddItem          ActionType = "add_item"
	ActionRemoveItem       ActionType = "remove_item"
	ActionUpdateItem       ActionType = "update_item"
	ActionClearList        ActionType = "clear_list"
	ActionFinalizeOrder    ActionType = "finalize_order"
	ActionUpdateIngredient ActionType = "update_ingredient"
	ActionAddRecipe        ActionType = "add_recipe"
	ActionUpdateRecipe     ActionType = "update_recipe"
	ActionAddRecipeNote    ActionType = "add_recipe_note"
	ActionAddMeal          ActionType = "add_meal"
	ActionRemoveMeal       ActionType = "remove_meal"
	ActionGenerateList     ActionType = "generate_list"
	ActionCompleteMealPlan ActionType = "complete_meal_plan"
	ActionUpdatePreference ActionType = "update_preference"
	ActionAddPantryItem    ActionType = "add_pantry_item"
	ActionUpdatePantryItem ActionType = "update_pantry_item"
	ActionRemovePantryItem ActionType = "remove_pantry_item"
	ActionResolveKroger    ActionType = "resolve_kroger"
	ActionConfirmKroger    ActionType = "confirm_kroger"
	ActionAddToCart        ActionType = "add_to_cart"
	ActionCheckOffItem     ActionType = "check_off_item"
)

// Ingredient is the single source of truth for each unique grocery item.
// Recipes, pantry items and shopping list items all resolve through it, so
// brand and Kroger product linkage live here and nowhere else.
type Ingredient struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:255;not null"`
	NormalizedName  string `gorm:"size:255;not null;uniqueIndex"`
	Aliases         datatypes.JSONSlice[string]
	KrogerProductID string `gorm:"size:255"`
	PreferredBrand  string `gorm:"size:255"`
	PreferredSize   string `gorm:"size:255"`
	Category        string `gorm:"size:100"`
	LastKnownPrice  *float64
	// PurchaseSource is set when the item comes from somewhere other than
	// Kroger (sprouts, costco, liquor_store, ...). Empty means Kroger.
	PurchaseSource string `gorm:"size:100"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Resolved reports whether the ingredient has a confirmed Kroger product.
func (i *Ingredient) Resolved() bool { return i.KrogerProductID != "" }

type Recipe struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:255;not null"`
	Description  string `gorm:"type:text"`
	Instructions string `gorm:"type:text"`
	Cuisine      string `gorm:"size:100"`
	Tags         datatypes.JSONSlice[string]
	SourceURL    string `gorm:"size:500"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecipeIngredient links a recipe to an ingredient with its measure.
type RecipeIngredient struct {
	ID           uint `gorm:"primaryKey"`
	RecipeID     uint `gorm:"not null;index"`
	IngredientID uint `gorm:"not null;index"`
	Quantity     *float64
	Unit         string `gorm:"size:50"`
	PrepNotes    string `gorm:"size:255"`
	Optional     bool   `gorm:"not null;default:false"`

	Ingredient Ingredient `gorm:"foreignKey:IngredientID"`
}

type ShoppingList struct {
	ID        uint       `gorm:"primaryKey"`
	Status    ListStatus `gorm:"size:20;not null;default:active"`
	OrderedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ShoppingListItem struct {
	ID             uint `gorm:"primaryKey"`
	ShoppingListID uint `gorm:"not null;index"`
	IngredientID   uint `gorm:"not null;index"`
	Quantity       *float64
	Unit           string `gorm:"size:50"`
	AddedBy        string `gorm:"size:50;not null"`
	AddedAt        time.Time
	FromRecipeID   *uint
	CheckedOff     bool `gorm:"not null;default:false"`

	Ingredient Ingredient `gorm:"foreignKey:IngredientID"`
}

// Meal is one entry in a meal plan's ordered meal sequence.
type Meal struct {
	MealName string `json:"meal_name"`
	RecipeID uint   `json:"recipe_id,omitempty"`
	Notes    string `json:"notes,omitempty"`
	AddedAt  string `json:"added_at"`
}

type MealPlan struct {
	ID            uint      `gorm:"primaryKey"`
	WeekStartDate time.Time `gorm:"type:date;uniqueIndex;not null"`
	Meals         datatypes.JSONSlice[Meal]
	Status        PlanStatus `gorm:"size:20;not null;default:planning"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PantryItem struct {
	ID           uint   `gorm:"primaryKey"`
	ItemName     string `gorm:"size:255;not null"`
	IngredientID *uint
	Quantity     *float64
	Unit         string `gorm:"size:50"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID"`
}

// Preference holds one user's free-form preference map. The dietary,
// dislikes, loves and allergies categories accumulate as sets; any other
// category is a scalar overwrite.
type Preference struct {
	ID        uint   `gorm:"primaryKey"`
	User      string `gorm:"size:50;not null"`
	Data      datatypes.JSONMap
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipeNote is cooking feedback keyed by normalized recipe name. Notes may
// be written before the recipe exists; RecipeID is backfilled when the
// recipe is later created.
type RecipeNote struct {
	ID                   uint `gorm:"primaryKey"`
	RecipeID             *uint
	RecipeName           string `gorm:"size:255;not null"`
	RecipeNameNormalized string `gorm:"size:255;not null;index"`
	Title                string `gorm:"size:255"`
	User                 string `gorm:"size:50;not null"`
	NoteText             string `gorm:"type:text;not null"`
	NoteType             NoteType    `gorm:"size:30;not null;default:general"`
	Outcome              NoteOutcome `gorm:"size:10;not null;default:neutral"`
	CreatedAt            time.Time
}

// EventLog is the append-only audit row written by every write tool.
type EventLog struct {
	ID            uint      `gorm:"primaryKey"`
	Timestamp     time.Time `gorm:"not null"`
	ActionType    ActionType `gorm:"size:30;not null"`
	InputSummary  string     `gorm:"type:text;not null"`
	OutputSummary string     `gorm:"type:text;not null"`
	RelatedIDs    datatypes.JSONMap
}

// Conversation is one row per user message with the model's final reply and
// turn accounting.
type Conversation struct {
	ID              uint `gorm:"primaryKey"`
	ShoppingListID  *uint
	Timestamp       time.Time `gorm:"not null;index"`
	User            string    `gorm:"size:50;not null"`
	Message         string    `gorm:"type:text;not null"`
	Response        string    `gorm:"type:text"`
	Status          ConversationStatus `gorm:"size:20;not null;default:success"`
	AssistantModel  string             `gorm:"size:100"`
	InputTokens     int
	OutputTokens    int
	Turns           int
	ContextSnapshot datatypes.JSONMap
	SlackUserID     string `gorm:"size:50"`
	SlackMessageTS  string `gorm:"size:50"`
}

// KrogerToken is a single-row table persisting OAuth tokens across restarts.
type KrogerToken struct {
	ID           uint   `gorm:"primaryKey"`
	AccessToken  string `gorm:"size:2000"`
	RefreshToken string `gorm:"size:2000"`
	TokenExpiry  float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
