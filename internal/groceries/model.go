package groceries

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxNameLength = 190

var (
	// ErrInvalidMealName indicates that a meal name is empty or exceeds storage bounds.
	ErrInvalidMealName = errors.New("groceries: invalid meal name")
	// ErrInvalidListName indicates that a grocery list name is empty or exceeds storage bounds.
	ErrInvalidListName = errors.New("groceries: invalid grocery list name")
)

// Ingredient is one line item of a meal or grocery list.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

// Meal models a stored meal. Ingredients and tag references are kept as JSON
// text columns; the nested shapes are owned by the application, not the schema.
type Meal struct {
	ID               uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name             string `gorm:"column:name;size:190;not null;index:idx_meals_name"`
	Recipe           string `gorm:"column:recipe;type:text"`
	IngredientsJSON  string `gorm:"column:ingredients_json;type:text;not null;default:'[]'"`
	TagIDsJSON       string `gorm:"column:tag_ids_json;type:text"`
	PendingRecipeID  string `gorm:"column:pending_recipe_id;size:190"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_meals_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Meal) TableName() string {
	return "meals"
}

// Ingredients decodes the ingredient list column.
func (m Meal) Ingredients() ([]Ingredient, error) {
	if strings.TrimSpace(m.IngredientsJSON) == "" {
		return nil, nil
	}
	var items []Ingredient
	if err := json.Unmarshal([]byte(m.IngredientsJSON), &items); err != nil {
		return nil, fmt.Errorf("decode ingredients for meal %q: %w", m.Name, err)
	}
	return items, nil
}

// SetIngredients encodes the ingredient list column.
func (m *Meal) SetIngredients(items []Ingredient) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return err
	}
	m.IngredientsJSON = string(encoded)
	return nil
}

// GroceryList is a shopping list assembled from meals plus loose ingredients.
type GroceryList struct {
	ID                    uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name                  string `gorm:"column:name;size:190;not null"`
	MealIDsJSON           string `gorm:"column:meal_ids_json;type:text;not null;default:'[]'"`
	CustomIngredientsJSON string `gorm:"column:custom_ingredients_json;type:text"`
	CreatedAtSeconds      int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GroceryList) TableName() string {
	return "grocery_lists"
}

// GroceryListState tracks which ingredients are checked off while shopping.
type GroceryListState struct {
	ID            uint   `gorm:"column:id;primaryKey;autoIncrement"`
	GroceryListID uint   `gorm:"column:grocery_list_id;not null;index:idx_list_states_list"`
	CheckedJSON   string `gorm:"column:checked_json;type:text;not null;default:'[]'"`
}

// TableName provides the explicit table binding for GORM.
func (GroceryListState) TableName() string {
	return "grocery_list_states"
}

// Recipe holds the recipe attachments for a meal: source URL, free-form notes
// and image references (remote URLs or stored blobs, base64 in the JSON column).
type Recipe struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	MealID     uint   `gorm:"column:meal_id;not null;index:idx_recipes_meal"`
	ImagesJSON string `gorm:"column:images_json;type:text"`
	URL        string `gorm:"column:url;type:text"`
	Notes      string `gorm:"column:notes;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Recipe) TableName() string {
	return "recipes"
}

// PendingRecipe is a recipe extraction awaiting attachment to a meal.
type PendingRecipe struct {
	ID               string `gorm:"column:id;primaryKey;size:190"`
	Content          string `gorm:"column:content;type:text"`
	SourceURL        string `gorm:"column:source_url;type:text"`
	ImagesJSON       string `gorm:"column:images_json;type:text"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PendingRecipe) TableName() string {
	return "pending_recipes"
}

// Tag labels meals for filtering.
type Tag struct {
	ID   uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;size:190;not null;index:idx_tags_name"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// CustomIngredient is a loose ingredient added directly to grocery lists.
type CustomIngredient struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string `gorm:"column:name;size:190;not null;index:idx_custom_ingredients_name"`
	UsageCount int64  `gorm:"column:usage_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (CustomIngredient) TableName() string {
	return "custom_ingredients"
}

// StoreLocation is a physical shop whose aisles order the grocery list.
type StoreLocation struct {
	ID       uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name     string `gorm:"column:name;size:190;not null"`
	Position int64  `gorm:"column:position;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (StoreLocation) TableName() string {
	return "stores"
}

// IngredientStore maps an ingredient name to the shop it is bought at.
type IngredientStore struct {
	ID             uint   `gorm:"column:id;primaryKey;autoIncrement"`
	IngredientName string `gorm:"column:ingredient_name;size:190;not null;uniqueIndex:idx_ingredient_stores_name"`
	StoreID        uint   `gorm:"column:store_id;not null"`
}

// TableName provides the explicit table binding for GORM.
func (IngredientStore) TableName() string {
	return "ingredient_stores"
}

// Setting is a device-local key/value entry. Settings never travel in
// snapshots; the shared-secret pass lives here.
type Setting struct {
	ID    string `gorm:"column:id;primaryKey;size:190"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Setting) TableName() string {
	return "settings"
}

// NormalizeMealName lowercases and trims a meal name for lookup paths. The
// sync diff compares raw names and deliberately does not use this.
func NormalizeMealName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateName(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxNameLength)
	}
	return trimmed, nil
}
