package groceries

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("groceries: record not found")
)

// MutationOp enumerates the write operations reported to observers.
type MutationOp string

const (
	MutationCreate MutationOp = "create"
	MutationUpdate MutationOp = "update"
	MutationDelete MutationOp = "delete"
)

// Mutation describes one write against a tracked table. Observers receive a
// copy after the write has been applied.
type Mutation struct {
	Op    MutationOp
	Table string
	Key   string
}

// MutationObserver is notified after every tracked-table write.
type MutationObserver func(Mutation)

// StoreConfig configures a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the repository over the live database. All writes to tables that
// participate in sync go through it so mutation observers see every change.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
	log   *zap.Logger

	observerMu sync.RWMutex
	observers  []MutationObserver
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, log: logger}, nil
}

// DB exposes the underlying handle for the snapshot codec and migrations.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// RegisterObserver adds a mutation observer. Observers are invoked
// synchronously in registration order after each tracked write commits.
func (s *Store) RegisterObserver(observer MutationObserver) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, observer)
}

func (s *Store) notify(op MutationOp, table, key string) {
	s.observerMu.RLock()
	observers := make([]MutationObserver, len(s.observers))
	copy(observers, s.observers)
	s.observerMu.RUnlock()

	mutation := Mutation{Op: op, Table: table, Key: key}
	for _, observer := range observers {
		observer(mutation)
	}
}

// CreateMeal inserts a meal, stamping creation and update times.
func (s *Store) CreateMeal(ctx context.Context, meal *Meal) error {
	name, err := validateName(meal.Name, ErrInvalidMealName)
	if err != nil {
		return err
	}
	meal.Name = name
	now := s.clock().UTC().Unix()
	meal.CreatedAtSeconds = now
	meal.UpdatedAtSeconds = now
	if meal.IngredientsJSON == "" {
		meal.IngredientsJSON = "[]"
	}
	if err := s.db.WithContext(ctx).Create(meal).Error; err != nil {
		return err
	}
	s.notify(MutationCreate, Meal{}.TableName(), meal.Name)
	return nil
}

// UpdateMeal applies an edit to an existing meal and refreshes its update
// time. Only the user-editable fields (name, recipe, ingredients) change;
// creation time, tags and the pending-recipe link are preserved. ErrNotFound
// when no meal carries the given ID.
func (s *Store) UpdateMeal(ctx context.Context, meal *Meal) error {
	name, err := validateName(meal.Name, ErrInvalidMealName)
	if err != nil {
		return err
	}
	var existing Meal
	if err := s.db.WithContext(ctx).First(&existing, meal.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	existing.Name = name
	existing.Recipe = meal.Recipe
	if meal.IngredientsJSON != "" {
		existing.IngredientsJSON = meal.IngredientsJSON
	}
	existing.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}
	*meal = existing
	s.notify(MutationUpdate, Meal{}.TableName(), meal.Name)
	return nil
}

// DeleteMeal removes a meal and its attached recipe rows.
func (s *Store) DeleteMeal(ctx context.Context, mealID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meal_id = ?", mealID).Delete(&Recipe{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Meal{}, mealID).Error
	})
	if err != nil {
		return err
	}
	s.notify(MutationDelete, Meal{}.TableName(), fmt.Sprintf("%d", mealID))
	return nil
}

// ListMeals returns every meal ordered by name.
func (s *Store) ListMeals(ctx context.Context) ([]Meal, error) {
	var meals []Meal
	if err := s.db.WithContext(ctx).Order("name").Find(&meals).Error; err != nil {
		return nil, err
	}
	return meals, nil
}

// FindMealByName performs a normalized name lookup.
func (s *Store) FindMealByName(ctx context.Context, name string) (*Meal, error) {
	var meal Meal
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = ?", NormalizeMealName(name)).
		Order("id").
		First(&meal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &meal, nil
}

// CreateGroceryList inserts a shopping list.
func (s *Store) CreateGroceryList(ctx context.Context, list *GroceryList) error {
	name, err := validateName(list.Name, ErrInvalidListName)
	if err != nil {
		return err
	}
	list.Name = name
	list.CreatedAtSeconds = s.clock().UTC().Unix()
	if list.MealIDsJSON == "" {
		list.MealIDsJSON = "[]"
	}
	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return err
	}
	s.notify(MutationCreate, GroceryList{}.TableName(), list.Name)
	return nil
}

// DeleteGroceryList removes a list and its check-state.
func (s *Store) DeleteGroceryList(ctx context.Context, listID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("grocery_list_id = ?", listID).Delete(&GroceryListState{}).Error; err != nil {
			return err
		}
		return tx.Delete(&GroceryList{}, listID).Error
	})
	if err != nil {
		return err
	}
	s.notify(MutationDelete, GroceryList{}.TableName(), fmt.Sprintf("%d", listID))
	return nil
}

// ListGroceryLists returns every list, newest first.
func (s *Store) ListGroceryLists(ctx context.Context) ([]GroceryList, error) {
	var lists []GroceryList
	if err := s.db.WithContext(ctx).Order("created_at_s DESC").Find(&lists).Error; err != nil {
		return nil, err
	}
	return lists, nil
}

// SaveListState upserts the checked-ingredient state for one list.
func (s *Store) SaveListState(ctx context.Context, state *GroceryListState) error {
	var existing GroceryListState
	err := s.db.WithContext(ctx).
		Where("grocery_list_id = ?", state.GroceryListID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(state).Error; err != nil {
			return err
		}
		s.notify(MutationCreate, GroceryListState{}.TableName(), fmt.Sprintf("%d", state.GroceryListID))
		return nil
	case err != nil:
		return err
	default:
		state.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(state).Error; err != nil {
			return err
		}
		s.notify(MutationUpdate, GroceryListState{}.TableName(), fmt.Sprintf("%d", state.GroceryListID))
		return nil
	}
}

// SaveRecipe upserts the recipe row attached to a meal.
func (s *Store) SaveRecipe(ctx context.Context, recipe *Recipe) error {
	var existing Recipe
	err := s.db.WithContext(ctx).Where("meal_id = ?", recipe.MealID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(recipe).Error; err != nil {
			return err
		}
		s.notify(MutationCreate, Recipe{}.TableName(), fmt.Sprintf("%d", recipe.MealID))
		return nil
	case err != nil:
		return err
	default:
		recipe.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(recipe).Error; err != nil {
			return err
		}
		s.notify(MutationUpdate, Recipe{}.TableName(), fmt.Sprintf("%d", recipe.MealID))
		return nil
	}
}

// CreatePendingRecipe stores an extraction result awaiting meal creation.
func (s *Store) CreatePendingRecipe(ctx context.Context, pending *PendingRecipe) error {
	pending.CreatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Create(pending).Error; err != nil {
		return err
	}
	s.notify(MutationCreate, PendingRecipe{}.TableName(), pending.ID)
	return nil
}

// EnsureTag returns the tag with the given name, creating it when absent.
func (s *Store) EnsureTag(ctx context.Context, name string) (*Tag, error) {
	trimmed, err := validateName(name, ErrInvalidMealName)
	if err != nil {
		return nil, err
	}
	var tag Tag
	err = s.db.WithContext(ctx).Where("name = ?", trimmed).First(&tag).Error
	if err == nil {
		return &tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	tag = Tag{Name: trimmed}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		return nil, err
	}
	s.notify(MutationCreate, Tag{}.TableName(), tag.Name)
	return &tag, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).Order("name").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// TouchCustomIngredient upserts a loose ingredient and bumps its usage count.
func (s *Store) TouchCustomIngredient(ctx context.Context, name string) error {
	trimmed, err := validateName(name, ErrInvalidMealName)
	if err != nil {
		return err
	}
	var item CustomIngredient
	err = s.db.WithContext(ctx).Where("name = ?", trimmed).First(&item).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		item = CustomIngredient{Name: trimmed, UsageCount: 1}
		if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
			return err
		}
		s.notify(MutationCreate, CustomIngredient{}.TableName(), trimmed)
		return nil
	case err != nil:
		return err
	default:
		item.UsageCount++
		if err := s.db.WithContext(ctx).Save(&item).Error; err != nil {
			return err
		}
		s.notify(MutationUpdate, CustomIngredient{}.TableName(), trimmed)
		return nil
	}
}

// CreateStoreLocation inserts a shop used for aisle ordering.
func (s *Store) CreateStoreLocation(ctx context.Context, location *StoreLocation) error {
	if err := s.db.WithContext(ctx).Create(location).Error; err != nil {
		return err
	}
	s.notify(MutationCreate, StoreLocation{}.TableName(), location.Name)
	return nil
}

// AssignIngredientStore records which shop an ingredient is bought at,
// replacing any prior assignment for the same ingredient name.
func (s *Store) AssignIngredientStore(ctx context.Context, ingredientName string, storeID uint) error {
	assignment := IngredientStore{IngredientName: ingredientName, StoreID: storeID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ingredient_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"store_id"}),
		}).
		Create(&assignment).Error
	if err != nil {
		return err
	}
	s.notify(MutationUpdate, IngredientStore{}.TableName(), ingredientName)
	return nil
}

// Setting reads a device-local setting; ErrNotFound when unset.
func (s *Store) Setting(ctx context.Context, id string) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SetSetting upserts a device-local setting. Settings are not tracked tables;
// observers are not notified.
func (s *Store) SetSetting(ctx context.Context, id, value string) error {
	setting := Setting{ID: id, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&setting).Error
}
