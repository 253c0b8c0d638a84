package syncsvc

import "github.com/go-groceries/backend/internal/groceries"

// MealDiff is the set difference between two snapshots' meal name-sets. It is
// computed per cycle and never stored.
type MealDiff struct {
	ToAdd    []groceries.Meal
	ToRemove []groceries.Meal
}

// Empty reports whether the diff permits a silent commit.
func (d MealDiff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// DiffMeals compares meals by name: ToAdd holds incoming meals whose name is
// absent locally, ToRemove holds local meals whose name is absent from the
// incoming set. Names compare by exact string equality; primary keys are
// ignored because they are not stable across independently seeded stores.
// Duplicate names collapse to one identity.
func DiffMeals(current, incoming []groceries.Meal) MealDiff {
	currentNames := make(map[string]struct{}, len(current))
	for _, meal := range current {
		currentNames[meal.Name] = struct{}{}
	}
	incomingNames := make(map[string]struct{}, len(incoming))
	for _, meal := range incoming {
		incomingNames[meal.Name] = struct{}{}
	}

	var diff MealDiff
	seenAdd := make(map[string]struct{})
	for _, meal := range incoming {
		if _, exists := currentNames[meal.Name]; exists {
			continue
		}
		if _, dup := seenAdd[meal.Name]; dup {
			continue
		}
		seenAdd[meal.Name] = struct{}{}
		diff.ToAdd = append(diff.ToAdd, meal)
	}
	seenRemove := make(map[string]struct{})
	for _, meal := range current {
		if _, exists := incomingNames[meal.Name]; exists {
			continue
		}
		if _, dup := seenRemove[meal.Name]; dup {
			continue
		}
		seenRemove[meal.Name] = struct{}{}
		diff.ToRemove = append(diff.ToRemove, meal)
	}
	return diff
}
