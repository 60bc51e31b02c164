package plan

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"fitme-tracker/internal/storage"

	"github.com/google/uuid"
)

const keySavedMeals = "fitness_tracker_saved_meals"

// MaxSavedMeals caps the saved-meals list.
const MaxSavedMeals = 50

// SavedMeal is an individually bookmarked meal, outside any plan.
type SavedMeal struct {
	ID      string    `json:"id"`
	Meal    Meal      `json:"meal"`
	SavedAt time.Time `json:"savedAt"`
}

// MealStore manages the bounded saved-meals list. Meals are
// deduplicated by name: saving a meal whose name already exists
// replaces the prior entry instead of creating a duplicate.
type MealStore struct {
	mu  sync.Mutex
	kv  *storage.UserScoped
	now func() time.Time
}

// NewMealStore creates a saved-meals store.
func NewMealStore(kv *storage.UserScoped) *MealStore {
	return &MealStore{kv: kv, now: time.Now}
}

// SetClock overrides the store's time source. Intended for tests.
func (m *MealStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Save bookmarks the meal, replacing any entry with the same name.
func (m *MealStore) Save(meal Meal) Result {
	if meal.Name == "" {
		return Result{Success: false, Message: "Meal has no name"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	saved := SavedMeal{
		ID:      "meal_" + uuid.NewString()[:8],
		Meal:    meal,
		SavedAt: m.now(),
	}

	meals := m.read()
	replaced := false
	for i := range meals {
		if meals[i].Meal.Name == meal.Name {
			meals[i] = saved
			replaced = true
			break
		}
	}
	if !replaced {
		meals = append(meals, saved)
		if len(meals) > MaxSavedMeals {
			meals = meals[len(meals)-MaxSavedMeals:]
		}
	}
	m.write(meals)
	return Result{Success: true, Message: "Meal saved", PlanID: saved.ID}
}

// List returns every saved meal.
func (m *MealStore) List() []SavedMeal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// Delete removes a saved meal by id. Absent ids are a no-op.
func (m *MealStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meals := m.read()
	kept := meals[:0]
	for _, sm := range meals {
		if sm.ID != id {
			kept = append(kept, sm)
		}
	}
	m.write(kept)
}

// Clear removes all saved meals.
func (m *MealStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.kv.Remove(keySavedMeals); err != nil {
		log.Printf("Failed to clear saved meals: %v", err)
	}
}

func (m *MealStore) read() []SavedMeal {
	raw, err := m.kv.Get(keySavedMeals)
	if err != nil {
		return nil
	}
	var meals []SavedMeal
	if err := json.Unmarshal([]byte(raw), &meals); err != nil {
		log.Printf("Malformed saved-meals list, ignoring: %v", err)
		return nil
	}
	return meals
}

func (m *MealStore) write(meals []SavedMeal) {
	data, err := json.Marshal(meals)
	if err != nil {
		log.Printf("Failed to marshal saved meals: %v", err)
		return
	}
	if err := m.kv.Set(keySavedMeals, string(data)); err != nil {
		log.Printf("Failed to persist saved meals: %v", err)
	}
}
