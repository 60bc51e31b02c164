// Package plan owns local persistence of meal plans: the current-plan
// slot, the single auto-save slot, and the bounded list of named saves.
// Local writes are authoritative; backend replication is advisory.
package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Meal slots recognized in a daily plan.
const (
	SlotBreakfast = "breakfast"
	SlotLunch     = "lunch"
	SlotDinner    = "dinner"
	SlotSnack     = "snack"
)

// Slots lists the recognized meal slots in day order.
var Slots = []string{SlotBreakfast, SlotLunch, SlotDinner, SlotSnack}

// Nutrition is a macro/calorie breakdown. Missing fields decode to 0.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// Meal is a single meal inside a plan. It has no identity of its own;
// it is addressed by its slot.
type Meal struct {
	Name         string    `json:"name"`
	Ingredients  []string  `json:"ingredients,omitempty"`
	Instructions []string  `json:"instructions,omitempty"`
	Nutrition    Nutrition `json:"nutrition"`
	PrepTime     int       `json:"prepTime,omitempty"`
	CookTime     int       `json:"cookTime,omitempty"`
	Description  string    `json:"description,omitempty"`
	Cuisine      string    `json:"cuisine,omitempty"`
	Difficulty   string    `json:"difficulty,omitempty"`
	Portion      string    `json:"portion,omitempty"`
}

// Plan maps meal slots to meals for a single day.
type Plan struct {
	Meals       map[string]Meal `json:"meals"`
	DailyTotals *Nutrition      `json:"dailyTotals,omitempty"`
}

// IsEmpty reports whether the plan has no populated meal slot.
func (p Plan) IsEmpty() bool {
	for _, meal := range p.Meals {
		if meal.Name != "" {
			return false
		}
	}
	return true
}

// Summary is the derived quick view of a saved plan. It is always
// recomputed from the meals at save time, never hand-edited.
type Summary struct {
	MealCount     int      `json:"mealCount"`
	TotalCalories int      `json:"totalCalories"`
	MealTypes     []string `json:"mealTypes"`
	HasNutrition  bool     `json:"hasNutrition"`
}

// SavedPlan is the persisted envelope around a plan.
type SavedPlan struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Meals      Plan      `json:"meals"`
	SavedAt    time.Time `json:"savedAt"`
	IsAutoSave bool      `json:"isAutoSave"`
	Synced     bool      `json:"synced"`
	Summary    Summary   `json:"summary"`
}

// Result reports the outcome of a mutation. Validation failures are the
// only error class that reaches callers; storage errors are absorbed.
type Result struct {
	Success bool
	Message string
	PlanID  string
}

// Metadata describes a loaded or restored plan.
type Metadata struct {
	Name     string
	SavedAt  time.Time
	Summary  *Summary
	Restored bool
}

// LoadResult carries the meals and metadata of a load or restore.
type LoadResult struct {
	Success  bool
	Message  string
	Meals    Plan
	Metadata *Metadata
}

// newPlanID builds an id that sorts roughly by creation time while
// staying collision-resistant across tabs.
func newPlanID(now time.Time) string {
	return fmt.Sprintf("plan_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// summarize recomputes the derived summary from the meal map.
func summarize(p Plan) Summary {
	mealTypes := make([]string, 0, len(p.Meals))
	for _, slot := range Slots {
		if meal, ok := p.Meals[slot]; ok && meal.Name != "" {
			mealTypes = append(mealTypes, slot)
		}
	}
	// Slots outside the known set still count, in stable order.
	for slot, meal := range p.Meals {
		if meal.Name == "" || containsString(mealTypes, slot) || knownSlot(slot) {
			continue
		}
		mealTypes = append(mealTypes, slot)
	}
	sort.SliceStable(mealTypes, func(i, j int) bool {
		return slotRank(mealTypes[i]) < slotRank(mealTypes[j])
	})

	totalCalories := 0
	if p.DailyTotals != nil {
		totalCalories = int(math.Round(p.DailyTotals.Calories))
	}

	return Summary{
		MealCount:     len(mealTypes),
		TotalCalories: totalCalories,
		MealTypes:     mealTypes,
		HasNutrition:  totalCalories > 0,
	}
}

func knownSlot(slot string) bool {
	return containsString(Slots, slot)
}

func slotRank(slot string) int {
	for i, s := range Slots {
		if s == slot {
			return i
		}
	}
	return len(Slots)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// serialize renders a plan for dirty-comparison. Marshal on this shape
// cannot fail, so errors collapse to an empty snapshot.
func serialize(p Plan) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}
