package plan

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"fitme-tracker/internal/storage"
)

func testPlan(name string, calories float64) Plan {
	return Plan{
		Meals: map[string]Meal{
			SlotBreakfast: {
				Name:        name,
				Ingredients: []string{"oats", "milk"},
				Nutrition:   Nutrition{Calories: calories, Protein: 10},
				PrepTime:    5,
			},
		},
		DailyTotals: &Nutrition{Calories: calories, Protein: 10},
	}
}

func newTestStore() *Store {
	return NewStore(storage.NewUserScoped(storage.NewMemoryKV()), nil, nil)
}

// advanceClock makes every Save happen at a strictly later instant.
func advanceClock(store *Store) {
	base := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	step := 0
	store.SetClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	})
}

func TestSaveValidation(t *testing.T) {
	store := newTestStore()

	result := store.Save(Plan{}, "Empty", false)
	if result.Success {
		t.Error("Expected saving an empty plan to fail")
	}
	if result.Message == "" {
		t.Error("Expected a user-facing validation message")
	}
}

func TestAutoSaveNotListed(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	store.Save(testPlan("Oatmeal", 280), "", true)
	if got := len(store.List()); got != 0 {
		t.Errorf("Expected auto-saves to be absent from List, got %d entries", got)
	}

	store.Save(testPlan("Pancakes", 400), "Named", false)
	if got := len(store.List()); got != 1 {
		t.Errorf("Expected named save in List, got %d entries", got)
	}
}

func TestSavedListCap(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	for i := 1; i <= 6; i++ {
		result := store.Save(testPlan(fmt.Sprintf("Meal %d", i), 100), fmt.Sprintf("Plan %d", i), false)
		if !result.Success {
			t.Fatalf("Save %d failed: %s", i, result.Message)
		}
	}

	plans := store.List()
	if len(plans) != MaxSavedPlans {
		t.Fatalf("Expected list capped at %d, got %d", MaxSavedPlans, len(plans))
	}
	// The oldest entry (Plan 1) must have been evicted.
	for _, sp := range plans {
		if sp.Name == "Plan 1" {
			t.Error("Expected the oldest plan to be evicted")
		}
	}
	if plans[0].Name != "Plan 6" {
		t.Errorf("Expected newest plan first, got %q", plans[0].Name)
	}
}

func TestListSortedDescending(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	store.Save(testPlan("A", 100), "A", false)
	store.Save(testPlan("B", 200), "B", false)

	plans := store.List()
	if len(plans) != 2 || plans[0].Name != "B" || plans[1].Name != "A" {
		t.Fatalf("Expected [B A], got %v", planNames(plans))
	}

	// Corrupt the stored order; List must re-sort defensively.
	reversed := []SavedPlan{plans[1], plans[0]}
	store.writeJSON(keySavedPlans, reversed)

	plans = store.List()
	if plans[0].Name != "B" || plans[1].Name != "A" {
		t.Errorf("Expected defensive re-sort to [B A], got %v", planNames(plans))
	}
}

func TestUpsertReplacesSameID(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	store.Save(testPlan("First", 100), "First", false)
	plans := store.List()
	if len(plans) != 1 {
		t.Fatalf("Expected 1 plan, got %d", len(plans))
	}

	// Re-inserting the same id must replace, not duplicate.
	existing := plans[0]
	existing.Name = "Renamed"
	store.mu.Lock()
	store.upsertSavedList(existing)
	store.mu.Unlock()

	plans = store.List()
	if len(plans) != 1 {
		t.Fatalf("Expected same-id upsert to replace in place, got %d entries", len(plans))
	}
	if plans[0].Name != "Renamed" {
		t.Errorf("Expected replaced entry, got %q", plans[0].Name)
	}
}

func TestRoundTrip(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	original := testPlan("Oatmeal", 280)
	result := store.Save(original, "Breakfast Day", false)
	if !result.Success {
		t.Fatalf("Save failed: %s", result.Message)
	}

	loaded := store.Load(context.Background(), "")
	if !loaded.Success {
		t.Fatalf("Load failed: %s", loaded.Message)
	}
	if !reflect.DeepEqual(loaded.Meals.Meals, original.Meals) {
		t.Errorf("Round-trip mismatch:\n got %+v\nwant %+v", loaded.Meals.Meals, original.Meals)
	}
}

func TestLoadByID(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	store.Save(testPlan("A", 100), "A", false)
	resultB := store.Save(testPlan("B", 200), "B", false)

	loaded := store.Load(context.Background(), resultB.PlanID)
	if !loaded.Success {
		t.Fatalf("Load by id failed: %s", loaded.Message)
	}
	if loaded.Metadata.Name != "B" {
		t.Errorf("Expected plan B, got %q", loaded.Metadata.Name)
	}

	missing := store.Load(context.Background(), "plan_does_not_exist")
	if missing.Success {
		t.Error("Expected load of unknown id to fail")
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	result := store.Save(testPlan("A", 100), "A", false)
	store.Save(testPlan("B", 200), "B", false)

	store.Delete(result.PlanID)
	plans := store.List()
	if len(plans) != 1 || plans[0].Name != "B" {
		t.Errorf("Expected only B after delete, got %v", planNames(plans))
	}

	// Deleting an absent id is a no-op.
	store.Delete("plan_does_not_exist")
	if got := len(store.List()); got != 1 {
		t.Errorf("Expected delete of absent id to be a no-op, got %d entries", got)
	}

	// Current slot must be untouched by deletes.
	if _, ok := store.readCurrentPlan(); !ok {
		t.Error("Expected current slot to survive deletes")
	}
}

func TestRestorePrecedence(t *testing.T) {
	t.Run("Named-Save-Before-Any-AutoSave", func(t *testing.T) {
		store := newTestStore()
		advanceClock(store)

		original := testPlan("Oatmeal", 280)
		store.Save(original, "Named", false)

		restored := store.Restore()
		if !restored.Success {
			t.Fatalf("Restore failed: %s", restored.Message)
		}
		if !reflect.DeepEqual(restored.Meals.Meals, original.Meals) {
			t.Error("Expected restore to return the named save's meals")
		}
		if !restored.Metadata.Restored {
			t.Error("Expected Restored metadata flag")
		}
	})

	t.Run("Falls-Back-To-AutoSave", func(t *testing.T) {
		store := newTestStore()
		advanceClock(store)

		auto := testPlan("Toast", 150)
		store.Save(auto, "", true)
		store.kv.Remove(keyCurrentPlan)

		restored := store.Restore()
		if !restored.Success {
			t.Fatalf("Restore failed: %s", restored.Message)
		}
		if !reflect.DeepEqual(restored.Meals.Meals, auto.Meals) {
			t.Error("Expected restore to fall back to the auto-save slot")
		}
	})

	t.Run("Falls-Back-To-Newest-Named", func(t *testing.T) {
		store := newTestStore()
		advanceClock(store)

		store.Save(testPlan("Old", 100), "Old", false)
		newest := testPlan("New", 200)
		store.Save(newest, "New", false)
		store.kv.Remove(keyCurrentPlan)
		store.kv.Remove(keyAutoSave)

		restored := store.Restore()
		if !restored.Success {
			t.Fatalf("Restore failed: %s", restored.Message)
		}
		if restored.Metadata.Name != "New" {
			t.Errorf("Expected newest named save, got %q", restored.Metadata.Name)
		}
	})

	t.Run("Malformed-Candidate-Falls-Through", func(t *testing.T) {
		store := newTestStore()
		advanceClock(store)

		auto := testPlan("Toast", 150)
		store.Save(auto, "", true)
		store.kv.Set(keyCurrentPlan, "{corrupt json")

		restored := store.Restore()
		if !restored.Success {
			t.Fatalf("Expected fall-through past malformed slot: %s", restored.Message)
		}
		if !reflect.DeepEqual(restored.Meals.Meals, auto.Meals) {
			t.Error("Expected auto-save meals after malformed current slot")
		}
	})

	t.Run("Nothing-To-Restore", func(t *testing.T) {
		store := newTestStore()
		restored := store.Restore()
		if restored.Success {
			t.Error("Expected restore to report nothing to restore")
		}
	})
}

// fakeSyncer records pushes and serves a canned remote plan.
type fakeSyncer struct {
	pushed  []SavedPlan
	remote  *SavedPlan
	fetches int
}

func (f *fakeSyncer) Push(p SavedPlan) {
	f.pushed = append(f.pushed, p)
}

func (f *fakeSyncer) Fetch(ctx context.Context) (*SavedPlan, error) {
	f.fetches++
	if f.remote == nil {
		return nil, fmt.Errorf("no plan available on backend")
	}
	return f.remote, nil
}

func TestSaveTriggersSync(t *testing.T) {
	syncer := &fakeSyncer{}
	kv := storage.NewMemoryKV()
	store := NewStore(storage.NewUserScoped(kv), syncer, nil)
	advanceClock(store)

	result := store.Save(testPlan("Oatmeal", 280), "Named", false)
	if !result.Success {
		t.Fatalf("Save failed: %s", result.Message)
	}
	if len(syncer.pushed) != 1 {
		t.Fatalf("Expected 1 push, got %d", len(syncer.pushed))
	}
	if syncer.pushed[0].ID != result.PlanID {
		t.Errorf("Expected pushed plan id %q, got %q", result.PlanID, syncer.pushed[0].ID)
	}
}

func TestLoadRemoteFallback(t *testing.T) {
	remote := &SavedPlan{
		ID:      "backend",
		Name:    "Loaded from backend",
		Meals:   testPlan("Remote Meal", 500),
		SavedAt: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
	}
	syncer := &fakeSyncer{remote: remote}
	kv := storage.NewMemoryKV()
	store := NewStore(storage.NewUserScoped(kv), syncer, nil)

	loaded := store.Load(context.Background(), "")
	if !loaded.Success {
		t.Fatalf("Expected remote fallback to succeed: %s", loaded.Message)
	}
	if syncer.fetches != 1 {
		t.Errorf("Expected exactly one remote fetch, got %d", syncer.fetches)
	}

	// The remote result must have been written locally: a subsequent
	// restore succeeds without touching the backend again.
	restored := store.Restore()
	if !restored.Success {
		t.Fatal("Expected restore to succeed from local state after remote load")
	}
	if syncer.fetches != 1 {
		t.Errorf("Expected restore to stay local, fetches=%d", syncer.fetches)
	}
	if !reflect.DeepEqual(restored.Meals.Meals, remote.Meals.Meals) {
		t.Error("Expected restored meals to match the remote plan")
	}
}

func TestMarkSynced(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	result := store.Save(testPlan("Oatmeal", 280), "Named", false)
	store.MarkSynced(result.PlanID)

	plans := store.List()
	if len(plans) != 1 || !plans[0].Synced {
		t.Error("Expected the saved plan to be marked synced")
	}
}

func TestSummaryRecomputed(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	p := testPlan("Oatmeal", 280)
	p.Meals[SlotLunch] = Meal{Name: "Salad", Nutrition: Nutrition{Calories: 320}}
	p.DailyTotals = &Nutrition{Calories: 600}

	store.Save(p, "Two Meals", false)
	sp := store.List()[0]

	if sp.Summary.MealCount != 2 {
		t.Errorf("Expected 2 meals in summary, got %d", sp.Summary.MealCount)
	}
	if sp.Summary.TotalCalories != 600 {
		t.Errorf("Expected 600 kcal, got %d", sp.Summary.TotalCalories)
	}
	if !sp.Summary.HasNutrition {
		t.Error("Expected HasNutrition to be true")
	}
	if len(sp.Summary.MealTypes) != 2 || sp.Summary.MealTypes[0] != SlotBreakfast || sp.Summary.MealTypes[1] != SlotLunch {
		t.Errorf("Expected [breakfast lunch], got %v", sp.Summary.MealTypes)
	}
}

func TestClearAll(t *testing.T) {
	store := newTestStore()
	advanceClock(store)

	store.Save(testPlan("Oatmeal", 280), "Named", false)
	store.Save(testPlan("Toast", 150), "", true)
	store.ClearAll()

	if len(store.List()) != 0 {
		t.Error("Expected saved list cleared")
	}
	if store.Restore().Success {
		t.Error("Expected nothing to restore after ClearAll")
	}
}

func planNames(plans []SavedPlan) []string {
	names := make([]string, len(plans))
	for i, sp := range plans {
		names[i] = sp.Name
	}
	return names
}
