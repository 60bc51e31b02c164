package plan

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"fitme-tracker/internal/events"
	"fitme-tracker/internal/schedule"
	"fitme-tracker/internal/storage"
)

// Storage keys, scoped per user by the facade.
const (
	keyCurrentPlan = "current_meal_plan"
	keySavedPlans  = "saved_meal_plans"
	keyAutoSave    = "auto_saved_plan"
)

// MaxSavedPlans caps the named saved-plans list; the oldest entry is
// evicted on overflow.
const MaxSavedPlans = 5

// DefaultAutoSaveInterval is how often the auto-save timer snapshots the
// current plan.
const DefaultAutoSaveInterval = 30 * time.Second

// DefaultDebounceDelay is how long after the last change the dirty
// snapshot is taken.
const DefaultDebounceDelay = time.Second

// Syncer replicates saved plans to the backend. Push is fire-and-forget;
// Fetch is used only as a restore-time fallback.
type Syncer interface {
	Push(p SavedPlan)
	Fetch(ctx context.Context) (*SavedPlan, error)
}

// Store manages the plan slots. All local mutations are serialized by an
// internal mutex; backend calls never run under it.
type Store struct {
	mu       sync.Mutex
	kv       *storage.UserScoped
	syncer   Syncer
	bus      *events.Bus
	now      func() time.Time
	autosave schedule.Recurring

	// Dirty tracking: lastSnapshot is refreshed DebounceDelay after the
	// most recent MarkChanged call, not on every change.
	DebounceDelay time.Duration
	debounce      *time.Timer
	lastSnapshot  string
}

// NewStore creates a plan store. syncer and bus may be nil for
// local-only operation.
func NewStore(kv *storage.UserScoped, syncer Syncer, bus *events.Bus) *Store {
	return &Store{
		kv:            kv,
		syncer:        syncer,
		bus:           bus,
		now:           time.Now,
		DebounceDelay: DefaultDebounceDelay,
	}
}

// SetClock overrides the store's time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Save persists the plan. Auto-saves overwrite the single auto-save
// slot; named saves are upserted into the bounded list, newest first.
// The current-plan slot always tracks the most recent state. The call
// succeeds as soon as the local write completes; backend sync runs in
// the background and never affects the result.
func (s *Store) Save(p Plan, name string, autoSave bool) Result {
	if p.IsEmpty() {
		return Result{Success: false, Message: "No meal plan to save"}
	}

	s.mu.Lock()
	now := s.now()
	saved := SavedPlan{
		ID:         newPlanID(now),
		Name:       name,
		Meals:      p,
		SavedAt:    now,
		IsAutoSave: autoSave,
		Summary:    summarize(p),
	}
	if saved.Name == "" {
		saved.Name = "Daily Plan - " + now.Format("1/2/2006")
	}

	if autoSave {
		s.writeJSON(keyAutoSave, saved)
	} else {
		s.upsertSavedList(saved)
	}
	s.writeJSON(keyCurrentPlan, p)
	s.mu.Unlock()

	if s.syncer != nil {
		s.syncer.Push(saved)
	}
	s.publish(events.PlanSaved, map[string]any{"planId": saved.ID, "autoSave": autoSave})

	message := "Plan saved successfully"
	if autoSave {
		message = "Plan auto-saved"
	}
	return Result{Success: true, Message: message, PlanID: saved.ID}
}

// Load retrieves a plan. With an id it looks up that exact named save.
// Without one it prefers the current slot, then the auto-save slot, then
// a single remote fetch. On success the current slot is rewritten so
// subsequent restores resolve locally.
func (s *Store) Load(ctx context.Context, id string) LoadResult {
	s.mu.Lock()
	var found *SavedPlan
	if id != "" {
		for _, sp := range s.readSavedList() {
			if sp.ID == id {
				copied := sp
				found = &copied
				break
			}
		}
	} else {
		if p, ok := s.readCurrentPlan(); ok {
			found = &SavedPlan{ID: "current", Name: "Current Plan", Meals: p, SavedAt: s.now()}
		} else if auto, ok := s.readAutoSave(); ok {
			found = &auto
		}
	}
	s.mu.Unlock()

	if found == nil && id == "" && s.syncer != nil {
		remote, err := s.syncer.Fetch(ctx)
		if err != nil {
			log.Printf("Remote plan fetch failed: %v", err)
		} else if remote != nil {
			found = remote
		}
	}

	if found == nil {
		return LoadResult{Success: false, Message: "No saved plan found"}
	}

	s.mu.Lock()
	s.writeJSON(keyCurrentPlan, found.Meals)
	s.mu.Unlock()

	summary := found.Summary
	return LoadResult{
		Success: true,
		Message: "Plan loaded successfully",
		Meals:   found.Meals,
		Metadata: &Metadata{
			Name:    found.Name,
			SavedAt: found.SavedAt,
			Summary: &summary,
		},
	}
}

// List returns the named saves sorted descending by save time. The
// stored order is not trusted; the list is re-sorted on every call.
func (s *Store) List() []SavedPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSavedList()
}

// Delete removes a named save by id. Absent ids are a no-op; the
// current and auto-save slots are never touched.
func (s *Store) Delete(id string) Result {
	s.mu.Lock()
	plans := s.readSavedList()
	kept := plans[:0]
	for _, sp := range plans {
		if sp.ID != id {
			kept = append(kept, sp)
		}
	}
	s.writeJSON(keySavedPlans, kept)
	s.mu.Unlock()
	return Result{Success: true, Message: "Plan deleted successfully"}
}

// Restore picks exactly one plan to hydrate the in-memory view:
// the current slot, then the auto-save slot, then the newest named
// save. Malformed candidates are skipped, never fatal.
func (s *Store) Restore() LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.readCurrentPlan(); ok {
		return LoadResult{
			Success: true,
			Meals:   p,
			Metadata: &Metadata{
				Name:     "Latest Generated Plan",
				SavedAt:  s.now(),
				Restored: true,
			},
		}
	}
	if auto, ok := s.readAutoSave(); ok {
		return LoadResult{
			Success: true,
			Meals:   auto.Meals,
			Metadata: &Metadata{
				Name:     auto.Name,
				SavedAt:  auto.SavedAt,
				Restored: true,
			},
		}
	}
	if plans := s.readSavedList(); len(plans) > 0 {
		newest := plans[0]
		return LoadResult{
			Success: true,
			Meals:   newest.Meals,
			Metadata: &Metadata{
				Name:     newest.Name,
				SavedAt:  newest.SavedAt,
				Restored: true,
			},
		}
	}
	return LoadResult{Success: false, Message: "No plan to restore"}
}

// MarkSynced flips the synced flag on the named save with the given id.
// Called by the sync agent after a successful backend push.
func (s *Store) MarkSynced(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plans := s.readSavedList()
	for i := range plans {
		if plans[i].ID == id {
			plans[i].Synced = true
		}
	}
	s.writeJSON(keySavedPlans, plans)
}

// ClearAll removes every plan slot and stops the auto-save timer.
func (s *Store) ClearAll() {
	s.StopAutoSave()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{keyCurrentPlan, keySavedPlans, keyAutoSave} {
		if err := s.kv.Remove(key); err != nil {
			log.Printf("Failed to clear %s: %v", key, err)
		}
	}
}

// --- slot access, caller holds s.mu ---

// readCurrentPlan tolerates both the canonical meals-only shape and a
// full envelope left behind by older writers.
func (s *Store) readCurrentPlan() (Plan, bool) {
	raw, err := s.kv.Get(keyCurrentPlan)
	if err != nil {
		return Plan{}, false
	}
	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err == nil && !p.IsEmpty() {
		return p, true
	}
	var envelope SavedPlan
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && !envelope.Meals.IsEmpty() {
		return envelope.Meals, true
	}
	return Plan{}, false
}

func (s *Store) readAutoSave() (SavedPlan, bool) {
	raw, err := s.kv.Get(keyAutoSave)
	if err != nil {
		return SavedPlan{}, false
	}
	var sp SavedPlan
	if err := json.Unmarshal([]byte(raw), &sp); err != nil {
		log.Printf("Malformed auto-save slot, ignoring: %v", err)
		return SavedPlan{}, false
	}
	return sp, true
}

func (s *Store) readSavedList() []SavedPlan {
	raw, err := s.kv.Get(keySavedPlans)
	if err != nil {
		return nil
	}
	var plans []SavedPlan
	if err := json.Unmarshal([]byte(raw), &plans); err != nil {
		log.Printf("Malformed saved-plans list, ignoring: %v", err)
		return nil
	}
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].SavedAt.After(plans[j].SavedAt)
	})
	return plans
}

// upsertSavedList inserts the plan newest-first, replacing any entry
// with the same id, then truncates to the cap.
func (s *Store) upsertSavedList(sp SavedPlan) {
	plans := s.readSavedList()
	kept := make([]SavedPlan, 0, len(plans)+1)
	kept = append(kept, sp)
	for _, existing := range plans {
		if existing.ID != sp.ID {
			kept = append(kept, existing)
		}
	}
	if len(kept) > MaxSavedPlans {
		kept = kept[:MaxSavedPlans]
	}
	s.writeJSON(keySavedPlans, kept)
}

// writeJSON marshals v into the slot. Storage failures are logged and
// absorbed here; callers treat the slot as best-effort durable.
func (s *Store) writeJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal %s: %v", key, err)
		return
	}
	if err := s.kv.Set(key, string(data)); err != nil {
		log.Printf("Failed to persist %s: %v", key, err)
	}
}

func (s *Store) publish(topic events.Topic, metadata map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Topic: topic, Metadata: metadata})
}
