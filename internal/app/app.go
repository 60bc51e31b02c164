// Package app wires the stores, the sync agent, and the generation
// client into one application instance owned by the process lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"fitme-tracker/internal/backend"
	"fitme-tracker/internal/config"
	"fitme-tracker/internal/events"
	"fitme-tracker/internal/mealgen"
	"fitme-tracker/internal/nutrition"
	"fitme-tracker/internal/plan"
	"fitme-tracker/internal/storage"
)

// App holds the application's dependencies and the in-memory plan the
// store's accessors read from.
type App struct {
	cfg    *config.Config
	kv     *storage.SQLiteKV
	scoped *storage.UserScoped
	gemini *mealgen.GeminiClient

	Bus       *events.Bus
	Plans     *plan.Store
	Meals     *plan.MealStore
	PlanCache *plan.Cache
	Tasks     *nutrition.TaskStore
	Nutrition *nutrition.Accumulator
	Generator *mealgen.Generator

	mu      sync.Mutex
	current plan.Plan
}

// New constructs the application: one store instance per process, no
// ambient singletons.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	kv, err := storage.NewSQLiteKV(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	scoped := storage.NewUserScoped(kv)
	bus := events.NewBus()

	agent := backend.NewAgent(cfg.APIBaseURL, kv)
	plans := plan.NewStore(scoped, agent, bus)
	agent.OnSynced(plans.MarkSynced)

	accumulator := nutrition.NewAccumulator(scoped, bus)
	tasks := nutrition.NewTaskStore(scoped, accumulator, bus)

	a := &App{
		cfg:       cfg,
		kv:        kv,
		scoped:    scoped,
		Bus:       bus,
		Plans:     plans,
		Meals:     plan.NewMealStore(scoped),
		PlanCache: plan.NewCache(scoped),
		Tasks:     tasks,
		Nutrition: accumulator,
	}

	if cfg.GeminiAPIKey != "" {
		gemini, err := mealgen.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		a.gemini = gemini
		a.Generator = mealgen.NewGenerator(gemini)
	}

	return a, nil
}

// Start launches the background timers: auto-save and task expiry.
func (a *App) Start() {
	a.Plans.StartAutoSave(a.CurrentPlan, a.cfg.AutoSaveInterval)
	a.Tasks.StartSweep(a.cfg.TaskSweepInterval)
}

// Hydrate restores the most recent persisted plan into memory unless a
// plan is already loaded.
func (a *App) Hydrate() plan.LoadResult {
	return a.Plans.Hydrate(a.CurrentPlan, a.SetCurrentPlan)
}

// CurrentPlan returns the in-memory plan.
func (a *App) CurrentPlan() plan.Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SetCurrentPlan replaces the in-memory plan and marks it changed for
// dirty tracking.
func (a *App) SetCurrentPlan(p plan.Plan) {
	a.mu.Lock()
	a.current = p
	a.mu.Unlock()
	a.Plans.MarkChanged(p)
}

// GeneratePlan requests a fresh daily plan and installs it as the
// in-memory plan. The caller decides when to save it.
func (a *App) GeneratePlan(ctx context.Context, profile mealgen.Profile) (plan.Plan, error) {
	if a.Generator == nil {
		return plan.Plan{}, fmt.Errorf("plan generation is not configured (missing GEMINI_API_KEY)")
	}
	p, err := a.Generator.GeneratePlan(ctx, profile)
	if err != nil {
		return plan.Plan{}, err
	}
	a.SetCurrentPlan(p)
	return p, nil
}

// Close stops all timers, flushes unsaved plan state, and releases the
// database.
func (a *App) Close() error {
	a.Plans.Close(a.CurrentPlan)
	a.Tasks.StopSweep()
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			return err
		}
	}
	return a.kv.Close()
}
