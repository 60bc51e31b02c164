// Package backend replicates saved plans to the remote API. Replication
// is strictly advisory: local persistence is authoritative, failures are
// logged and swallowed, nothing here blocks a save.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"fitme-tracker/internal/plan"
	"fitme-tracker/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

const (
	savePath  = "/api/mealplan/save"
	fetchPath = "/api/mealplan/saved"
)

// Agent pushes and fetches plans against the backend persistence
// endpoint. At most one push is in flight at a time; a push requested
// while one is running is dropped, not queued; the next save cycle
// carries the latest state anyway.
type Agent struct {
	httpClient *http.Client
	baseURL    string
	kv         storage.KV
	inFlight   atomic.Bool
	onSynced   func(planID string)
}

// NewAgent creates a sync agent. kv supplies the bearer credential.
func NewAgent(baseURL string, kv storage.KV) *Agent {
	return &Agent{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		kv:         kv,
	}
}

// OnSynced registers the callback invoked with the plan id after a
// successful push. Set once at wiring time, before any push.
func (a *Agent) OnSynced(fn func(planID string)) {
	a.onSynced = fn
}

// planEnvelope is the wire shape the backend expects for a save.
type planEnvelope struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Meals       backendMeals   `json:"meals"`
	CreatedAt   time.Time      `json:"created_at"`
	Preferences map[string]any `json:"preferences"`
}

// backendMeals flattens the slot map plus daily totals.
type backendMeals struct {
	Breakfast     *plan.Meal `json:"breakfast"`
	Lunch         *plan.Meal `json:"lunch"`
	Dinner        *plan.Meal `json:"dinner"`
	Snack         *plan.Meal `json:"snack"`
	TotalCalories float64    `json:"total_calories"`
	TotalProtein  float64    `json:"total_protein"`
	TotalCarbs    float64    `json:"total_carbs"`
	TotalFat      float64    `json:"total_fat"`
}

// fetchResponse is the wire shape of the most-recent-plan endpoint.
type fetchResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		ID        string    `json:"id"`
		Meals     plan.Plan `json:"meals"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

// Push replicates the plan in the background. Returns immediately.
func (a *Agent) Push(p plan.SavedPlan) {
	if !a.inFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer a.inFlight.Store(false)
		if err := a.push(p); err != nil {
			log.Printf("Backend sync failed, plan saved locally: %v", err)
			return
		}
		if a.onSynced != nil {
			a.onSynced(p.ID)
		}
	}()
}

func (a *Agent) push(p plan.SavedPlan) error {
	token, ok := a.token()
	if !ok {
		return fmt.Errorf("no usable authentication token")
	}

	envelope := planEnvelope{
		ID:          p.ID,
		UserID:      "current_user", // overwritten by the backend from the token
		Meals:       toBackendMeals(p.Meals),
		CreatedAt:   p.SavedAt,
		Preferences: map[string]any{},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal plan envelope: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+savePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("save endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Fetch retrieves the most recent saved plan from the backend. Used
// only as a restore-time fallback when no local candidate exists.
func (a *Agent) Fetch(ctx context.Context) (*plan.SavedPlan, error) {
	token, ok := a.token()
	if !ok {
		return nil, fmt.Errorf("no usable authentication token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+fetchPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch endpoint returned status %d", resp.StatusCode)
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !parsed.Success || parsed.Data == nil {
		return nil, fmt.Errorf("no plan available on backend")
	}

	id := parsed.Data.ID
	if id == "" {
		id = "backend"
	}
	savedAt := parsed.Data.CreatedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	return &plan.SavedPlan{
		ID:      id,
		Name:    "Loaded from backend",
		Meals:   parsed.Data.Meals,
		SavedAt: savedAt,
	}, nil
}

// token reads the bearer credential. A missing token, or one whose JWT
// exp claim has passed, abandons the request silently. Tokens that do
// not parse as JWTs are used as-is; the backend has the last word.
func (a *Agent) token() (string, bool) {
	raw, err := a.kv.Get(storage.TokenKey)
	if err != nil || raw == "" {
		return "", false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
			return "", false
		}
	}
	return raw, true
}

func toBackendMeals(p plan.Plan) backendMeals {
	meals := backendMeals{
		Breakfast: mealOrNil(p, plan.SlotBreakfast),
		Lunch:     mealOrNil(p, plan.SlotLunch),
		Dinner:    mealOrNil(p, plan.SlotDinner),
		Snack:     mealOrNil(p, plan.SlotSnack),
	}
	if p.DailyTotals != nil {
		meals.TotalCalories = p.DailyTotals.Calories
		meals.TotalProtein = p.DailyTotals.Protein
		meals.TotalCarbs = p.DailyTotals.Carbs
		meals.TotalFat = p.DailyTotals.Fat
	}
	return meals
}

func mealOrNil(p plan.Plan, slot string) *plan.Meal {
	if meal, ok := p.Meals[slot]; ok && meal.Name != "" {
		return &meal
	}
	return nil
}
