package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fitme-tracker/internal/plan"
	"fitme-tracker/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func kvWithToken(token string) storage.KV {
	kv := storage.NewMemoryKV()
	if token != "" {
		kv.Set(storage.TokenKey, token)
	}
	return kv
}

func samplePlan() plan.SavedPlan {
	return plan.SavedPlan{
		ID:      "plan_123_abcd1234",
		Name:    "Named",
		SavedAt: time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC),
		Meals: plan.Plan{
			Meals: map[string]plan.Meal{
				plan.SlotBreakfast: {Name: "Oatmeal", Nutrition: plan.Nutrition{Calories: 280}},
			},
			DailyTotals: &plan.Nutrition{Calories: 280},
		},
	}
}

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestPushSuccess(t *testing.T) {
	var envelope planEnvelope
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != savePath || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&envelope)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	token := signedToken(t, time.Now().Add(time.Hour))
	agent := NewAgent(server.URL, kvWithToken(token))

	synced := make(chan string, 1)
	agent.OnSynced(func(id string) { synced <- id })

	p := samplePlan()
	agent.Push(p)

	select {
	case id := <-synced:
		if id != p.ID {
			t.Errorf("Expected synced callback with %q, got %q", p.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the synced callback")
	}

	if auth != "Bearer "+token {
		t.Errorf("Expected bearer auth header, got %q", auth)
	}
	if envelope.ID != p.ID {
		t.Errorf("Expected envelope id %q, got %q", p.ID, envelope.ID)
	}
	if envelope.Meals.Breakfast == nil || envelope.Meals.Breakfast.Name != "Oatmeal" {
		t.Errorf("Expected flattened breakfast slot, got %+v", envelope.Meals)
	}
	if envelope.Meals.Lunch != nil {
		t.Error("Expected empty slots to flatten to null")
	}
	if envelope.Meals.TotalCalories != 280 {
		t.Errorf("Expected daily totals carried over, got %v", envelope.Meals.TotalCalories)
	}
}

func TestPushWithoutToken(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	agent := NewAgent(server.URL, kvWithToken(""))
	agent.Push(samplePlan())

	waitForCond(t, time.Second, func() bool { return !agent.inFlight.Load() })
	if requests.Load() != 0 {
		t.Error("Expected no request without a token")
	}
}

func TestPushWithExpiredToken(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(-time.Hour))))
	agent.Push(samplePlan())

	waitForCond(t, time.Second, func() bool { return !agent.inFlight.Load() })
	if requests.Load() != 0 {
		t.Error("Expected an expired token to abandon the push")
	}
}

func TestOpaqueTokenUsedAsIs(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// A token that is not a JWT at all still goes out; the backend
	// decides whether it is valid.
	agent := NewAgent(server.URL, kvWithToken("opaque-session-token"))
	agent.Push(samplePlan())

	waitForCond(t, time.Second, func() bool { return auth.Load() != nil })
	if got := auth.Load().(string); got != "Bearer opaque-session-token" {
		t.Errorf("Expected the opaque token sent as-is, got %q", got)
	}
}

func TestPushDropsWhileInFlight(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(time.Hour))))

	agent.Push(samplePlan())
	waitForCond(t, time.Second, func() bool { return requests.Load() == 1 })

	// Requested while the first push is blocked: dropped, not queued.
	agent.Push(samplePlan())
	agent.Push(samplePlan())
	close(release)

	waitForCond(t, time.Second, func() bool { return !agent.inFlight.Load() })
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected concurrent pushes to be dropped, saw %d requests", got)
	}

	// With the slot free again, the next push goes through.
	agent.Push(samplePlan())
	waitForCond(t, time.Second, func() bool { return requests.Load() == 2 })
}

func TestPushFailureSkipsCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(time.Hour))))
	called := atomic.Bool{}
	agent.OnSynced(func(string) { called.Store(true) })

	agent.Push(samplePlan())
	waitForCond(t, time.Second, func() bool { return !agent.inFlight.Load() })
	if called.Load() {
		t.Error("Expected no synced callback after a failed push")
	}
}

func TestFetch(t *testing.T) {
	t.Run("Parses-Saved-Plan", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != fetchPath {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"id": "remote-1",
					"meals": map[string]any{
						"meals": map[string]any{
							"breakfast": map[string]any{"name": "Oatmeal"},
						},
					},
					"created_at": "2026-08-28T09:00:00Z",
				},
			})
		}))
		defer server.Close()

		agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(time.Hour))))
		sp, err := agent.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if sp.ID != "remote-1" || sp.Name != "Loaded from backend" {
			t.Errorf("Unexpected plan identity: %+v", sp)
		}
		if sp.Meals.Meals[plan.SlotBreakfast].Name != "Oatmeal" {
			t.Errorf("Expected breakfast meal, got %+v", sp.Meals)
		}
		if sp.SavedAt.IsZero() {
			t.Error("Expected created_at to be carried over")
		}
	})

	t.Run("No-Plan-Available", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false})
		}))
		defer server.Close()

		agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(time.Hour))))
		if _, err := agent.Fetch(context.Background()); err == nil {
			t.Error("Expected an error when the backend has no plan")
		}
	})

	t.Run("Server-Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		agent := NewAgent(server.URL, kvWithToken(signedToken(t, time.Now().Add(time.Hour))))
		if _, err := agent.Fetch(context.Background()); err == nil {
			t.Error("Expected a non-200 status to fail the fetch")
		}
	})

	t.Run("No-Token", func(t *testing.T) {
		agent := NewAgent("http://localhost:0", kvWithToken(""))
		if _, err := agent.Fetch(context.Background()); err == nil {
			t.Error("Expected fetch without a token to fail")
		}
	})
}
