package nutrition

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"fitme-tracker/internal/events"
	"fitme-tracker/internal/storage"
)

const keyCumulative = "cumulativeNutrition"

// Totals is a running macro/calorie sum. Within a day the fields are
// monotonically non-decreasing: completions only ever add.
type Totals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// dayEntry is one calendar day's totals plus the composite keys that
// have already contributed. A key contributes at most once, across
// toggles and reloads.
type dayEntry struct {
	Totals
	CountedKeys []string `json:"countedKeys"`
}

// Accumulator maintains the per-day cumulative nutrition map. Days
// accumulate indefinitely to support lifetime statistics.
type Accumulator struct {
	mu  sync.Mutex
	kv  *storage.UserScoped
	bus *events.Bus
	now func() time.Time
}

// NewAccumulator creates an accumulator. bus may be nil.
func NewAccumulator(kv *storage.UserScoped, bus *events.Bus) *Accumulator {
	return &Accumulator{kv: kv, bus: bus, now: time.Now}
}

// SetClock overrides the accumulator's time source. Intended for tests.
func (a *Accumulator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// RecordCompletion adds the task's nutrition to today's totals, exactly
// once per composite key. Re-completing an already counted task, or a
// task that is not completed, is a no-op. Totals are never decremented:
// they represent "ever completed", not "currently marked complete".
func (a *Accumulator) RecordCompletion(task Task) {
	if !task.Completed {
		return
	}

	a.mu.Lock()
	today := dateKey(a.now())
	key := task.CompositeKey()

	days := a.readAll()
	entry := days[today]
	for _, counted := range entry.CountedKeys {
		if counted == key {
			a.mu.Unlock()
			return
		}
	}

	entry.Calories += nonNegative(task.Calories)
	entry.Protein += nonNegative(task.Protein)
	entry.Carbs += nonNegative(task.Carbs)
	entry.Fat += nonNegative(task.Fat)
	entry.CountedKeys = append(entry.CountedKeys, key)
	days[today] = entry
	a.writeAll(days)
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Topic:    events.NutritionUpdated,
			Metadata: map[string]any{"date": today, "key": key},
		})
	}
}

// DayTotals returns the totals recorded for the given YYYY-MM-DD date.
// A day with no completions reads as zero.
func (a *Accumulator) DayTotals(date string) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readAll()[date].Totals
}

// LifetimeTotals sums every stored day. Recomputed from the full map on
// each call; nothing is cached.
func (a *Accumulator) LifetimeTotals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total Totals
	for _, entry := range a.readAll() {
		total.Calories += entry.Calories
		total.Protein += entry.Protein
		total.Carbs += entry.Carbs
		total.Fat += entry.Fat
	}
	return total
}

// DayCalories is one day of the weekly eaten-calories view.
type DayCalories struct {
	Date     string
	Weekday  string
	Calories float64
}

// WeekCalories returns eaten calories for the current week, Monday
// through Sunday, relative to the accumulator's clock.
func (a *Accumulator) WeekCalories() []DayCalories {
	a.mu.Lock()
	defer a.mu.Unlock()

	days := a.readAll()
	now := a.now()

	offset := int(now.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	monday := now.AddDate(0, 0, -offset)

	week := make([]DayCalories, 0, 7)
	for i := 0; i < 7; i++ {
		d := monday.AddDate(0, 0, i)
		key := dateKey(d)
		week = append(week, DayCalories{
			Date:     key,
			Weekday:  d.Weekday().String()[:3],
			Calories: days[key].Calories,
		})
	}
	return week
}

// --- storage access, caller holds a.mu ---

func (a *Accumulator) readAll() map[string]dayEntry {
	raw, err := a.kv.Get(keyCumulative)
	if err != nil {
		return map[string]dayEntry{}
	}
	days := map[string]dayEntry{}
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		log.Printf("Malformed cumulative nutrition, ignoring: %v", err)
		return map[string]dayEntry{}
	}
	return days
}

func (a *Accumulator) writeAll(days map[string]dayEntry) {
	data, err := json.Marshal(days)
	if err != nil {
		log.Printf("Failed to marshal cumulative nutrition: %v", err)
		return
	}
	if err := a.kv.Set(keyCumulative, string(data)); err != nil {
		log.Printf("Failed to persist cumulative nutrition: %v", err)
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
