// Package nutrition owns the daily routine tasks and the cumulative
// per-day nutrition totals derived from completing them.
package nutrition

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"fitme-tracker/internal/events"
	"fitme-tracker/internal/schedule"
	"fitme-tracker/internal/storage"
)

const keyDailyTasks = "dailyTasks"

// TaskExpiry is how long a task lives after being added.
const TaskExpiry = 12 * time.Hour

// DefaultSweepInterval is how often expired tasks are pruned.
const DefaultSweepInterval = time.Minute

// colorTags are the cosmetic tags assigned randomly at creation.
var colorTags = []string{"green", "yellow", "orange", "blue", "pink"}

// Task is a scheduled activity bound to a time-of-day label. Tasks live
// for a single calendar day and expire 12 hours after creation.
type Task struct {
	Time      string    `json:"time"`
	Category  string    `json:"category"`
	Name      string    `json:"name"`
	Calories  float64   `json:"calories"`
	Protein   float64   `json:"protein"`
	Carbs     float64   `json:"carbs"`
	Fat       float64   `json:"fat"`
	Completed bool      `json:"completed"`
	Color     string    `json:"color"`
	AddedTime time.Time `json:"addedTime"`
}

// CompositeKey identifies a logical activity instance within a day.
// It is the dedup key for nutrition accumulation.
func (t Task) CompositeKey() string {
	return t.Time + "-" + t.Name
}

// taskDay pairs a task set with the calendar date it was created for.
// Any read that finds a stale date discards the whole set.
type taskDay struct {
	Date  string `json:"date"`
	Tasks []Task `json:"tasks"`
}

// TaskStore manages today's task set.
type TaskStore struct {
	mu    sync.Mutex
	kv    *storage.UserScoped
	acc   *Accumulator
	bus   *events.Bus
	now   func() time.Time
	sweep schedule.Recurring
}

// NewTaskStore creates a task store. acc and bus may be nil.
func NewTaskStore(kv *storage.UserScoped, acc *Accumulator, bus *events.Bus) *TaskStore {
	return &TaskStore{kv: kv, acc: acc, bus: bus, now: time.Now}
}

// SetClock overrides the store's time source. Intended for tests.
func (ts *TaskStore) SetClock(now func() time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.now = now
}

// Tasks returns today's task set. A set stamped with any other date is
// discarded, never merged.
func (ts *TaskStore) Tasks() []Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.readToday()
}

// Add creates a task at the given time slot with a random color tag,
// persists the set under today's date, and notifies subscribers.
func (ts *TaskStore) Add(timeLabel, category, name string, calories, protein, carbs, fat float64) Task {
	ts.mu.Lock()
	task := Task{
		Time:      timeLabel,
		Category:  category,
		Name:      name,
		Calories:  calories,
		Protein:   protein,
		Carbs:     carbs,
		Fat:       fat,
		Color:     colorTags[rand.Intn(len(colorTags))],
		AddedTime: ts.now(),
	}
	tasks := append(ts.readToday(), task)
	ts.write(tasks)
	ts.mu.Unlock()

	ts.publish()
	return task
}

// Toggle flips the completion flag of the task identified by its time
// label and name. A transition to completed feeds the accumulator;
// un-completing is a pure flag flip and never unwinds recorded totals.
func (ts *TaskStore) Toggle(timeLabel, name string) (Task, bool) {
	ts.mu.Lock()
	tasks := ts.readToday()
	var toggled *Task
	for i := range tasks {
		if tasks[i].Time == timeLabel && tasks[i].Name == name {
			tasks[i].Completed = !tasks[i].Completed
			toggled = &tasks[i]
			break
		}
	}
	if toggled == nil {
		ts.mu.Unlock()
		return Task{}, false
	}
	ts.write(tasks)
	task := *toggled
	ts.mu.Unlock()

	if task.Completed && ts.acc != nil {
		ts.acc.RecordCompletion(task)
	}
	ts.publish()
	return task, true
}

// Prune removes tasks older than TaskExpiry and clears the whole set if
// the calendar day has rolled over. Called by the sweep timer and safe
// to call directly.
func (ts *TaskStore) Prune() {
	ts.mu.Lock()
	now := ts.now()
	stored, ok := ts.read()
	if !ok {
		ts.mu.Unlock()
		return
	}

	changed := false
	var kept []Task
	if stored.Date != dateKey(now) {
		// Crossing midnight discards the whole set.
		changed = len(stored.Tasks) > 0 || stored.Date != ""
	} else {
		for _, task := range stored.Tasks {
			if now.Sub(task.AddedTime) < TaskExpiry {
				kept = append(kept, task)
			} else {
				changed = true
			}
		}
	}
	if changed {
		ts.write(kept)
	}
	ts.mu.Unlock()

	if changed {
		ts.publish()
	}
}

// StartSweep begins the recurring expiry check. At most one sweep timer
// runs per store.
func (ts *TaskStore) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ts.sweep.Start(interval, ts.Prune)
}

// StopSweep cancels the sweep timer.
func (ts *TaskStore) StopSweep() {
	ts.sweep.Stop()
}

// --- storage access, caller holds ts.mu ---

func (ts *TaskStore) read() (taskDay, bool) {
	raw, err := ts.kv.Get(keyDailyTasks)
	if err != nil {
		return taskDay{}, false
	}
	var stored taskDay
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Printf("Malformed daily tasks, ignoring: %v", err)
		return taskDay{}, false
	}
	return stored, true
}

func (ts *TaskStore) readToday() []Task {
	stored, ok := ts.read()
	if !ok || stored.Date != dateKey(ts.now()) {
		return nil
	}
	return stored.Tasks
}

func (ts *TaskStore) write(tasks []Task) {
	stored := taskDay{Date: dateKey(ts.now()), Tasks: tasks}
	data, err := json.Marshal(stored)
	if err != nil {
		log.Printf("Failed to marshal daily tasks: %v", err)
		return
	}
	if err := ts.kv.Set(keyDailyTasks, string(data)); err != nil {
		log.Printf("Failed to persist daily tasks: %v", err)
	}
}

func (ts *TaskStore) publish() {
	if ts.bus == nil {
		return
	}
	ts.bus.Publish(events.Event{Topic: events.TasksUpdated})
}

// dateKey renders the local calendar date as YYYY-MM-DD.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
