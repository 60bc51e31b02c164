package plan

import (
	"time"
)

// StartAutoSave begins snapshotting the plan returned by current on the
// given interval. Empty plans are skipped. Starting while a timer is
// already running stops the previous one first; the store owns at most
// one auto-save timer at a time.
func (s *Store) StartAutoSave(current func() Plan, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	s.autosave.Start(interval, func() {
		p := current()
		if p.IsEmpty() {
			return
		}
		s.Save(p, "", true)
	})
}

// StopAutoSave cancels the auto-save timer. Must be called on teardown
// so timers do not leak across navigations.
func (s *Store) StopAutoSave() {
	s.autosave.Stop()
}

// AutoSaveRunning reports whether the timer is active.
func (s *Store) AutoSaveRunning() bool {
	return s.autosave.Running()
}

// Flush performs one immediate auto-save, bypassing the timer. Used on
// shutdown so the latest state survives without waiting a full period.
func (s *Store) Flush(current func() Plan) Result {
	p := current()
	if p.IsEmpty() {
		return Result{Success: false, Message: "No plan to save"}
	}
	return s.Save(p, "", true)
}

// MarkChanged records that the in-memory plan changed. The comparison
// snapshot is taken DebounceDelay after the last call rather than on
// every change, so rapid edits serialize the plan once.
func (s *Store) MarkChanged(p Plan) {
	if p.IsEmpty() {
		return
	}
	snapshot := serialize(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.DebounceDelay, func() {
		s.mu.Lock()
		s.lastSnapshot = snapshot
		s.mu.Unlock()
	})
}

// HasUnsavedChanges compares the plan against the last debounced
// snapshot. Callers use this to decide whether shutdown needs a flush
// and a leave-confirmation prompt.
func (s *Store) HasUnsavedChanges(p Plan) bool {
	if p.IsEmpty() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return serialize(p) != s.lastSnapshot
}

// Close stops all timers and flushes the plan if it has unsaved
// changes. Returns true when a flush was performed.
func (s *Store) Close(current func() Plan) bool {
	s.StopAutoSave()

	s.mu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.mu.Unlock()

	p := current()
	if !s.HasUnsavedChanges(p) {
		return false
	}
	return s.Flush(current).Success
}

// Hydrate applies Restore to the caller's in-memory plan. If the plan
// is already populated (for example by an in-flight generation) the
// restore is skipped so persisted state never overwrites newer data.
// The populated check and the restore are not atomic against a
// concurrent generation completing in between; both outcomes leave a
// valid plan in place.
func (s *Store) Hydrate(current func() Plan, apply func(Plan)) LoadResult {
	if !current().IsEmpty() {
		return LoadResult{Success: false, Message: "In-memory plan already populated"}
	}
	result := s.Restore()
	if result.Success {
		apply(result.Meals)
	}
	return result
}
