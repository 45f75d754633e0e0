package emit

import "sync"

// BufferedEmitter stores events in memory, organized by job, and lets
// callers query them afterwards. Intended for tests, debugging, and
// post-run analysis; it grows without bound, so it is not a production
// backend for long-lived processes.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // jobID -> events
}

// HistoryFilter selects events from a job's history. Empty fields match
// everything; set fields combine with AND.
type HistoryFilter struct {
	Stage  string
	UnitID string
	Msg    string
}

// NewBufferedEmitter creates an empty buffered emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event under its job ID.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.JobID] = append(b.events[event.JobID], event)
}

// History returns all events for a job in emission order. A copy is
// returned so the caller cannot mutate the buffer.
func (b *BufferedEmitter) History(jobID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[jobID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter returns the job's events matching the filter,
// in emission order.
func (b *BufferedEmitter) HistoryWithFilter(jobID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[jobID] {
		if filter.Stage != "" && event.Stage != filter.Stage {
			continue
		}
		if filter.UnitID != "" && event.UnitID != filter.UnitID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear removes stored events for one job, or for all jobs when jobID
// is empty.
func (b *BufferedEmitter) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if jobID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, jobID)
}
