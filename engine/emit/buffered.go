package emit

import "sync"

// BufferedEmitter implements Emitter by retaining events in memory.
//
// Events are organized by workflow id for retrieval and filtering. Useful
// for tests asserting on emission order and for replay-style UIs that
// reconstruct canvas state after reconnecting.
//
// Warning: all events are held in memory. Long-lived processes should
// Clear workflows they no longer display.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run a workflow ...
//	history := emitter.GetHistory("wf-1")
//	errors := emitter.GetHistoryWithFilter("wf-1", emit.HistoryFilter{Status: string(emit.NodeError)})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // workflowID -> events in emission order
}

// HistoryFilter selects events from a workflow's history. Set fields are
// combined with AND logic; zero values match everything.
type HistoryFilter struct {
	// Channel filters by event channel.
	Channel Channel

	// NodeID filters node-status and progress events by node.
	NodeID string

	// EdgeID filters edge-status events by edge.
	EdgeID string

	// Status filters by status value.
	Status string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event under its workflow id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.WorkflowID] = append(b.events[event.WorkflowID], event)
}

// GetHistory returns all events for a workflow in emission order.
//
// Returns a copy; callers may not mutate buffered state through it. An
// unknown workflow id yields an empty slice.
func (b *BufferedEmitter) GetHistory(workflowID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[workflowID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter returns the workflow's events matching the filter,
// in emission order.
func (b *BufferedEmitter) GetHistoryWithFilter(workflowID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[workflowID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Channel != "" && event.Channel != filter.Channel {
		return false
	}
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.EdgeID != "" && event.EdgeID != filter.EdgeID {
		return false
	}
	if filter.Status != "" && event.Status != filter.Status {
		return false
	}
	return true
}

// Clear removes stored events. A non-empty workflowID clears that workflow
// only; an empty one clears everything.
func (b *BufferedEmitter) Clear(workflowID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if workflowID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, workflowID)
	}
}
