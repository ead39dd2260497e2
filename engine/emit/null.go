package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when no client is listening: headless runs, benchmarks, or tests
// that assert on store state rather than event streams.
//
// Example usage:
//
//	eng := engine.New(st, registry, emit.NewNullEmitter())
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
//
// Safe for concurrent use with zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
