package emit

// Emitter receives status and progress events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: never stall the engine's execution path
//   - Thread-safe: nodes in one level emit concurrently
//   - Resilient: a failing backend must not crash a run
//
// Common patterns:
//   - Broadcasting: fan out to live UI subscribers (Broker)
//   - Buffering: retain history for replay or assertions (BufferedEmitter)
//   - Multi-emit: combine several backends (Multi)
type Emitter interface {
	// Emit delivers one event to the configured backend.
	//
	// Emit must not panic and must not block the caller; slow or
	// unavailable backends drop or buffer internally.
	Emit(event Event)
}
