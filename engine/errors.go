// Package engine executes workflow graphs of media-processing and
// AI-inference nodes with result caching, cost tracking, and live status
// events.
package engine

import "errors"

// ErrBreakerTripped indicates that a node's retry counter reached the
// threshold and further retries are refused until the breaker is reset.
var ErrBreakerTripped = errors.New("circuit breaker tripped")

// ErrUnknownNodeType indicates a node references a type with no registered
// handler. This is a programming error in the registry wiring, not a
// runtime failure of the node itself, so it surfaces to the caller instead
// of being recorded as an execution.
var ErrUnknownNodeType = errors.New("unknown node type")

// Messages stored verbatim on execution outcomes and status events.
// Clients match on these strings, so they must not change.
const (
	// SkippedUpstreamMessage marks a node that was never dispatched
	// because a node upstream of it failed in the same run.
	SkippedUpstreamMessage = "Skipped: upstream node failed"

	// BreakerTrippedMessage is returned when a retry is refused.
	BreakerTrippedMessage = "Circuit breaker tripped"
)

// EngineError represents a structured error from engine operations.
// It provides machine-readable classification for clients that need to
// distinguish refusals from runtime failures.
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node the error concerns, when there is one.
	NodeID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.NodeID != "" {
		msg = "node " + e.NodeID + ": " + msg
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}
