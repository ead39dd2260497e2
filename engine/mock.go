package engine

import (
	"context"
	"sync"
	"time"

	"github.com/weftworks/weft/engine/store"
)

// MockHandler is a test implementation of Handler.
//
// Use MockHandler in tests to verify engine behavior without running
// actual node logic. It provides:
//   - Configurable result sequences
//   - Call history tracking
//   - Error injection
//   - Scripted progress updates
//   - Cancellation simulation
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockHandler{
//	    Results: []*HandlerResult{
//	        {Status: store.ExecutionSuccess, Outputs: map[string]interface{}{"text": "hello"}},
//	    },
//	}
//	res, err := mock.Execute(ctx, hc)
//	// Returns the scripted result; repeats it on subsequent calls
//
// Example with error injection:
//
//	mock := &MockHandler{
//	    Err: errors.New("connection refused"),
//	}
//	_, err := mock.Execute(ctx, hc)
//	// Returns the configured error
type MockHandler struct {
	// Results contains the sequence of results to return.
	// Each call to Execute() returns the next result in order.
	// If all results are consumed, the last result repeats.
	// An empty sequence yields a success result with no outputs.
	Results []*HandlerResult

	// Err, if set, will be returned by Execute() instead of a result.
	Err error

	// BlockUntilCancelled makes Execute() wait for ctx cancellation and
	// return ctx.Err(), simulating a long-running handler that honors
	// aborts.
	BlockUntilCancelled bool

	// Delay makes Execute() sleep before returning, still honoring ctx
	// cancellation. Useful for exercising parallelism and abort windows.
	Delay time.Duration

	// ProgressUpdates is replayed through hc.Progress before the result
	// is returned.
	ProgressUpdates []MockProgress

	// EstimatedCost is returned by EstimateCost().
	EstimatedCost float64

	// ValidationErrors, if non-empty, makes Validate() report the
	// parameters as invalid with these messages.
	ValidationErrors []string

	// Calls tracks the history of all Execute() invocations.
	// Useful for verifying resolved inputs and parameter perturbation.
	Calls []MockHandlerCall

	mu        sync.Mutex // Protects concurrent access to Calls and result index
	callIndex int        // Tracks which result to return next
}

// MockHandlerCall records a single invocation of Execute().
type MockHandlerCall struct {
	NodeID string
	Inputs map[string]interface{}
	Params map[string]interface{}
}

// MockProgress is one scripted progress update.
type MockProgress struct {
	Percent float64
	Message string
}

// Execute implements the Handler interface.
//
// Returns:
//   - The next result from Results (or repeats the last result)
//   - Or Err if configured
//   - Or ctx.Err() if BlockUntilCancelled is set
//
// Always records the call in Calls history regardless of outcome.
func (m *MockHandler) Execute(ctx context.Context, hc HandlerContext) (*HandlerResult, error) {
	// Check context cancellation first (before acquiring lock)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()

	// Record the call
	m.Calls = append(m.Calls, MockHandlerCall{
		NodeID: hc.NodeID,
		Inputs: hc.Inputs,
		Params: hc.Params,
	})

	injected := m.Err
	script := m.ProgressUpdates

	// Get the current result
	var result *HandlerResult
	if len(m.Results) > 0 {
		idx := m.callIndex
		if idx >= len(m.Results) {
			idx = len(m.Results) - 1 // Repeat last result
		} else {
			m.callIndex++ // Advance to next result
		}
		result = m.Results[idx]
	}

	// Release before replaying progress or blocking so parallel
	// executions sharing one mock cannot deadlock.
	m.mu.Unlock()

	// Return error if configured
	if injected != nil {
		return nil, injected
	}

	if hc.Progress != nil {
		for _, p := range script {
			hc.Progress(p.Percent, p.Message)
		}
	}

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	if m.BlockUntilCancelled {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	// Return empty success if no results configured
	if result == nil {
		return &HandlerResult{
			Status:  store.ExecutionSuccess,
			Outputs: map[string]interface{}{},
		}, nil
	}
	return result, nil
}

// EstimateCost implements the Handler interface.
func (m *MockHandler) EstimateCost(params map[string]interface{}) float64 {
	return m.EstimatedCost
}

// Validate implements the Handler interface.
func (m *MockHandler) Validate(params map[string]interface{}) ValidationResult {
	if len(m.ValidationErrors) > 0 {
		return ValidationResult{Valid: false, Errors: m.ValidationErrors}
	}
	return ValidationResult{Valid: true}
}

// Reset clears the call history and resets the result index.
//
// Useful when reusing the same mock across multiple test cases:
//
//	mock := &MockHandler{Results: []*HandlerResult{{Status: store.ExecutionSuccess}}}
//	// ... run test 1 ...
//	mock.Reset()
//	// ... run test 2 with clean state ...
func (m *MockHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Execute() has been called.
//
// Thread-safe convenience method:
//
//	if mock.CallCount() != 2 {
//	    t.Errorf("expected 2 calls, got %d", mock.CallCount())
//	}
func (m *MockHandler) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
