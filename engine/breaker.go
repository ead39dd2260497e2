package engine

import "sync"

// DefaultBreakerThreshold is the number of user-initiated retries a node
// may accumulate before further retries are refused.
const DefaultBreakerThreshold = 3

// Breaker counts retries per node and trips once a node reaches the
// threshold. Retries are always user-initiated; the breaker exists to stop
// a user from burning spend on a node that keeps failing the same way.
//
// State is in-memory and per-process. It does not persist across restarts,
// so a restart gives every node a fresh allowance.
//
// Thread-safety: all methods are safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

// NewBreaker creates a breaker with the given threshold. A threshold of
// zero or less falls back to DefaultBreakerThreshold.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &Breaker{
		threshold: threshold,
		counts:    make(map[string]int),
	}
}

// RecordRetry increments the node's retry count and reports whether the
// count has reached the threshold.
func (b *Breaker) RecordRetry(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[nodeID]++
	return b.counts[nodeID] >= b.threshold
}

// IsTripped reports whether the node has reached the threshold. It does
// not increment.
func (b *Breaker) IsTripped(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[nodeID] >= b.threshold
}

// Reset clears the node's retry count, re-enabling retries.
func (b *Breaker) Reset(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, nodeID)
}
