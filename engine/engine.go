package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weftworks/weft/engine/emit"
	"github.com/weftworks/weft/engine/store"
)

// FileStore is the engine's view of local file storage. Both methods are
// best-effort side channels: failures are the storage layer's to log and
// never fail an execution.
type FileStore interface {
	// SnapshotExecution persists the resolved inputs, params, and result
	// metadata of an execution for later inspection.
	SnapshotExecution(executionID string, inputs, params, metadata map[string]interface{}) error

	// DownloadResult fetches a result URL into the execution's directory
	// and returns the local path.
	DownloadResult(ctx context.Context, url, executionID string) (string, error)
}

// Engine orchestrates workflow execution: scheduling, input resolution,
// caching, budget accounting, retry arbitration, and status emission.
//
// All top-level operations are safe for concurrent use. A single Engine
// serves every workflow in the process; per-run state lives on the stack
// of each operation.
//
// Example:
//
//	eng := engine.New(st, registry, broker)
//	if err := eng.RunAll(ctx, workflowID); err != nil {
//	    return err
//	}
type Engine struct {
	store    store.Store
	registry *Registry
	emitter  emit.Emitter
	resolver *Resolver
	cache    *ResultCache
	breaker  *Breaker
	budget   *BudgetGuard
	files    FileStore

	maxParallel   int
	cacheHitDelay time.Duration
	metrics       *Metrics

	now       func() time.Time
	randIntn  func(n int) int
	randInt31 func() int32

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// New creates an Engine over the given store, registry, and emitter.
// A nil emitter discards events.
func New(st store.Store, registry *Registry, emitter emit.Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	e := &Engine{
		store:    st,
		registry: registry,
		emitter:  emitter,
		resolver: NewResolver(st),
		cache:    NewResultCache(st),
		breaker:  NewBreaker(DefaultBreakerThreshold),
		budget:   NewBudgetGuard(st),

		maxParallel:   DefaultMaxParallel,
		cacheHitDelay: DefaultCacheHitDelay,

		now:       time.Now,
		randIntn:  rand.Intn,
		randInt31: rand.Int31,

		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Budget exposes the engine's cost guard for budget requests.
func (e *Engine) Budget() *BudgetGuard {
	return e.budget
}

// Breaker exposes the engine's retry breaker so callers can clear a
// tripped node without restarting the process.
func (e *Engine) Breaker() *Breaker {
	return e.breaker
}

// RunAll executes every node of the workflow in topological level order.
//
// Within a level, nodes run concurrently up to the parallelism bound. A
// node whose upstream failed in this run is marked with an error status
// ("Skipped: upstream node failed") and never dispatched; the skip
// propagates transitively. Once any node has failed, later levels dispatch
// nothing beyond marking downstream skips. The result cache is consulted.
func (e *Engine) RunAll(ctx context.Context, workflowID string) error {
	def, err := e.store.GetGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	return e.runLevels(ctx, workflowID, def, TopologicalLevels(def), nil)
}

// RunNode executes exactly one node, resolving inputs from the current
// upstream outputs. The cache is skipped: the user explicitly asked for a
// fresh run. A handler failure is recorded and emitted, not returned.
func (e *Engine) RunNode(ctx context.Context, workflowID, nodeID string) error {
	def, nodes, node, err := e.loadNode(ctx, workflowID, nodeID)
	if err != nil {
		return err
	}
	_, err = e.executeNode(ctx, workflowID, node, def, nodes, true)
	return err
}

// ContinueFrom executes the given node and everything downstream of it,
// in topological level order restricted to that set. Stops at the first
// failure. The cache is consulted.
func (e *Engine) ContinueFrom(ctx context.Context, workflowID, nodeID string) error {
	def, err := e.store.GetGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	if !graphHasNode(def, nodeID) {
		return fmt.Errorf("node %s: %w", nodeID, store.ErrNotFound)
	}

	include := make(map[string]bool)
	for _, id := range DownstreamNodes(def, nodeID) {
		include[id] = true
	}
	return e.runLevels(ctx, workflowID, def, TopologicalLevels(def), include)
}

// Retry re-executes a node with its seed parameter perturbed so
// non-deterministic handlers produce a fresh result. The original params
// are untouched in the store. Each retry counts against the node's
// circuit breaker; once tripped, further retries fail immediately until
// the breaker is reset or the process restarts.
func (e *Engine) Retry(ctx context.Context, workflowID, nodeID string) error {
	if e.breaker.IsTripped(nodeID) {
		return &EngineError{
			Message: BreakerTrippedMessage,
			Code:    "BREAKER_TRIPPED",
			NodeID:  nodeID,
			Cause:   ErrBreakerTripped,
		}
	}

	def, nodes, node, err := e.loadNode(ctx, workflowID, nodeID)
	if err != nil {
		return err
	}

	original := node.Params
	node.Params = e.perturbSeed(node.Params)
	_, execErr := e.executeNode(ctx, workflowID, node, def, nodes, true)
	node.Params = original
	if execErr != nil {
		return execErr
	}

	e.metrics.RetryRecorded(node.Type)
	if e.breaker.RecordRetry(nodeID) {
		e.emitter.Emit(emit.NodeStatusEvent(workflowID, nodeID, emit.NodeIdle, ""))
	}
	return nil
}

// Cancel signals the cancellation token for (workflowID, nodeID), removes
// it, and transitions the node to idle. Without a registered token it is
// a no-op: there is nothing running to cancel.
func (e *Engine) Cancel(workflowID, nodeID string) {
	cancel, ok := e.takeCancel(workflowID, nodeID)
	if !ok {
		return
	}
	cancel()
	e.emitter.Emit(emit.NodeStatusEvent(workflowID, nodeID, emit.NodeIdle, ""))
}

// MarkDownstreamStale emits an idle transition for every node strictly
// downstream of nodeID. Used when the user repoints a node's current
// output: downstream results no longer reflect their inputs.
func (e *Engine) MarkDownstreamStale(ctx context.Context, workflowID, nodeID string) error {
	def, err := e.store.GetGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	// The repointed node keeps its chosen output; only dependents go idle.
	for _, id := range DownstreamNodes(def, nodeID) {
		if id == nodeID {
			continue
		}
		e.emitter.Emit(emit.NodeStatusEvent(workflowID, id, emit.NodeIdle, ""))
	}
	return nil
}

// EstimateRunCost asks each node's handler for a cost estimate and checks
// the total against the configured budget. Node ids not present in the
// workflow count as zero cost.
//
// The estimate is advisory: the engine itself never refuses a run on
// budget grounds, since actual cost depends on inputs the estimate cannot
// see. Callers check first and honor the denial.
func (e *Engine) EstimateRunCost(ctx context.Context, workflowID string, nodeIDs []string) (*CostEstimate, error) {
	def, err := e.store.GetGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	nodes := nodeMap(def)

	estimates := make(map[string]float64, len(nodeIDs))
	for _, id := range nodeIDs {
		node, ok := nodes[id]
		if !ok {
			continue
		}
		handler, err := e.registry.Get(node.Type)
		if err != nil {
			return nil, &EngineError{
				Message: fmt.Sprintf("no handler registered for node type %q", node.Type),
				Code:    "HANDLER_NOT_FOUND",
				NodeID:  id,
				Cause:   err,
			}
		}
		estimates[id] = handler.EstimateCost(node.Params)
	}
	return e.budget.Estimate(ctx, nodeIDs, estimates)
}

// runLevels dispatches levels in order. include restricts execution to a
// node set; nil means every node.
func (e *Engine) runLevels(ctx context.Context, workflowID string, def *store.GraphDefinition, levels [][]string, include map[string]bool) error {
	nodes := nodeMap(def)
	run := newRunState()

	remaining := 0
	for _, level := range levels {
		remaining += countIncluded(level, include)
	}

	for _, level := range levels {
		remaining -= countIncluded(level, include)
		e.metrics.SetQueueDepth(remaining)

		// Dispatch decisions snapshot the failure state at level entry,
		// so a failure takes effect at the next level boundary, never
		// mid-level.
		aborted := run.anyFailed()

		var g errgroup.Group
		g.SetLimit(e.maxParallel)
		for _, nodeID := range level {
			if include != nil && !include[nodeID] {
				continue
			}
			if run.upstreamFailed(def.Edges, nodeID) {
				run.markFailed(nodeID)
				e.emitter.Emit(emit.NodeStatusEvent(workflowID, nodeID, emit.NodeError, SkippedUpstreamMessage))
				continue
			}
			if aborted {
				continue
			}

			node := nodes[nodeID]
			g.Go(func() error {
				ok, err := e.executeNode(ctx, workflowID, node, def, nodes, false)
				if err != nil {
					return err
				}
				if !ok {
					run.markFailed(node.ID)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.metrics.SetQueueDepth(0)
			return err
		}
	}

	e.metrics.SetQueueDepth(0)
	return nil
}

// loadNode fetches the graph and locates one node in it.
func (e *Engine) loadNode(ctx context.Context, workflowID, nodeID string) (*store.GraphDefinition, map[string]*store.Node, *store.Node, error) {
	def, err := e.store.GetGraph(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	nodes := nodeMap(def)
	node, ok := nodes[nodeID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("node %s: %w", nodeID, store.ErrNotFound)
	}
	return def, nodes, node, nil
}

// perturbSeed returns a copy of params with the seed nudged: numeric
// seeds move up by a uniform 1..1000, anything else becomes a random
// non-negative 31-bit integer.
func (e *Engine) perturbSeed(params map[string]interface{}) map[string]interface{} {
	perturbed := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		perturbed[k] = v
	}

	if n, ok := numericValue(perturbed["seed"]); ok {
		perturbed["seed"] = n + float64(e.randIntn(1000)+1)
	} else {
		perturbed["seed"] = float64(e.randInt31())
	}
	return perturbed
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// cancel-token registry

func cancelKey(workflowID, nodeID string) string {
	return workflowID + "/" + nodeID
}

func (e *Engine) registerCancel(workflowID, nodeID string, cancel context.CancelFunc) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	e.cancels[cancelKey(workflowID, nodeID)] = cancel
}

func (e *Engine) deregisterCancel(workflowID, nodeID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	delete(e.cancels, cancelKey(workflowID, nodeID))
}

func (e *Engine) takeCancel(workflowID, nodeID string) (context.CancelFunc, bool) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	key := cancelKey(workflowID, nodeID)
	cancel, ok := e.cancels[key]
	if ok {
		delete(e.cancels, key)
	}
	return cancel, ok
}

// runState tracks which nodes have failed during one RunAll/ContinueFrom
// invocation. Skipped nodes join the set so skips propagate transitively.
type runState struct {
	mu     sync.Mutex
	failed map[string]bool
}

func newRunState() *runState {
	return &runState{failed: make(map[string]bool)}
}

func (r *runState) markFailed(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[nodeID] = true
}

func (r *runState) anyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed) > 0
}

// upstreamFailed reports whether any direct upstream of nodeID failed in
// this run. Levels execute in topological order, so checking direct
// parents at dispatch time is transitive over the whole ancestry.
func (r *runState) upstreamFailed(edges []store.Edge, nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, edge := range edges {
		if edge.TargetNode == nodeID && r.failed[edge.SourceNode] {
			return true
		}
	}
	return false
}

func nodeMap(def *store.GraphDefinition) map[string]*store.Node {
	nodes := make(map[string]*store.Node, len(def.Nodes))
	for i := range def.Nodes {
		nodes[def.Nodes[i].ID] = &def.Nodes[i]
	}
	return nodes
}

func graphHasNode(def *store.GraphDefinition, nodeID string) bool {
	for i := range def.Nodes {
		if def.Nodes[i].ID == nodeID {
			return true
		}
	}
	return false
}

func countIncluded(level []string, include map[string]bool) int {
	if include == nil {
		return len(level)
	}
	n := 0
	for _, id := range level {
		if include[id] {
			n++
		}
	}
	return n
}
