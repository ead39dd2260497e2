package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/engine/emit"
	"github.com/weftworks/weft/engine/store"
)

// cancelledMessage is recorded on executions interrupted by the user.
const cancelledMessage = "Execution cancelled"

// executeNode runs one node end to end: resolve inputs, consult the cache,
// dispatch the handler, record the outcome, and emit status transitions.
//
// The returned bool reports whether the node produced a usable output. A
// handler failure is not an error here; it is recorded, emitted, and
// reported as ok=false so the caller can propagate skips. The error return
// is reserved for conditions that must halt the run: unknown node types,
// store failures, and parent context cancellation.
//
// Cancellation via the node's token interrupts only the handler. The
// execution is finalized with an error status but the node's current
// output, its edges, and its emitted state are left untouched; Cancel
// already transitioned the node to idle and nothing here may override
// that.
func (e *Engine) executeNode(ctx context.Context, workflowID string, node *store.Node, def *store.GraphDefinition, nodes map[string]*store.Node, skipCache bool) (bool, error) {
	handler, err := e.registry.Get(node.Type)
	if err != nil {
		return false, &EngineError{
			Message: fmt.Sprintf("no handler registered for node type %q", node.Type),
			Code:    "HANDLER_NOT_FOUND",
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	inputs, err := e.resolver.ResolveInputs(ctx, node, inEdges(def, node.ID), nodes)
	if err != nil {
		return false, err
	}
	inputHash, err := HashInputs(inputs)
	if err != nil {
		return false, err
	}
	paramsHash, err := HashParams(node.Params)
	if err != nil {
		return false, err
	}

	if !skipCache {
		hit, err := e.tryCache(ctx, workflowID, node, inputHash, paramsHash)
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}

	// The token lets Cancel interrupt the handler without touching the
	// run's own context.
	runCtx, cancel := context.WithCancel(ctx)
	e.registerCancel(workflowID, node.ID, cancel)
	defer func() {
		e.deregisterCancel(workflowID, node.ID)
		cancel()
	}()

	e.emitter.Emit(emit.NodeStatusEvent(workflowID, node.ID, emit.NodeRunning, ""))
	e.metrics.ExecutionStarted()

	ex := &store.Execution{
		ID:         uuid.NewString(),
		NodeID:     node.ID,
		WorkflowID: workflowID,
		InputHash:  inputHash,
		ParamsHash: paramsHash,
		Status:     store.ExecutionPending,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.InsertExecution(ctx, ex); err != nil {
		e.metrics.ExecutionFinished(node.Type, "error", 0)
		return false, err
	}

	start := e.now()
	result, handlerErr := handler.Execute(runCtx, HandlerContext{
		NodeID:     node.ID,
		NodeType:   node.Type,
		WorkflowID: workflowID,
		Inputs:     inputs,
		Params:     node.Params,
		Progress: func(percent float64, message string) {
			e.emitter.Emit(emit.ProgressEvent(workflowID, node.ID, percent, message))
		},
	})
	elapsed := e.now().Sub(start)

	outcome := classifyOutcome(runCtx, result, handlerErr, elapsed)

	// The row must reach a terminal state even when the run's own context
	// died with the handler.
	if err := e.store.FinalizeExecution(context.WithoutCancel(ctx), ex.ID, outcome.record); err != nil {
		e.metrics.ExecutionFinished(node.Type, "error", elapsed)
		return false, err
	}
	if e.files != nil {
		_ = e.files.SnapshotExecution(ex.ID, inputs, node.Params, outcome.record.ResultMetadata)
	}
	if outcome.record.Cost > 0 {
		if _, err := e.budget.RecordSpend(ctx, outcome.record.Cost); err != nil {
			e.metrics.ExecutionFinished(node.Type, "error", elapsed)
			return false, err
		}
		e.metrics.SpendRecorded(outcome.record.Cost)
	}

	if outcome.cancelled {
		e.metrics.ExecutionFinished(node.Type, "cancelled", elapsed)
		// Parent cancellation aborts the whole run; a token cancellation
		// stops only this node.
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}

	if outcome.record.Status != store.ExecutionSuccess {
		e.emitter.Emit(emit.NodeStatusEvent(workflowID, node.ID, emit.NodeError, outcome.record.ErrorMessage))
		for _, edge := range outEdges(def, node.ID) {
			e.emitter.Emit(emit.EdgeStatusEvent(workflowID, edge.ID, emit.EdgeNoData))
		}
		e.metrics.ExecutionFinished(node.Type, "error", elapsed)
		return false, nil
	}

	if err := e.store.SetCurrentOutput(ctx, workflowID, node.ID, ex.ID); err != nil {
		e.metrics.ExecutionFinished(node.Type, "error", elapsed)
		return false, err
	}
	// Keep the in-memory graph in step so downstream nodes in this run
	// resolve against the fresh output.
	node.CurrentOutputID = ex.ID

	if e.files != nil && outcome.record.ResultPath == "" {
		if url, ok := outcome.record.ResultMetadata[resultURLKey].(string); ok && url != "" {
			_, _ = e.files.DownloadResult(ctx, url, ex.ID)
		}
	}

	e.emitter.Emit(emit.NodeStatusEvent(workflowID, node.ID, emit.NodeConfirmed, ""))
	for _, edge := range outEdges(def, node.ID) {
		e.emitter.Emit(emit.EdgeStatusEvent(workflowID, edge.ID, emit.EdgeHasData))
	}
	e.metrics.ExecutionFinished(node.Type, "success", elapsed)
	return true, nil
}

// tryCache reports whether a prior execution satisfied the node. On a hit
// the node's current output is repointed at the cached execution and the
// node is confirmed without dispatching the handler. A short delay keeps
// the running state visible so instant re-runs read as activity rather
// than a glitch. Lookup failures degrade to a miss.
func (e *Engine) tryCache(ctx context.Context, workflowID string, node *store.Node, inputHash, paramsHash string) (bool, error) {
	cached, err := e.cache.Lookup(ctx, node.ID, inputHash, paramsHash)
	if err != nil || cached == nil {
		e.metrics.CacheMiss()
		return false, nil
	}
	e.metrics.CacheHit()

	e.emitter.Emit(emit.NodeStatusEvent(workflowID, node.ID, emit.NodeRunning, ""))
	if err := sleepContext(ctx, e.cacheHitDelay); err != nil {
		return false, err
	}
	if err := e.store.SetCurrentOutput(ctx, workflowID, node.ID, cached.ID); err != nil {
		return false, err
	}
	node.CurrentOutputID = cached.ID
	e.emitter.Emit(emit.NodeStatusEvent(workflowID, node.ID, emit.NodeConfirmed, ""))
	return true, nil
}

// nodeOutcome is the classified result of one handler invocation.
type nodeOutcome struct {
	record    store.ExecutionResult
	cancelled bool
}

// classifyOutcome turns whatever the handler did into a terminal execution
// record. Cancellation wins over any returned result: a handler racing its
// own interruption must not publish output, though whatever message it
// surfaced on the way out is kept on the record. Handlers report failure
// either through the error return or through an error-status result; both
// land in the same place.
func classifyOutcome(runCtx context.Context, result *HandlerResult, handlerErr error, elapsed time.Duration) nodeOutcome {
	record := store.ExecutionResult{
		Status:     store.ExecutionError,
		DurationMs: elapsed.Milliseconds(),
	}

	switch {
	case runCtx.Err() != nil:
		switch {
		case handlerErr != nil && handlerErr.Error() != "":
			record.ErrorMessage = handlerErr.Error()
		case result != nil && result.Err != "":
			record.ErrorMessage = result.Err
		default:
			record.ErrorMessage = cancelledMessage
		}
		return nodeOutcome{record: record, cancelled: true}

	case handlerErr != nil:
		record.ErrorMessage = handlerErr.Error()

	case result == nil:
		record.ErrorMessage = "handler returned no result"

	case result.Status == store.ExecutionError || result.Err != "":
		record.ErrorMessage = result.Err
		if record.ErrorMessage == "" {
			record.ErrorMessage = "handler reported failure"
		}
		record.ResultMetadata = mergedMetadata(result)
		record.Cost = result.Cost
		if result.DurationMs > 0 {
			record.DurationMs = result.DurationMs
		}

	default:
		record.Status = store.ExecutionSuccess
		record.ResultPath = result.ResultPath
		record.ResultMetadata = mergedMetadata(result)
		record.Cost = result.Cost
		if result.DurationMs > 0 {
			record.DurationMs = result.DurationMs
		}
	}
	return nodeOutcome{record: record}
}

// mergedMetadata combines a handler's result metadata with its named
// outputs. Outputs win on key collisions: they are what downstream edges
// resolve against.
func mergedMetadata(result *HandlerResult) map[string]interface{} {
	if len(result.ResultMetadata) == 0 && len(result.Outputs) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(result.ResultMetadata)+len(result.Outputs))
	for k, v := range result.ResultMetadata {
		merged[k] = v
	}
	for k, v := range result.Outputs {
		merged[k] = v
	}
	return merged
}

func inEdges(def *store.GraphDefinition, nodeID string) []store.Edge {
	var edges []store.Edge
	for _, e := range def.Edges {
		if e.TargetNode == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

func outEdges(def *store.GraphDefinition, nodeID string) []store.Edge {
	var edges []store.Edge
	for _, e := range def.Edges {
		if e.SourceNode == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
