package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps workflows, graphs, executions, and spend in maps.
// Designed for:
//   - Testing and development
//   - Ephemeral runs where persistence isn't required
//
// MemStore is thread-safe and supports concurrent access.
//
// Limitations:
//   - Data is lost when the process terminates
//   - Memory usage grows with execution history
//
// For durable state use SQLiteStore (local) or MySQLStore (server).
type MemStore struct {
	mu     sync.RWMutex
	closed bool

	workflows map[string]*Workflow
	nodes     map[string]*Node
	edges     map[string]*Edge

	// nodeOrder and edgeOrder preserve graph insertion order per workflow
	// so GetGraph is deterministic.
	nodeOrder map[string][]string
	edgeOrder map[string][]string

	executions map[string]*Execution
	execOrder  map[string][]string // nodeID -> execution ids, insertion order

	budget     *BudgetConfig
	dailySpend map[string]float64
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore()
//	defer st.Close()
func NewMemStore() *MemStore {
	return &MemStore{
		workflows:  make(map[string]*Workflow),
		nodes:      make(map[string]*Node),
		edges:      make(map[string]*Edge),
		nodeOrder:  make(map[string][]string),
		edgeOrder:  make(map[string][]string),
		executions: make(map[string]*Execution),
		execOrder:  make(map[string][]string),
		dailySpend: make(map[string]float64),
	}
}

func (m *MemStore) checkOpen() error {
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateWorkflow creates a workflow with a normalized unique name.
func (m *MemStore) CreateWorkflow(_ context.Context, name string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(m.workflows))
	for _, w := range m.workflows {
		taken[w.Name] = true
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:        uuid.NewString(),
		Name:      uniqueWorkflowName(name, taken),
		Status:    WorkflowDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.workflows[w.ID] = w

	out := *w
	return &out, nil
}

// GetWorkflow returns the workflow by id, or ErrNotFound.
func (m *MemStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *w
	return &out, nil
}

// ListWorkflows returns all workflows, most recently updated first.
func (m *MemStore) ListWorkflows(_ context.Context) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]*Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RenameWorkflow sets a new normalized unique name.
func (m *MemStore) RenameWorkflow(_ context.Context, id, name string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	w, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}

	taken := make(map[string]bool, len(m.workflows))
	for _, other := range m.workflows {
		if other.ID != id {
			taken[other.Name] = true
		}
	}
	w.Name = uniqueWorkflowName(name, taken)
	w.UpdatedAt = time.Now().UTC()

	out := *w
	return &out, nil
}

// SetWorkflowStatus moves the workflow between lifecycle states.
func (m *MemStore) SetWorkflowStatus(_ context.Context, id string, status WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	w, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteWorkflow removes the workflow and cascades to nodes, edges, and
// executions.
func (m *MemStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}

	for _, nodeID := range m.nodeOrder[id] {
		for _, exID := range m.execOrder[nodeID] {
			delete(m.executions, exID)
		}
		delete(m.execOrder, nodeID)
		delete(m.nodes, nodeID)
	}
	for _, edgeID := range m.edgeOrder[id] {
		delete(m.edges, edgeID)
	}
	delete(m.nodeOrder, id)
	delete(m.edgeOrder, id)
	delete(m.workflows, id)
	return nil
}

// SaveGraph overwrites the workflow's graph while preserving execution
// history. Each surviving node id gets its CurrentOutputID back iff the
// referenced execution still exists.
func (m *MemStore) SaveGraph(_ context.Context, workflowID string, def GraphDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	w, ok := m.workflows[workflowID]
	if !ok {
		return ErrNotFound
	}

	// Remember current outputs before the wipe so they can be restored
	// on nodes whose id survives the overwrite.
	prevOutputs := make(map[string]string)
	for _, nodeID := range m.nodeOrder[workflowID] {
		if n := m.nodes[nodeID]; n != nil && n.CurrentOutputID != "" {
			prevOutputs[nodeID] = n.CurrentOutputID
		}
	}

	for _, nodeID := range m.nodeOrder[workflowID] {
		delete(m.nodes, nodeID)
	}
	for _, edgeID := range m.edgeOrder[workflowID] {
		delete(m.edges, edgeID)
	}
	m.nodeOrder[workflowID] = nil
	m.edgeOrder[workflowID] = nil

	normalizeGraph(workflowID, &def)
	for i := range def.Nodes {
		n := def.Nodes[i]
		n.Params = deepCopyMap(n.Params)
		n.CurrentOutputID = ""
		m.nodes[n.ID] = &n
		m.nodeOrder[workflowID] = append(m.nodeOrder[workflowID], n.ID)
	}
	for i := range def.Edges {
		e := def.Edges[i]
		m.edges[e.ID] = &e
		m.edgeOrder[workflowID] = append(m.edgeOrder[workflowID], e.ID)
	}

	// Executions of nodes that did not survive are gone with them.
	for nodeID, exIDs := range m.execOrder {
		owner, exists := m.nodes[nodeID]
		if exists && owner.WorkflowID == workflowID {
			continue
		}
		if !exists {
			orphaned := false
			for _, exID := range exIDs {
				if ex := m.executions[exID]; ex != nil && ex.WorkflowID == workflowID {
					orphaned = true
					break
				}
			}
			if orphaned {
				for _, exID := range exIDs {
					delete(m.executions, exID)
				}
				delete(m.execOrder, nodeID)
			}
		}
	}

	for nodeID, exID := range prevOutputs {
		n, ok := m.nodes[nodeID]
		if !ok {
			continue
		}
		if ex, ok := m.executions[exID]; ok && ex.NodeID == nodeID {
			n.CurrentOutputID = exID
		}
	}

	w.UpdatedAt = time.Now().UTC()
	return nil
}

// GetGraph returns the workflow's nodes and edges in insertion order.
func (m *MemStore) GetGraph(_ context.Context, workflowID string) (*GraphDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	if _, ok := m.workflows[workflowID]; !ok {
		return nil, ErrNotFound
	}

	def := &GraphDefinition{Nodes: []Node{}, Edges: []Edge{}}
	for _, nodeID := range m.nodeOrder[workflowID] {
		if n := m.nodes[nodeID]; n != nil {
			cp := *n
			cp.Params = deepCopyMap(n.Params)
			def.Nodes = append(def.Nodes, cp)
		}
	}
	for _, edgeID := range m.edgeOrder[workflowID] {
		if e := m.edges[edgeID]; e != nil {
			def.Edges = append(def.Edges, *e)
		}
	}
	return def, nil
}

// SetCurrentOutput points nodeID's current output at executionID, or
// clears it when executionID is empty.
func (m *MemStore) SetCurrentOutput(_ context.Context, workflowID, nodeID, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	n, ok := m.nodes[nodeID]
	if !ok || n.WorkflowID != workflowID {
		return ErrNotFound
	}
	if executionID == "" {
		n.CurrentOutputID = ""
		return nil
	}

	ex, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	if ex.NodeID != nodeID {
		return fmt.Errorf("execution %s does not belong to node %s", executionID, nodeID)
	}
	n.CurrentOutputID = executionID
	return nil
}

// InsertExecution writes a new execution row.
func (m *MemStore) InsertExecution(_ context.Context, ex *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	cp := *ex
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.ResultMetadata = deepCopyMap(cp.ResultMetadata)

	m.executions[cp.ID] = &cp
	m.execOrder[cp.NodeID] = append(m.execOrder[cp.NodeID], cp.ID)

	ex.ID = cp.ID
	ex.CreatedAt = cp.CreatedAt
	return nil
}

// FinalizeExecution fills the outcome fields of an execution.
func (m *MemStore) FinalizeExecution(_ context.Context, id string, res ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	ex, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	ex.Status = res.Status
	ex.ResultPath = res.ResultPath
	ex.ResultMetadata = deepCopyMap(res.ResultMetadata)
	ex.ErrorMessage = res.ErrorMessage
	ex.DurationMs = res.DurationMs
	ex.Cost = res.Cost
	return nil
}

// GetExecution returns the execution by id, or ErrNotFound.
func (m *MemStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	ex, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(ex), nil
}

// ListExecutions returns a node's executions, newest first.
func (m *MemStore) ListExecutions(_ context.Context, nodeID string) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	ids := m.execOrder[nodeID]
	out := make([]*Execution, 0, len(ids))
	// Walk newest-inserted first, then order by CreatedAt descending.
	for i := len(ids) - 1; i >= 0; i-- {
		if ex := m.executions[ids[i]]; ex != nil {
			out = append(out, copyExecution(ex))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// LookupCached returns the most recent successful execution for the cache
// key, or nil when none exists.
func (m *MemStore) LookupCached(_ context.Context, nodeID, inputHash, paramsHash string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	ids := m.execOrder[nodeID]
	var best *Execution
	for i := len(ids) - 1; i >= 0; i-- {
		ex := m.executions[ids[i]]
		if ex == nil || ex.Status != ExecutionSuccess {
			continue
		}
		if ex.InputHash != inputHash || ex.ParamsHash != paramsHash {
			continue
		}
		if best == nil || ex.CreatedAt.After(best.CreatedAt) {
			best = ex
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyExecution(best), nil
}

// DeleteExecution removes one execution and clears any CurrentOutputID
// pointing at it.
func (m *MemStore) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	ex, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.executions, id)

	ids := m.execOrder[ex.NodeID]
	for i, exID := range ids {
		if exID == id {
			m.execOrder[ex.NodeID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if n := m.nodes[ex.NodeID]; n != nil && n.CurrentOutputID == id {
		n.CurrentOutputID = ""
	}
	return nil
}

// DeleteExecutionsForNode removes all of a node's executions.
func (m *MemStore) DeleteExecutionsForNode(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	for _, exID := range m.execOrder[nodeID] {
		delete(m.executions, exID)
	}
	delete(m.execOrder, nodeID)
	if n := m.nodes[nodeID]; n != nil {
		n.CurrentOutputID = ""
	}
	return nil
}

// SetExecutionScore sets or clears the user rating.
func (m *MemStore) SetExecutionScore(_ context.Context, id string, score *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	ex, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	if score == nil {
		ex.Score = nil
	} else {
		v := *score
		ex.Score = &v
	}
	return nil
}

// SetExecutionStarred sets the user favorite flag.
func (m *MemStore) SetExecutionStarred(_ context.Context, id string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	ex, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	ex.Starred = starred
	return nil
}

// GetBudget returns the configured limits, or defaults when unset.
func (m *MemStore) GetBudget(_ context.Context) (BudgetConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return BudgetConfig{}, err
	}

	if m.budget == nil {
		return BudgetConfig{
			PerExecutionLimit: DefaultPerExecutionLimit,
			DailyLimit:        DefaultDailyLimit,
		}, nil
	}
	return *m.budget, nil
}

// SetBudget saves the singleton limits.
func (m *MemStore) SetBudget(_ context.Context, cfg BudgetConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	m.budget = &cfg
	return nil
}

// AddDailySpend atomically adds amount to the date's total.
func (m *MemStore) AddDailySpend(_ context.Context, date string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	m.dailySpend[date] += amount
	return m.dailySpend[date], nil
}

// GetDailySpend returns the accumulated total for the date.
func (m *MemStore) GetDailySpend(_ context.Context, date string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	return m.dailySpend[date], nil
}

// Flush is a no-op for the in-memory store.
func (m *MemStore) Flush(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen()
}

// Ping reports whether the store is open.
func (m *MemStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen()
}

// Close marks the store closed. Safe to call more than once.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyExecution(ex *Execution) *Execution {
	cp := *ex
	cp.ResultMetadata = deepCopyMap(ex.ResultMetadata)
	if ex.Score != nil {
		v := *ex.Score
		cp.Score = &v
	}
	return &cp
}

// deepCopyMap copies nested maps and slices so callers cannot mutate
// stored state through returned values.
func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
