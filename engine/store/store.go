// Package store provides persistence for workflows, nodes, edges,
// executions, and budget state.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested workflow, execution, or graph
// does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowStatus describes the authoring lifecycle of a workflow.
type WorkflowStatus string

// Workflow lifecycle states.
const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowReady    WorkflowStatus = "ready"
	WorkflowArchived WorkflowStatus = "archived"
)

// ExecutionStatus describes the outcome of a single node execution.
type ExecutionStatus string

// Execution states. Pending rows exist while a handler runs; success and
// error are terminal.
const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// Default budget limits applied when no BudgetConfig row has been saved.
const (
	DefaultPerExecutionLimit = 10.0
	DefaultDailyLimit        = 50.0
)

// Workflow is a named graph of nodes and edges.
//
// Names are unique after normalization: leading/trailing whitespace is
// trimmed and collisions receive a " (n)" suffix with the smallest n >= 2.
type Workflow struct {
	// ID is the unique workflow identifier.
	ID string `json:"id"`

	// Name is the display name, unique across workflows.
	Name string `json:"name"`

	// Status tracks the authoring lifecycle (draft, ready, archived).
	Status WorkflowStatus `json:"status"`

	// CreatedAt and UpdatedAt are set by the store in UTC.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Node is a unit of computation in a workflow graph.
//
// Nodes carry no persisted status. Status (idle, running, confirmed, error)
// is a transient per-session property emitted by the engine.
type Node struct {
	// ID is the unique node identifier within the workflow.
	ID string `json:"id"`

	// WorkflowID is the owning workflow. Nodes are cascade-deleted with it.
	WorkflowID string `json:"workflowId"`

	// Type selects the handler via the node registry.
	Type string `json:"type"`

	// X and Y are the canvas position. Opaque to the engine.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Params is the opaque parameter map passed to the handler.
	Params map[string]interface{} `json:"params"`

	// CurrentOutputID references the Execution designated as this node's
	// live output. Empty when unset. When non-empty it always references
	// an Execution belonging to this node; the store clears it if that
	// Execution is deleted.
	CurrentOutputID string `json:"currentOutputId,omitempty"`
}

// Edge connects a source node's output handle to a target node's input
// handle. The (SourceNode, SourceOutput, TargetNode, TargetInput) tuple is
// unique within a workflow.
type Edge struct {
	ID           string `json:"id"`
	WorkflowID   string `json:"workflowId"`
	SourceNode   string `json:"sourceNode"`
	SourceOutput string `json:"sourceOutput"`
	TargetNode   string `json:"targetNode"`
	TargetInput  string `json:"targetInput"`
}

// GraphDefinition is the full node/edge set of a workflow, used for
// atomic graph overwrites and export.
type GraphDefinition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Execution records one attempt to run a node.
//
// Rows are immutable once finalized except for Score and Starred, which the
// user sets later. Executions are cascade-deleted with their node and
// workflow.
type Execution struct {
	// ID is the unique execution identifier.
	ID string `json:"id"`

	// NodeID and WorkflowID identify the node this execution belongs to.
	NodeID     string `json:"nodeId"`
	WorkflowID string `json:"workflowId"`

	// InputHash and ParamsHash are canonical content hashes of the
	// resolved inputs and the node params. Together with NodeID and a
	// success status they form the result-cache key.
	InputHash  string `json:"inputHash"`
	ParamsHash string `json:"paramsHash"`

	// Status is the execution outcome.
	Status ExecutionStatus `json:"status"`

	// ResultPath is the primary result location (URL or local path).
	// Empty when the handler produced none.
	ResultPath string `json:"resultPath,omitempty"`

	// ResultMetadata holds per-output-key result values. Values are
	// either a URL string or an array of URL strings.
	ResultMetadata map[string]interface{} `json:"resultMetadata,omitempty"`

	// ErrorMessage holds the handler's error text for failed executions.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// DurationMs is the handler-reported duration, with a wall-clock
	// fallback measured by the engine.
	DurationMs int64 `json:"durationMs"`

	// Cost is the handler-reported spend for this execution.
	Cost float64 `json:"cost"`

	// CreatedAt is set by the store in UTC.
	CreatedAt time.Time `json:"createdAt"`

	// Score is a user-assigned rating. Nil when unrated.
	Score *float64 `json:"score,omitempty"`

	// Starred marks user favorites.
	Starred bool `json:"starred"`
}

// ExecutionResult carries the fields written when an execution finishes.
type ExecutionResult struct {
	Status         ExecutionStatus
	ResultPath     string
	ResultMetadata map[string]interface{}
	ErrorMessage   string
	DurationMs     int64
	Cost           float64
}

// BudgetConfig is the singleton pair of spend limits.
type BudgetConfig struct {
	// PerExecutionLimit caps the estimated cost of a single run request.
	PerExecutionLimit float64 `json:"perExecutionLimit"`

	// DailyLimit caps accumulated spend per UTC calendar day.
	DailyLimit float64 `json:"dailyLimit"`
}

// Store provides durable state for the execution engine.
//
// Implementations:
//   - MemStore: in-memory, for tests and ephemeral runs (memory.go)
//   - SQLiteStore: single-file embedded database (sqlite.go)
//   - MySQLStore: server-backed deployments (mysql.go)
//
// All methods are safe for concurrent use. Mutating methods return an error
// after Close.
type Store interface {
	// CreateWorkflow creates a workflow with a normalized unique name and
	// an empty graph. Status starts as draft.
	CreateWorkflow(ctx context.Context, name string) (*Workflow, error)

	// GetWorkflow returns the workflow by id.
	// Returns ErrNotFound if it does not exist.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// ListWorkflows returns all workflows ordered by most recent update.
	ListWorkflows(ctx context.Context) ([]*Workflow, error)

	// RenameWorkflow sets a new normalized unique name.
	RenameWorkflow(ctx context.Context, id, name string) (*Workflow, error)

	// SetWorkflowStatus moves the workflow between draft, ready, archived.
	SetWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error

	// DeleteWorkflow removes the workflow and cascades to its nodes,
	// edges, and executions.
	DeleteWorkflow(ctx context.Context, id string) error

	// SaveGraph overwrites the workflow's graph: all nodes and edges are
	// deleted and reinserted from def, atomically with the serialized
	// graph definition on the workflow row.
	//
	// Execution history survives the overwrite: referential enforcement
	// is relaxed around the delete/insert pair, executions whose node id
	// did not survive are removed, and each surviving node's
	// CurrentOutputID is restored iff the referenced Execution row still
	// exists.
	SaveGraph(ctx context.Context, workflowID string, def GraphDefinition) error

	// GetGraph returns the workflow's nodes and edges.
	// Returns ErrNotFound if the workflow does not exist.
	GetGraph(ctx context.Context, workflowID string) (*GraphDefinition, error)

	// SetCurrentOutput points nodeID's current output at executionID.
	// An empty executionID clears the pointer.
	SetCurrentOutput(ctx context.Context, workflowID, nodeID, executionID string) error

	// InsertExecution writes a new execution row. The store assigns
	// CreatedAt when zero.
	InsertExecution(ctx context.Context, ex *Execution) error

	// FinalizeExecution fills the outcome fields of a pending execution.
	FinalizeExecution(ctx context.Context, id string, res ExecutionResult) error

	// GetExecution returns the execution by id.
	// Returns ErrNotFound if it does not exist.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns a node's executions, newest first.
	ListExecutions(ctx context.Context, nodeID string) ([]*Execution, error)

	// LookupCached returns the most recent successful execution matching
	// (nodeID, inputHash, paramsHash), or nil when none exists. A miss is
	// not an error.
	LookupCached(ctx context.Context, nodeID, inputHash, paramsHash string) (*Execution, error)

	// DeleteExecution removes one execution and clears any
	// CurrentOutputID pointing at it.
	DeleteExecution(ctx context.Context, id string) error

	// DeleteExecutionsForNode removes all of a node's executions and
	// clears the node's CurrentOutputID.
	DeleteExecutionsForNode(ctx context.Context, nodeID string) error

	// SetExecutionScore sets or clears (nil) the user rating.
	SetExecutionScore(ctx context.Context, id string, score *float64) error

	// SetExecutionStarred sets the user favorite flag.
	SetExecutionStarred(ctx context.Context, id string, starred bool) error

	// GetBudget returns the configured limits, or the package defaults
	// when none have been saved.
	GetBudget(ctx context.Context) (BudgetConfig, error)

	// SetBudget saves the singleton limits.
	SetBudget(ctx context.Context, cfg BudgetConfig) error

	// AddDailySpend atomically adds amount to the given UTC date
	// ("2006-01-02") and returns the new total.
	AddDailySpend(ctx context.Context, date string, amount float64) (float64, error)

	// GetDailySpend returns the accumulated total for the date, zero when
	// no spend has been recorded.
	GetDailySpend(ctx context.Context, date string) (float64, error)

	// Flush forces pending writes to disk immediately, bypassing the
	// debounced persist. Used at shutdown and transactional boundaries.
	Flush(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. Safe to call more than once.
	Close() error
}

// uniqueWorkflowName trims name and resolves collisions against taken by
// appending " (n)" with the smallest n >= 2.
func uniqueWorkflowName(name string, taken map[string]bool) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled Workflow"
	}
	if !taken[name] {
		return name
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// normalizeGraph assigns ids to edges that arrived without one and stamps
// the owning workflow id onto every node and edge.
func normalizeGraph(workflowID string, def *GraphDefinition) {
	for i := range def.Nodes {
		def.Nodes[i].WorkflowID = workflowID
		if def.Nodes[i].Params == nil {
			def.Nodes[i].Params = map[string]interface{}{}
		}
	}
	for i := range def.Edges {
		def.Edges[i].WorkflowID = workflowID
		if def.Edges[i].ID == "" {
			def.Edges[i].ID = uuid.NewString()
		}
	}
}
