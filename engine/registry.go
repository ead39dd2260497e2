package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weftworks/weft/engine/store"
)

// PortSpec describes one input or output connector on a node type.
type PortSpec struct {
	// Key is the handle name edges reference.
	Key string `json:"key"`

	// Label is the human-readable name shown in editors.
	Label string `json:"label"`

	// DataType declares what flows through the port: text, boolean, url,
	// image, video, audio, or any.
	DataType string `json:"dataType"`

	// Required marks inputs that must be connected or supplied.
	Required bool `json:"required"`
}

// ParamSpec describes one configurable parameter of a node type.
type ParamSpec struct {
	Key     string      `json:"key"`
	Label   string      `json:"label"`
	Type    string      `json:"type"`
	Default interface{} `json:"default,omitempty"`

	// Options constrains enum-style parameters.
	Options []string `json:"options,omitempty"`

	// DataType applies when the parameter is connectable: an edge may
	// feed it instead of a hand-entered value.
	DataType    string `json:"dataType,omitempty"`
	Connectable bool   `json:"connectable,omitempty"`
	Description string `json:"description,omitempty"`
}

// NodeDefinition declares a node type's shape: its ports, parameters, and
// baseline cost. Each registered handler carries one.
type NodeDefinition struct {
	Type             string      `json:"type"`
	Label            string      `json:"label"`
	Category         string      `json:"category"`
	Inputs           []PortSpec  `json:"inputs"`
	Outputs          []PortSpec  `json:"outputs"`
	Params           []ParamSpec `json:"params"`
	CostPerExecution float64     `json:"costPerExecution,omitempty"`
}

// ValidationResult reports whether a node's parameters are acceptable for
// execution.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ProgressFunc receives completion percentage (0-100) and an optional
// status message from a running handler.
type ProgressFunc func(percent float64, message string)

// HandlerContext carries everything a handler needs for one execution.
type HandlerContext struct {
	// NodeID and NodeType identify the node being executed.
	NodeID   string
	NodeType string

	// WorkflowID identifies the run's workflow.
	WorkflowID string

	// Inputs is the resolved input map: upstream outputs keyed by the
	// target handles of this node's in-edges.
	Inputs map[string]interface{}

	// Params is the node's parameter map as saved in the graph.
	Params map[string]interface{}

	// Progress forwards completion updates to subscribers. Never nil.
	Progress ProgressFunc
}

// HandlerResult is a handler's report of one execution.
type HandlerResult struct {
	// Status is success or error.
	Status store.ExecutionStatus

	// Outputs maps output handle keys to produced values. Downstream
	// nodes resolve their inputs from this map.
	Outputs map[string]interface{}

	// ResultPath points at the primary artifact on disk, if any.
	ResultPath string

	// ResultMetadata holds handler-specific details (model, dimensions,
	// seeds) persisted with the execution.
	ResultMetadata map[string]interface{}

	// DurationMs is the handler's own timing. Zero means the engine
	// falls back to wall-clock measurement.
	DurationMs int64

	// Cost is the actual spend in dollars reported by the handler.
	Cost float64

	// Err carries the failure message when Status is error.
	Err string
}

// Handler implements one node type's capability.
//
// Execute runs under the engine's cancellation context: a cancelled ctx
// means the user aborted, and the handler should return promptly.
// EstimateCost and Validate are pure and must not block.
type Handler interface {
	Execute(ctx context.Context, hc HandlerContext) (*HandlerResult, error)
	EstimateCost(params map[string]interface{}) float64
	Validate(params map[string]interface{}) ValidationResult
}

// Registry maps node-type strings to handlers and their definitions.
//
// Thread-safety: all methods are safe for concurrent use. Registration
// normally happens once at startup, but nothing prevents late additions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	defs     map[string]NodeDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		defs:     make(map[string]NodeDefinition),
	}
}

// Register adds a handler under def.Type. Registering the same type twice
// is an error; a type is one capability, not a dispatch chain.
func (r *Registry) Register(def NodeDefinition, h Handler) error {
	if def.Type == "" {
		return fmt.Errorf("node definition has no type")
	}
	if h == nil {
		return fmt.Errorf("handler for type %q is nil", def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Type]; exists {
		return fmt.Errorf("node type %q is already registered", def.Type)
	}
	r.handlers[def.Type] = h
	r.defs[def.Type] = def
	return nil
}

// Get returns the handler for a node type. An unknown type wraps
// ErrUnknownNodeType so dispatch sites can classify it as a programming
// error rather than a node failure.
func (r *Registry) Get(nodeType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return h, nil
}

// Definition returns the node type's declared shape.
func (r *Registry) Definition(nodeType string) (NodeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[nodeType]
	if !ok {
		return NodeDefinition{}, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return def, nil
}

// List returns every registered definition sorted by type.
func (r *Registry) List() []NodeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DataTypesCompatible reports whether a value of the source port type may
// flow into a target port at edit time:
//
//   - identical types always match
//   - "any" matches in both directions
//   - "url" accepts the media types (image, video, audio), since media
//     results are addressed by path or URL
//   - an unspecified type behaves like "any"
func DataTypesCompatible(source, target string) bool {
	if source == "" || target == "" {
		return true
	}
	if source == target {
		return true
	}
	if source == "any" || target == "any" {
		return true
	}
	if target == "url" {
		switch source {
		case "image", "video", "audio":
			return true
		}
	}
	return false
}
