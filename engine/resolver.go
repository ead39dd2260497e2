package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/weftworks/weft/engine/store"
)

// arrayStagePrefix marks staging keys for array-indexed handles while a
// node's in-edges are being resolved. Staged entries are merged into dense
// slices and removed before the inputs map is returned.
const arrayStagePrefix = "__array__:"

// resultURLKey is the metadata fallback key handlers write their primary
// URL under when they produce no per-output entries.
const resultURLKey = "resultUrl"

// Resolver assembles a node's inputs from the current outputs of its
// upstream nodes.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver reading executions from st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveInputs produces the inputs map a handler consumes, given the
// target node, its in-edges, and all nodes of the workflow keyed by id.
//
// Per in-edge, the upstream value comes from the source node's current
// output Execution: resultMetadata[sourceOutputKey], falling back to
// resultMetadata["resultUrl"], falling back to the execution's ResultPath.
// Edges whose source has no current output, whose Execution is gone, or
// whose Execution carries no extractable value are skipped, not errors.
//
// The target handle selects the destination key:
//   - "name[i]" places the value at index i of a slice under "name";
//     indexes are merged densely in order, gaps closed
//   - "param-X" and "input-X" write under "X"; arrays stay arrays, scalars
//     are coerced to their string form
//   - anything else is used as the key verbatim, value unchanged
//
// The resolver makes no type-compatibility decisions; connection rules are
// enforced at edit time (see DataTypesCompatible).
func (r *Resolver) ResolveInputs(ctx context.Context, node *store.Node, inEdges []store.Edge, nodes map[string]*store.Node) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	for _, edge := range inEdges {
		if edge.TargetNode != node.ID {
			continue
		}
		source, ok := nodes[edge.SourceNode]
		if !ok || source.CurrentOutputID == "" {
			continue
		}

		ex, err := r.store.GetExecution(ctx, source.CurrentOutputID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load output of node %s: %w", edge.SourceNode, err)
		}

		value := extractOutput(ex, edge.SourceOutput)
		if value == nil {
			continue
		}

		assignInput(inputs, edge.TargetInput, value)
	}

	mergeStagedArrays(inputs)
	return inputs, nil
}

// extractOutput pulls the value an edge carries out of an execution.
func extractOutput(ex *store.Execution, outputKey string) interface{} {
	if ex.ResultMetadata != nil {
		if v, ok := ex.ResultMetadata[outputKey]; ok && v != nil {
			return v
		}
		if v, ok := ex.ResultMetadata[resultURLKey]; ok && v != nil {
			return v
		}
	}
	if ex.ResultPath != "" {
		return ex.ResultPath
	}
	return nil
}

// assignInput routes one value into the inputs map according to the target
// handle grammar.
func assignInput(inputs map[string]interface{}, handle string, value interface{}) {
	if name, index, ok := parseArrayHandle(handle); ok {
		key := arrayStagePrefix + name
		staged, _ := inputs[key].(map[int]interface{})
		if staged == nil {
			staged = make(map[int]interface{})
			inputs[key] = staged
		}
		staged[index] = value
		return
	}

	if key, ok := strippedHandle(handle, "param-"); ok {
		inputs[key] = coerceParamValue(value)
		return
	}
	if key, ok := strippedHandle(handle, "input-"); ok {
		inputs[key] = coerceParamValue(value)
		return
	}

	inputs[handle] = value
}

// parseArrayHandle decodes "name[i]" into (name, i). Handles with an empty
// name or a non-numeric index fall through to plain-key treatment.
func parseArrayHandle(handle string) (string, int, bool) {
	if !strings.HasSuffix(handle, "]") {
		return "", 0, false
	}
	open := strings.LastIndex(handle, "[")
	if open <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(handle[open+1 : len(handle)-1])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return handle[:open], index, true
}

func strippedHandle(handle, prefix string) (string, bool) {
	if !strings.HasPrefix(handle, prefix) {
		return "", false
	}
	return strings.TrimPrefix(handle, prefix), true
}

// coerceParamValue keeps arrays as arrays and renders scalars as strings,
// matching how hand-entered parameter values arrive.
func coerceParamValue(value interface{}) interface{} {
	if value == nil {
		return value
	}
	if reflect.TypeOf(value).Kind() == reflect.Slice {
		return value
	}
	return fmt.Sprintf("%v", value)
}

// mergeStagedArrays collapses staged array-indexed entries into dense
// slices ordered by index, then drops the staging keys.
func mergeStagedArrays(inputs map[string]interface{}) {
	var stagingKeys []string
	for key := range inputs {
		if strings.HasPrefix(key, arrayStagePrefix) {
			stagingKeys = append(stagingKeys, key)
		}
	}

	for _, key := range stagingKeys {
		staged, ok := inputs[key].(map[int]interface{})
		delete(inputs, key)
		if !ok {
			continue
		}

		indexes := make([]int, 0, len(staged))
		for i := range staged {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)

		merged := make([]interface{}, 0, len(indexes))
		for _, i := range indexes {
			if staged[i] != nil {
				merged = append(merged, staged[i])
			}
		}

		inputs[strings.TrimPrefix(key, arrayStagePrefix)] = merged
	}
}
