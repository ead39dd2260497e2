package engine

import (
	"context"
	"reflect"
	"testing"

	"github.com/weftworks/weft/engine/store"
)

// seedOutput inserts a finalized execution and returns its id for use as a
// node's current output.
func seedOutput(t *testing.T, st store.Store, nodeID string, metadata map[string]interface{}, resultPath string) string {
	t.Helper()
	ex := &store.Execution{
		NodeID:         nodeID,
		WorkflowID:     "wf",
		InputHash:      "ih",
		ParamsHash:     "ph",
		Status:         store.ExecutionSuccess,
		ResultPath:     resultPath,
		ResultMetadata: metadata,
	}
	if err := st.InsertExecution(context.Background(), ex); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}
	return ex.ID
}

func sourceNode(id, outputID string) *store.Node {
	return &store.Node{ID: id, WorkflowID: "wf", Type: "text-input", CurrentOutputID: outputID}
}

// TestResolveInputs_ValueExtraction verifies the metadata-key, resultUrl,
// and resultPath fallback chain.
func TestResolveInputs_ValueExtraction(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "compose"}

	keyed := seedOutput(t, st, "a", map[string]interface{}{"image": "file:///out/a.png"}, "/out/a.raw")
	urlOnly := seedOutput(t, st, "b", map[string]interface{}{"resultUrl": "file:///out/b.mp4"}, "/out/b.raw")
	pathOnly := seedOutput(t, st, "c", nil, "/out/c.wav")
	empty := seedOutput(t, st, "d", nil, "")

	nodes := map[string]*store.Node{
		"a": sourceNode("a", keyed),
		"b": sourceNode("b", urlOnly),
		"c": sourceNode("c", pathOnly),
		"d": sourceNode("d", empty),
	}
	edges := []store.Edge{
		{SourceNode: "a", SourceOutput: "image", TargetNode: "target", TargetInput: "background"},
		{SourceNode: "b", SourceOutput: "video", TargetNode: "target", TargetInput: "clip"},
		{SourceNode: "c", SourceOutput: "audio", TargetNode: "target", TargetInput: "soundtrack"},
		{SourceNode: "d", SourceOutput: "text", TargetNode: "target", TargetInput: "caption"},
	}

	inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}

	// Test 1: per-output-key metadata wins.
	if inputs["background"] != "file:///out/a.png" {
		t.Errorf("expected metadata value for background, got %v", inputs["background"])
	}
	// Test 2: resultUrl fallback when the output key is absent.
	if inputs["clip"] != "file:///out/b.mp4" {
		t.Errorf("expected resultUrl fallback for clip, got %v", inputs["clip"])
	}
	// Test 3: resultPath fallback when metadata has nothing.
	if inputs["soundtrack"] != "/out/c.wav" {
		t.Errorf("expected resultPath fallback for soundtrack, got %v", inputs["soundtrack"])
	}
	// Test 4: no extractable value means no key at all.
	if _, ok := inputs["caption"]; ok {
		t.Errorf("expected caption to be skipped, got %v", inputs["caption"])
	}
}

// TestResolveInputs_SkipRules verifies edges that cannot deliver a value
// are silently skipped.
func TestResolveInputs_SkipRules(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "compose"}

	good := seedOutput(t, st, "ok", map[string]interface{}{"text": "hello"}, "")
	nodes := map[string]*store.Node{
		"ok":        sourceNode("ok", good),
		"no-output": sourceNode("no-output", ""),
		"dangling":  sourceNode("dangling", "exec-gone"),
	}
	edges := []store.Edge{
		{SourceNode: "ok", SourceOutput: "text", TargetNode: "target", TargetInput: "a"},
		{SourceNode: "no-output", SourceOutput: "text", TargetNode: "target", TargetInput: "b"},
		{SourceNode: "dangling", SourceOutput: "text", TargetNode: "target", TargetInput: "c"},
		{SourceNode: "unknown", SourceOutput: "text", TargetNode: "target", TargetInput: "d"},
		{SourceNode: "ok", SourceOutput: "text", TargetNode: "someone-else", TargetInput: "e"},
	}

	inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}

	if len(inputs) != 1 || inputs["a"] != "hello" {
		t.Errorf("expected only input a=hello, got %v", inputs)
	}
}

// TestResolveInputs_ArrayHandles verifies indexed handles merge into dense
// slices with gaps closed and index order preserved.
func TestResolveInputs_ArrayHandles(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "gallery"}

	first := seedOutput(t, st, "a", map[string]interface{}{"image": "one.png"}, "")
	second := seedOutput(t, st, "b", map[string]interface{}{"image": "two.png"}, "")
	third := seedOutput(t, st, "c", map[string]interface{}{"image": "three.png"}, "")

	nodes := map[string]*store.Node{
		"a": sourceNode("a", first),
		"b": sourceNode("b", second),
		"c": sourceNode("c", third),
	}
	// Out-of-order arrival with a gap at index 2.
	edges := []store.Edge{
		{SourceNode: "c", SourceOutput: "image", TargetNode: "target", TargetInput: "images[5]"},
		{SourceNode: "a", SourceOutput: "image", TargetNode: "target", TargetInput: "images[0]"},
		{SourceNode: "b", SourceOutput: "image", TargetNode: "target", TargetInput: "images[1]"},
	}

	inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}

	want := []interface{}{"one.png", "two.png", "three.png"}
	if !reflect.DeepEqual(inputs["images"], want) {
		t.Errorf("expected dense ordered slice %v, got %v", want, inputs["images"])
	}
	for key := range inputs {
		if key != "images" {
			t.Errorf("unexpected residual key %q", key)
		}
	}
}

// TestResolveInputs_ParamHandles verifies param-/input- prefixed handles
// coerce scalars to strings and keep arrays intact.
func TestResolveInputs_ParamHandles(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "image-gen"}

	text := seedOutput(t, st, "a", map[string]interface{}{"text": "a red fox"}, "")
	num := seedOutput(t, st, "b", map[string]interface{}{"value": float64(42)}, "")
	flag := seedOutput(t, st, "c", map[string]interface{}{"value": true}, "")
	list := seedOutput(t, st, "d", map[string]interface{}{"urls": []interface{}{"x.png", "y.png"}}, "")

	nodes := map[string]*store.Node{
		"a": sourceNode("a", text),
		"b": sourceNode("b", num),
		"c": sourceNode("c", flag),
		"d": sourceNode("d", list),
	}
	edges := []store.Edge{
		{SourceNode: "a", SourceOutput: "text", TargetNode: "target", TargetInput: "param-prompt"},
		{SourceNode: "b", SourceOutput: "value", TargetNode: "target", TargetInput: "param-seed"},
		{SourceNode: "c", SourceOutput: "value", TargetNode: "target", TargetInput: "input-enabled"},
		{SourceNode: "d", SourceOutput: "urls", TargetNode: "target", TargetInput: "param-references"},
	}

	inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}

	if inputs["prompt"] != "a red fox" {
		t.Errorf("expected prompt string, got %v", inputs["prompt"])
	}
	if inputs["seed"] != "42" {
		t.Errorf("expected numeric coerced to \"42\", got %v", inputs["seed"])
	}
	if inputs["enabled"] != "true" {
		t.Errorf("expected boolean coerced to \"true\", got %v", inputs["enabled"])
	}
	want := []interface{}{"x.png", "y.png"}
	if !reflect.DeepEqual(inputs["references"], want) {
		t.Errorf("expected array kept intact, got %v", inputs["references"])
	}
}

// TestResolveInputs_PlainHandles verifies unprefixed handles pass values
// through unchanged.
func TestResolveInputs_PlainHandles(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "compose"}

	list := seedOutput(t, st, "a", map[string]interface{}{"frames": []interface{}{"f1", "f2"}}, "")
	num := seedOutput(t, st, "b", map[string]interface{}{"value": float64(7)}, "")

	nodes := map[string]*store.Node{
		"a": sourceNode("a", list),
		"b": sourceNode("b", num),
	}
	edges := []store.Edge{
		{SourceNode: "a", SourceOutput: "frames", TargetNode: "target", TargetInput: "frames"},
		{SourceNode: "b", SourceOutput: "value", TargetNode: "target", TargetInput: "count"},
	}

	inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}

	if !reflect.DeepEqual(inputs["frames"], []interface{}{"f1", "f2"}) {
		t.Errorf("expected frames unchanged, got %v", inputs["frames"])
	}
	if inputs["count"] != float64(7) {
		t.Errorf("expected count uncoerced, got %v (%T)", inputs["count"], inputs["count"])
	}
}

// TestResolveInputs_MalformedArrayHandles verifies near-miss handles fall
// back to verbatim keys.
func TestResolveInputs_MalformedArrayHandles(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	r := NewResolver(st)
	target := &store.Node{ID: "target", WorkflowID: "wf", Type: "compose"}

	out := seedOutput(t, st, "a", map[string]interface{}{"text": "v"}, "")
	nodes := map[string]*store.Node{"a": sourceNode("a", out)}

	for _, handle := range []string{"images[x]", "[3]", "images[-1]", "images["} {
		edges := []store.Edge{
			{SourceNode: "a", SourceOutput: "text", TargetNode: "target", TargetInput: handle},
		}
		inputs, err := r.ResolveInputs(context.Background(), target, edges, nodes)
		if err != nil {
			t.Fatalf("ResolveInputs(%q) failed: %v", handle, err)
		}
		if inputs[handle] != "v" {
			t.Errorf("handle %q: expected verbatim key, got %v", handle, inputs)
		}
	}
}
