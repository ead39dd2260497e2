package engine

import (
	"errors"
	"testing"
)

func textDef(nodeType string) NodeDefinition {
	return NodeDefinition{
		Type:     nodeType,
		Label:    "Text",
		Category: "input",
		Outputs: []PortSpec{
			{Key: "text", Label: "Text", DataType: "text"},
		},
		Params: []ParamSpec{
			{Key: "value", Label: "Value", Type: "string", Default: ""},
		},
	}
}

// TestRegistry_Register verifies registration and duplicate rejection.
func TestRegistry_Register(t *testing.T) {
	t.Run("registered handler is retrievable", func(t *testing.T) {
		r := NewRegistry()
		mock := &MockHandler{}

		if err := r.Register(textDef("text-input"), mock); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		h, err := r.Get("text-input")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if h != Handler(mock) {
			t.Error("expected Get to return the registered handler")
		}
	})

	t.Run("duplicate type is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(textDef("text-input"), &MockHandler{}); err != nil {
			t.Fatalf("first Register failed: %v", err)
		}

		err := r.Register(textDef("text-input"), &MockHandler{})
		if err == nil {
			t.Fatal("expected error registering duplicate type")
		}
	})

	t.Run("empty type is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(NodeDefinition{}, &MockHandler{}); err == nil {
			t.Fatal("expected error registering definition without a type")
		}
	})

	t.Run("nil handler is rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(textDef("text-input"), nil); err == nil {
			t.Fatal("expected error registering nil handler")
		}
	})
}

// TestRegistry_UnknownType verifies that lookups of unregistered types
// surface ErrUnknownNodeType for callers to classify.
func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("no-such-type"); !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("Get: expected ErrUnknownNodeType, got %v", err)
	}
	if _, err := r.Definition("no-such-type"); !errors.Is(err, ErrUnknownNodeType) {
		t.Errorf("Definition: expected ErrUnknownNodeType, got %v", err)
	}
}

// TestRegistry_Definition verifies the stored definition round-trips.
func TestRegistry_Definition(t *testing.T) {
	r := NewRegistry()
	def := NodeDefinition{
		Type:     "image-gen",
		Label:    "Image Generation",
		Category: "ai",
		Inputs: []PortSpec{
			{Key: "prompt", Label: "Prompt", DataType: "text", Required: true},
		},
		Outputs: []PortSpec{
			{Key: "image", Label: "Image", DataType: "image"},
		},
		Params: []ParamSpec{
			{Key: "model", Label: "Model", Type: "select", Options: []string{"sd-xl", "flux"}},
			{Key: "seed", Label: "Seed", Type: "number", Default: float64(0), Connectable: true, DataType: "text"},
		},
		CostPerExecution: 0.04,
	}

	if err := r.Register(def, &MockHandler{EstimatedCost: 0.04}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := r.Definition("image-gen")
	if err != nil {
		t.Fatalf("Definition failed: %v", err)
	}
	if got.Label != "Image Generation" || got.Category != "ai" {
		t.Errorf("unexpected definition: %+v", got)
	}
	if len(got.Inputs) != 1 || !got.Inputs[0].Required {
		t.Errorf("unexpected inputs: %+v", got.Inputs)
	}
	if len(got.Params) != 2 || len(got.Params[0].Options) != 2 {
		t.Errorf("unexpected params: %+v", got.Params)
	}
	if got.CostPerExecution != 0.04 {
		t.Errorf("expected cost 0.04, got %v", got.CostPerExecution)
	}
}

// TestRegistry_List verifies definitions come back sorted by type.
func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"video-gen", "text-input", "image-gen"} {
		if err := r.Register(textDef(typ), &MockHandler{}); err != nil {
			t.Fatalf("Register(%s) failed: %v", typ, err)
		}
	}

	defs := r.List()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	want := []string{"image-gen", "text-input", "video-gen"}
	for i, typ := range want {
		if defs[i].Type != typ {
			t.Errorf("List[%d]: expected %s, got %s", i, typ, defs[i].Type)
		}
	}

	if got := NewRegistry().List(); len(got) != 0 {
		t.Errorf("expected empty list from fresh registry, got %d", len(got))
	}
}

// TestDataTypesCompatible verifies the edit-time connection rules.
func TestDataTypesCompatible(t *testing.T) {
	tests := []struct {
		source string
		target string
		want   bool
	}{
		{"text", "text", true},
		{"image", "image", true},
		{"text", "boolean", false},
		{"boolean", "text", false},
		{"any", "text", true},
		{"text", "any", true},
		{"any", "any", true},
		{"image", "url", true},
		{"video", "url", true},
		{"audio", "url", true},
		{"url", "image", false},
		{"url", "video", false},
		{"text", "url", false},
		{"url", "text", false},
		{"image", "video", false},
		{"", "text", true},
		{"text", "", true},
	}

	for _, tt := range tests {
		if got := DataTypesCompatible(tt.source, tt.target); got != tt.want {
			t.Errorf("DataTypesCompatible(%q, %q) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}
}
