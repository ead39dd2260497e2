package store

import (
	"testing"
)

// TestUniqueWorkflowName verifies name normalization: trimming, the default
// for blank names, and numeric suffixes for collisions.
func TestUniqueWorkflowName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		taken map[string]bool
		want  string
	}{
		{
			name:  "free name passes through",
			input: "My Workflow",
			taken: map[string]bool{},
			want:  "My Workflow",
		},
		{
			name:  "whitespace is trimmed",
			input: "  My Workflow  ",
			taken: map[string]bool{},
			want:  "My Workflow",
		},
		{
			name:  "empty name gets the default",
			input: "",
			taken: map[string]bool{},
			want:  "Untitled Workflow",
		},
		{
			name:  "whitespace-only name gets the default",
			input: "   ",
			taken: map[string]bool{},
			want:  "Untitled Workflow",
		},
		{
			name:  "first collision gets (2)",
			input: "My Workflow",
			taken: map[string]bool{"My Workflow": true},
			want:  "My Workflow (2)",
		},
		{
			name:  "suffix skips taken numbers",
			input: "My Workflow",
			taken: map[string]bool{"My Workflow": true, "My Workflow (2)": true, "My Workflow (3)": true},
			want:  "My Workflow (4)",
		},
		{
			name:  "default name also gets suffixed",
			input: "",
			taken: map[string]bool{"Untitled Workflow": true},
			want:  "Untitled Workflow (2)",
		},
		{
			name:  "suffix collides with an existing literal",
			input: "Render (2)",
			taken: map[string]bool{"Render (2)": true},
			want:  "Render (2) (2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uniqueWorkflowName(tt.input, tt.taken)
			if got != tt.want {
				t.Errorf("uniqueWorkflowName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestNormalizeGraph verifies workflow stamping, edge id generation, and
// params defaulting before rows hit a backend.
func TestNormalizeGraph(t *testing.T) {
	def := GraphDefinition{
		Nodes: []Node{
			{ID: "n1", Type: "generate"},
			{ID: "n2", Type: "upscale", Params: map[string]interface{}{"factor": float64(2)}},
		},
		Edges: []Edge{
			{ID: "keep-me", SourceNode: "n1", SourceOutput: "o", TargetNode: "n2", TargetInput: "i"},
			{SourceNode: "n2", SourceOutput: "o", TargetNode: "n1", TargetInput: "j"},
		},
	}

	normalizeGraph("wf-1", &def)

	for _, n := range def.Nodes {
		if n.WorkflowID != "wf-1" {
			t.Errorf("node %s missing workflow stamp: %q", n.ID, n.WorkflowID)
		}
		if n.Params == nil {
			t.Errorf("node %s has nil params after normalize", n.ID)
		}
	}
	if def.Nodes[1].Params["factor"] != float64(2) {
		t.Errorf("existing params were replaced: %v", def.Nodes[1].Params)
	}

	if def.Edges[0].ID != "keep-me" {
		t.Errorf("existing edge id was replaced: %q", def.Edges[0].ID)
	}
	if def.Edges[1].ID == "" {
		t.Error("expected generated id for edge without one")
	}
	for _, e := range def.Edges {
		if e.WorkflowID != "wf-1" {
			t.Errorf("edge %s missing workflow stamp: %q", e.ID, e.WorkflowID)
		}
	}
}
