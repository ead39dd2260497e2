package emit

import (
	"testing"
)

// TestBufferedEmitter_History verifies per-workflow retention in emission
// order.
func TestBufferedEmitter_History(t *testing.T) {
	b := NewBufferedEmitter()

	b.Emit(NodeStatusEvent("wf-1", "n1", NodeRunning, ""))
	b.Emit(NodeStatusEvent("wf-1", "n1", NodeConfirmed, ""))
	b.Emit(NodeStatusEvent("wf-2", "x1", NodeRunning, ""))

	history := b.GetHistory("wf-1")
	if len(history) != 2 {
		t.Fatalf("expected 2 events for wf-1, got %d", len(history))
	}
	if history[0].Status != string(NodeRunning) || history[1].Status != string(NodeConfirmed) {
		t.Errorf("unexpected order: %+v", history)
	}

	if got := b.GetHistory("wf-2"); len(got) != 1 {
		t.Errorf("expected 1 event for wf-2, got %d", len(got))
	}
	if got := b.GetHistory("unknown"); len(got) != 0 {
		t.Errorf("expected empty history for unknown workflow, got %d", len(got))
	}
}

// TestBufferedEmitter_HistoryIsCopy verifies callers cannot mutate buffered
// state through the returned slice.
func TestBufferedEmitter_HistoryIsCopy(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(NodeStatusEvent("wf-1", "n1", NodeRunning, ""))

	first := b.GetHistory("wf-1")
	first[0].Status = "tampered"

	if got := b.GetHistory("wf-1"); got[0].Status != string(NodeRunning) {
		t.Errorf("buffered event mutated through returned slice: %+v", got[0])
	}
}

// TestBufferedEmitter_Filter verifies AND semantics across filter fields.
func TestBufferedEmitter_Filter(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(NodeStatusEvent("wf-1", "n1", NodeRunning, ""))
	b.Emit(NodeStatusEvent("wf-1", "n1", NodeError, "boom"))
	b.Emit(NodeStatusEvent("wf-1", "n2", NodeError, "bust"))
	b.Emit(ProgressEvent("wf-1", "n1", 10, ""))
	b.Emit(EdgeStatusEvent("wf-1", "e1", EdgeHasData))

	errors := b.GetHistoryWithFilter("wf-1", HistoryFilter{Status: string(NodeError)})
	if len(errors) != 2 {
		t.Errorf("expected 2 error events, got %d", len(errors))
	}

	n1Errors := b.GetHistoryWithFilter("wf-1", HistoryFilter{NodeID: "n1", Status: string(NodeError)})
	if len(n1Errors) != 1 || n1Errors[0].ErrorMessage != "boom" {
		t.Errorf("unexpected n1 errors: %+v", n1Errors)
	}

	progress := b.GetHistoryWithFilter("wf-1", HistoryFilter{Channel: ChannelProgress})
	if len(progress) != 1 || progress[0].Progress != 10 {
		t.Errorf("unexpected progress events: %+v", progress)
	}

	edges := b.GetHistoryWithFilter("wf-1", HistoryFilter{EdgeID: "e1"})
	if len(edges) != 1 {
		t.Errorf("expected 1 edge event, got %d", len(edges))
	}

	all := b.GetHistoryWithFilter("wf-1", HistoryFilter{})
	if len(all) != 5 {
		t.Errorf("expected empty filter to match everything, got %d", len(all))
	}
}

// TestBufferedEmitter_Clear verifies single-workflow and global clears.
func TestBufferedEmitter_Clear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(NodeStatusEvent("wf-1", "n1", NodeRunning, ""))
	b.Emit(NodeStatusEvent("wf-2", "n1", NodeRunning, ""))

	b.Clear("wf-1")
	if len(b.GetHistory("wf-1")) != 0 {
		t.Error("expected wf-1 cleared")
	}
	if len(b.GetHistory("wf-2")) != 1 {
		t.Error("expected wf-2 retained")
	}

	b.Clear("")
	if len(b.GetHistory("wf-2")) != 0 {
		t.Error("expected all workflows cleared")
	}
}
