package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// TestMemStore_Construction verifies MemStore can be constructed.
func TestMemStore_Construction(t *testing.T) {
	t.Run("construct with NewMemStore", func(t *testing.T) {
		st := NewMemStore()
		if st == nil {
			t.Fatal("NewMemStore returned nil")
		}
		var _ Store = st
	})

	t.Run("new store is empty", func(t *testing.T) {
		st := NewMemStore()
		ctx := context.Background()

		_, err := st.GetWorkflow(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for empty store, got %v", err)
		}
		all, err := st.ListWorkflows(ctx)
		if err != nil {
			t.Fatalf("ListWorkflows failed: %v", err)
		}
		if len(all) != 0 {
			t.Errorf("expected empty list, got %d", len(all))
		}
	})

	t.Run("multiple stores are independent", func(t *testing.T) {
		st1 := NewMemStore()
		st2 := NewMemStore()
		ctx := context.Background()

		w, _ := st1.CreateWorkflow(ctx, "only-in-one")
		_, err := st2.GetWorkflow(ctx, w.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Error("st2 should not have data from st1")
		}
	})
}

// TestMemStore_DeepCopyIsolation verifies callers cannot mutate stored state
// through returned values, and the store does not alias caller-owned maps.
func TestMemStore_DeepCopyIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	w, _ := st.CreateWorkflow(ctx, "Isolation")
	params := map[string]interface{}{"prompt": "a cat", "nested": map[string]interface{}{"k": "v"}}
	def := GraphDefinition{
		Nodes: []Node{{ID: "n1", Type: "generate", Params: params}},
	}
	if err := st.SaveGraph(ctx, w.ID, def); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}

	// Test 1: Mutating the caller's map after save does not leak in
	params["prompt"] = "a dog"
	params["nested"].(map[string]interface{})["k"] = "changed"

	g, err := st.GetGraph(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetGraph failed: %v", err)
	}
	if g.Nodes[0].Params["prompt"] != "a cat" {
		t.Errorf("stored params aliased the caller's map: %v", g.Nodes[0].Params)
	}
	if g.Nodes[0].Params["nested"].(map[string]interface{})["k"] != "v" {
		t.Errorf("stored nested params aliased the caller's map: %v", g.Nodes[0].Params)
	}

	// Test 2: Mutating a returned map does not write back
	g.Nodes[0].Params["prompt"] = "a bird"
	g2, _ := st.GetGraph(ctx, w.ID)
	if g2.Nodes[0].Params["prompt"] != "a cat" {
		t.Errorf("returned params aliased stored state: %v", g2.Nodes[0].Params)
	}

	// Test 3: Execution metadata is isolated both ways
	meta := map[string]interface{}{"model": "sdxl"}
	ex := &Execution{NodeID: "n1", WorkflowID: w.ID, InputHash: "i", ParamsHash: "p", Status: ExecutionSuccess, ResultMetadata: meta}
	if err := st.InsertExecution(ctx, ex); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}
	meta["model"] = "mutated"

	got, err := st.GetExecution(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.ResultMetadata["model"] != "sdxl" {
		t.Errorf("stored metadata aliased the caller's map: %v", got.ResultMetadata)
	}
	got.ResultMetadata["model"] = "poked"
	again, _ := st.GetExecution(ctx, ex.ID)
	if again.ResultMetadata["model"] != "sdxl" {
		t.Errorf("returned metadata aliased stored state: %v", again.ResultMetadata)
	}

	// Test 4: Score pointers are not shared
	score := 3.0
	if err := st.SetExecutionScore(ctx, ex.ID, &score); err != nil {
		t.Fatalf("SetExecutionScore failed: %v", err)
	}
	score = 99
	rated, _ := st.GetExecution(ctx, ex.ID)
	if rated.Score == nil || *rated.Score != 3.0 {
		t.Errorf("score pointer aliased the caller's variable: %v", rated.Score)
	}
}

// TestMemStore_GraphOrderStability verifies GetGraph returns nodes and edges
// in the order they were saved. Level-order scheduling depends on this.
func TestMemStore_GraphOrderStability(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	w, _ := st.CreateWorkflow(ctx, "Order")
	def := GraphDefinition{
		Nodes: []Node{
			{ID: "c", Type: "t", Params: map[string]interface{}{}},
			{ID: "a", Type: "t", Params: map[string]interface{}{}},
			{ID: "b", Type: "t", Params: map[string]interface{}{}},
		},
		Edges: []Edge{
			{SourceNode: "c", SourceOutput: "o", TargetNode: "a", TargetInput: "i"},
			{SourceNode: "a", SourceOutput: "o", TargetNode: "b", TargetInput: "i"},
		},
	}
	if err := st.SaveGraph(ctx, w.ID, def); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		g, err := st.GetGraph(ctx, w.ID)
		if err != nil {
			t.Fatalf("GetGraph failed: %v", err)
		}
		if g.Nodes[0].ID != "c" || g.Nodes[1].ID != "a" || g.Nodes[2].ID != "b" {
			t.Fatalf("node order changed on read %d: %v %v %v", i, g.Nodes[0].ID, g.Nodes[1].ID, g.Nodes[2].ID)
		}
		if g.Edges[0].SourceNode != "c" || g.Edges[1].SourceNode != "a" {
			t.Fatalf("edge order changed on read %d", i)
		}
	}
}

// TestMemStore_ConcurrentAccess verifies parallel writers and readers do not
// race or lose writes.
func TestMemStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	w, _ := st.CreateWorkflow(ctx, "Concurrent")
	if err := st.SaveGraph(ctx, w.ID, GraphDefinition{
		Nodes: []Node{{ID: "n1", Type: "generate", Params: map[string]interface{}{}}},
	}); err != nil {
		t.Fatalf("SaveGraph failed: %v", err)
	}

	const numWriters = 10
	const perWriter = 20
	var wg sync.WaitGroup
	errCh := make(chan error, numWriters*2)

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				ex := &Execution{
					NodeID:     "n1",
					WorkflowID: w.ID,
					InputHash:  fmt.Sprintf("in-%d-%d", id, j),
					ParamsHash: "p",
					Status:     ExecutionSuccess,
				}
				if err := st.InsertExecution(ctx, ex); err != nil {
					errCh <- fmt.Errorf("writer %d: %w", id, err)
					return
				}
			}
		}(i)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if _, err := st.ListExecutions(ctx, "n1"); err != nil {
					errCh <- fmt.Errorf("reader %d: %w", id, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	list, err := st.ListExecutions(ctx, "n1")
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(list) != numWriters*perWriter {
		t.Errorf("expected %d executions, got %d", numWriters*perWriter, len(list))
	}
}

// TestMemStore_ClosedStoreErrors verifies operations fail after Close.
func TestMemStore_ClosedStoreErrors(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := st.CreateWorkflow(ctx, "x"); err == nil {
		t.Error("expected CreateWorkflow to fail on closed store")
	}
	if _, err := st.ListWorkflows(ctx); err == nil {
		t.Error("expected ListWorkflows to fail on closed store")
	}
	if err := st.SaveGraph(ctx, "id", GraphDefinition{}); err == nil {
		t.Error("expected SaveGraph to fail on closed store")
	}
	if err := st.InsertExecution(ctx, &Execution{}); err == nil {
		t.Error("expected InsertExecution to fail on closed store")
	}
	if _, err := st.LookupCached(ctx, "n", "i", "p"); err == nil {
		t.Error("expected LookupCached to fail on closed store")
	}
	if err := st.Flush(ctx); err == nil {
		t.Error("expected Flush to fail on closed store")
	}
	if err := st.Ping(ctx); err == nil {
		t.Error("expected Ping to fail on closed store")
	}

	// Double close should be safe (no-op)
	if err := st.Close(); err != nil {
		t.Error("expected double Close to succeed (no-op)")
	}
}

// TestMemStore_InterfaceCompliance verifies MemStore implements Store.
func TestMemStore_InterfaceCompliance(t *testing.T) {
	var _ Store = (*MemStore)(nil)
}
