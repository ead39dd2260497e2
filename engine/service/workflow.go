package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/engine/store"
)

// WorkflowReply pairs a workflow row with its graph.
type WorkflowReply struct {
	Workflow *store.Workflow        `json:"workflow"`
	Graph    *store.GraphDefinition `json:"graph"`
}

// SaveReply reports a graph save. Validation maps node id to parameter
// findings; drafts may hold incomplete params, so findings are reported
// without blocking the save. Run requests enforce them.
type SaveReply struct {
	Workflow   *store.Workflow     `json:"workflow"`
	Validation map[string][]string `json:"validation,omitempty"`
}

func (s *Service) workflowCreate(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	wf, err := s.store.CreateWorkflow(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	s.log.Info("workflow created", "workflow", wf.ID, "name", wf.Name)
	return wf, nil
}

func (s *Service) workflowSave(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string                `json:"workflowId"`
		Graph      store.GraphDefinition `json:"graph"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if engine.HasCycle(&req.Graph) {
		return nil, fmt.Errorf("workflow %s: graph contains a cycle", req.WorkflowID)
	}

	validation := s.validateGraph(req.Graph.Nodes)
	if err := s.store.SaveGraph(ctx, req.WorkflowID, req.Graph); err != nil {
		return nil, err
	}
	wf, err := s.store.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return SaveReply{Workflow: wf, Validation: validation}, nil
}

func (s *Service) workflowLoad(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	wf, err := s.store.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	def, err := s.store.GetGraph(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return WorkflowReply{Workflow: wf, Graph: def}, nil
}

func (s *Service) workflowList(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return s.store.ListWorkflows(ctx)
}

func (s *Service) workflowDelete(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}

	// Collect execution ids before the cascade removes the rows that
	// locate their files.
	ids, err := s.executionIDs(ctx, req.WorkflowID)
	if err != nil {
		s.log.Warn("could not enumerate execution files", "workflow", req.WorkflowID, "error", err)
	}
	if err := s.store.DeleteWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	if n := s.files.DeleteWorkflowFiles(ids); n > 0 {
		s.log.Info("workflow files removed", "workflow", req.WorkflowID, "count", n)
	}
	return OK{OK: true}, nil
}

func (s *Service) workflowRename(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
		Name       string `json:"name"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.store.RenameWorkflow(ctx, req.WorkflowID, req.Name)
}

func (s *Service) workflowDuplicate(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
		Name       string `json:"name"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	src, err := s.store.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	def, err := s.store.GetGraph(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = src.Name + " copy"
	}
	dup, err := s.store.CreateWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	remapped := remapGraph(*def)
	if err := s.store.SaveGraph(ctx, dup.ID, remapped); err != nil {
		return nil, err
	}
	s.log.Info("workflow duplicated", "source", src.ID, "workflow", dup.ID)
	return WorkflowReply{Workflow: dup, Graph: &remapped}, nil
}

func (s *Service) workflowSetStatus(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
		Status     string `json:"status"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	status := store.WorkflowStatus(req.Status)
	switch status {
	case store.WorkflowDraft, store.WorkflowReady, store.WorkflowArchived:
	default:
		return nil, fmt.Errorf("invalid workflow status %q", req.Status)
	}
	if err := s.store.SetWorkflowStatus(ctx, req.WorkflowID, status); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

// validateGraph collects parameter findings per node without enforcing
// them.
func (s *Service) validateGraph(nodes []store.Node) map[string][]string {
	findings := make(map[string][]string)
	for _, n := range nodes {
		h, err := s.registry.Get(n.Type)
		if err != nil {
			findings[n.ID] = []string{fmt.Sprintf("unknown node type %q", n.Type)}
			continue
		}
		if res := h.Validate(n.Params); !res.Valid {
			findings[n.ID] = res.Errors
		}
	}
	if len(findings) == 0 {
		return nil
	}
	return findings
}

// executionIDs enumerates every execution across a workflow's nodes, used
// to locate local result files before a cascade delete.
func (s *Service) executionIDs(ctx context.Context, workflowID string) ([]string, error) {
	def, err := s.store.GetGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, n := range def.Nodes {
		execs, err := s.store.ListExecutions(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		for _, ex := range execs {
			ids = append(ids, ex.ID)
		}
	}
	return ids, nil
}

// remapGraph gives every node and edge a fresh identity. Duplicates and
// imports must never collide with ids already in the store, and history
// pointers stay with the source workflow, so CurrentOutputID is dropped.
func remapGraph(def store.GraphDefinition) store.GraphDefinition {
	ids := make(map[string]string, len(def.Nodes))
	nodes := make([]store.Node, len(def.Nodes))
	for i, n := range def.Nodes {
		fresh := uuid.NewString()
		ids[n.ID] = fresh
		n.ID = fresh
		n.WorkflowID = ""
		n.CurrentOutputID = ""
		nodes[i] = n
	}

	edges := make([]store.Edge, 0, len(def.Edges))
	for _, e := range def.Edges {
		src, srcOK := ids[e.SourceNode]
		dst, dstOK := ids[e.TargetNode]
		if !srcOK || !dstOK {
			// Dangling edge, drop it.
			continue
		}
		e.ID = uuid.NewString()
		e.WorkflowID = ""
		e.SourceNode = src
		e.TargetNode = dst
		edges = append(edges, e)
	}
	return store.GraphDefinition{Nodes: nodes, Edges: edges}
}
