package service

import (
	"context"
	"encoding/json"
)

func (s *Service) historyList(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		NodeID string `json:"nodeId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(ctx, req.NodeID)
}

// historySetCurrent repoints a node's live output at an older execution
// and marks everything downstream stale, since those nodes now reflect an
// output that no longer exists upstream.
func (s *Service) historySetCurrent(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID  string `json:"workflowId"`
		NodeID      string `json:"nodeId"`
		ExecutionID string `json:"executionId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.store.SetCurrentOutput(ctx, req.WorkflowID, req.NodeID, req.ExecutionID); err != nil {
		return nil, err
	}
	if err := s.engine.MarkDownstreamStale(ctx, req.WorkflowID, req.NodeID); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) historyStar(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ExecutionID string `json:"executionId"`
		Starred     bool   `json:"starred"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.store.SetExecutionStarred(ctx, req.ExecutionID, req.Starred); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) historyScore(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ExecutionID string   `json:"executionId"`
		Score       *float64 `json:"score"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.store.SetExecutionScore(ctx, req.ExecutionID, req.Score); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) historyDeleteOne(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ExecutionID string `json:"executionId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.store.DeleteExecution(ctx, req.ExecutionID); err != nil {
		return nil, err
	}
	// Local result files go with the row. Best-effort; the storage layer
	// logs failures.
	_ = s.files.DeleteExecutionFiles(req.ExecutionID)
	return OK{OK: true}, nil
}

func (s *Service) historyDeleteForNode(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		NodeID string `json:"nodeId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}

	execs, err := s.store.ListExecutions(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteExecutionsForNode(ctx, req.NodeID); err != nil {
		return nil, err
	}
	ids := make([]string, len(execs))
	for i, ex := range execs {
		ids[i] = ex.ID
	}
	s.files.DeleteWorkflowFiles(ids)
	return DeleteReply{Deleted: len(execs)}, nil
}
