package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/engine/store"
)

// DailySpendReply reports accumulated spend for the current UTC day.
type DailySpendReply struct {
	Date  string  `json:"date"`
	Spent float64 `json:"spent"`
}

func (s *Service) executionRunAll(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	def, err := s.store.GetGraph(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := s.validateForRun(def, nil); err != nil {
		return nil, err
	}
	if err := s.engine.RunAll(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) executionRunNode(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	workflowID, nodeID, err := nodeRequest(payload)
	if err != nil {
		return nil, err
	}
	if err := s.validateNodeForRun(ctx, workflowID, nodeID, false); err != nil {
		return nil, err
	}
	if err := s.engine.RunNode(ctx, workflowID, nodeID); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) executionContinueFrom(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	workflowID, nodeID, err := nodeRequest(payload)
	if err != nil {
		return nil, err
	}
	if err := s.validateNodeForRun(ctx, workflowID, nodeID, true); err != nil {
		return nil, err
	}
	if err := s.engine.ContinueFrom(ctx, workflowID, nodeID); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) executionRetry(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	workflowID, nodeID, err := nodeRequest(payload)
	if err != nil {
		return nil, err
	}
	if err := s.validateNodeForRun(ctx, workflowID, nodeID, false); err != nil {
		return nil, err
	}
	if err := s.engine.Retry(ctx, workflowID, nodeID); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}

func (s *Service) executionCancel(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	workflowID, nodeID, err := nodeRequest(payload)
	if err != nil {
		return nil, err
	}
	s.engine.Cancel(workflowID, nodeID)
	return OK{OK: true}, nil
}

func (s *Service) costEstimate(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string   `json:"workflowId"`
		NodeIDs    []string `json:"nodeIds"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.engine.EstimateRunCost(ctx, req.WorkflowID, req.NodeIDs)
}

func (s *Service) costGetBudget(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return s.engine.Budget().GetBudget(ctx)
}

func (s *Service) costSetBudget(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var cfg store.BudgetConfig
	if err := unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	if cfg.PerExecutionLimit < 0 || cfg.DailyLimit < 0 {
		return nil, fmt.Errorf("budget limits must be non-negative")
	}
	if err := s.engine.Budget().SetBudget(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info("budget updated", "perExecution", cfg.PerExecutionLimit, "daily", cfg.DailyLimit)
	return OK{OK: true}, nil
}

func (s *Service) costGetDailySpend(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	spent, err := s.engine.Budget().GetDailySpend(ctx)
	if err != nil {
		return nil, err
	}
	return DailySpendReply{
		Date:  time.Now().UTC().Format("2006-01-02"),
		Spent: spent,
	}, nil
}

// nodeRequest decodes the common {workflowId, nodeId} payload.
func nodeRequest(payload json.RawMessage) (string, string, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
		NodeID     string `json:"nodeId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return "", "", err
	}
	return req.WorkflowID, req.NodeID, nil
}

// validateForRun enforces parameter validity before any handler runs.
// include limits the check to the nodes the request will dispatch; nil
// checks the whole graph.
func (s *Service) validateForRun(def *store.GraphDefinition, include map[string]bool) error {
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if include != nil && !include[n.ID] {
			continue
		}
		h, err := s.registry.Get(n.Type)
		if err != nil {
			return err
		}
		if res := h.Validate(n.Params); !res.Valid {
			return &engine.EngineError{
				Message: "invalid parameters: " + strings.Join(res.Errors, "; "),
				Code:    "INVALID_PARAMS",
				NodeID:  n.ID,
			}
		}
	}
	return nil
}

// validateNodeForRun checks one node, and with downstream set also the
// nodes a continueFrom request would reach.
func (s *Service) validateNodeForRun(ctx context.Context, workflowID, nodeID string, downstream bool) error {
	def, err := s.store.GetGraph(ctx, workflowID)
	if err != nil {
		return err
	}
	include := map[string]bool{nodeID: true}
	if downstream {
		for _, id := range engine.DownstreamNodes(def, nodeID) {
			include[id] = true
		}
	}
	found := false
	for _, n := range def.Nodes {
		if n.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("node %s: %w", nodeID, store.ErrNotFound)
	}
	return s.validateForRun(def, include)
}
