package service

import (
	"context"
	"encoding/json"

	"github.com/weftworks/weft/engine/model"
)

// SyncReply reports how many model schemas a sync stored.
type SyncReply struct {
	Synced int `json:"synced"`
}

// modelsSync refreshes the schema cache from all configured providers.
// Provider failures are independent: a dead provider is logged and the
// healthy ones still land, so the request only fails when nothing synced.
func (s *Service) modelsSync(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	n, err := s.models.Sync(ctx)
	if err != nil {
		if n == 0 {
			return nil, err
		}
		s.log.Warn("model sync incomplete", "synced", n, "error", err)
	}
	return SyncReply{Synced: n}, nil
}

func (s *Service) modelsList(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Category string `json:"category"`
		Provider string `json:"provider"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	filter := model.Filter{Category: req.Category, Provider: req.Provider}
	if filter == (model.Filter{}) {
		return s.models.List(), nil
	}
	return s.models.Search("", filter), nil
}

func (s *Service) modelsSearch(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Provider string `json:"provider"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.models.Search(req.Query, model.Filter{Category: req.Category, Provider: req.Provider}), nil
}

func (s *Service) modelsGet(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.models.Get(ctx, req.ID)
}
