// Package service exposes the engine behind a named request surface.
//
// Frontends speak to the service the way an IPC bridge would: a request
// name like "execution:runAll" plus a JSON payload in, a JSON-encodable
// reply out. Live node-status and progress events stream separately
// through Subscribe.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/engine/emit"
	"github.com/weftworks/weft/engine/model"
	"github.com/weftworks/weft/engine/storage"
	"github.com/weftworks/weft/engine/store"
)

// ErrUnknownRequest is returned by Dispatch for request names outside the
// registered surface.
var ErrUnknownRequest = errors.New("unknown request")

// OK is the reply for requests whose effect is their only result.
type OK struct {
	OK bool `json:"ok"`
}

// PathReply carries a storage location produced by a request.
type PathReply struct {
	Path string `json:"path"`
}

// DeleteReply reports how many records a bulk delete removed.
type DeleteReply struct {
	Deleted int `json:"deleted"`
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Service routes named requests to the store, the execution engine, local
// file storage, and the model cache.
type Service struct {
	store    store.Store
	engine   *engine.Engine
	registry *engine.Registry
	files    *storage.Local
	models   *model.Cache
	broker   *emit.Broker
	log      *slog.Logger

	routes  map[string]handlerFunc
	closers []func() error
}

// New wires a service from already-constructed parts. Open builds the
// parts from a Config instead. A nil logger falls back to slog.Default.
func New(st store.Store, eng *engine.Engine, registry *engine.Registry, files *storage.Local, models *model.Cache, broker *emit.Broker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    st,
		engine:   eng,
		registry: registry,
		files:    files,
		models:   models,
		broker:   broker,
		log:      logger,
	}
	s.routes = map[string]handlerFunc{
		"workflow:create":    s.workflowCreate,
		"workflow:save":      s.workflowSave,
		"workflow:load":      s.workflowLoad,
		"workflow:list":      s.workflowList,
		"workflow:delete":    s.workflowDelete,
		"workflow:rename":    s.workflowRename,
		"workflow:duplicate": s.workflowDuplicate,
		"workflow:setStatus": s.workflowSetStatus,

		"execution:runAll":       s.executionRunAll,
		"execution:runNode":      s.executionRunNode,
		"execution:continueFrom": s.executionContinueFrom,
		"execution:retry":        s.executionRetry,
		"execution:cancel":       s.executionCancel,

		"history:list":          s.historyList,
		"history:setCurrent":    s.historySetCurrent,
		"history:star":          s.historyStar,
		"history:score":         s.historyScore,
		"history:deleteOne":     s.historyDeleteOne,
		"history:deleteForNode": s.historyDeleteForNode,

		"cost:estimate":      s.costEstimate,
		"cost:getBudget":     s.costGetBudget,
		"cost:setBudget":     s.costSetBudget,
		"cost:getDailySpend": s.costGetDailySpend,

		"storage:snapshot":            s.storageSnapshot,
		"storage:saveOutput":          s.storageSaveOutput,
		"storage:listUploads":         s.storageListUploads,
		"storage:copyUpload":          s.storageCopyUpload,
		"storage:diskUsage":           s.storageDiskUsage,
		"storage:deleteWorkflowFiles": s.storageDeleteWorkflowFiles,
		"storage:artifactExists":      s.storageArtifactExists,
		"storage:export":              s.storageExport,
		"storage:import":              s.storageImport,
		"storage:openFolder":          s.storageOpenFolder,

		"models:sync":   s.modelsSync,
		"models:list":   s.modelsList,
		"models:search": s.modelsSearch,
		"models:get":    s.modelsGet,

		"registry:list": s.registryList,
	}
	return s
}

// Dispatch routes one request by name. Unknown names return
// ErrUnknownRequest; everything else is the routed handler's reply or
// error.
func (s *Service) Dispatch(ctx context.Context, name string, payload json.RawMessage) (interface{}, error) {
	handler, ok := s.routes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, name)
	}

	start := time.Now()
	reply, err := handler(ctx, payload)
	if err != nil {
		s.log.Warn("request failed", "request", name, "duration", time.Since(start), "error", err)
		return nil, err
	}
	s.log.Debug("request served", "request", name, "duration", time.Since(start))
	return reply, nil
}

// Subscribe attaches a live event listener for node status, progress, and
// edge data-flow events. The returned func releases the subscription.
func (s *Service) Subscribe() (<-chan emit.Event, func()) {
	return s.broker.Subscribe()
}

// Close shuts down the event stream, provider clients, and the store.
func (s *Service) Close() error {
	s.broker.Close()
	var errs []error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) registryList(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return s.registry.List(), nil
}

// unmarshal decodes a request payload. An empty payload is treated as an
// empty object so parameterless requests need no body.
func unmarshal(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed request payload: %w", err)
	}
	return nil
}
