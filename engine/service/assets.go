package service

import (
	"context"
	"encoding/json"
)

// ExistsReply answers an artifact presence probe.
type ExistsReply struct {
	Exists bool `json:"exists"`
}

func (s *Service) storageSnapshot(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ExecutionID string `json:"executionId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return s.files.Snapshot(req.ExecutionID)
}

func (s *Service) storageSaveOutput(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		ExecutionID string `json:"executionId"`
		Name        string `json:"name"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	path, err := s.files.SaveOutput(req.ExecutionID, req.Name)
	if err != nil {
		return nil, err
	}
	return PathReply{Path: path}, nil
}

func (s *Service) storageListUploads(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return s.files.ListUploads()
}

func (s *Service) storageCopyUpload(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	path, err := s.files.CopyUpload(req.Path)
	if err != nil {
		return nil, err
	}
	return PathReply{Path: path}, nil
}

func (s *Service) storageDiskUsage(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return s.files.DiskUsage()
}

func (s *Service) storageDeleteWorkflowFiles(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	ids, err := s.executionIDs(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return DeleteReply{Deleted: s.files.DeleteWorkflowFiles(ids)}, nil
}

func (s *Service) storageArtifactExists(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return ExistsReply{Exists: s.files.ArtifactExists(req.Path)}, nil
}

func (s *Service) storageOpenFolder(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := s.files.OpenFolder(req.Path); err != nil {
		return nil, err
	}
	return OK{OK: true}, nil
}
