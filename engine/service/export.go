package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/engine/store"
)

// exportVersion stamps export documents so future format changes can be
// told apart.
const exportVersion = "1.0"

// ExportDocument is the portable workflow format: the workflow identity
// plus its full graph. Imports accept this wrapped form or a bare
// GraphDefinition.
type ExportDocument struct {
	Version         string                `json:"version"`
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	ExportedAt      string                `json:"exportedAt"`
	GraphDefinition store.GraphDefinition `json:"graphDefinition"`
}

// ExportReply reports where an export landed.
type ExportReply struct {
	Path string `json:"path"`
}

func (s *Service) storageExport(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		WorkflowID string `json:"workflowId"`
		Filename   string `json:"filename"`
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

	doc := ExportDocument{
		Version:         exportVersion,
		ID:              wf.ID,
		Name:            wf.Name,
		ExportedAt:      time.Now().UTC().Format(time.RFC3339),
		GraphDefinition: *def,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	filename := req.Filename
	if filename == "" {
		filename = exportFilename(wf.Name)
	}
	path, err := s.files.WriteExport(filename, data)
	if err != nil {
		return nil, err
	}
	return ExportReply{Path: path}, nil
}

// storageImport ingests an exported workflow. The document gets a fresh
// workflow id and every node and edge a fresh identity; ids from the
// exporting machine are never reused, so repeated imports cannot collide.
func (s *Service) storageImport(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	var req struct {
		Data string `json:"data"`
	}
	if err := unmarshal(payload, &req); err != nil {
		return nil, err
	}
	doc, err := parseImport([]byte(req.Data))
	if err != nil {
		return nil, err
	}
	if engine.HasCycle(&doc.GraphDefinition) {
		return nil, fmt.Errorf("imported graph contains a cycle")
	}

	name := doc.Name
	if name == "" {
		name = "Imported Workflow"
	}
	wf, err := s.store.CreateWorkflow(ctx, name)
	if err != nil {
		return nil, err
	}
	remapped := remapGraph(doc.GraphDefinition)
	if err := s.store.SaveGraph(ctx, wf.ID, remapped); err != nil {
		return nil, err
	}
	s.log.Info("workflow imported", "workflow", wf.ID, "name", wf.Name, "nodes", len(remapped.Nodes))
	return WorkflowReply{Workflow: wf, Graph: &remapped}, nil
}

// parseImport decodes an export document, tolerating a bare {nodes, edges}
// graph and, for hand-edited files, one round of JSON repair.
func parseImport(data []byte) (*ExportDocument, error) {
	decode := func(raw []byte) (*ExportDocument, error) {
		var doc ExportDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if doc.Version == "" && doc.GraphDefinition.Nodes == nil && doc.GraphDefinition.Edges == nil {
			var bare store.GraphDefinition
			if err := json.Unmarshal(raw, &bare); err != nil {
				return nil, err
			}
			doc.GraphDefinition = bare
		}
		return &doc, nil
	}

	doc, err := decode(data)
	if err == nil {
		return doc, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, fmt.Errorf("unreadable import document: %w", err)
	}
	doc, retryErr := decode([]byte(repaired))
	if retryErr != nil {
		return nil, fmt.Errorf("unreadable import document: %w", err)
	}
	return doc, nil
}

// exportFilename derives a filesystem-safe name from the workflow name.
func exportFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if cleaned == "" {
		cleaned = "workflow"
	}
	return cleaned + ".weft.json"
}
