// Package storage manages the on-disk artifacts of workflow execution:
// input/param snapshots, downloaded results, user uploads, the saved
// asset library, and workflow exports.
//
// Everything lives under one base directory:
//
//	executions/<id>/   snapshots and downloaded results
//	uploads/           files the user brought in
//	outputs/           results promoted to the asset library
//	exports/           workflow export JSON
//
// All operations are best-effort from the engine's point of view:
// failures are logged and returned, and callers on the execution path
// ignore them rather than fail a run.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Subdirectories under the base dir.
const (
	dirExecutions = "executions"
	dirUploads    = "uploads"
	dirOutputs    = "outputs"
	dirExports    = "exports"
)

// Local is a file store rooted at a base directory.
type Local struct {
	base string
	log  *slog.Logger
}

// NewLocal creates the base directory and its fixed subdirectories. A nil
// logger falls back to slog.Default().
func NewLocal(base string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{"", dirExecutions, dirUploads, dirOutputs, dirExports} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	return &Local{base: base, log: logger}, nil
}

// BaseDir returns the root of the store.
func (l *Local) BaseDir() string { return l.base }

// ExecutionDir returns the directory for one execution's artifacts,
// creating it if needed.
func (l *Local) ExecutionDir(executionID string) (string, error) {
	dir := filepath.Join(l.base, dirExecutions, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create execution dir: %w", err)
	}
	return dir, nil
}

// ExecutionSnapshot is the persisted record of what an execution saw.
type ExecutionSnapshot struct {
	Inputs   map[string]interface{} `json:"inputs"`
	Params   map[string]interface{} `json:"params"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SnapshotExecution writes the execution's resolved inputs, params, and
// result metadata as JSON files in its directory.
func (l *Local) SnapshotExecution(executionID string, inputs, params, metadata map[string]interface{}) error {
	dir, err := l.ExecutionDir(executionID)
	if err != nil {
		l.log.Warn("snapshot failed", "execution", executionID, "error", err)
		return err
	}

	files := map[string]map[string]interface{}{
		"inputs.json":   inputs,
		"params.json":   params,
		"metadata.json": metadata,
	}
	for name, payload := range files {
		if payload == nil {
			payload = map[string]interface{}{}
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			l.log.Warn("snapshot marshal failed", "execution", executionID, "file", name, "error", err)
			return fmt.Errorf("failed to marshal %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			l.log.Warn("snapshot write failed", "execution", executionID, "file", name, "error", err)
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// Snapshot reads an execution's persisted snapshot. Individual missing
// files read as empty maps; a missing execution directory is an error.
func (l *Local) Snapshot(executionID string) (*ExecutionSnapshot, error) {
	dir := filepath.Join(l.base, dirExecutions, executionID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("snapshot for execution %s: %w", executionID, err)
	}

	snap := &ExecutionSnapshot{}
	for name, target := range map[string]*map[string]interface{}{
		"inputs.json":   &snap.Inputs,
		"params.json":   &snap.Params,
		"metadata.json": &snap.Metadata,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			*target = map[string]interface{}{}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	return snap, nil
}

// DownloadResult fetches a result URL into the execution's directory and
// returns the local path. http(s) URLs are downloaded; file:// URLs and
// bare local paths are copied.
func (l *Local) DownloadResult(ctx context.Context, rawURL, executionID string) (string, error) {
	dir, err := l.ExecutionDir(executionID)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		l.log.Warn("result download failed", "execution", executionID, "url", rawURL, "error", err)
		return "", fmt.Errorf("failed to parse result url: %w", err)
	}

	dest := filepath.Join(dir, resultFilename(u))
	switch u.Scheme {
	case "http", "https":
		err = l.downloadHTTP(ctx, rawURL, dest)
	case "file":
		err = copyFile(u.Path, dest)
	case "":
		err = copyFile(rawURL, dest)
	default:
		err = fmt.Errorf("unsupported result url scheme %q", u.Scheme)
	}
	if err != nil {
		l.log.Warn("result download failed", "execution", executionID, "url", rawURL, "error", err)
		return "", err
	}

	l.log.Debug("result downloaded", "execution", executionID, "path", dest)
	return dest, nil
}

func (l *Local) downloadHTTP(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}
	return writeStream(dest, resp.Body)
}

// resultFilename names the downloaded artifact after the URL's file
// extension; URLs without one get .bin.
func resultFilename(u *url.URL) string {
	ext := path.Ext(u.Path)
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		ext = ".bin"
	}
	return "result" + ext
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()
	return writeStream(dest, in)
}

// writeStream writes r to dest, removing the partial file on failure.
func writeStream(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return nil
}
