package storage

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// FileEntry describes one stored file.
type FileEntry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// ListUploads returns the files in the uploads directory, sorted by name.
func (l *Local) ListUploads() ([]FileEntry, error) {
	dir := filepath.Join(l.base, dirUploads)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads: %w", err)
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{
			Name:       e.Name(),
			Path:       filepath.Join(dir, e.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CopyUpload copies an external file into the uploads directory and
// returns its new path. Name collisions get a " (n)" suffix.
func (l *Local) CopyUpload(src string) (string, error) {
	dir := filepath.Join(l.base, dirUploads)
	dest := filepath.Join(dir, availableName(dir, filepath.Base(src)))
	if err := copyFile(src, dest); err != nil {
		l.log.Warn("upload copy failed", "src", src, "error", err)
		return "", err
	}
	l.log.Info("upload stored", "path", dest)
	return dest, nil
}

// SaveOutput promotes an execution artifact into the asset library. name
// selects a file inside the execution's directory; empty picks the
// downloaded result. Returns the library path.
func (l *Local) SaveOutput(executionID, name string) (string, error) {
	dir := filepath.Join(l.base, dirExecutions, executionID)
	src, err := l.findOutputSource(dir, name)
	if err != nil {
		return "", err
	}

	outDir := filepath.Join(l.base, dirOutputs)
	dest := filepath.Join(outDir, availableName(outDir, filepath.Base(src)))
	if err := copyFile(src, dest); err != nil {
		l.log.Warn("save output failed", "execution", executionID, "error", err)
		return "", err
	}
	l.log.Info("output saved to library", "execution", executionID, "path", dest)
	return dest, nil
}

func (l *Local) findOutputSource(dir, name string) (string, error) {
	if name != "" {
		src := filepath.Join(dir, filepath.Base(name))
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("execution artifact %s: %w", name, err)
		}
		return src, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read execution dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "result") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("execution has no result artifact")
}

// DiskUsage reports byte totals per subdirectory plus "total".
func (l *Local) DiskUsage() (map[string]int64, error) {
	usage := make(map[string]int64)
	var total int64
	for _, dir := range []string{dirExecutions, dirUploads, dirOutputs, dirExports} {
		size, err := dirSize(filepath.Join(l.base, dir))
		if err != nil {
			return nil, err
		}
		usage[dir] = size
		total += size
	}
	usage["total"] = total
	return usage, nil
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return size, nil
}

// DeleteExecutionFiles removes an execution's directory. Missing is fine.
func (l *Local) DeleteExecutionFiles(executionID string) error {
	dir := filepath.Join(l.base, dirExecutions, executionID)
	if err := os.RemoveAll(dir); err != nil {
		l.log.Warn("execution file delete failed", "execution", executionID, "error", err)
		return err
	}
	return nil
}

// DeleteWorkflowFiles removes the directories of all listed executions
// and reports how many were removed. Failures are logged and skipped so
// one stuck directory does not block the rest.
func (l *Local) DeleteWorkflowFiles(executionIDs []string) int {
	removed := 0
	for _, id := range executionIDs {
		if err := l.DeleteExecutionFiles(id); err == nil {
			removed++
		}
	}
	return removed
}

// ArtifactExists reports whether a regular file exists at the store-
// relative path. Paths are resolved against the base dir and cannot
// escape it.
func (l *Local) ArtifactExists(relpath string) bool {
	p := l.rootedPath(relpath)
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// WriteExport stores export JSON under exports/ with a collision-safe
// name and returns the path.
func (l *Local) WriteExport(filename string, data []byte) (string, error) {
	dir := filepath.Join(l.base, dirExports)
	dest := filepath.Join(dir, availableName(dir, filepath.Base(filename)))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		l.log.Warn("export write failed", "file", filename, "error", err)
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	l.log.Info("workflow exported", "path", dest)
	return dest, nil
}

// OpenFolder asks the OS file manager to open a store-relative directory.
// Empty opens the base dir. Best-effort: the command is started, not
// awaited.
func (l *Local) OpenFolder(relpath string) error {
	p := l.rootedPath(relpath)
	name, args := openFolderCommand(runtime.GOOS, p)
	if name == "" {
		return fmt.Errorf("no file manager command for %s", runtime.GOOS)
	}
	if err := exec.Command(name, args...).Start(); err != nil {
		l.log.Warn("open folder failed", "path", p, "error", err)
		return err
	}
	return nil
}

// openFolderCommand picks the platform's file-manager launcher.
func openFolderCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "explorer", []string{path}
	case "linux":
		return "xdg-open", []string{path}
	}
	return "", nil
}

// rootedPath joins a caller-supplied relative path under the base dir,
// stripping any ".." escape attempts.
func (l *Local) rootedPath(relpath string) string {
	cleaned := filepath.Clean(string(filepath.Separator) + relpath)
	return filepath.Join(l.base, cleaned)
}

// availableName returns filename, or the first "name (n)ext" variant not
// yet present in dir.
func availableName(dir, filename string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	candidate := filename
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
}
