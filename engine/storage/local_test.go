package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/weftworks/weft/engine"
)

// Local must satisfy the engine's file store contract.
var _ engine.FileStore = (*Local)(nil)

func newTestStore(t *testing.T) *Local {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := NewLocal(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewLocal() error: %v", err)
	}
	return l
}

func TestNewLocal_CreatesLayout(t *testing.T) {
	l := newTestStore(t)
	for _, dir := range []string{"executions", "uploads", "outputs", "exports"} {
		info, err := os.Stat(filepath.Join(l.BaseDir(), dir))
		if err != nil || !info.IsDir() {
			t.Errorf("expected subdir %s, got err=%v", dir, err)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestStore(t)

	inputs := map[string]interface{}{"prompt": "a red fox"}
	params := map[string]interface{}{"seed": float64(42)}
	if err := l.SnapshotExecution("ex-1", inputs, params, nil); err != nil {
		t.Fatalf("SnapshotExecution() error: %v", err)
	}

	snap, err := l.Snapshot("ex-1")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if snap.Inputs["prompt"] != "a red fox" {
		t.Errorf("inputs = %v", snap.Inputs)
	}
	if snap.Params["seed"] != float64(42) {
		t.Errorf("params = %v", snap.Params)
	}
	// Nil metadata persists as an empty object.
	if snap.Metadata == nil || len(snap.Metadata) != 0 {
		t.Errorf("metadata = %v, expected empty map", snap.Metadata)
	}

	if _, err := l.Snapshot("missing"); err == nil {
		t.Error("expected error for unknown execution")
	}
}

func TestDownloadResult_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	l := newTestStore(t)
	got, err := l.DownloadResult(context.Background(), srv.URL+"/art/fox.png", "ex-1")
	if err != nil {
		t.Fatalf("DownloadResult() error: %v", err)
	}
	if filepath.Base(got) != "result.png" {
		t.Errorf("downloaded name = %s, expected result.png", filepath.Base(got))
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("downloaded content = %q, err=%v", data, err)
	}
}

func TestDownloadResult_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := newTestStore(t)
	if _, err := l.DownloadResult(context.Background(), srv.URL+"/gone.png", "ex-1"); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestDownloadResult_LocalPaths(t *testing.T) {
	l := newTestStore(t)

	src := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(src, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("bare path", func(t *testing.T) {
		got, err := l.DownloadResult(context.Background(), src, "ex-bare")
		if err != nil {
			t.Fatalf("DownloadResult() error: %v", err)
		}
		if data, _ := os.ReadFile(got); string(data) != "jpg" {
			t.Errorf("copied content = %q", data)
		}
	})

	t.Run("file scheme", func(t *testing.T) {
		got, err := l.DownloadResult(context.Background(), "file://"+src, "ex-scheme")
		if err != nil {
			t.Fatalf("DownloadResult() error: %v", err)
		}
		if filepath.Base(got) != "result.jpg" {
			t.Errorf("name = %s", filepath.Base(got))
		}
	})

	t.Run("missing source", func(t *testing.T) {
		if _, err := l.DownloadResult(context.Background(), "/does/not/exist.png", "ex-miss"); err == nil {
			t.Error("expected error for missing source file")
		}
	})
}

func TestResultFilename(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://cdn.example/a/b/frame.mp4", "result.mp4"},
		{"https://cdn.example/no-extension", "result.bin"},
		{"https://cdn.example/weird.extensiontoolong", "result.bin"},
		{"/local/path/img.png", "result.png"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.raw, err)
		}
		if got := resultFilename(u); got != tt.want {
			t.Errorf("resultFilename(%s) = %s, expected %s", tt.raw, got, tt.want)
		}
	}
}
