package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing events to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node-status] workflow=wf-1 node=n1 status=running
//	[progress] workflow=wf-1 node=n1 progress=42.0 msg="rendering"
//
// Example JSON output:
//
//	{"channel":"node-status","workflowId":"wf-1","nodeId":"n1","status":"running","at":"..."}
//
// Usage:
//
//	// Text output to stderr
//	emitter := emit.NewLogEmitter(os.Stderr, false)
//
//	// JSON output to file
//	f, _ := os.Create("events.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer. A nil writer
// defaults to stdout. jsonMode selects JSONL output over text lines.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes one event to the configured writer.
//
// Concurrent emissions are serialized so lines never interleave.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		// Fallback to error message if marshal fails
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] workflow=%s", event.Channel, event.WorkflowID)

	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " node=%s", event.NodeID)
	}
	if event.EdgeID != "" {
		fmt.Fprintf(l.writer, " edge=%s", event.EdgeID)
	}
	if event.Status != "" {
		fmt.Fprintf(l.writer, " status=%s", event.Status)
	}
	if event.Channel == ChannelProgress {
		fmt.Fprintf(l.writer, " progress=%.1f", event.Progress)
	}
	if event.Message != "" {
		fmt.Fprintf(l.writer, " msg=%q", event.Message)
	}
	if event.ErrorMessage != "" {
		fmt.Fprintf(l.writer, " error=%q", event.ErrorMessage)
	}

	fmt.Fprint(l.writer, "\n")
}
