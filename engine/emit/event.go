// Package emit publishes node-status, edge-status, and progress events to
// subscribers during workflow execution.
package emit

import "time"

// Channel routes an event to the subscriber stream it belongs to.
type Channel string

// Event channels.
const (
	ChannelNodeStatus Channel = "node-status"
	ChannelEdgeStatus Channel = "edge-status"
	ChannelProgress   Channel = "progress"
)

// NodeStatus is the transient per-session state of a node. It is never
// persisted; the engine emits transitions as it runs.
type NodeStatus string

// Node states.
//
// Confirmed means the node has a current output the user has accepted;
// unconfirmed means an output exists but has been superseded upstream.
const (
	NodeIdle        NodeStatus = "idle"
	NodeRunning     NodeStatus = "running"
	NodeConfirmed   NodeStatus = "confirmed"
	NodeUnconfirmed NodeStatus = "unconfirmed"
	NodeError       NodeStatus = "error"
)

// EdgeStatus tells the canvas whether data is available on an edge.
type EdgeStatus string

// Edge states.
const (
	EdgeNoData  EdgeStatus = "no-data"
	EdgeHasData EdgeStatus = "has-data"
)

// Event is one status or progress update emitted during execution.
//
// Exactly one of NodeID/EdgeID is set depending on the channel. Status
// carries a NodeStatus or EdgeStatus value as a string so the event stays
// a single wire shape across channels.
type Event struct {
	// Channel selects the stream: node-status, edge-status, or progress.
	Channel Channel `json:"channel"`

	// WorkflowID identifies the workflow the event belongs to.
	WorkflowID string `json:"workflowId"`

	// NodeID is set for node-status and progress events.
	NodeID string `json:"nodeId,omitempty"`

	// EdgeID is set for edge-status events.
	EdgeID string `json:"edgeId,omitempty"`

	// Status is the new state on status channels.
	Status string `json:"status,omitempty"`

	// ErrorMessage accompanies node-status error transitions.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Progress is the completion percentage (0-100) on the progress
	// channel.
	Progress float64 `json:"progress,omitempty"`

	// Message is an optional human-readable progress annotation.
	Message string `json:"message,omitempty"`

	// At is the emission time in UTC.
	At time.Time `json:"at"`
}

// NodeStatusEvent builds a node-status transition.
func NodeStatusEvent(workflowID, nodeID string, status NodeStatus, errorMessage string) Event {
	return Event{
		Channel:      ChannelNodeStatus,
		WorkflowID:   workflowID,
		NodeID:       nodeID,
		Status:       string(status),
		ErrorMessage: errorMessage,
		At:           time.Now().UTC(),
	}
}

// EdgeStatusEvent builds an edge-status transition.
func EdgeStatusEvent(workflowID, edgeID string, status EdgeStatus) Event {
	return Event{
		Channel:    ChannelEdgeStatus,
		WorkflowID: workflowID,
		EdgeID:     edgeID,
		Status:     string(status),
		At:         time.Now().UTC(),
	}
}

// ProgressEvent builds a progress update for a running node.
func ProgressEvent(workflowID, nodeID string, percent float64, message string) Event {
	return Event{
		Channel:    ChannelProgress,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Progress:   percent,
		Message:    message,
		At:         time.Now().UTC(),
	}
}
