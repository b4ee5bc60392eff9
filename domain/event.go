package domain

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of a stream event.
type EventKind string

const (
	EventTurnStarted        EventKind = "TurnStarted"
	EventAssistantChunk     EventKind = "AssistantChunk"
	EventToolRequested      EventKind = "ToolRequested"
	EventToolProgress       EventKind = "ToolProgress"
	EventToolResult         EventKind = "ToolResult"
	EventValidationFeedback EventKind = "ValidationFeedback"
	EventTurnCompleted      EventKind = "TurnCompleted"
	EventTurnFailed         EventKind = "TurnFailed"
	EventModeChanged        EventKind = "ModeChanged"
	EventHeartbeat          EventKind = "Heartbeat"
	// EventResync is a sentinel delivered to a subscriber whose requested
	// replay position has fallen out of the retained window.
	EventResync EventKind = "Resync"
)

// StreamEvent is the unit multiplexed by the stream hub. For any session the
// sequence numbers form a gapless, strictly increasing series, and every
// subscriber observes a prefix of the same total order.
type StreamEvent struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// MarshalPayload encodes v as the event payload, falling back to null on
// encoding failure so a bad payload never blocks the event pipeline.
func MarshalPayload(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// TurnStartedPayload accompanies EventTurnStarted.
type TurnStartedPayload struct {
	TurnID    string `json:"turn_id"`
	Number    int    `json:"number"`
	UserInput string `json:"user_input"`
}

// ChunkPayload accompanies EventAssistantChunk.
type ChunkPayload struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

// ToolRequestedPayload accompanies EventToolRequested.
type ToolRequestedPayload struct {
	TurnID        string         `json:"turn_id"`
	CorrelationID string         `json:"correlation_id"`
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
}

// ToolResultPayload accompanies EventToolResult.
type ToolResultPayload struct {
	TurnID        string           `json:"turn_id"`
	CorrelationID string           `json:"correlation_id"`
	Tool          string           `json:"tool"`
	Status        InvocationStatus `json:"status"`
	Result        string           `json:"result,omitempty"`
	ErrorKind     ErrorKind        `json:"error_kind,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	Attempts      int              `json:"attempts"`
}

// ValidationPayload accompanies EventValidationFeedback.
type ValidationPayload struct {
	TurnID   string `json:"turn_id"`
	Issue    string `json:"issue"`
	Critical bool   `json:"critical"`
	// Score is advisory only and never branches control flow.
	Score int `json:"score,omitempty"`
}

// TurnCompletedPayload accompanies EventTurnCompleted.
type TurnCompletedPayload struct {
	TurnID   string `json:"turn_id"`
	Result   string `json:"result,omitempty"`
	Command  string `json:"command,omitempty"`
	FollowUp string `json:"follow_up,omitempty"`
}

// TurnFailedPayload accompanies EventTurnFailed.
type TurnFailedPayload struct {
	TurnID  string    `json:"turn_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ModeChangedPayload accompanies EventModeChanged.
type ModeChangedPayload struct {
	Mode Mode `json:"mode"`
}
