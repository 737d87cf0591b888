package chat

import (
	"bytes"
	"strings"
	"time"

	"cozeplug/internal/events"
)

// ToolCallRecord records one dispatched tool call.
type ToolCallRecord struct {
	CallID     string    `json:"call_id"`
	ToolName   string    `json:"tool_name"`
	Input      any       `json:"input"`
	Output     any       `json:"output"`
	Status     string    `json:"status"`
	Code       string    `json:"code,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Turn holds everything scoped to one request/response cycle. It spans every
// stream spawned by tool resumption and is discarded afterwards.
type Turn struct {
	RunID          string
	ChatID         string
	ConversationID string
	LogIDs         []string
	Usage          events.Usage
	ToolCalls      []ToolCallRecord
	Completed      bool
	AudioPath      string

	text         strings.Builder
	audio        bytes.Buffer
	audioFlushed bool
}

// NewTurn starts an empty turn.
func NewTurn(runID, conversationID string) *Turn {
	return &Turn{RunID: runID, ConversationID: conversationID}
}

// Text returns the concatenated message deltas.
func (t *Turn) Text() string { return t.text.String() }

// Audio returns the accumulated PCM bytes.
func (t *Turn) Audio() []byte { return t.audio.Bytes() }
