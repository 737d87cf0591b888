package events

import (
	"encoding/json"
	"time"
)

// Type represents a chat stream event kind.
type Type string

// Event kinds produced by the conversation API.
const (
	ChatCreated    Type = "conversation.chat.created"
	ChatInProgress Type = "conversation.chat.in_progress"
	MessageDelta   Type = "conversation.message.delta"
	MessageDone    Type = "conversation.message.completed"
	AudioDelta     Type = "conversation.audio.delta"
	RequiresAction Type = "conversation.chat.requires_action"
	ChatCompleted  Type = "conversation.chat.completed"
	ChatFailed     Type = "conversation.chat.failed"
	Error          Type = "error"
	Done           Type = "done"
)

// Event kinds emitted locally while a turn is processed.
const (
	TurnStarted      Type = "TurnStarted"
	ToolCallStarted  Type = "ToolCallStarted"
	ToolCallFinished Type = "ToolCallFinished"
	ToolCallFailed   Type = "ToolCallFailed"
	AudioSaved       Type = "AudioSaved"
	TurnFinished     Type = "TurnFinished"
)

// Event is the common envelope for stream and renderer events.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with the current time.
func New(t Type, payload any) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}

// Terminal reports whether the event ends the sequence it arrived on.
func (e Event) Terminal() bool {
	switch e.Type {
	case ChatCompleted, ChatFailed, Error, Done:
		return true
	}
	return false
}

// ChatCreatedPayload identifies the chat a stream belongs to.
type ChatCreatedPayload struct {
	ChatID         string `json:"chat_id"`
	ConversationID string `json:"conversation_id"`
	BotID          string `json:"bot_id,omitempty"`
	LogID          string `json:"log_id,omitempty"`
}

// MessageDeltaPayload carries one text fragment.
type MessageDeltaPayload struct {
	ChatID  string `json:"chat_id,omitempty"`
	Content string `json:"content"`
}

// AudioDeltaPayload carries one base64 encoded PCM fragment.
type AudioDeltaPayload struct {
	ChatID  string `json:"chat_id,omitempty"`
	Content string `json:"content"`
}

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RequiresActionPayload suspends the chat until tool outputs are submitted.
type RequiresActionPayload struct {
	ChatID         string     `json:"chat_id"`
	ConversationID string     `json:"conversation_id"`
	ToolCalls      []ToolCall `json:"tool_calls"`
}

// Usage reports token accounting for a completed chat.
type Usage struct {
	TokenCount  int `json:"token_count"`
	InputCount  int `json:"input_count"`
	OutputCount int `json:"output_count"`
}

// ChatCompletedPayload closes a chat.
type ChatCompletedPayload struct {
	ChatID         string `json:"chat_id"`
	ConversationID string `json:"conversation_id"`
	Usage          Usage  `json:"usage"`
}

// ErrorPayload reports a server side failure.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TurnStartedPayload is emitted before the first stream is opened.
type TurnStartedPayload struct {
	Version   string    `json:"version"`
	RunID     string    `json:"run_id"`
	BotID     string    `json:"bot_id"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"started_at"`
}

// ToolCallStartedPayload marks tool call start.
type ToolCallStartedPayload struct {
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	Input     any       `json:"input"`
	StartedAt time.Time `json:"started_at"`
}

// ToolCallFinishedPayload marks tool call end.
type ToolCallFinishedPayload struct {
	CallID     string `json:"call_id"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Preview    string `json:"preview"`
	LineCount  int    `json:"line_count"`
	ByteCount  int    `json:"byte_count"`
	DurationMs int64  `json:"duration_ms"`
}

// AudioSavedPayload reports a flushed audio buffer.
type AudioSavedPayload struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// TurnFinishedPayload closes a turn.
type TurnFinishedPayload struct {
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}

// As returns the event payload as T, accepting both T and *T payloads.
func As[T any](e Event) (T, bool) {
	switch p := e.Payload.(type) {
	case T:
		return p, true
	case *T:
		if p != nil {
			return *p, true
		}
	}
	var zero T
	return zero, false
}
