package chat

import (
	"context"
	"encoding/json"

	"cozeplug/internal/events"
)

// API is the conversation backend a turn talks to.
type API interface {
	Open(ctx context.Context, req TurnRequest) (Stream, error)
	Resume(ctx context.Context, req ResumeRequest) (Stream, error)
}

// Stream is a lazy, forward-only sequence of chat events.
type Stream interface {
	Next() bool
	Current() events.Event
	Err() error
	Close() error
	LogID() string
}

// Observer receives every event the router processes.
type Observer interface {
	Emit(events.Event)
}

// AudioSink persists a complete PCM buffer.
type AudioSink interface {
	Write(pcm []byte, path string) error
}

// Message content types understood by the platform.
const (
	ContentText         = "text"
	ContentObjectString = "object_string"
)

// Message is one entry of additional_messages.
type Message struct {
	Role        string `json:"role"`
	Type        string `json:"type,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// UserText builds a plain user question.
func UserText(text string) Message {
	return Message{Role: "user", Type: "question", Content: text, ContentType: ContentText}
}

// ObjectItem is one part of a multimodal message.
type ObjectItem struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	FileURL string `json:"file_url,omitempty"`
}

// TextItem is a text part.
func TextItem(text string) ObjectItem { return ObjectItem{Type: "text", Text: text} }

// ImageFile references an uploaded image.
func ImageFile(fileID string) ObjectItem { return ObjectItem{Type: "image", FileID: fileID} }

// AudioFile references an uploaded audio clip.
func AudioFile(fileID string) ObjectItem { return ObjectItem{Type: "audio", FileID: fileID} }

// UserObjects builds a multimodal user question.
func UserObjects(items ...ObjectItem) (Message, error) {
	content, err := json.Marshal(items)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: "user", Type: "question", Content: string(content), ContentType: ContentObjectString}, nil
}

// TurnRequest opens a new chat turn.
type TurnRequest struct {
	BotID          string
	WorkflowID     string
	UserID         string
	ConversationID string
	Messages       []Message
	// Parameters are sent as chat_config.parameters by the websocket transport.
	Parameters map[string]any
	// AudioInput is streamed as the user utterance by the websocket transport.
	AudioInput []byte
}

// ToolOutput answers a single tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ResumeRequest submits tool outputs to continue a suspended chat.
type ResumeRequest struct {
	ConversationID string
	ChatID         string
	Outputs        []ToolOutput
}
