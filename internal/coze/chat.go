package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"cozeplug/internal/chat"
	"cozeplug/internal/events"

	"github.com/openai/openai-go/v3/packages/ssestream"
)

type chatRequest struct {
	BotID              string         `json:"bot_id"`
	UserID             string         `json:"user_id"`
	Stream             bool           `json:"stream"`
	AutoSaveHistory    bool           `json:"auto_save_history"`
	AdditionalMessages []chat.Message `json:"additional_messages,omitempty"`
	Parameters         map[string]any `json:"parameters,omitempty"`
}

type submitRequest struct {
	ToolOutputs []chat.ToolOutput `json:"tool_outputs"`
	Stream      bool              `json:"stream"`
}

// Open starts a streaming chat via POST /v3/chat.
func (c *Client) Open(ctx context.Context, req chat.TurnRequest) (chat.Stream, error) {
	body := chatRequest{
		BotID:              req.BotID,
		UserID:             req.UserID,
		Stream:             true,
		AutoSaveHistory:    true,
		AdditionalMessages: req.Messages,
		Parameters:         req.Parameters,
	}
	path := "/v3/chat"
	if req.ConversationID != "" {
		path += "?conversation_id=" + url.QueryEscape(req.ConversationID)
	}
	return c.stream(ctx, "chat", path, body)
}

// Resume submits tool outputs via POST /v3/chat/submit_tool_outputs and
// streams the continuation.
func (c *Client) Resume(ctx context.Context, req chat.ResumeRequest) (chat.Stream, error) {
	query := url.Values{}
	query.Set("conversation_id", req.ConversationID)
	query.Set("chat_id", req.ChatID)
	return c.stream(ctx, "submit_tool_outputs", "/v3/chat/submit_tool_outputs?"+query.Encode(), submitRequest{ToolOutputs: req.Outputs, Stream: true})
}

func (c *Client) stream(ctx context.Context, op, path string, in any) (chat.Stream, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.send(op, req)
	if err != nil {
		return nil, err
	}
	logID := resp.Header.Get(logIDHeader)
	// Errors before the stream starts come back as a plain JSON envelope.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		if err := decodeEnvelope(op, resp, nil); err != nil {
			return nil, err
		}
		return chat.NewSliceStream(logID), nil
	}
	return &sseStream{op: op, logID: logID, decoder: ssestream.NewDecoder(resp)}, nil
}

type sseStream struct {
	op      string
	logID   string
	decoder ssestream.Decoder
	current events.Event
	err     error
	done    bool
}

func (s *sseStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	for s.decoder.Next() {
		raw := s.decoder.Event()
		if raw.Type == "" {
			continue
		}
		event, err := decodeEvent(raw.Type, bytes.TrimSpace(raw.Data), s.logID)
		if err != nil {
			s.err = &TransportError{Op: s.op, LogID: s.logID, Err: err}
			return false
		}
		s.current = event
		if event.Type == events.Done {
			s.done = true
		}
		return true
	}
	if err := s.decoder.Err(); err != nil {
		s.err = &TransportError{Op: s.op, LogID: s.logID, Err: err}
	}
	s.done = true
	return false
}

func (s *sseStream) Current() events.Event { return s.current }

func (s *sseStream) Err() error { return s.err }

func (s *sseStream) Close() error {
	s.done = true
	return s.decoder.Close()
}

func (s *sseStream) LogID() string { return s.logID }
