package coze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cozeplug/internal/chat"
	"cozeplug/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sse(name string, data any) string {
	b, _ := json.Marshal(data)
	return fmt.Sprintf("event:%s\ndata:%s\n\n", name, b)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Tokens: StaticToken("pat_test"), RetryMax: 1})
}

func collect(t *testing.T, stream chat.Stream) []events.Event {
	t.Helper()
	var out []events.Event
	for stream.Next() {
		out = append(out, stream.Current())
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())
	return out
}

func TestOpenStreamsEvents(t *testing.T) {
	var body chatRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/chat", r.URL.Path)
		assert.Equal(t, "Bearer pat_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(logIDHeader, "log-123")
		io.WriteString(w, sse("conversation.chat.created", map[string]any{"id": "chat1", "conversation_id": "conv1", "bot_id": "bot"}))
		io.WriteString(w, sse("conversation.message.delta", map[string]any{"chat_id": "chat1", "content": "Hel"}))
		io.WriteString(w, sse("conversation.message.delta", map[string]any{"chat_id": "chat1", "content": "lo"}))
		io.WriteString(w, sse("conversation.audio.delta", map[string]any{"chat_id": "chat1", "content": "AQI="}))
		io.WriteString(w, sse("conversation.chat.requires_action", map[string]any{
			"id": "chat1", "conversation_id": "conv1",
			"required_action": map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{"tool_calls": []map[string]any{
					{"id": "call1", "type": "function", "function": map[string]any{"name": "list_files", "arguments": `{"dir":"/tmp"}`}},
				}},
			},
		}))
		io.WriteString(w, sse("conversation.chat.completed", map[string]any{"id": "chat1", "conversation_id": "conv1", "usage": map[string]any{"token_count": 7}}))
		io.WriteString(w, "event:done\ndata:\"[DONE]\"\n\n")
	}))

	stream, err := client.Open(context.Background(), chat.TurnRequest{BotID: "bot", UserID: "u1", Messages: []chat.Message{chat.UserText("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "log-123", stream.LogID())
	got := collect(t, stream)

	require.Len(t, got, 7)
	assert.Equal(t, "bot", body.BotID)
	assert.True(t, body.Stream)
	require.Len(t, body.AdditionalMessages, 1)
	assert.Equal(t, "hi", body.AdditionalMessages[0].Content)

	created, ok := events.As[events.ChatCreatedPayload](got[0])
	require.True(t, ok)
	assert.Equal(t, "chat1", created.ChatID)
	assert.Equal(t, "log-123", created.LogID)

	action, ok := events.As[events.RequiresActionPayload](got[4])
	require.True(t, ok)
	require.Len(t, action.ToolCalls, 1)
	assert.Equal(t, "list_files", action.ToolCalls[0].Name)
	assert.JSONEq(t, `{"dir":"/tmp"}`, string(action.ToolCalls[0].Arguments))

	completed, ok := events.As[events.ChatCompletedPayload](got[5])
	require.True(t, ok)
	assert.Equal(t, 7, completed.Usage.TokenCount)
	assert.Equal(t, events.Done, got[6].Type)
}

func TestResumeSubmitsOutputs(t *testing.T) {
	var body submitRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/chat/submit_tool_outputs", r.URL.Path)
		assert.Equal(t, "conv1", r.URL.Query().Get("conversation_id"))
		assert.Equal(t, "chat1", r.URL.Query().Get("chat_id"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sse("conversation.message.delta", map[string]any{"content": "(continuing)"}))
		io.WriteString(w, sse("conversation.chat.completed", map[string]any{"id": "chat1"}))
	}))

	stream, err := client.Resume(context.Background(), chat.ResumeRequest{ConversationID: "conv1", ChatID: "chat1", Outputs: []chat.ToolOutput{{ToolCallID: "call1", Output: `{"files":[]}`}}})
	require.NoError(t, err)
	got := collect(t, stream)
	require.Len(t, got, 2)
	require.Len(t, body.ToolOutputs, 1)
	assert.Equal(t, "call1", body.ToolOutputs[0].ToolCallID)
	assert.True(t, body.Stream)
}

func TestStreamErrorEvents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sse("conversation.chat.failed", map[string]any{"id": "c", "last_error": map[string]any{"code": 4011, "msg": "quota"}}))
		io.WriteString(w, sse("error", map[string]any{"code": 4000, "msg": "bad"}))
	}))
	stream, err := client.Open(context.Background(), chat.TurnRequest{BotID: "bot"})
	require.NoError(t, err)
	got := collect(t, stream)
	require.Len(t, got, 2)
	failed, _ := events.As[events.ErrorPayload](got[0])
	assert.Equal(t, 4011, failed.Code)
	assert.Equal(t, "quota", failed.Message)
	errPayload, _ := events.As[events.ErrorPayload](got[1])
	assert.Equal(t, 4000, errPayload.Code)
}

func TestOpenJSONErrorEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(logIDHeader, "log-err")
		io.WriteString(w, `{"code":4100,"msg":"authentication is invalid"}`)
	}))
	_, err := client.Open(context.Background(), chat.TurnRequest{BotID: "bot"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "log-err", te.LogID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 4100, apiErr.Code)
}

func TestOpenHTTPFailure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "nope")
	}))
	_, err := client.Open(context.Background(), chat.TurnRequest{BotID: "bot"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
}

func TestMissingToken(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Open(context.Background(), chat.TurnRequest{BotID: "bot"})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("PNG"), 0o644))

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/upload", r.URL.Path)
		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(file)
			assert.Equal(t, "PNG", string(data))
			assert.Equal(t, "shot.png", header.Filename)
		}
		io.WriteString(w, `{"code":0,"data":{"id":"file_1","file_name":"shot.png","bytes":3}}`)
	}))
	id, err := client.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "file_1", id)
}

func TestRetrieveBotAndUsersMe(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/bot/get_online_info":
			assert.Equal(t, "b1", r.URL.Query().Get("bot_id"))
			io.WriteString(w, `{"code":0,"data":{"bot_id":"b1","name":"helper","description":"d","icon_url":"http://icon"}}`)
		case "/v1/users/me":
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			io.WriteString(w, `{"code":0,"data":{"user_id":"u1","user_name":"jo"}}`)
		case "/v1/connectors/conn1/user_configs":
			var body map[string][]userConfig
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "device_id", body["configs"][0].Key)
			assert.Equal(t, "dev-1", body["configs"][0].Enums[0].Value)
			io.WriteString(w, `{"code":0}`)
		default:
			http.NotFound(w, r)
		}
	}))

	bot, err := client.RetrieveBot(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "http://icon", bot.IconURL)

	user := client.WithTokenSource(StaticToken("user-token"))
	me, err := user.UsersMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", me.UserID)
	require.NoError(t, user.SyncDevice(context.Background(), "conn1", "dev-1", "Kitchen"))
}

func TestDecodeEventUnknownPassesThrough(t *testing.T) {
	event, err := decodeEvent("conversation.message.created", []byte(`{}`), "")
	require.NoError(t, err)
	assert.Equal(t, events.Type("conversation.message.created"), event.Type)
	assert.Nil(t, event.Payload)

	_, err = decodeEvent(string(events.MessageDelta), []byte(`not json`), "")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "conversation.message.delta"))
}
