package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"cozeplug/internal/chat"
	"cozeplug/internal/events"
)

// MockConversation is a deterministic backend for tests and demos. The first
// stream greets, asks for a directory listing and finishes; the resumption
// stream continues the reply.
type MockConversation struct {
	// Dir is the directory the scripted tool call lists.
	Dir string
	// Audio, when set, is returned as one audio delta per stream.
	Audio []byte

	mu      sync.Mutex
	opens   []chat.TurnRequest
	resumes []chat.ResumeRequest
}

// NewMockConversation returns a mock listing dir, or the temp dir when empty.
func NewMockConversation(dir string) *MockConversation {
	if dir == "" {
		dir = os.TempDir()
	}
	return &MockConversation{Dir: dir}
}

func (m *MockConversation) Open(ctx context.Context, req chat.TurnRequest) (chat.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, req)

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "mock-conversation"
	}
	args, _ := json.Marshal(map[string]string{"dir": m.Dir})
	items := []events.Event{
		events.New(events.ChatCreated, events.ChatCreatedPayload{ChatID: "mock-chat", ConversationID: conversationID, BotID: req.BotID}),
		events.New(events.MessageDelta, events.MessageDeltaPayload{ChatID: "mock-chat", Content: "Hello"}),
		events.New(events.RequiresAction, events.RequiresActionPayload{
			ChatID:         "mock-chat",
			ConversationID: conversationID,
			ToolCalls:      []events.ToolCall{{ID: "mock-call-1", Name: "list-directory", Arguments: args}},
		}),
		events.New(events.MessageDelta, events.MessageDeltaPayload{ChatID: "mock-chat", Content: " world"}),
	}
	items = append(items, m.audioEvents()...)
	items = append(items, events.New(events.ChatCompleted, events.ChatCompletedPayload{ChatID: "mock-chat", ConversationID: conversationID}))
	return chat.NewSliceStream("mock-log-1", items...), nil
}

func (m *MockConversation) Resume(ctx context.Context, req chat.ResumeRequest) (chat.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes = append(m.resumes, req)
	items := []events.Event{events.New(events.MessageDelta, events.MessageDeltaPayload{ChatID: req.ChatID, Content: "(continuing)"})}
	items = append(items, m.audioEvents()...)
	items = append(items, events.New(events.ChatCompleted, events.ChatCompletedPayload{ChatID: req.ChatID, ConversationID: req.ConversationID}))
	return chat.NewSliceStream("mock-log-2", items...), nil
}

func (m *MockConversation) audioEvents() []events.Event {
	if len(m.Audio) == 0 {
		return nil
	}
	return []events.Event{events.New(events.AudioDelta, events.AudioDeltaPayload{ChatID: "mock-chat", Content: base64.StdEncoding.EncodeToString(m.Audio)})}
}

// Resumes returns the resumption requests received so far.
func (m *MockConversation) Resumes() []chat.ResumeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.ResumeRequest(nil), m.resumes...)
}

// Opens returns the turn requests received so far.
func (m *MockConversation) Opens() []chat.TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.TurnRequest(nil), m.opens...)
}
