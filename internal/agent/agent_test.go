package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cozeplug/internal/chat"
	"cozeplug/internal/config"
	"cozeplug/internal/events"
	"cozeplug/internal/llm"
	"cozeplug/internal/tools"

	"go.uber.org/zap"
)

type failingAPI struct {
	streams []chat.Stream
	openErr error
}

func (f *failingAPI) Open(ctx context.Context, req chat.TurnRequest) (chat.Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *failingAPI) Resume(ctx context.Context, req chat.ResumeRequest) (chat.Stream, error) {
	return chat.NewSliceStream(""), nil
}

type fakeUploader map[string]string

func (f fakeUploader) Upload(ctx context.Context, path string) (string, error) {
	return f[filepath.Base(path)], nil
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		BotID:       "bot-1",
		Transport:   config.TransportMock,
		Timeout:     config.DefaultTimeout,
		ToolTimeout: config.DefaultToolTimeout,
		ToolLimits:  config.ToolLimits{MaxFileBytes: 1024, MaxEntries: 100},
	}
}

func TestAgentRunWithMock(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	mock := llm.NewMockConversation(dir)
	ag := NewAgent(mock, tools.NewLocalRegistry(nil), nil, logger, testConfig(t))

	result, err := ag.Ask(context.Background(), "what is here?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Text != "Hello world(continuing)" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Status != "success" {
		t.Fatalf("expected one successful tool call, got %+v", result.ToolCalls)
	}
	if !strings.Contains(jsonString(result.ToolCalls[0].Output), "sample.txt") {
		t.Fatalf("tool output missing fixture: %+v", result.ToolCalls[0].Output)
	}
	if result.Events[0].Type != events.TurnStarted || result.Events[len(result.Events)-1].Type != events.TurnFinished {
		t.Fatalf("turn events not bracketed: first=%s last=%s", result.Events[0].Type, result.Events[len(result.Events)-1].Type)
	}
	if len(result.LogIDs) != 2 {
		t.Fatalf("expected two log ids, got %v", result.LogIDs)
	}
	if opens := mock.Opens(); len(opens) != 1 || opens[0].BotID != "bot-1" {
		t.Fatalf("bot id not applied: %+v", opens)
	}
}

func TestAgentContinuesConversation(t *testing.T) {
	mock := llm.NewMockConversation(t.TempDir())
	ag := NewAgent(mock, tools.NewLocalRegistry(nil), nil, nil, testConfig(t))
	if _, err := ag.Ask(context.Background(), "one"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := ag.Ask(context.Background(), "two"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	opens := mock.Opens()
	if len(opens) != 2 || opens[1].ConversationID != "mock-conversation" {
		t.Fatalf("second turn should continue the conversation: %+v", opens)
	}
}

func TestAgentKeepsGeneratedUserID(t *testing.T) {
	cfg := testConfig(t)
	cfg.UserID = ""
	mock := llm.NewMockConversation(t.TempDir())
	ag := NewAgent(mock, tools.NewLocalRegistry(nil), nil, nil, cfg)
	for _, q := range []string{"one", "two"} {
		if _, err := ag.Ask(context.Background(), q); err != nil {
			t.Fatalf("turn %q: %v", q, err)
		}
	}
	opens := mock.Opens()
	if len(opens) != 2 || opens[0].UserID == "" || opens[0].UserID != opens[1].UserID {
		t.Fatalf("expected one generated user id across turns: %+v", opens)
	}
	if ag.UserID() != opens[0].UserID {
		t.Fatalf("agent reports %q, turns used %q", ag.UserID(), opens[0].UserID)
	}

	other := NewAgent(mock, tools.NewLocalRegistry(nil), nil, nil, cfg)
	if other.UserID() == ag.UserID() {
		t.Fatalf("separate sessions should not share a generated user id")
	}
}

func TestAgentUsesConfiguredUserID(t *testing.T) {
	cfg := testConfig(t)
	cfg.UserID = "user-7"
	mock := llm.NewMockConversation(t.TempDir())
	ag := NewAgent(mock, tools.NewLocalRegistry(nil), nil, nil, cfg)
	if _, err := ag.Ask(context.Background(), "hi"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if opens := mock.Opens(); len(opens) != 1 || opens[0].UserID != "user-7" {
		t.Fatalf("expected configured user id, got %+v", opens)
	}
}

func TestAgentWritesAudio(t *testing.T) {
	mock := llm.NewMockConversation(t.TempDir())
	mock.Audio = []byte{1, 2, 3, 4}
	cfg := testConfig(t)
	cfg.OutputAudio = filepath.Join(t.TempDir(), "out.wav")
	ag := NewAgent(mock, tools.NewLocalRegistry(nil), nil, nil, cfg)

	result, err := ag.Ask(context.Background(), "speak")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AudioPath != cfg.OutputAudio {
		t.Fatalf("expected audio path %s, got %s", cfg.OutputAudio, result.AudioPath)
	}
	info, err := os.Stat(cfg.OutputAudio)
	if err != nil {
		t.Fatalf("audio not written: %v", err)
	}
	if info.Size() != 44+8 {
		t.Fatalf("expected header plus 8 bytes, got %d", info.Size())
	}
}

func TestAgentReportsStreamFailure(t *testing.T) {
	api := &failingAPI{streams: []chat.Stream{chat.NewSliceStream("log-x",
		events.New(events.MessageDelta, events.MessageDeltaPayload{Content: "partial"}),
		events.New(events.ChatFailed, events.ErrorPayload{Code: 4011, Message: "quota"}),
	)}}
	ag := NewAgent(api, tools.NewLocalRegistry(nil), nil, nil, testConfig(t))
	result, err := ag.Ask(context.Background(), "q")
	if err == nil {
		t.Fatalf("expected error")
	}
	if result.Status != StatusFailed || result.Text != "partial" || result.Error == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAgentReportsTransportError(t *testing.T) {
	api := &failingAPI{openErr: errors.New("connection refused")}
	ag := NewAgent(api, tools.NewLocalRegistry(nil), nil, nil, testConfig(t))
	result, err := ag.Ask(context.Background(), "q")
	if err == nil {
		t.Fatalf("expected error")
	}
	if result.Status != StatusError || result.Status == StatusFailed || !strings.Contains(result.Error, "connection refused") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestVoiceRequestUploads(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "in.wav")
	imagePath := filepath.Join(dir, "pic.png")
	uploader := fakeUploader{"in.wav": "file-audio", "pic.png": "file-image"}

	req, err := VoiceRequest(context.Background(), uploader, VoiceInput{AudioPath: audioPath, ImagePath: imagePath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].ContentType != chat.ContentObjectString {
		t.Fatalf("expected one object_string message, got %+v", req.Messages)
	}
	var items []chat.ObjectItem
	if err := json.Unmarshal([]byte(req.Messages[0].Content), &items); err != nil {
		t.Fatalf("bad content: %v", err)
	}
	if len(items) != 2 || items[0].FileID != "file-image" || items[1].Type != "audio" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestVoiceRequestStream(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "in.pcm")
	if err := os.WriteFile(audioPath, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	req, err := VoiceRequest(context.Background(), fakeUploader{"pic.png": "file-image"}, VoiceInput{AudioPath: audioPath, ImagePath: filepath.Join(dir, "pic.png"), Stream: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base64.StdEncoding.EncodeToString(req.AudioInput) != "AQID" {
		t.Fatalf("unexpected audio %v", req.AudioInput)
	}
	if req.Parameters["image"] != `{"file_id":"file-image"}` {
		t.Fatalf("unexpected parameters %+v", req.Parameters)
	}
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
