package llm

import (
	"context"
	"testing"

	"cozeplug/internal/chat"
	"cozeplug/internal/tools"
)

func TestMockConversationEndToEnd(t *testing.T) {
	dir := t.TempDir()
	mock := NewMockConversation(dir)
	dispatcher := chat.NewDispatcher(mock, tools.NewLocalRegistry(nil), nil, chat.DispatcherOptions{Meta: tools.Meta{TempDir: dir}})
	router := chat.NewRouter(dispatcher, nil, chat.RouterOptions{})

	stream, err := mock.Open(context.Background(), chat.TurnRequest{BotID: "bot", Messages: []chat.Message{chat.UserText("hi")}})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	turn := chat.NewTurn("run", "")
	if err := router.Run(context.Background(), turn, stream); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if turn.Text() != "Hello world(continuing)" {
		t.Fatalf("unexpected text %q", turn.Text())
	}
	resumes := mock.Resumes()
	if len(resumes) != 1 || len(resumes[0].Outputs) != 1 || resumes[0].Outputs[0].ToolCallID != "mock-call-1" {
		t.Fatalf("unexpected resumes %+v", resumes)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].ToolName != "list-directory" {
		t.Fatalf("unexpected tool calls %+v", turn.ToolCalls)
	}
}
