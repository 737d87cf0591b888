package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cozeplug/internal/events"
	"cozeplug/internal/tools"
)

type slowTool struct{}

func (slowTool) Name() tools.Name { return tools.ReadFile }
func (slowTool) Description() string { return "slow" }
func (slowTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (slowTool) Execute(ctx context.Context, input json.RawMessage, meta tools.Meta) (tools.Result, error) {
	<-ctx.Done()
	return tools.Result{}, ctx.Err()
}

func decodeOutput(t *testing.T, out ToolOutput) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal([]byte(out.Output), &payload); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	return payload
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(&fakeAPI{}, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	out, record := d.Dispatch(context.Background(), events.ToolCall{ID: "c1", Name: "rm-rf"})
	if out.ToolCallID != "c1" {
		t.Fatalf("output must reference the call, got %q", out.ToolCallID)
	}
	payload := decodeOutput(t, out)
	if payload["code"] != "unknown_tool" {
		t.Fatalf("unexpected code %q", payload["code"])
	}
	if record.Status != "error" || record.Code != "unknown_tool" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestDispatchReportsToolErrors(t *testing.T) {
	d := NewDispatcher(&fakeAPI{}, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	out, _ := d.Dispatch(context.Background(), events.ToolCall{ID: "c2", Name: "read_file", Arguments: json.RawMessage(`{"path":"/definitely/not/here"}`)})
	if payload := decodeOutput(t, out); payload["code"] != "not_found" {
		t.Fatalf("unexpected code %q", payload["code"])
	}

	out, _ = d.Dispatch(context.Background(), events.ToolCall{ID: "c3", Name: "list_files", Arguments: json.RawMessage(`not json`)})
	if payload := decodeOutput(t, out); payload["code"] != "invalid_argument" {
		t.Fatalf("unexpected code %q", payload["code"])
	}
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(&fakeAPI{}, tools.NewRegistry(slowTool{}), nil, DispatcherOptions{Timeout: 20 * time.Millisecond})
	start := time.Now()
	out, record := d.Dispatch(context.Background(), events.ToolCall{ID: "c4", Name: "read_file"})
	if time.Since(start) > 2*time.Second {
		t.Fatalf("dispatch did not respect the timeout")
	}
	if payload := decodeOutput(t, out); payload["code"] != "timeout" {
		t.Fatalf("unexpected code %q", payload["code"])
	}
	if record.Code != "timeout" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestDispatchRedactsInput(t *testing.T) {
	d := NewDispatcher(&fakeAPI{}, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	_, record := d.Dispatch(context.Background(), events.ToolCall{ID: "c5", Name: "read_file", Arguments: json.RawMessage(`{"path":"token=abc123"}`)})
	input, ok := record.Input.(string)
	if !ok || strings.Contains(input, "abc123") {
		t.Fatalf("input not redacted: %v", record.Input)
	}
}

func TestResumeAnswersExtraCalls(t *testing.T) {
	api := &fakeAPI{}
	d := NewDispatcher(api, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	turn := NewTurn("run", "")
	action := events.RequiresActionPayload{
		ChatID:         "chat",
		ConversationID: "conv",
		ToolCalls: []events.ToolCall{
			{ID: "first", Name: "list_files", Arguments: json.RawMessage(`{"dir":` + jsonString(t.TempDir()) + `}`)},
			{ID: "second", Name: "read_file", Arguments: json.RawMessage(`{"path":"x"}`)},
		},
	}
	if _, err := d.Resume(context.Background(), turn, action); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(turn.ToolCalls) != 1 {
		t.Fatalf("only the first call should run, got %d", len(turn.ToolCalls))
	}
	outputs := api.resumes[0].Outputs
	if len(outputs) != 2 || outputs[1].ToolCallID != "second" {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
	if !strings.Contains(outputs[1].Output, "only one tool call") {
		t.Fatalf("extra call should be rejected: %s", outputs[1].Output)
	}
}

func TestResumeSurfacesSubmitFailure(t *testing.T) {
	broken := errors.New("503")
	api := &fakeAPI{err: broken}
	d := NewDispatcher(api, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	action := events.RequiresActionPayload{ToolCalls: []events.ToolCall{{ID: "x", Name: "nope"}}}
	if _, err := d.Resume(context.Background(), NewTurn("run", ""), action); !errors.Is(err, broken) {
		t.Fatalf("expected submit failure, got %v", err)
	}
}

func TestResumeWithoutCalls(t *testing.T) {
	d := NewDispatcher(&fakeAPI{}, tools.NewLocalRegistry(nil), nil, DispatcherOptions{})
	if _, err := d.Resume(context.Background(), NewTurn("run", ""), events.RequiresActionPayload{}); err == nil {
		t.Fatalf("expected error")
	}
}
