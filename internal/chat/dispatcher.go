package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cozeplug/internal/events"
	"cozeplug/internal/tools"
	"cozeplug/internal/util"

	"go.uber.org/zap"
)

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// DispatcherOptions configures tool execution.
type DispatcherOptions struct {
	Meta     tools.Meta
	Timeout  time.Duration
	Observer Observer
}

// Dispatcher resolves tool calls against the local registry and submits the
// outputs back to the conversation API.
type Dispatcher struct {
	api      API
	registry *tools.Registry
	meta     tools.Meta
	timeout  time.Duration
	observer Observer
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(api API, registry *tools.Registry, logger *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Dispatcher{api: api, registry: registry, meta: opts.Meta, timeout: timeout, observer: opts.Observer, logger: logger}
}

// Resume executes the first tool call of action, records it on turn and
// submits the outputs. Additional calls in the same action are answered with
// an unsupported error.
func (d *Dispatcher) Resume(ctx context.Context, turn *Turn, action events.RequiresActionPayload) (Stream, error) {
	if len(action.ToolCalls) == 0 {
		return nil, errNoToolCalls
	}
	if action.ChatID != "" {
		turn.ChatID = action.ChatID
	}
	if action.ConversationID != "" {
		turn.ConversationID = action.ConversationID
	}

	output, record := d.Dispatch(ctx, action.ToolCalls[0])
	turn.ToolCalls = append(turn.ToolCalls, record)
	outputs := []ToolOutput{output}
	for _, extra := range action.ToolCalls[1:] {
		d.logger.Warn("only the first tool call is executed", zap.String("call_id", extra.ID), zap.String("tool", extra.Name))
		outputs = append(outputs, errorOutput(extra.ID, fmt.Errorf("%w: only one tool call per action is supported", tools.ErrInvalidArgument)))
	}

	stream, err := d.api.Resume(ctx, ResumeRequest{ConversationID: turn.ConversationID, ChatID: turn.ChatID, Outputs: outputs})
	if err != nil {
		return nil, fmt.Errorf("submit tool outputs: %w", err)
	}
	return stream, nil
}

// Dispatch runs a single tool call. Tool failures are returned as an error
// output for the model rather than as a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, call events.ToolCall) (ToolOutput, ToolCallRecord) {
	start := time.Now()
	input := sanitizeInput(call.Arguments)
	record := ToolCallRecord{CallID: call.ID, ToolName: call.Name, Input: input, StartedAt: start}
	d.emit(events.New(events.ToolCallStarted, events.ToolCallStartedPayload{CallID: call.ID, ToolName: call.Name, Input: input, StartedAt: start}))

	res, err := d.execute(ctx, call)
	record.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		code := tools.Code(err)
		d.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.String("call_id", call.ID), zap.String("code", code), zap.Error(err))
		record.Status = "error"
		record.Code = code
		record.Output = map[string]any{"error": err.Error(), "code": code}
		d.emit(events.New(events.ToolCallFailed, events.ToolCallFinishedPayload{
			CallID:     call.ID,
			ToolName:   call.Name,
			Status:     "error",
			Code:       code,
			Preview:    err.Error(),
			LineCount:  1,
			ByteCount:  len(err.Error()),
			DurationMs: record.DurationMs,
		}))
		return errorOutput(call.ID, err), record
	}

	payload, err := json.Marshal(res.Payload)
	if err != nil {
		record.Status = "error"
		record.Code = tools.Code(err)
		record.Output = map[string]any{"error": err.Error(), "code": record.Code}
		return errorOutput(call.ID, err), record
	}
	record.Status = "success"
	record.Output = res.Payload
	d.logger.Info("tool call finished", zap.String("tool", call.Name), zap.String("call_id", call.ID), zap.Int64("duration_ms", record.DurationMs))
	d.emit(events.New(events.ToolCallFinished, events.ToolCallFinishedPayload{
		CallID:     call.ID,
		ToolName:   call.Name,
		Status:     "success",
		Preview:    res.Preview,
		LineCount:  res.LineCount,
		ByteCount:  res.ByteCount,
		DurationMs: record.DurationMs,
	}))
	return ToolOutput{ToolCallID: call.ID, Output: string(payload)}, record
}

type execResult struct {
	res tools.Result
	err error
}

func (d *Dispatcher) execute(ctx context.Context, call events.ToolCall) (tools.Result, error) {
	tool, err := d.registry.Get(call.Name)
	if err != nil {
		return tools.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		res, err := tool.Execute(ctx, call.Arguments, d.meta)
		done <- execResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == context.DeadlineExceeded {
			return tools.Result{}, fmt.Errorf("%w after %s", tools.ErrTimeout, d.timeout)
		}
		return out.res, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return tools.Result{}, fmt.Errorf("%w after %s", tools.ErrTimeout, d.timeout)
		}
		return tools.Result{}, ctx.Err()
	}
}

func (d *Dispatcher) emit(event events.Event) {
	if d.observer != nil {
		d.observer.Emit(event)
	}
}

func errorOutput(callID string, err error) ToolOutput {
	payload, _ := json.Marshal(map[string]string{"error": err.Error(), "code": tools.Code(err)})
	return ToolOutput{ToolCallID: callID, Output: string(payload)}
}

func sanitizeInput(args json.RawMessage) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	var data any
	if err := json.Unmarshal(args, &data); err != nil {
		return map[string]any{"raw": util.RedactSecrets(string(args))}
	}
	if bytes, err := json.Marshal(data); err == nil {
		return util.RedactSecrets(string(bytes))
	}
	return data
}
