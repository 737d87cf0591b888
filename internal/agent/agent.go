package agent

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"cozeplug/internal/audio"
	"cozeplug/internal/chat"
	"cozeplug/internal/config"
	"cozeplug/internal/events"
	"cozeplug/internal/render"
	"cozeplug/internal/tools"
	"cozeplug/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// RunResult captures one turn for JSON mode.
type RunResult struct {
	RunID          string                `json:"run_id"`
	StartedAt      time.Time             `json:"timestamp_start"`
	FinishedAt     time.Time             `json:"timestamp_end"`
	BotID          string                `json:"bot_id"`
	Transport      string                `json:"transport"`
	Question       string                `json:"question"`
	Status         string                `json:"status"`
	Error          string                `json:"error,omitempty"`
	Text           string                `json:"text"`
	ChatID         string                `json:"chat_id"`
	ConversationID string                `json:"conversation_id"`
	LogIDs         []string              `json:"log_ids"`
	Usage          events.Usage          `json:"usage"`
	ToolCalls      []chat.ToolCallRecord `json:"tool_calls"`
	AudioPath      string                `json:"audio_path,omitempty"`
	Events         []events.Event        `json:"events"`
}

// Agent drives chat turns against a conversation API and answers tool calls
// with the local registry.
type Agent struct {
	api      chat.API
	tools    *tools.Registry
	renderer render.Renderer
	sink     chat.AudioSink
	logger   *zap.Logger
	cfg      config.Config

	userID         string
	mu             sync.Mutex
	conversationID string
}

// NewAgent constructs an Agent. A nil renderer disables output. Without a
// configured user id the agent picks one and keeps it for every turn.
func NewAgent(api chat.API, toolsReg *tools.Registry, renderer render.Renderer, logger *zap.Logger, cfg config.Config) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	return &Agent{api: api, tools: toolsReg, renderer: renderer, sink: audio.NewWAVSink(cfg.Audio), logger: logger, cfg: cfg, userID: userID}
}

// UserID returns the user id sent with every turn.
func (a *Agent) UserID() string {
	return a.userID
}

// ConversationID returns the conversation the next turn continues, if any.
func (a *Agent) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}

// Ask runs one text turn, continuing the agent's conversation.
func (a *Agent) Ask(ctx context.Context, question string) (RunResult, error) {
	return a.Run(ctx, question, chat.TurnRequest{Messages: []chat.Message{chat.UserText(question)}})
}

// Run opens a turn with req and drives it until every stream it spawned is
// drained. Unset bot, workflow, user and conversation ids come from the
// agent's configuration and previous turns.
func (a *Agent) Run(ctx context.Context, question string, req chat.TurnRequest) (RunResult, error) {
	if req.BotID == "" {
		req.BotID = a.cfg.BotID
	}
	if req.WorkflowID == "" {
		req.WorkflowID = a.cfg.WorkflowID
	}
	if req.UserID == "" {
		req.UserID = a.userID
	}
	if req.ConversationID == "" {
		req.ConversationID = a.ConversationID()
	}

	started := time.Now()
	runID := uuid.NewString()
	result := RunResult{
		RunID:     runID,
		StartedAt: started,
		BotID:     req.BotID,
		Transport: a.cfg.Transport,
		Question:  question,
		Status:    StatusError,
	}
	obs := &observer{result: &result, renderer: a.renderer}

	obs.Emit(events.New(events.TurnStarted, events.TurnStartedPayload{
		Version:   version.Version,
		RunID:     runID,
		BotID:     req.BotID,
		Transport: a.cfg.Transport,
		StartedAt: started,
	}))

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	turn := chat.NewTurn(runID, req.ConversationID)
	err := a.drive(ctx, turn, req, obs)

	result.Text = turn.Text()
	result.ChatID = turn.ChatID
	result.ConversationID = turn.ConversationID
	result.LogIDs = turn.LogIDs
	result.Usage = turn.Usage
	result.ToolCalls = turn.ToolCalls
	result.AudioPath = turn.AudioPath
	result.FinishedAt = time.Now()

	var streamErr *chat.StreamError
	switch {
	case err == nil:
		result.Status = StatusSuccess
	case errors.As(err, &streamErr):
		result.Status = StatusFailed
	}
	if err != nil {
		result.Error = err.Error()
		a.logger.Error("turn failed", zap.String("run_id", runID), zap.Strings("log_ids", turn.LogIDs), zap.Error(err))
	}
	if turn.ConversationID != "" {
		a.mu.Lock()
		a.conversationID = turn.ConversationID
		a.mu.Unlock()
	}

	obs.Emit(events.New(events.TurnFinished, events.TurnFinishedPayload{Status: result.Status, FinishedAt: result.FinishedAt}))
	return result, err
}

func (a *Agent) drive(ctx context.Context, turn *chat.Turn, req chat.TurnRequest, obs chat.Observer) error {
	stream, err := a.api.Open(ctx, req)
	if err != nil {
		return err
	}
	dispatcher := chat.NewDispatcher(a.api, a.tools, a.logger, chat.DispatcherOptions{
		Meta: tools.Meta{
			TempDir:    os.TempDir(),
			MaxBytes:   a.cfg.ToolLimits.MaxFileBytes,
			MaxEntries: a.cfg.ToolLimits.MaxEntries,
		},
		Timeout:  a.cfg.ToolTimeout,
		Observer: obs,
	})
	opts := chat.RouterOptions{Observer: obs}
	if a.cfg.OutputAudio != "" {
		opts.Sink = a.sink
		opts.AudioPath = a.cfg.OutputAudio
	}
	return chat.NewRouter(dispatcher, a.logger, opts).Run(ctx, turn, stream)
}

// observer records every event on the result and forwards it to the renderer.
type observer struct {
	mu       sync.Mutex
	result   *RunResult
	renderer render.Renderer
}

func (o *observer) Emit(event events.Event) {
	o.mu.Lock()
	o.result.Events = append(o.result.Events, event)
	o.mu.Unlock()
	if o.renderer != nil {
		o.renderer.Emit(event)
	}
}
