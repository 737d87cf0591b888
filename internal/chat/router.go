package chat

import (
	"context"
	"encoding/base64"
	"fmt"

	"cozeplug/internal/events"

	"go.uber.org/zap"
)

// RouterOptions configures terminal side effects of a turn.
type RouterOptions struct {
	Sink      AudioSink
	AudioPath string
	Observer  Observer
}

// Router consumes the event streams of a turn and dispatches each event by kind.
type Router struct {
	dispatcher *Dispatcher
	sink       AudioSink
	audioPath  string
	observer   Observer
	logger     *zap.Logger
}

// NewRouter constructs a Router.
func NewRouter(dispatcher *Dispatcher, logger *zap.Logger, opts RouterOptions) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{dispatcher: dispatcher, sink: opts.Sink, audioPath: opts.AudioPath, observer: opts.Observer, logger: logger}
}

type pass struct {
	turn  *Turn
	queue []Stream
}

// Run drains stream and every stream spawned by tool resumption, in FIFO
// order, strictly one event at a time.
func (r *Router) Run(ctx context.Context, turn *Turn, stream Stream) error {
	p := &pass{turn: turn, queue: []Stream{stream}}
	defer func() {
		for _, pending := range p.queue {
			_ = pending.Close()
		}
	}()

	for len(p.queue) > 0 {
		current := p.queue[0]
		p.queue = p.queue[1:]
		err := r.drain(ctx, p, current)
		_ = current.Close()
		if err != nil {
			return err
		}
	}
	if turn.Completed && !turn.audioFlushed {
		return r.flush(turn)
	}
	return nil
}

func (r *Router) drain(ctx context.Context, p *pass, stream Stream) error {
	logID := stream.LogID()
	if logID != "" {
		p.turn.LogIDs = append(p.turn.LogIDs, logID)
		r.logger.Info("chat stream opened", zap.String("logid", logID), zap.String("run_id", p.turn.RunID))
	}
	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.handle(ctx, p, stream.Current(), logID); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

func (r *Router) handle(ctx context.Context, p *pass, event events.Event, logID string) error {
	turn := p.turn
	r.emit(event)

	switch event.Type {
	case events.ChatCreated:
		payload, _ := events.As[events.ChatCreatedPayload](event)
		if payload.ChatID != "" {
			turn.ChatID = payload.ChatID
		}
		if payload.ConversationID != "" {
			turn.ConversationID = payload.ConversationID
		}
		if payload.LogID != "" && payload.LogID != logID {
			turn.LogIDs = append(turn.LogIDs, payload.LogID)
		}
		r.logger.Debug("chat created", zap.String("chat_id", payload.ChatID), zap.String("conversation_id", payload.ConversationID))
	case events.MessageDelta:
		payload, _ := events.As[events.MessageDeltaPayload](event)
		turn.text.WriteString(payload.Content)
	case events.AudioDelta:
		payload, _ := events.As[events.AudioDeltaPayload](event)
		pcm, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return fmt.Errorf("decode audio delta: %w", err)
		}
		turn.audio.Write(pcm)
	case events.RequiresAction:
		payload, ok := events.As[events.RequiresActionPayload](event)
		if !ok {
			return fmt.Errorf("requires_action event without payload")
		}
		next, err := r.dispatcher.Resume(ctx, turn, payload)
		if err != nil {
			return err
		}
		if next != nil {
			p.queue = append(p.queue, next)
		}
	case events.ChatCompleted:
		payload, _ := events.As[events.ChatCompletedPayload](event)
		turn.Completed = true
		turn.Usage.TokenCount += payload.Usage.TokenCount
		turn.Usage.InputCount += payload.Usage.InputCount
		turn.Usage.OutputCount += payload.Usage.OutputCount
		if len(p.queue) == 0 {
			return r.flush(turn)
		}
	case events.ChatFailed, events.Error:
		payload, _ := events.As[events.ErrorPayload](event)
		r.logger.Error("chat stream reported an error", zap.Int("code", payload.Code), zap.String("msg", payload.Message), zap.String("logid", logID))
		return &StreamError{Code: payload.Code, Message: payload.Message, LogID: logID}
	case events.ChatInProgress, events.MessageDone, events.Done:
	default:
		r.logger.Debug("ignoring chat event", zap.String("type", string(event.Type)))
	}
	return nil
}

func (r *Router) flush(turn *Turn) error {
	if turn.audioFlushed {
		return nil
	}
	turn.audioFlushed = true
	if r.sink == nil || turn.audio.Len() == 0 {
		return nil
	}
	if err := r.sink.Write(turn.audio.Bytes(), r.audioPath); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	turn.AudioPath = r.audioPath
	r.logger.Info("audio saved", zap.String("path", r.audioPath), zap.Int("bytes", turn.audio.Len()))
	r.emit(events.New(events.AudioSaved, events.AudioSavedPayload{Path: r.audioPath, Bytes: turn.audio.Len()}))
	return nil
}

func (r *Router) emit(event events.Event) {
	if r.observer != nil {
		r.observer.Emit(event)
	}
}
