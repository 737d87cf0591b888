package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cozeplug/internal/chat"
	"cozeplug/internal/events"
	"cozeplug/internal/tools"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"
	"go.uber.org/zap"
)

// OpenAIOptions configures an OpenAIConversation.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Referer string
	Title   string
	Logger  *zap.Logger
}

// OpenAIConversation implements chat.API on an OpenAI-compatible chat
// completions endpoint. History is kept in memory per conversation id.
type OpenAIConversation struct {
	client   openai.Client
	model    string
	registry *tools.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	messages map[string][]openai.ChatCompletionMessageParamUnion
}

// NewOpenAIConversation constructs the backend. The registry supplies the
// tool schema offered to the model.
func NewOpenAIConversation(opts OpenAIOptions, registry *tools.Registry) *OpenAIConversation {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", opts.Referer))
	}
	if opts.Title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", opts.Title))
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIConversation{
		client:   openai.NewClient(reqOpts...),
		model:    opts.Model,
		registry: registry,
		logger:   logger,
		messages: map[string][]openai.ChatCompletionMessageParamUnion{},
	}
}

// Open appends the user messages to the conversation and streams a reply.
func (o *OpenAIConversation) Open(ctx context.Context, req chat.TurnRequest) (chat.Stream, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	o.mu.Lock()
	history, ok := o.messages[conversationID]
	if !ok {
		var names []string
		if o.registry != nil {
			names = o.registry.Names()
		}
		history = []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt(names))}
	}
	for _, msg := range req.Messages {
		history = append(history, openai.UserMessage(messageText(msg)))
	}
	o.messages[conversationID] = history
	o.mu.Unlock()

	chatID := uuid.NewString()
	s := o.start(ctx, conversationID, chatID)
	s.pending = append(s.pending, events.New(events.ChatCreated, events.ChatCreatedPayload{ChatID: chatID, ConversationID: conversationID}))
	return s, nil
}

// Resume appends tool outputs and streams the continuation of the same chat.
func (o *OpenAIConversation) Resume(ctx context.Context, req chat.ResumeRequest) (chat.Stream, error) {
	o.mu.Lock()
	history, ok := o.messages[req.ConversationID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("unknown conversation %s", req.ConversationID)
	}
	for _, out := range req.Outputs {
		history = append(history, openai.ToolMessage(out.Output, out.ToolCallID))
	}
	o.messages[req.ConversationID] = history
	o.mu.Unlock()
	return o.start(ctx, req.ConversationID, req.ChatID), nil
}

func (o *OpenAIConversation) start(ctx context.Context, conversationID, chatID string) *openAIStream {
	o.mu.Lock()
	history := append([]openai.ChatCompletionMessageParamUnion(nil), o.messages[conversationID]...)
	o.mu.Unlock()

	params := openai.ChatCompletionNewParams{
		Model:         shared.ChatModel(o.model),
		Messages:      history,
		Temperature:   param.NewOpt(0.2),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)},
	}
	if o.registry != nil {
		if defs := o.registry.OpenAITools(); len(defs) > 0 {
			params.Tools = defs
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("auto")}
		}
	}
	o.logger.Debug("openai stream", zap.String("model", o.model), zap.String("conversation_id", conversationID), zap.Int("messages", len(history)))
	return &openAIStream{
		owner:          o,
		conversationID: conversationID,
		chatID:         chatID,
		stream:         o.client.Chat.Completions.NewStreaming(ctx, params),
		calls:          map[int64]*events.ToolCall{},
	}
}

func (o *OpenAIConversation) appendAssistant(conversationID string, text string, calls []events.ToolCall) {
	var msg openai.ChatCompletionMessageParamUnion
	if len(calls) == 0 {
		msg = openai.AssistantMessage(text)
	} else {
		params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
		for _, call := range calls {
			params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
					Type: constant.Function("function"),
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: params}
		msg = openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	}
	o.mu.Lock()
	o.messages[conversationID] = append(o.messages[conversationID], msg)
	o.mu.Unlock()
}

type openAIStream struct {
	owner          *OpenAIConversation
	conversationID string
	chatID         string
	stream         *ssestream.Stream[openai.ChatCompletionChunk]

	pending  []events.Event
	current  events.Event
	text     strings.Builder
	calls    map[int64]*events.ToolCall
	usage    events.Usage
	finished bool
	err      error
}

func (s *openAIStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.finished || s.err != nil {
			return false
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.err = err
				return false
			}
			s.finish()
			continue
		}
		s.absorb(s.stream.Current())
	}
}

func (s *openAIStream) absorb(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens > 0 {
		s.usage = events.Usage{TokenCount: int(chunk.Usage.TotalTokens), InputCount: int(chunk.Usage.PromptTokens), OutputCount: int(chunk.Usage.CompletionTokens)}
	}
	for _, choice := range chunk.Choices {
		if delta := choice.Delta.Content; delta != "" {
			s.text.WriteString(delta)
			s.pending = append(s.pending, events.New(events.MessageDelta, events.MessageDeltaPayload{ChatID: s.chatID, Content: delta}))
		}
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := s.calls[tc.Index]
			if !ok {
				call = &events.ToolCall{}
				s.calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments = append(call.Arguments, tc.Function.Arguments...)
		}
	}
}

func (s *openAIStream) finish() {
	s.finished = true
	indexes := make([]int64, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	calls := make([]events.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call := *s.calls[idx]
		if len(call.Arguments) == 0 || !json.Valid(call.Arguments) {
			call.Arguments = json.RawMessage("{}")
		}
		calls = append(calls, call)
	}
	s.owner.appendAssistant(s.conversationID, s.text.String(), calls)

	if len(calls) > 0 {
		s.pending = append(s.pending, events.New(events.RequiresAction, events.RequiresActionPayload{ChatID: s.chatID, ConversationID: s.conversationID, ToolCalls: calls}))
		return
	}
	s.pending = append(s.pending, events.New(events.ChatCompleted, events.ChatCompletedPayload{ChatID: s.chatID, ConversationID: s.conversationID, Usage: s.usage}))
}

func (s *openAIStream) Current() events.Event { return s.current }

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) Close() error { return s.stream.Close() }

func (s *openAIStream) LogID() string { return "" }

// messageText flattens object_string content to its text parts.
func messageText(msg chat.Message) string {
	if msg.ContentType != chat.ContentObjectString {
		return msg.Content
	}
	var items []chat.ObjectItem
	if err := json.Unmarshal([]byte(msg.Content), &items); err != nil {
		return msg.Content
	}
	var parts []string
	for _, item := range items {
		switch {
		case item.Text != "":
			parts = append(parts, item.Text)
		case item.FileID != "":
			parts = append(parts, fmt.Sprintf("[%s file %s]", item.Type, item.FileID))
		}
	}
	return strings.Join(parts, "\n")
}
