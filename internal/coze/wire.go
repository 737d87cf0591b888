package coze

import (
	"encoding/json"
	"fmt"

	"cozeplug/internal/events"
)

type wireChat struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	BotID          string `json:"bot_id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action,omitempty"`
	Usage *struct {
		TokenCount  int `json:"token_count"`
		InputCount  int `json:"input_count"`
		OutputCount int `json:"output_count"`
	} `json:"usage,omitempty"`
	LastError *wireError `json:"last_error,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
	Role           string `json:"role"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type"`
}

type wireError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// decodeEvent turns a platform event of the given name into a chat event.
// Unknown names are passed through without a payload.
func decodeEvent(name string, data []byte, logID string) (events.Event, error) {
	kind := events.Type(name)
	switch kind {
	case events.ChatCreated, events.ChatInProgress:
		var chat wireChat
		if err := unmarshalData(name, data, &chat); err != nil {
			return events.Event{}, err
		}
		return events.New(kind, events.ChatCreatedPayload{ChatID: chat.ID, ConversationID: chat.ConversationID, BotID: chat.BotID, LogID: logID}), nil
	case events.MessageDelta, events.MessageDone:
		var msg wireMessage
		if err := unmarshalData(name, data, &msg); err != nil {
			return events.Event{}, err
		}
		return events.New(kind, events.MessageDeltaPayload{ChatID: msg.ChatID, Content: msg.Content}), nil
	case events.AudioDelta:
		var msg wireMessage
		if err := unmarshalData(name, data, &msg); err != nil {
			return events.Event{}, err
		}
		return events.New(kind, events.AudioDeltaPayload{ChatID: msg.ChatID, Content: msg.Content}), nil
	case events.RequiresAction:
		var chat wireChat
		if err := unmarshalData(name, data, &chat); err != nil {
			return events.Event{}, err
		}
		payload := events.RequiresActionPayload{ChatID: chat.ID, ConversationID: chat.ConversationID}
		if chat.RequiredAction != nil {
			for _, call := range chat.RequiredAction.SubmitToolOutputs.ToolCalls {
				args := json.RawMessage(call.Function.Arguments)
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				payload.ToolCalls = append(payload.ToolCalls, events.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args})
			}
		}
		return events.New(kind, payload), nil
	case events.ChatCompleted:
		var chat wireChat
		if err := unmarshalData(name, data, &chat); err != nil {
			return events.Event{}, err
		}
		payload := events.ChatCompletedPayload{ChatID: chat.ID, ConversationID: chat.ConversationID}
		if chat.Usage != nil {
			payload.Usage = events.Usage{TokenCount: chat.Usage.TokenCount, InputCount: chat.Usage.InputCount, OutputCount: chat.Usage.OutputCount}
		}
		return events.New(kind, payload), nil
	case events.ChatFailed:
		var chat wireChat
		if err := unmarshalData(name, data, &chat); err != nil {
			return events.Event{}, err
		}
		payload := events.ErrorPayload{Message: "chat failed"}
		if chat.LastError != nil {
			payload = events.ErrorPayload{Code: chat.LastError.Code, Message: chat.LastError.Msg}
		}
		return events.New(kind, payload), nil
	case events.Error:
		var e wireError
		if err := unmarshalData(name, data, &e); err != nil {
			return events.New(kind, events.ErrorPayload{Message: string(data)}), nil
		}
		return events.New(kind, events.ErrorPayload{Code: e.Code, Message: e.Msg}), nil
	case events.Done:
		return events.New(kind, nil), nil
	}
	return events.New(kind, nil), nil
}

func unmarshalData(name string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s event: %w", name, err)
	}
	return nil
}
