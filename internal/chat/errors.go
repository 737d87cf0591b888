package chat

import (
	"errors"
	"fmt"
)

var errNoToolCalls = errors.New("requires_action carried no tool calls")

// StreamError is reported by the platform inside the event stream.
type StreamError struct {
	Code    int
	Message string
	LogID   string
}

func (e *StreamError) Error() string {
	msg := fmt.Sprintf("chat failed: code=%d msg=%s", e.Code, e.Message)
	if e.LogID != "" {
		msg += " logid=" + e.LogID
	}
	return msg
}
