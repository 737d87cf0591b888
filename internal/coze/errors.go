package coze

import (
	"errors"
	"fmt"
)

// ErrMissingToken is returned when no credentials are configured.
var ErrMissingToken = errors.New("coze api token is not configured")

// TransportError reports a failed exchange with the platform.
type TransportError struct {
	Op         string
	StatusCode int
	LogID      string
	Err        error
}

func (e *TransportError) Error() string {
	msg := "coze " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.LogID != "" {
		msg += " logid " + e.LogID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-zero business code in a platform response body.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("code=%d msg=%s", e.Code, e.Message)
}
