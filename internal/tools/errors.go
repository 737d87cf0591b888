package tools

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPermission         = errors.New("permission denied")
	ErrDecode             = errors.New("content is not valid text")
	ErrCaptureUnavailable = errors.New("screen capture unavailable")
	ErrTimeout            = errors.New("tool timed out")
	ErrTooLarge           = errors.New("file exceeds the configured size limit")
)

// Code returns the short error code reported back to the model.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission_denied"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	}
	return "internal"
}

func fsError(err error, path string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermission, path)
	}
	return err
}
