package tools

import (
	"context"
	"encoding/json"
)

// Meta provides execution context to tools.
type Meta struct {
	TempDir    string
	MaxBytes   int
	MaxEntries int
}

// Result is a structured tool execution result.
type Result struct {
	ToolName   string
	Payload    any
	Preview    string
	LineCount  int
	ByteCount  int
	Truncated  bool
	DurationMs int64
}

// Tool describes a callable local capability.
type Tool interface {
	Name() Name
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error)
}

// Uploader stores a local file on the platform and returns its file id.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}
