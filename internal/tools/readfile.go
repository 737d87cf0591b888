package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"cozeplug/internal/util"
)

// ReadFileTool returns the text content of a local file.
type ReadFileTool struct{}

// NewReadFileTool constructs a read_file tool.
func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

func (r *ReadFileTool) Name() Name { return ReadFile }

func (r *ReadFileTool) Description() string {
	return "Read the full text content of a local file."
}

func (r *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute or relative file path."},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
}

type readFileInput struct {
	Path string `json:"path"`
}

type readFileOutput struct {
	Content string `json:"content"`
}

func (r *ReadFileTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args readFileInput
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.Path) == "" {
		return Result{}, fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	if isDenylisted(args.Path) {
		return Result{}, fmt.Errorf("%w: %s looks like a credential file", ErrPermission, args.Path)
	}

	start := time.Now()
	info, err := os.Stat(args.Path)
	if err != nil {
		return Result{}, fsError(err, args.Path)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is a directory", ErrInvalidArgument, args.Path)
	}
	if meta.MaxBytes > 0 && info.Size() > int64(meta.MaxBytes) {
		return Result{}, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, args.Path, info.Size(), meta.MaxBytes)
	}

	data, err := os.ReadFile(args.Path)
	if err != nil {
		return Result{}, fsError(err, args.Path)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return Result{}, fmt.Errorf("%w: %s", ErrDecode, args.Path)
	}

	content := string(data)
	preview := util.Preview(util.RedactSecrets(content), 12, 2000)
	lineCount := 0
	if content != "" {
		lineCount = strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
	}
	return Result{
		ToolName:   string(r.Name()),
		Payload:    readFileOutput{Content: content},
		Preview:    preview,
		LineCount:  lineCount,
		ByteCount:  len(data),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
