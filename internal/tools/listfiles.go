package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cozeplug/internal/util"
)

// ListFilesTool lists the immediate children of a directory.
type ListFilesTool struct{}

// NewListFilesTool constructs a list_files tool.
func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{}
}

func (l *ListFilesTool) Name() Name { return ListFiles }

func (l *ListFilesTool) Description() string {
	return "List the files and directories directly inside a local directory."
}

func (l *ListFilesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"dir": map[string]any{"type": "string", "description": "Absolute or relative directory path."},
		},
		"required":             []string{"dir"},
		"additionalProperties": false,
	}
}

type listFilesInput struct {
	Dir string `json:"dir"`
}

// FileEntry describes one directory child.
type FileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type listFilesOutput struct {
	Files     []FileEntry `json:"files"`
	Truncated bool        `json:"truncated,omitempty"`
}

func (l *ListFilesTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args listFilesInput
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(args.Dir) == "" {
		return Result{}, fmt.Errorf("%w: dir is required", ErrInvalidArgument)
	}

	start := time.Now()
	info, err := os.Stat(args.Dir)
	if err != nil {
		return Result{}, fsError(err, args.Dir)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, args.Dir)
	}
	entries, err := os.ReadDir(args.Dir)
	if err != nil {
		return Result{}, fsError(err, args.Dir)
	}

	files := make([]FileEntry, 0, len(entries))
	truncated := false
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if meta.MaxEntries > 0 && len(files) >= meta.MaxEntries {
			truncated = true
			break
		}
		files = append(files, FileEntry{Name: entry.Name(), Type: entryType(args.Dir, entry)})
	}

	names := make([]string, 0, len(files))
	byteCount := 0
	for _, f := range files {
		names = append(names, f.Type+" "+f.Name)
		byteCount += len(f.Name)
	}
	return Result{
		ToolName:   string(l.Name()),
		Payload:    listFilesOutput{Files: files, Truncated: truncated},
		Preview:    util.Preview(strings.Join(names, "\n"), 12, 2000),
		LineCount:  len(files),
		ByteCount:  byteCount,
		Truncated:  truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func entryType(dir string, entry os.DirEntry) string {
	if entry.IsDir() {
		return "dir"
	}
	if entry.Type()&os.ModeSymlink != 0 {
		if target, err := os.Stat(filepath.Join(dir, entry.Name())); err == nil && target.IsDir() {
			return "dir"
		}
	}
	return "file"
}
