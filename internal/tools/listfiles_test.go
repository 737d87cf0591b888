package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"cozeplug/internal/config"
)

func TestListFilesReportsEveryEntry(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.go", "c.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
	}
	for _, name := range []string{"sub", "zdir"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
	}

	input, _ := json.Marshal(map[string]any{"dir": dir})
	res, err := NewListFilesTool().Execute(context.Background(), input, Meta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := res.Payload.(listFilesOutput)
	if !ok {
		t.Fatalf("unexpected payload type %T", res.Payload)
	}
	if len(out.Files) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(out.Files))
	}
	want := map[string]string{"a.txt": "file", "b.go": "file", "c.md": "file", "sub": "dir", "zdir": "dir"}
	for _, f := range out.Files {
		if want[f.Name] != f.Type {
			t.Fatalf("entry %s tagged %s, expected %s", f.Name, f.Type, want[f.Name])
		}
	}
	if out.Files[0].Name != "a.txt" || out.Files[4].Name != "zdir" {
		t.Fatalf("expected entries ordered by name, got %+v", out.Files)
	}
}

func TestListFilesMissingDir(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"dir": filepath.Join(t.TempDir(), "missing")})
	_, err := NewListFilesTool().Execute(context.Background(), input, Meta{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilesRejectsBadArguments(t *testing.T) {
	tool := NewListFilesTool()
	for _, raw := range []string{`{"dir": 3}`, `not json`, `{}`} {
		_, err := tool.Execute(context.Background(), json.RawMessage(raw), Meta{})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("input %q: expected ErrInvalidArgument, got %v", raw, err)
		}
	}
}

func TestListFilesOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	input, _ := json.Marshal(map[string]any{"dir": path})
	_, err := NewListFilesTool().Execute(context.Background(), input, Meta{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestListFilesDefaultLimitKeepsLargeDirs(t *testing.T) {
	dir := t.TempDir()
	const count = 1001
	for i := 0; i < count; i++ {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%04d.txt", i)), nil, 0o644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
	}

	input, _ := json.Marshal(map[string]any{"dir": dir})
	res, err := NewListFilesTool().Execute(context.Background(), input, Meta{MaxEntries: config.DefaultMaxEntries})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := res.Payload.(listFilesOutput)
	if len(out.Files) != count || out.Truncated {
		t.Fatalf("expected %d entries untruncated, got %d (truncated=%v)", count, len(out.Files), out.Truncated)
	}
}

func TestListFilesUnreadableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "locked")
	if err := os.Mkdir(dir, 0o000); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	input, _ := json.Marshal(map[string]any{"dir": dir})
	_, err := NewListFilesTool().Execute(context.Background(), input, Meta{})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}
