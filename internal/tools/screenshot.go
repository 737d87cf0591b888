package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

type captureCommand struct {
	name string
	args func(out string) []string
}

// ScreenshotTool captures the full screen with the first available platform command.
type ScreenshotTool struct {
	uploader Uploader
	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
}

// NewScreenshotTool constructs a screenshot tool. A nil uploader keeps the capture local.
func NewScreenshotTool(uploader Uploader) *ScreenshotTool {
	return &ScreenshotTool{uploader: uploader, goos: runtime.GOOS, getenv: os.Getenv, lookPath: exec.LookPath}
}

func (s *ScreenshotTool) Name() Name { return Screenshot }

func (s *ScreenshotTool) Description() string {
	return "Capture the full screen of the local machine and return the uploaded image id."
}

func (s *ScreenshotTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"required":             []string{},
		"additionalProperties": false,
	}
}

type screenshotOutput struct {
	Image string `json:"image,omitempty"`
	Path  string `json:"path,omitempty"`
}

func (s *ScreenshotTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args map[string]any
	if err := decodeArgs(input, &args); err != nil {
		return Result{}, err
	}

	start := time.Now()
	command, err := s.pickCommand()
	if err != nil {
		return Result{}, err
	}

	file, err := os.CreateTemp(meta.TempDir, "screenshot-*.png")
	if err != nil {
		return Result{}, err
	}
	out := file.Name()
	_ = file.Close()

	cmd := exec.CommandContext(ctx, command.name, command.args(out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %s: %v %s", ErrCaptureUnavailable, command.name, err, strings.TrimSpace(stderr.String()))
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(out)
		return Result{}, fmt.Errorf("%w: %s produced no image", ErrCaptureUnavailable, command.name)
	}

	output := screenshotOutput{Path: out}
	preview := out
	if s.uploader != nil {
		fileID, err := s.uploader.Upload(ctx, out)
		if err != nil {
			return Result{}, fmt.Errorf("upload screenshot: %w", err)
		}
		if err := os.Remove(out); err != nil {
			return Result{}, fmt.Errorf("remove uploaded screenshot: %w", err)
		}
		output = screenshotOutput{Image: fileID}
		preview = "image " + fileID
	}
	return Result{
		ToolName:   string(s.Name()),
		Payload:    output,
		Preview:    preview,
		LineCount:  1,
		ByteCount:  int(info.Size()),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *ScreenshotTool) pickCommand() (captureCommand, error) {
	var candidates []captureCommand
	switch s.goos {
	case "darwin":
		candidates = []captureCommand{
			{name: "screencapture", args: func(out string) []string { return []string{"-x", out} }},
		}
	case "linux", "freebsd", "openbsd", "netbsd":
		wayland := s.getenv("WAYLAND_DISPLAY") != ""
		x11 := s.getenv("DISPLAY") != ""
		if !wayland && !x11 {
			return captureCommand{}, fmt.Errorf("%w: no display surface", ErrCaptureUnavailable)
		}
		if wayland {
			candidates = append(candidates, captureCommand{name: "grim", args: func(out string) []string { return []string{out} }})
		}
		candidates = append(candidates,
			captureCommand{name: "gnome-screenshot", args: func(out string) []string { return []string{"-f", out} }},
		)
		if x11 {
			candidates = append(candidates,
				captureCommand{name: "import", args: func(out string) []string { return []string{"-window", "root", out} }},
				captureCommand{name: "scrot", args: func(out string) []string { return []string{"-o", out} }},
			)
		}
	default:
		return captureCommand{}, fmt.Errorf("%w: unsupported platform %s", ErrCaptureUnavailable, s.goos)
	}

	for _, candidate := range candidates {
		if path, err := s.lookPath(candidate.name); err == nil {
			candidate.name = path
			return candidate, nil
		}
	}
	return captureCommand{}, fmt.Errorf("%w: no capture command found", ErrCaptureUnavailable)
}
