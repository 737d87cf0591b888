package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"cozeplug/internal/events"
	"cozeplug/internal/util"

	"github.com/fatih/color"
)

const maxInputBytes = 400

var (
	headerColor = color.New(color.FgMagenta, color.Bold)
	toolColor   = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	audioColor  = color.New(color.FgYellow)
)

// StdoutRenderer streams chat events to a plain text writer.
type StdoutRenderer struct {
	w                io.Writer
	mu               sync.Mutex
	verbose          bool
	quiet            bool
	showHeader       bool
	showTools        bool
	sawDelta         bool
	endedWithNewline bool
}

// NewStdoutRenderer creates a renderer for plain text streaming.
func NewStdoutRenderer(w io.Writer, verbose bool, quiet bool, showHeader bool, showTools bool) *StdoutRenderer {
	return &StdoutRenderer{w: w, verbose: verbose, quiet: quiet, showHeader: showHeader, showTools: showTools}
}

func (r *StdoutRenderer) Emit(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case events.TurnStarted:
		if payload, ok := events.As[events.TurnStartedPayload](event); ok {
			if r.quiet || !r.showHeader {
				return
			}
			headerColor.Fprintf(r.w, "cozeplug v%s | bot: %s | transport: %s | run: %s\n", payload.Version, payload.BotID, payload.Transport, payload.RunID)
		}
	case events.ChatCreated:
		if payload, ok := events.As[events.ChatCreatedPayload](event); ok {
			if !r.verbose || r.quiet {
				return
			}
			r.breakLine()
			fmt.Fprintf(r.w, "chat: %s conversation: %s\n", payload.ChatID, payload.ConversationID)
		}
	case events.MessageDelta:
		if payload, ok := events.As[events.MessageDeltaPayload](event); ok && payload.Content != "" {
			fmt.Fprint(r.w, payload.Content)
			r.sawDelta = true
			r.endedWithNewline = strings.HasSuffix(payload.Content, "\n")
		}
	case events.ToolCallStarted:
		if payload, ok := events.As[events.ToolCallStartedPayload](event); ok {
			if r.quiet || !r.showTools {
				return
			}
			r.breakLine()
			toolColor.Fprintf(r.w, " > tool: %s start\n", payload.ToolName)
			if r.verbose {
				input, _ := util.TruncateBytes(fmt.Sprint(payload.Input), maxInputBytes)
				fmt.Fprintf(r.w, "   input: %s\n", input)
			}
		}
	case events.ToolCallFinished, events.ToolCallFailed:
		if payload, ok := events.As[events.ToolCallFinishedPayload](event); ok {
			if r.quiet || !r.showTools {
				return
			}
			r.breakLine()
			if payload.Status == "success" {
				toolColor.Fprintf(r.w, " > tool: %s ok (%dms, %d lines, %d bytes)\n", payload.ToolName, payload.DurationMs, payload.LineCount, payload.ByteCount)
			} else {
				errorColor.Fprintf(r.w, " > tool: %s err %s (%dms)\n", payload.ToolName, payload.Code, payload.DurationMs)
			}
			if r.verbose && payload.Preview != "" {
				fmt.Fprintln(r.w, "   preview:")
				for _, line := range strings.Split(payload.Preview, "\n") {
					fmt.Fprintf(r.w, "     %s\n", line)
				}
			}
		}
	case events.AudioSaved:
		if payload, ok := events.As[events.AudioSavedPayload](event); ok {
			if r.quiet {
				return
			}
			r.breakLine()
			audioColor.Fprintf(r.w, "audio saved to %s (%d bytes)\n", payload.Path, payload.Bytes)
		}
	case events.ChatFailed, events.Error:
		if payload, ok := events.As[events.ErrorPayload](event); ok {
			r.breakLine()
			errorColor.Fprintf(r.w, "Error: %s (code %d)\n", payload.Message, payload.Code)
		}
	case events.TurnFinished:
		if r.sawDelta && !r.endedWithNewline {
			fmt.Fprintln(r.w)
		}
		r.sawDelta = false
		r.endedWithNewline = false
	}
}

// breakLine ends a partially printed reply before a status line.
func (r *StdoutRenderer) breakLine() {
	if r.sawDelta && !r.endedWithNewline {
		fmt.Fprintln(r.w)
		r.endedWithNewline = true
	}
}

func (r *StdoutRenderer) Close() error {
	return nil
}
