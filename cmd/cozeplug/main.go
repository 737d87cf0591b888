package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"cozeplug/internal/agent"
	"cozeplug/internal/chat"
	"cozeplug/internal/config"
	"cozeplug/internal/render"
	"cozeplug/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cozeplug",
		Short:         "cozeplug - chat with a bot and answer its tool calls locally",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("bot-id", "", "Bot to chat with")
	flags.String("workflow-id", "", "Workflow to run instead of a bot")
	flags.String("user-id", "", "User id reported to the platform")
	flags.String("transport", config.DefaultTransport, "Transport: http, websocket, openai or mock")
	flags.Bool("mock", false, "Use the scripted mock backend")
	flags.String("model", config.DefaultModel, "Model name for the openai transport")
	flags.String("output-audio", "", "Write reply audio to this WAV file")
	flags.String("timeout", config.DefaultTimeout.String(), "Turn timeout (e.g. 60s)")
	flags.String("tool-timeout", config.DefaultToolTimeout.String(), "Per tool call timeout")
	flags.Bool("quiet", false, "Only print the reply text")
	flags.Bool("json", false, "Output JSON only")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-file", "", "Also write plain-text output to a file")
	flags.Bool("persist-runs", false, "Save each turn as JSON under ~/.local/share/cozeplug/runs")

	cmd.AddCommand(newChatCmd(), newVoiceCmd())
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question, or start an interactive session when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			return withSession(cmd, cfg, func(ctx context.Context, s *session) error {
				if len(args) > 0 {
					return s.ask(ctx, strings.Join(args, " "))
				}
				return s.repl(ctx, cmd.InOrStdin())
			})
		},
	}
}

func newVoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Send a recorded question, optionally with an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _ := cmd.Flags().GetBool("ws")
			if ws && !cmd.Flags().Changed("transport") {
				_ = cmd.Flags().Set("transport", config.TransportWebsocket)
			}
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if cfg.OutputAudio == "" {
				cfg.OutputAudio = "output_http_audio.wav"
				if cfg.Transport == config.TransportWebsocket {
					cfg.OutputAudio = "output_ws_audio.wav"
				}
			}
			audioPath, _ := cmd.Flags().GetString("audio")
			imagePath, _ := cmd.Flags().GetString("image")

			return withSession(cmd, cfg, func(ctx context.Context, s *session) error {
				if s.backend.client == nil {
					return fmt.Errorf("voice needs the http or websocket transport")
				}
				req, err := agent.VoiceRequest(ctx, s.backend.client, agent.VoiceInput{
					AudioPath: audioPath,
					ImagePath: imagePath,
					Stream:    cfg.Transport == config.TransportWebsocket,
				})
				if err != nil {
					return err
				}
				return s.run(ctx, "(voice) "+audioPath, req)
			})
		},
	}
	cmd.Flags().String("audio", "input_audio.wav", "Recorded question (WAV or raw 24kHz PCM)")
	cmd.Flags().String("image", "", "Image to send with the question")
	cmd.Flags().Bool("ws", false, "Stream the audio over the websocket transport")
	return cmd
}

type session struct {
	cfg     config.Config
	backend backend
	agent   *agent.Agent
	out     io.Writer
	logger  *zap.Logger
}

func withSession(cmd *cobra.Command, cfg config.Config, fn func(context.Context, *session) error) error {
	logger := buildLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	b, err := newBackend(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	var renderer render.Renderer
	var logFile *os.File
	if !cfg.JSON {
		writer := out
		if cfg.LogFile != "" {
			file, err := os.Create(cfg.LogFile)
			if err != nil {
				return err
			}
			logFile = file
			writer = io.MultiWriter(out, logFile)
		}
		renderer = render.NewStdoutRenderer(writer, cfg.Verbose, cfg.Quiet, !cfg.Quiet, !cfg.Quiet)
	}

	s := &session{
		cfg:     cfg,
		backend: b,
		agent:   agent.NewAgent(b.api, b.registry, renderer, logger, cfg),
		out:     out,
		logger:  logger,
	}
	runErr := fn(ctx, s)
	if renderer != nil {
		_ = renderer.Close()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	return runErr
}

func (s *session) ask(ctx context.Context, question string) error {
	return s.finish(s.agent.Ask(ctx, question))
}

func (s *session) run(ctx context.Context, question string, req chat.TurnRequest) error {
	return s.finish(s.agent.Run(ctx, question, req))
}

func (s *session) finish(result agent.RunResult, err error) error {
	if s.cfg.PersistRuns {
		persistRun(s.logger, result)
	}
	if s.cfg.JSON {
		payload, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(s.out, string(payload))
	}
	return err
}

// repl runs one turn per input line until EOF or "exit".
func (s *session) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if !s.cfg.JSON {
			fmt.Fprint(os.Stderr, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := s.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.logger.Warn("turn failed", zap.Error(err))
		}
	}
}

func persistRun(logger *zap.Logger, result agent.RunResult) {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("failed to get home dir", zap.Error(err))
		return
	}
	path := filepath.Join(home, ".local", "share", "cozeplug", "runs")
	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Warn("failed to create run directory", zap.Error(err))
		return
	}
	file := filepath.Join(path, result.RunID+".json")
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("failed to marshal run log", zap.Error(err))
		return
	}
	if err := os.WriteFile(file, payload, 0o600); err != nil {
		logger.Warn("failed to write run log", zap.Error(err))
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
