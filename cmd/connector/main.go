package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cozeplug/internal/config"
	"cozeplug/internal/connector"
	"cozeplug/internal/coze"
	"cozeplug/internal/store"
	"cozeplug/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:           "connector",
		Short:         "connector - custom channel for publishing bots",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the publish callback, bot listing and OAuth endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			if cfg.Connector.CallbackToken == "" {
				return fmt.Errorf("connector.callback_token (COZE_CONNECTOR_CALLBACK_TOKEN) is required")
			}
			st, err := openStore(cfg.Connector, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := connector.Options{
				CallbackToken: cfg.Connector.CallbackToken,
				Store:         st,
				DenyWords:     cfg.Connector.DenyWords,
				PendingWords:  cfg.Connector.PendingWords,
				ClientID:      cfg.Connector.ClientID,
				ClientSecret:  cfg.Connector.ClientSecret,
				UserID:        cfg.Connector.UserID,
				UserName:      cfg.Connector.UserName,
				ConnectorID:   cfg.Connector.ConnectorID,
				Logger:        logger,
			}

			tokens, err := coze.NewTokenSource(cfg.APIToken, coze.JWTConfig{
				AppID:          cfg.JWT.AppID,
				KeyID:          cfg.JWT.KeyID,
				PrivateKeyFile: cfg.JWT.PrivateKeyFile,
				BaseURL:        cfg.BaseURL,
				TTL:            cfg.JWTTTL,
			})
			if err != nil {
				return fmt.Errorf("configure credentials: %w", err)
			}
			client := coze.NewClient(coze.Options{BaseURL: cfg.BaseURL, Tokens: tokens, Timeout: cfg.Timeout, Logger: logger})
			if tokens != nil {
				opts.Platform = client
			}
			if cfg.Connector.PKCEClientID != "" {
				opts.PKCE = coze.PKCEConfig(cfg.BaseURL, cfg.Connector.PKCEClientID, cfg.Connector.RedirectURL)
				opts.Users = func(accessToken string) connector.UserAPI {
					return client.WithTokenSource(coze.StaticToken(accessToken))
				}
			}

			srv := &http.Server{
				Addr:              cfg.Connector.Listen,
				Handler:           connector.NewServer(opts).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("connector listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Connector.Store))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", config.DefaultListenAddr, "Listen address")
	cmd.Flags().String("store", "file", "Bot registry backend: file or sqlite")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
	return cmd
}

func openStore(cfg config.Connector, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case "file", "":
		return store.NewFileStore(cfg.BotsFile, cfg.StoreRetries, logger), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath, cfg.StoreRetries, logger)
	default:
		return nil, fmt.Errorf("unknown store %q (want file or sqlite)", cfg.Store)
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
