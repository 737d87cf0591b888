package main

import (
	"fmt"

	"cozeplug/internal/chat"
	"cozeplug/internal/config"
	"cozeplug/internal/coze"
	"cozeplug/internal/llm"
	"cozeplug/internal/tools"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// backend is the wired conversation API plus the platform client used for
// uploads, when one is configured.
type backend struct {
	api      chat.API
	client   *coze.Client
	registry *tools.Registry
}

func newBackend(cfg config.Config, logger *zap.Logger) (backend, error) {
	if err := cfg.Validate(); err != nil {
		return backend{}, err
	}

	var b backend
	var tokens oauth2.TokenSource
	if cfg.Transport == config.TransportHTTP || cfg.Transport == config.TransportWebsocket {
		var err error
		tokens, err = coze.NewTokenSource(cfg.APIToken, coze.JWTConfig{
			AppID:          cfg.JWT.AppID,
			KeyID:          cfg.JWT.KeyID,
			PrivateKeyFile: cfg.JWT.PrivateKeyFile,
			BaseURL:        cfg.BaseURL,
			TTL:            cfg.JWTTTL,
		})
		if err != nil {
			return backend{}, fmt.Errorf("configure credentials: %w", err)
		}
		b.client = coze.NewClient(coze.Options{BaseURL: cfg.BaseURL, Tokens: tokens, Timeout: cfg.Timeout, Logger: logger})
		b.registry = tools.NewLocalRegistry(b.client)
	} else {
		b.registry = tools.NewLocalRegistry(nil)
	}

	switch cfg.Transport {
	case config.TransportHTTP:
		b.api = b.client
	case config.TransportWebsocket:
		b.api = coze.NewWebsocketChat(coze.WebsocketOptions{
			BaseURL:            cfg.WSBaseURL,
			Tokens:             tokens,
			PaceBytesPerSecond: cfg.Audio.ByteRate(),
			Logger:             logger,
		})
	case config.TransportOpenAI:
		b.api = llm.NewOpenAIConversation(llm.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
			Title:   "cozeplug",
			Logger:  logger,
		}, b.registry)
	case config.TransportMock:
		b.api = llm.NewMockConversation("")
	default:
		return backend{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return b, nil
}
