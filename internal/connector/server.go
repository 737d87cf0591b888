// Package connector serves the custom-connector surface a platform calls
// when a bot is published to this channel.
package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"cozeplug/internal/coze"
	"cozeplug/internal/store"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Default audit vocabulary for bot names.
var (
	DefaultDenyWords    = []string{"非法", "违禁", "敏感"}
	DefaultPendingWords = []string{"审核中"}
)

// Platform fetches published bot details with the connector's own credentials.
type Platform interface {
	RetrieveBot(ctx context.Context, botID string) (coze.BotInfo, error)
}

// UserAPI is the platform surface reachable with an end user's token.
type UserAPI interface {
	UsersMe(ctx context.Context) (coze.User, error)
	SyncDevice(ctx context.Context, connectorID, deviceID, deviceName string) error
}

// Options configures a Server. Store and CallbackToken are required; the
// OAuth and device-binding routes are only mounted when configured.
type Options struct {
	CallbackToken string
	Store         store.Store
	Platform      Platform
	DenyWords     []string
	PendingWords  []string

	// OAuth provider
	ClientID     string
	ClientSecret string
	UserID       string
	UserName     string

	// Device binding
	ConnectorID string
	PKCE        *oauth2.Config
	Users       func(accessToken string) UserAPI

	Logger *zap.Logger
	Now    func() time.Time
}

// Server implements the connector HTTP handlers.
type Server struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.DenyWords == nil {
		opts.DenyWords = DefaultDenyWords
	}
	if opts.PendingWords == nil {
		opts.PendingWords = DefaultPendingWords
	}
	return &Server{opts: opts, logger: logger, now: now, tokens: map[string]time.Time{}}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /bots", s.handleBots)
	mux.HandleFunc("POST /coze/callback", s.handleCallback)
	if s.opts.ClientID != "" {
		mux.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
		mux.HandleFunc("POST /oauth/authorize", s.handleAuthorize)
		mux.HandleFunc("POST /oauth/token", s.handleToken)
		mux.HandleFunc("GET /oauth/user", s.handleUser)
	}
	if s.opts.PKCE != nil {
		mux.HandleFunc("GET /devices", s.handleDevices)
		mux.HandleFunc("GET /pkce_callback", s.handlePKCECallback)
		mux.HandleFunc("GET /users_me", s.handleUsersMe)
		mux.HandleFunc("POST /sync_device", s.handleSyncDevice)
	}
	return s.logRequests(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/bots", http.StatusFound)
}

type botView struct {
	BotID       string `json:"bot_id"`
	BotName     string `json:"bot_name"`
	Description string `json:"bot_description,omitempty"`
	IconURL     string `json:"bot_icon_url,omitempty"`
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	records, err := store.List(r.Context(), s.opts.Store)
	if err != nil {
		s.logger.Error("load bots", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "load bots failed")
		return
	}
	out := make([]botView, 0, len(records))
	for _, rec := range records {
		view := botView{BotID: rec.ID, BotName: rec.Name}
		if s.opts.Platform != nil {
			info, err := s.opts.Platform.RetrieveBot(r.Context(), rec.ID)
			if err != nil {
				s.logger.Warn("retrieve bot info", zap.String("bot_id", rec.ID), zap.Error(err))
			} else {
				view.Description = info.Description
				view.IconURL = info.IconURL
			}
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("elapsed", s.now().Sub(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
