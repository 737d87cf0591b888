package coze

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cozeplug/internal/chat"
	"cozeplug/internal/events"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	wsChatPath       = "/v1/chat"
	audioChunkSize   = 1024
	wsEventBuffer    = 64
	handshakeTimeout = 45 * time.Second
)

// Client websocket event types.
const (
	wsChatUpdate          = "chat.update"
	wsAudioAppend         = "input_audio_buffer.append"
	wsAudioComplete       = "input_audio_buffer.complete"
	wsSubmitToolOutputs   = "conversation.chat.submit_tool_outputs"
	wsServerChatCreated   = "chat.created"
	wsServerChatUpdated   = "chat.updated"
	wsServerAudioComplete = "input_audio_buffer.completed"
)

// WebsocketOptions configures a WebsocketChat.
type WebsocketOptions struct {
	BaseURL string
	Tokens  oauth2.TokenSource
	// PaceBytesPerSecond throttles audio input to simulate speech; zero sends
	// as fast as the socket allows.
	PaceBytesPerSecond int
	Logger             *zap.Logger
}

// WebsocketChat implements chat.API over the /v1/chat websocket. Each Open
// dials a new connection that lives until the returned stream is closed.
type WebsocketChat struct {
	baseURL string
	tokens  oauth2.TokenSource
	pace    int
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu      sync.Mutex
	session *wsSession
}

// NewWebsocketChat constructs a websocket transport.
func NewWebsocketChat(opts WebsocketOptions) *WebsocketChat {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultWSBaseURL
	}
	return &WebsocketChat{
		baseURL: baseURL,
		tokens:  opts.Tokens,
		pace:    opts.PaceBytesPerSecond,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:  logger,
	}
}

type wsClientEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

type wsServerEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Detail    struct {
		LogID string `json:"logid"`
	} `json:"detail"`
}

type wsItem struct {
	event events.Event
	err   error
}

type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	items   chan wsItem
	group   *errgroup.Group
	cancel  context.CancelFunc
	logID   string
	logger  *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *WebsocketChat) dialURL(req chat.TurnRequest) (string, error) {
	u, err := url.Parse(c.baseURL + wsChatPath)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	if req.BotID != "" {
		q.Set("bot_id", req.BotID)
	}
	if req.WorkflowID != "" {
		q.Set("workflow_id", req.WorkflowID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the socket, sends chat.update and streams AudioInput.
func (c *WebsocketChat) Open(ctx context.Context, req chat.TurnRequest) (chat.Stream, error) {
	if c.tokens == nil {
		return nil, &TransportError{Op: "ws_connect", Err: ErrMissingToken}
	}
	wsURL, err := c.dialURL(req)
	if err != nil {
		return nil, &TransportError{Op: "ws_connect", Err: err}
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, &TransportError{Op: "ws_connect", Err: fmt.Errorf("fetch access token: %w", err)}
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok.AccessToken)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		te := &TransportError{Op: "ws_connect", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
			te.LogID = resp.Header.Get(logIDHeader)
		}
		return nil, te
	}
	logID := ""
	if resp != nil {
		logID = resp.Header.Get(logIDHeader)
	}
	c.logger.Info("websocket connected", zap.String("url", wsURL), zap.String("logid", logID))

	sessCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(sessCtx)
	sess := &wsSession{
		conn:   conn,
		items:  make(chan wsItem, wsEventBuffer),
		group:  group,
		cancel: cancel,
		logID:  logID,
		logger: c.logger,
		closed: make(chan struct{}),
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	update := map[string]any{}
	chatConfig := map[string]any{}
	if len(req.Parameters) > 0 {
		chatConfig["parameters"] = req.Parameters
	}
	if req.UserID != "" {
		chatConfig["user_id"] = req.UserID
	}
	if req.ConversationID != "" {
		chatConfig["conversation_id"] = req.ConversationID
	}
	if len(chatConfig) > 0 {
		update["chat_config"] = chatConfig
	}
	if err := sess.send(wsChatUpdate, update); err != nil {
		sess.close()
		return nil, &TransportError{Op: "ws_chat_update", LogID: logID, Err: err}
	}

	group.Go(func() error { return sess.read(gctx) })
	if len(req.AudioInput) > 0 {
		audio := req.AudioInput
		group.Go(func() error { return sess.sendAudio(gctx, audio, c.pace) })
	}
	return &wsStream{session: sess, ctx: ctx}, nil
}

// Resume sends conversation.chat.submit_tool_outputs on the open socket. The
// continuation arrives on the stream returned by Open, so the returned stream
// is empty.
func (c *WebsocketChat) Resume(ctx context.Context, req chat.ResumeRequest) (chat.Stream, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil, &TransportError{Op: "ws_submit_tool_outputs", Err: errors.New("no open websocket session")}
	}
	data := map[string]any{"chat_id": req.ChatID, "tool_outputs": req.Outputs}
	if err := sess.send(wsSubmitToolOutputs, data); err != nil {
		return nil, &TransportError{Op: "ws_submit_tool_outputs", LogID: sess.logID, Err: err}
	}
	return chat.NewSliceStream(""), nil
}

func (s *wsSession) send(eventType string, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(wsClientEvent{ID: uuid.NewString(), EventType: eventType, Data: data})
}

func (s *wsSession) sendAudio(ctx context.Context, audio []byte, pace int) error {
	for start := 0; start < len(audio); start += audioChunkSize {
		end := start + audioChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		chunk := audio[start:end]
		if err := s.send(wsAudioAppend, map[string]string{"delta": base64.StdEncoding.EncodeToString(chunk)}); err != nil {
			return fmt.Errorf("append audio: %w", err)
		}
		if pace > 0 {
			wait := time.Duration(len(chunk)) * time.Second / time.Duration(pace)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	if err := s.send(wsAudioComplete, nil); err != nil {
		return fmt.Errorf("complete audio: %w", err)
	}
	s.logger.Debug("audio input sent", zap.Int("bytes", len(audio)))
	return nil
}

func (s *wsSession) read(ctx context.Context) error {
	defer close(s.items)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			s.push(ctx, wsItem{err: err})
			return err
		}
		var msg wsServerEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			s.push(ctx, wsItem{err: fmt.Errorf("decode websocket event: %w", err)})
			return err
		}
		switch msg.EventType {
		case wsServerChatCreated, wsServerChatUpdated, wsServerAudioComplete:
			s.logger.Debug("websocket ack", zap.String("event", msg.EventType), zap.String("logid", msg.Detail.LogID))
			continue
		}
		event, err := decodeEvent(msg.EventType, msg.Data, msg.Detail.LogID)
		if err != nil {
			s.push(ctx, wsItem{err: err})
			return err
		}
		if !s.push(ctx, wsItem{event: event}) {
			return nil
		}
	}
}

func (s *wsSession) push(ctx context.Context, item wsItem) bool {
	select {
	case s.items <- item:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *wsSession) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

type wsStream struct {
	session *wsSession
	ctx     context.Context
	current events.Event
	err     error
	done    bool
}

func (s *wsStream) Next() bool {
	if s.done {
		return false
	}
	select {
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		s.done = true
		return false
	case item, ok := <-s.session.items:
		if !ok {
			s.done = true
			return false
		}
		if item.err != nil {
			s.err = &TransportError{Op: "ws_read", LogID: s.session.logID, Err: item.err}
			s.done = true
			return false
		}
		s.current = item.event
		// The socket stays open across tool resumption; a turn ends at its
		// first terminal event.
		if item.event.Terminal() {
			s.done = true
		}
		return true
	}
}

func (s *wsStream) Current() events.Event { return s.current }

func (s *wsStream) Err() error { return s.err }

func (s *wsStream) Close() error {
	s.done = true
	err := s.session.close()
	if gerr := s.session.group.Wait(); gerr != nil && s.err == nil && !isClosedConn(gerr) && !errors.Is(gerr, context.Canceled) {
		s.err = &TransportError{Op: "ws", LogID: s.session.logID, Err: gerr}
	}
	return err
}

func (s *wsStream) LogID() string { return s.session.logID }

func isClosedConn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
