package connector

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cozeplug/internal/store"

	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Coze-Signature"
	timestampHeader = "X-Coze-Timestamp"
	nonceHeader     = "X-Coze-Nonce"

	eventBotPublished = "bot.published"
	maxCallbackBytes  = 1 << 20
)

// ErrSignatureMismatch is returned when a callback signature does not verify.
var ErrSignatureMismatch = errors.New("callback signature mismatch")

// Audit statuses returned to the platform.
const (
	AuditPending  = 1
	AuditApproved = 2
	AuditRejected = 3
)

// Sign computes hex(sha1(timestamp + nonce + token + body)).
func Sign(timestamp, nonce, token string, body []byte) string {
	h := sha1.New()
	h.Write([]byte(timestamp))
	h.Write([]byte(nonce))
	h.Write([]byte(token))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a callback signature against the shared token.
func Verify(signature, timestamp, nonce, token string, body []byte) error {
	expected := Sign(timestamp, nonce, token, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// botID accepts both numeric and string ids.
type botID string

func (b *botID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = botID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = botID(n.String())
	return nil
}

type callbackEvent struct {
	Header struct {
		EventType string `json:"event_type"`
	} `json:"header"`
	Event struct {
		BotID   botID  `json:"bot_id"`
		BotName string `json:"bot_name"`
	} `json:"event"`
}

// Audit is the verdict for a published bot.
type Audit struct {
	Status int    `json:"audit_status"`
	Reason string `json:"reason"`
}

// audit classifies a bot by name.
func (s *Server) audit(name string) Audit {
	for _, word := range s.opts.DenyWords {
		if word != "" && strings.Contains(name, word) {
			return Audit{Status: AuditRejected, Reason: "bot 名称非法"}
		}
	}
	for _, word := range s.opts.PendingWords {
		if word != "" && strings.Contains(name, word) {
			return Audit{Status: AuditPending}
		}
	}
	return Audit{Status: AuditApproved}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(signatureHeader)
	timestamp := r.Header.Get(timestampHeader)
	nonce := r.Header.Get(nonceHeader)
	if signature == "" || timestamp == "" || nonce == "" {
		writeMessage(w, http.StatusBadRequest, "missing signature, timestamp or nonce")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil || len(body) == 0 {
		writeMessage(w, http.StatusBadRequest, "empty request body")
		return
	}
	if err := Verify(signature, timestamp, nonce, s.opts.CallbackToken, body); err != nil {
		s.logger.Warn("callback rejected", zap.Error(err))
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}

	var event callbackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if event.Header.EventType != eventBotPublished {
		writeMessage(w, http.StatusBadRequest, "unsupported event "+event.Header.EventType)
		return
	}

	id, name := string(event.Event.BotID), event.Event.BotName
	verdict := s.audit(name)
	if verdict.Status == AuditApproved {
		if err := s.opts.Store.Put(r.Context(), id, store.Bot{Name: name}); err != nil {
			s.logger.Error("save bot", zap.String("bot_id", id), zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "save bot failed")
			return
		}
	}
	s.logger.Info("bot audited", zap.String("bot_id", id), zap.String("bot_name", name), zap.Int("audit_status", verdict.Status))
	writeJSON(w, http.StatusOK, map[string]Audit{"audit": verdict})
}
