package connector

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const accessTokenTTL = 3600 * time.Second

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	// FormValue reads the query string for GET and the consent form for POST.
	clientID, redirectURI, responseType := r.FormValue("client_id"), r.FormValue("redirect_uri"), r.FormValue("response_type")
	if clientID == "" || redirectURI == "" || responseType == "" {
		writeMessage(w, http.StatusBadRequest, "missing client_id, redirect_uri or response_type")
		return
	}
	if clientID != s.opts.ClientID {
		writeMessage(w, http.StatusUnauthorized, "invalid client_id")
		return
	}
	if responseType != "code" {
		writeMessage(w, http.StatusBadRequest, "response_type must be code")
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil || !target.IsAbs() {
		writeMessage(w, http.StatusBadRequest, "invalid redirect_uri")
		return
	}

	state := r.FormValue("state")
	switch r.FormValue("action") {
	case "allow":
		params := target.Query()
		params.Set("code", uuid.NewString())
		params.Set("state", state)
		target.RawQuery = params.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	case "deny":
		writeMessage(w, http.StatusForbidden, "authorization denied")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"client_id":     clientID,
			"redirect_uri":  redirectURI,
			"response_type": responseType,
			"state":         state,
		})
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	GrantType    string `json:"grant_type"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for field, value := range map[string]string{"client_id": req.ClientID, "client_secret": req.ClientSecret, "code": req.Code, "grant_type": req.GrantType} {
		if value == "" {
			writeMessage(w, http.StatusBadRequest, "missing "+field)
			return
		}
	}
	if req.ClientID != s.opts.ClientID || req.ClientSecret != s.opts.ClientSecret {
		s.logger.Warn("oauth token rejected", zap.String("client_id", req.ClientID))
		writeMessage(w, http.StatusUnauthorized, "invalid client_id or client_secret")
		return
	}
	if req.GrantType != "authorization_code" {
		writeMessage(w, http.StatusBadRequest, "grant_type must be authorization_code")
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = s.now().Add(accessTokenTTL)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(accessTokenTTL.Seconds()),
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "missing access token")
		return
	}
	s.mu.Lock()
	expiry, ok := s.tokens[token]
	if ok && !s.now().Before(expiry) {
		delete(s.tokens, token)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "invalid access token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": s.opts.UserID, "name": s.opts.UserName})
}
