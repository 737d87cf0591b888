package connector

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const tokenCookie = "coze_pkce_access_token"

// handleDevices returns the login URL that starts the PKCE flow. The verifier
// travels as the state parameter and comes back on the callback.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	verifier := oauth2.GenerateVerifier()
	_, err := r.Cookie(tokenCookie)
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": s.opts.PKCE.ClientID,
		"login_url": s.opts.PKCE.AuthCodeURL(verifier, oauth2.S256ChallengeOption(verifier)),
		"logged_in": err == nil,
	})
}

func (s *Server) handlePKCECallback(w http.ResponseWriter, r *http.Request) {
	code, verifier := r.URL.Query().Get("code"), r.URL.Query().Get("state")
	if code == "" || verifier == "" {
		writeMessage(w, http.StatusBadRequest, "missing code or state")
		return
	}
	tok, err := s.opts.PKCE.Exchange(r.Context(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.logger.Error("pkce exchange", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "pkce authorization failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    tok.AccessToken,
		Path:     "/",
		MaxAge:   cookieAge(tok, s.now()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/devices?auth_success=true", http.StatusFound)
}

// cookieAge derives a cookie lifetime. The platform reports expires_in as an
// absolute unix time, so both forms are accepted.
func cookieAge(tok *oauth2.Token, now time.Time) int {
	if v, ok := tok.Extra("expires_in").(float64); ok && v > 0 {
		if int64(v) > now.Unix() {
			return int(int64(v) - now.Unix())
		}
		return int(v)
	}
	if !tok.Expiry.IsZero() && tok.Expiry.After(now) {
		return int(tok.Expiry.Sub(now).Seconds())
	}
	return 0
}

func (s *Server) userAPI(w http.ResponseWriter, r *http.Request) (UserAPI, bool) {
	cookie, err := r.Cookie(tokenCookie)
	if err != nil || cookie.Value == "" || s.opts.Users == nil {
		writeMessage(w, http.StatusUnauthorized, "not logged in")
		return nil, false
	}
	return s.opts.Users(cookie.Value), true
}

func (s *Server) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	api, ok := s.userAPI(w, r)
	if !ok {
		return
	}
	user, err := api.UsersMe(r.Context())
	if err != nil {
		s.logger.Error("users me", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "fetch user failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type syncDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

func (s *Server) handleSyncDevice(w http.ResponseWriter, r *http.Request) {
	var req syncDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.DeviceName == "" {
		writeMessage(w, http.StatusBadRequest, "missing device_id or device_name")
		return
	}
	api, ok := s.userAPI(w, r)
	if !ok {
		return
	}
	if err := api.SyncDevice(r.Context(), s.opts.ConnectorID, req.DeviceID, req.DeviceName); err != nil {
		s.logger.Error("sync device", zap.String("device_id", req.DeviceID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "sync device failed")
		return
	}
	writeMessage(w, http.StatusOK, "device synced")
}
