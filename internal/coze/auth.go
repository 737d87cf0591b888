package coze

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

const (
	jwtGrantType    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	jwtTokenPath    = "/api/permission/oauth2/token"
	defaultTokenTTL = 15 * time.Minute
)

// StaticToken wraps a personal access token.
func StaticToken(token string) oauth2.TokenSource {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// JWTConfig describes a JWT OAuth app.
type JWTConfig struct {
	AppID          string
	KeyID          string
	PrivateKeyPEM  []byte
	PrivateKeyFile string
	BaseURL        string
	TTL            time.Duration
	HTTPClient     *retryablehttp.Client
}

// JWTTokenSource exchanges self-signed RS256 assertions for access tokens.
type JWTTokenSource struct {
	appID    string
	keyID    string
	key      *rsa.PrivateKey
	baseURL  string
	audience string
	ttl      time.Duration
	http     *retryablehttp.Client
	now      func() time.Time
}

// NewJWTTokenSource parses the app key. The result is cached with
// oauth2.ReuseTokenSource so a new assertion is only signed near expiry.
func NewJWTTokenSource(cfg JWTConfig) (oauth2.TokenSource, error) {
	src, err := newJWTSource(cfg)
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(nil, src), nil
}

func newJWTSource(cfg JWTConfig) (*JWTTokenSource, error) {
	if cfg.AppID == "" || cfg.KeyID == "" {
		return nil, fmt.Errorf("jwt app_id and key_id are required")
	}
	pemBytes := cfg.PrivateKeyPEM
	if len(pemBytes) == 0 {
		if cfg.PrivateKeyFile == "" {
			return nil, fmt.Errorf("jwt private key is required")
		}
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt private key: %w", err)
		}
		pemBytes = data
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse jwt private key: %w", err)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	audience := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		audience = u.Host
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 2
		client.Logger = nil
	}
	return &JWTTokenSource{appID: cfg.AppID, keyID: cfg.KeyID, key: key, baseURL: baseURL, audience: audience, ttl: ttl, http: client, now: time.Now}, nil
}

// Assertion signs a fresh JWT for the token endpoint.
func (s *JWTTokenSource) Assertion() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.appID,
		"aud": s.audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.key)
}

// Token implements oauth2.TokenSource.
func (s *JWTTokenSource) Token() (*oauth2.Token, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}
	body, _ := json.Marshal(map[string]any{
		"grant_type":       jwtGrantType,
		"duration_seconds": int(s.ttl.Seconds()),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+jwtTokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "jwt_token", Err: err}
	}
	defer resp.Body.Close()
	logID := resp.Header.Get(logIDHeader)

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
		Code        int    `json:"code"`
		Msg         string `json:"msg"`
		ErrorCode   string `json:"error_code"`
		ErrorMsg    string `json:"error_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "jwt_token", StatusCode: resp.StatusCode, LogID: logID, Err: err}
	}
	if resp.StatusCode >= 300 || out.AccessToken == "" {
		msg := out.Msg
		if out.ErrorMsg != "" {
			msg = out.ErrorCode + " " + out.ErrorMsg
		}
		return nil, &TransportError{Op: "jwt_token", StatusCode: resp.StatusCode, LogID: logID, Err: fmt.Errorf("token exchange failed: %s", strings.TrimSpace(msg))}
	}

	// expires_in is an absolute unix timestamp.
	expiry := time.Unix(out.ExpiresIn, 0)
	if out.ExpiresIn < s.now().Unix() {
		expiry = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{AccessToken: out.AccessToken, TokenType: "Bearer", Expiry: expiry}, nil
}

// PKCEConfig returns the OAuth2 config for a PKCE app. The consent page lives
// on the web host that pairs with the api host.
func PKCEConfig(baseURL, clientID, redirectURL string) *oauth2.Config {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	webURL := strings.Replace(baseURL, "://api.", "://www.", 1)
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   webURL + "/api/permission/oauth2/authorize",
			TokenURL:  baseURL + jwtTokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewTokenSource prefers a personal access token and falls back to a JWT app
// when cfg names one. It returns nil when neither is configured.
func NewTokenSource(pat string, cfg JWTConfig) (oauth2.TokenSource, error) {
	if ts := StaticToken(pat); ts != nil {
		return ts, nil
	}
	if cfg.AppID == "" {
		return nil, nil
	}
	return NewJWTTokenSource(cfg)
}
