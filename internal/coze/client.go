package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL   = "https://api.coze.cn"
	DefaultWSBaseURL = "wss://ws.coze.cn"
	logIDHeader      = "X-Tt-Logid"
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Tokens   oauth2.TokenSource
	RetryMax int
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client talks to the platform's HTTP API.
type Client struct {
	baseURL string
	tokens  oauth2.TokenSource
	http    *retryablehttp.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, tokens: opts.Tokens, http: client, timeout: opts.Timeout, logger: logger}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.tokens == nil {
		return nil, ErrMissingToken
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("fetch access token: %w", err)
	}
	tok.SetAuthHeader(req.Request)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(op string, req *retryablehttp.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	logID := resp.Header.Get(logIDHeader)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, LogID: logID, Err: fmt.Errorf("%s", strings.TrimSpace(string(b)))}
	}
	c.logger.Debug("coze request", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("logid", logID))
	return resp, nil
}

// doJSON issues a non-streaming request and decodes the data field of the
// {code, msg, data} envelope into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	resp, err := c.send(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(op, resp, out)
}

func decodeEnvelope(op string, resp *http.Response, out any) error {
	logID := resp.Header.Get(logIDHeader)
	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, LogID: logID, Err: fmt.Errorf("decode response: %w", err)}
	}
	if envelope.Code != 0 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, LogID: logID, Err: &APIError{Code: envelope.Code, Message: envelope.Msg}}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, LogID: logID, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
