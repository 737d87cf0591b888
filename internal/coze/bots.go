package coze

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// BotInfo is the published profile of a bot.
type BotInfo struct {
	BotID       string `json:"bot_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
}

// User is the account behind an access token.
type User struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	NickName  string `json:"nick_name"`
	AvatarURL string `json:"avatar_url"`
}

// WithTokenSource returns a copy of c that authenticates with tokens.
func (c *Client) WithTokenSource(tokens oauth2.TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// RetrieveBot fetches GET /v1/bot/get_online_info.
func (c *Client) RetrieveBot(ctx context.Context, botID string) (BotInfo, error) {
	var out BotInfo
	err := c.doJSON(ctx, "retrieve_bot", http.MethodGet, "/v1/bot/get_online_info?bot_id="+url.QueryEscape(botID), nil, &out)
	return out, err
}

// UsersMe fetches GET /v1/users/me.
func (c *Client) UsersMe(ctx context.Context) (User, error) {
	var out User
	err := c.doJSON(ctx, "users_me", http.MethodGet, "/v1/users/me", nil, &out)
	return out, err
}

type userConfigEnum struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type userConfig struct {
	Key   string           `json:"key"`
	Enums []userConfigEnum `json:"enums"`
}

// SyncDevice publishes a selectable device via POST /v1/connectors/{id}/user_configs.
func (c *Client) SyncDevice(ctx context.Context, connectorID, deviceID, deviceName string) error {
	body := map[string][]userConfig{
		"configs": {{Key: "device_id", Enums: []userConfigEnum{{Value: deviceID, Label: deviceName}}}},
	}
	return c.doJSON(ctx, "sync_device", http.MethodPost, "/v1/connectors/"+url.PathEscape(connectorID)+"/user_configs", body, nil)
}

func logFields(op string, resp *http.Response) []zap.Field {
	return []zap.Field{zap.String("op", op), zap.String("logid", resp.Header.Get(logIDHeader))}
}
