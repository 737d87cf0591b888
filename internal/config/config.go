package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cozeplug/internal/audio"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL       = "https://api.coze.cn"
	DefaultWSBaseURL     = "wss://ws.coze.cn"
	DefaultOpenAIBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel         = "openai/gpt-4o-mini"
	DefaultTransport     = TransportHTTP
	DefaultTimeout       = 120 * time.Second
	DefaultToolTimeout   = 30 * time.Second
	DefaultMaxFileBytes  = 0 // unlimited
	DefaultMaxEntries    = 0 // unlimited
	DefaultStoreRetries  = 10
	DefaultListenAddr    = ":5000"
	DefaultBotsFile      = "bots.json"
)

// Transports understood by the chat commands.
const (
	TransportHTTP      = "http"
	TransportWebsocket = "websocket"
	TransportOpenAI    = "openai"
	TransportMock      = "mock"
)

// ToolLimits controls max output sizes for local tools. Zero disables a limit.
type ToolLimits struct {
	MaxFileBytes int `mapstructure:"max_file_bytes"`
	MaxEntries   int `mapstructure:"max_entries"`
}

// JWT configures a JWT OAuth app.
type JWT struct {
	AppID          string `mapstructure:"app_id"`
	KeyID          string `mapstructure:"key_id"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	TTL            string `mapstructure:"ttl"`
}

// Enabled reports whether enough fields are set to sign tokens.
func (j JWT) Enabled() bool {
	return j.AppID != "" && j.KeyID != "" && j.PrivateKeyFile != ""
}

// Connector configures the callback server.
type Connector struct {
	Listen        string   `mapstructure:"listen"`
	CallbackToken string   `mapstructure:"callback_token"`
	ConnectorID   string   `mapstructure:"connector_id"`
	Store         string   `mapstructure:"store"`
	BotsFile      string   `mapstructure:"bots_file"`
	SQLitePath    string   `mapstructure:"sqlite_path"`
	StoreRetries  int      `mapstructure:"store_retries"`
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	UserID        string   `mapstructure:"user_id"`
	UserName      string   `mapstructure:"user_name"`
	PKCEClientID  string   `mapstructure:"pkce_client_id"`
	RedirectURL   string   `mapstructure:"redirect_url"`
	DenyWords     []string `mapstructure:"deny_words"`
	PendingWords  []string `mapstructure:"pending_words"`
}

// Config holds runtime configuration values.
type Config struct {
	APIToken      string
	BaseURL       string
	WSBaseURL     string
	BotID         string
	WorkflowID    string
	UserID        string
	Transport     string
	Model         string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OutputAudio   string
	Timeout       time.Duration
	ToolTimeout   time.Duration
	Quiet         bool
	JSON          bool
	Verbose       bool
	LogFile       string
	PersistRuns   bool
	JWT           JWT
	JWTTTL        time.Duration
	ToolLimits    ToolLimits
	Audio         audio.Format
	Connector     Connector
}

type rawConfig struct {
	APIToken      string       `mapstructure:"api_token"`
	BaseURL       string       `mapstructure:"base_url"`
	WSBaseURL     string       `mapstructure:"ws_base_url"`
	BotID         string       `mapstructure:"bot_id"`
	WorkflowID    string       `mapstructure:"workflow_id"`
	UserID        string       `mapstructure:"user_id"`
	Transport     string       `mapstructure:"transport"`
	Mock          bool         `mapstructure:"mock"`
	Model         string       `mapstructure:"model"`
	OpenAIAPIKey  string       `mapstructure:"openai_api_key"`
	OpenAIBaseURL string       `mapstructure:"openai_base_url"`
	OutputAudio   string       `mapstructure:"output_audio"`
	Timeout       string       `mapstructure:"timeout"`
	ToolTimeout   string       `mapstructure:"tool_timeout"`
	Quiet         bool         `mapstructure:"quiet"`
	JSON          bool         `mapstructure:"json"`
	Verbose       bool         `mapstructure:"verbose"`
	LogFile       string       `mapstructure:"log_file"`
	PersistRuns   bool         `mapstructure:"persist_runs"`
	JWT           JWT          `mapstructure:"jwt"`
	ToolLimits    ToolLimits   `mapstructure:"tool_limits"`
	Audio         audio.Format `mapstructure:"audio"`
	Connector     Connector    `mapstructure:"connector"`
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_token", "")
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("ws_base_url", DefaultWSBaseURL)
	v.SetDefault("bot_id", "")
	v.SetDefault("workflow_id", "")
	v.SetDefault("user_id", "")
	v.SetDefault("transport", DefaultTransport)
	v.SetDefault("mock", false)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", DefaultOpenAIBaseURL)
	v.SetDefault("output_audio", "")
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("tool_timeout", DefaultToolTimeout.String())
	v.SetDefault("quiet", false)
	v.SetDefault("json", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_file", "")
	v.SetDefault("persist_runs", false)
	v.SetDefault("jwt.app_id", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.ttl", "15m")
	v.SetDefault("tool_limits.max_file_bytes", DefaultMaxFileBytes)
	v.SetDefault("tool_limits.max_entries", DefaultMaxEntries)
	v.SetDefault("audio.sample_rate", audio.DefaultSampleRate)
	v.SetDefault("audio.channels", audio.DefaultChannels)
	v.SetDefault("audio.bits_per_sample", audio.DefaultBitsPerSample)
	v.SetDefault("connector.listen", DefaultListenAddr)
	v.SetDefault("connector.callback_token", "")
	v.SetDefault("connector.connector_id", "")
	v.SetDefault("connector.store", "file")
	v.SetDefault("connector.bots_file", DefaultBotsFile)
	v.SetDefault("connector.sqlite_path", "bots.db")
	v.SetDefault("connector.store_retries", DefaultStoreRetries)
	v.SetDefault("connector.client_id", "")
	v.SetDefault("connector.client_secret", "")
	v.SetDefault("connector.user_id", "")
	v.SetDefault("connector.user_name", "")
	v.SetDefault("connector.pkce_client_id", "")
	v.SetDefault("connector.redirect_url", "")
	v.SetDefault("connector.deny_words", []string{"非法", "违禁", "敏感"})
	v.SetDefault("connector.pending_words", []string{"审核中"})

	if cmd != nil {
		bind := func(key, flag string) {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
		bind("bot_id", "bot-id")
		bind("workflow_id", "workflow-id")
		bind("user_id", "user-id")
		bind("transport", "transport")
		bind("mock", "mock")
		bind("model", "model")
		bind("output_audio", "output-audio")
		bind("timeout", "timeout")
		bind("tool_timeout", "tool-timeout")
		bind("quiet", "quiet")
		bind("json", "json")
		bind("verbose", "verbose")
		bind("log_file", "log-file")
		bind("persist_runs", "persist-runs")
		bind("connector.listen", "listen")
		bind("connector.store", "store")
	}

	if token := os.Getenv("COZE_API_TOKEN"); token != "" {
		v.Set("api_token", token)
	}
	if seconds := os.Getenv("COZE_TIMEOUT_SECONDS"); seconds != "" {
		v.Set("timeout", seconds+"s")
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && os.Getenv("COZE_OPENAI_API_KEY") == "" {
		v.Set("openai_api_key", key)
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" && os.Getenv("COZE_OPENAI_BASE_URL") == "" {
		v.Set("openai_base_url", base)
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" && os.Getenv("COZE_MODEL") == "" {
		v.Set("model", model)
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw, WeaklyTypedInput: true})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}
	return normalize(raw)
}

func normalize(raw rawConfig) (Config, error) {
	timeout, err := parseDuration("timeout", raw.Timeout, DefaultTimeout)
	if err != nil {
		return Config{}, err
	}
	toolTimeout, err := parseDuration("tool_timeout", raw.ToolTimeout, DefaultToolTimeout)
	if err != nil {
		return Config{}, err
	}
	jwtTTL, err := parseDuration("jwt.ttl", raw.JWT.TTL, 15*time.Minute)
	if err != nil {
		return Config{}, err
	}

	transport := strings.ToLower(strings.TrimSpace(raw.Transport))
	if raw.Mock {
		transport = TransportMock
	}
	switch transport {
	case "":
		transport = DefaultTransport
	case "ws":
		transport = TransportWebsocket
	case TransportHTTP, TransportWebsocket, TransportOpenAI, TransportMock:
	default:
		return Config{}, fmt.Errorf("unknown transport %q (want http, websocket, openai or mock)", raw.Transport)
	}

	cfg := Config{
		APIToken:      strings.TrimSpace(raw.APIToken),
		BaseURL:       strings.TrimRight(raw.BaseURL, "/"),
		WSBaseURL:     strings.TrimRight(raw.WSBaseURL, "/"),
		BotID:         raw.BotID,
		WorkflowID:    raw.WorkflowID,
		UserID:        raw.UserID,
		Transport:     transport,
		Model:         raw.Model,
		OpenAIAPIKey:  raw.OpenAIAPIKey,
		OpenAIBaseURL: raw.OpenAIBaseURL,
		OutputAudio:   raw.OutputAudio,
		Timeout:       timeout,
		ToolTimeout:   toolTimeout,
		Quiet:         raw.Quiet,
		JSON:          raw.JSON,
		Verbose:       raw.Verbose,
		LogFile:       raw.LogFile,
		PersistRuns:   raw.PersistRuns,
		JWT:           raw.JWT,
		JWTTTL:        jwtTTL,
		ToolLimits:    raw.ToolLimits,
		Audio:         raw.Audio,
		Connector:     raw.Connector,
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = DefaultWSBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if cfg.ToolLimits.MaxFileBytes < 0 {
		cfg.ToolLimits.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.ToolLimits.MaxEntries < 0 {
		cfg.ToolLimits.MaxEntries = DefaultMaxEntries
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = audio.DefaultChannels
	}
	if cfg.Audio.BitsPerSample <= 0 {
		cfg.Audio.BitsPerSample = audio.DefaultBitsPerSample
	}
	if cfg.Connector.Listen == "" {
		cfg.Connector.Listen = DefaultListenAddr
	}
	if cfg.Connector.BotsFile == "" {
		cfg.Connector.BotsFile = DefaultBotsFile
	}
	if cfg.Connector.StoreRetries <= 0 {
		cfg.Connector.StoreRetries = DefaultStoreRetries
	}
	if cfg.Connector.Store == "" {
		cfg.Connector.Store = "file"
	}
	return cfg, nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	if parsed <= 0 {
		return fallback, nil
	}
	return parsed, nil
}

// Validate checks the fields a given transport needs.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportWebsocket:
		if c.APIToken == "" && !c.JWT.Enabled() {
			return fmt.Errorf("COZE_API_TOKEN (or jwt.app_id, jwt.key_id and jwt.private_key_file) is required")
		}
		if c.BotID == "" && c.WorkflowID == "" {
			return fmt.Errorf("COZE_BOT_ID is required")
		}
		if c.BotID == "" && c.Transport == TransportHTTP {
			return fmt.Errorf("COZE_BOT_ID is required for the http transport; workflow_id alone needs --transport websocket")
		}
	case TransportOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai transport")
		}
	}
	return nil
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, "cozeplug")
	candidates := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
