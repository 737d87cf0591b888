package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	for _, key := range []string{"COZE_API_TOKEN", "COZE_BOT_ID", "COZE_TRANSPORT", "COZE_TIMEOUT_SECONDS", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL"} {
		t.Setenv(key, "")
	}
	return filepath.Join(dir, ".config")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.Transport != TransportHTTP {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ToolTimeout != DefaultToolTimeout || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected timeouts %v %v", cfg.ToolTimeout, cfg.Timeout)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Connector.StoreRetries != DefaultStoreRetries {
		t.Fatalf("unexpected nested defaults %+v %+v", cfg.Audio, cfg.Connector)
	}
	if len(cfg.Connector.DenyWords) != 3 {
		t.Fatalf("expected default deny words, got %v", cfg.Connector.DenyWords)
	}
	if cfg.ToolLimits.MaxFileBytes != 0 || cfg.ToolLimits.MaxEntries != 0 {
		t.Fatalf("expected unlimited tool limits by default, got %+v", cfg.ToolLimits)
	}
}

func TestLoadEnv(t *testing.T) {
	isolate(t)
	t.Setenv("COZE_API_TOKEN", "pat_abc")
	t.Setenv("COZE_BOT_ID", "bot-1")
	t.Setenv("COZE_TRANSPORT", "ws")
	t.Setenv("COZE_TIMEOUT_SECONDS", "5")
	t.Setenv("COZE_CONNECTOR_CALLBACK_TOKEN", "cb")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIToken != "pat_abc" || cfg.BotID != "bot-1" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Transport != TransportWebsocket {
		t.Fatalf("expected websocket transport, got %s", cfg.Transport)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Timeout)
	}
	if cfg.Connector.CallbackToken != "cb" {
		t.Fatalf("nested env not applied: %+v", cfg.Connector)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	configHome := isolate(t)
	dir := filepath.Join(configHome, "cozeplug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "bot_id: from-file\ntool_timeout: 3s\ntool_limits:\n  max_entries: 7\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BotID != "from-file" || cfg.ToolTimeout != 3*time.Second || cfg.ToolLimits.MaxEntries != 7 {
		t.Fatalf("config file not applied: %+v", cfg)
	}
}

func TestNormalizeRejectsUnknownTransport(t *testing.T) {
	if _, err := normalize(rawConfig{Transport: "pigeon"}); err == nil {
		t.Fatalf("expected error")
	}
	cfg, err := normalize(rawConfig{Transport: "http", Mock: true})
	if err != nil || cfg.Transport != TransportMock {
		t.Fatalf("mock flag should win: %v %v", cfg.Transport, err)
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{Transport: TransportHTTP, BotID: "b"}).Validate(); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := (Config{Transport: TransportHTTP, APIToken: "t", WorkflowID: "w"}).Validate(); err == nil {
		t.Fatalf("expected http transport to reject a workflow-only config")
	}
	if err := (Config{Transport: TransportWebsocket, APIToken: "t", WorkflowID: "w"}).Validate(); err != nil {
		t.Fatalf("websocket transport accepts a workflow id: %v", err)
	}
	if err := (Config{Transport: TransportHTTP, APIToken: "t", BotID: "b", WorkflowID: "w"}).Validate(); err != nil {
		t.Fatalf("bot plus workflow is valid over http: %v", err)
	}
	if err := (Config{Transport: TransportMock}).Validate(); err != nil {
		t.Fatalf("mock transport needs nothing: %v", err)
	}
	if err := (Config{Transport: TransportOpenAI}).Validate(); err == nil {
		t.Fatalf("expected missing openai key error")
	}
}
