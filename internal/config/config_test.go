package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so host settings do not leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_NAME", "APP_ENV", "TELEGRAM_BOT_TOKEN", "BOT_TOKEN", "TELEGRAM_WORKERS",
		"TELEGRAM_ADMIN_CHAT_IDS",
		"DEXSCREENER_BASE_URL", "MARKET_DATA_TIMEOUT", "DEFAULT_CHAIN", "CHAINS",
		"REFERRAL_LINK_BASE", "REFERRAL_BUTTON_LABEL", "ALCHEMY_API", "ANKR_RPC",
		"STREAM_URL", "STREAM_PROVIDER", "STREAM_ENABLED", "STREAM_MAX_RETRIES",
		"REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"WEB_ENABLED", "WEB_HOST", "WEB_PORT", "WEB_TOKEN", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoadRequiresBotToken(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error without bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("expected bot token from env, got %q", cfg.Telegram.BotToken)
	}
	if cfg.MarketData.BaseURL != "https://api.dexscreener.com" {
		t.Errorf("unexpected base URL %q", cfg.MarketData.BaseURL)
	}
	if cfg.MarketData.Chains[0] != "base" {
		t.Errorf("expected default chain first, got %v", cfg.MarketData.Chains)
	}
	if cfg.Stream.Enabled {
		t.Error("expected stream disabled by default")
	}
	if cfg.IsRedisEnabled() {
		t.Error("expected redis disabled by default")
	}
}

func TestLoadFromFileWithExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("MY_TOKEN", "999:xyz")

	content := `
telegram:
  bot_token: ${MY_TOKEN}
  workers: 8
market_data:
  base_url: http://localhost:9999
  timeout: 3s
  default_chain: BSC
  chains: [base, bsc, ethereum]
stream:
  enabled: true
  provider: websocket
  url: wss://example.test/ws
  reconnect_min: 2s
  reconnect_max: 30s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.BotToken != "999:xyz" {
		t.Errorf("expected expanded token, got %q", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Telegram.Workers)
	}
	if cfg.MarketData.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.MarketData.Timeout)
	}
	want := []string{"bsc", "base", "ethereum"}
	if strings.Join(cfg.MarketData.Chains, ",") != strings.Join(want, ",") {
		t.Errorf("expected chains %v, got %v", want, cfg.MarketData.Chains)
	}
	if !cfg.Stream.Enabled || cfg.Stream.ReconnectMax != 30*time.Second {
		t.Errorf("unexpected stream config: %+v", cfg.Stream)
	}
}

func TestLoadAlchemyKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "1:a")
	t.Setenv("ALCHEMY_API", "secretkey")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Stream.Enabled || cfg.Stream.Provider != StreamProviderWebSocket {
		t.Errorf("expected websocket stream enabled, got %+v", cfg.Stream)
	}
	if cfg.Stream.URL != "wss://base-mainnet.g.alchemy.com/v2/secretkey" {
		t.Errorf("unexpected stream URL %q", cfg.Stream.URL)
	}
}

func TestLoadAdminChatIDs(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "1:a")
	t.Setenv("TELEGRAM_ADMIN_CHAT_IDS", "100, -200,bad,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{100, -200}
	if len(cfg.Telegram.AdminChatIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Telegram.AdminChatIDs)
	}
	for i, id := range want {
		if cfg.Telegram.AdminChatIDs[i] != id {
			t.Errorf("expected %v, got %v", want, cfg.Telegram.AdminChatIDs)
		}
	}
}

func TestLoadAnkrRPC(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "1:a")
	t.Setenv("ANKR_RPC", "wss://rpc.ankr.com/base/ws/key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.Provider != StreamProviderRPC {
		t.Errorf("expected rpc provider, got %q", cfg.Stream.Provider)
	}
}

func TestReadSkipsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_URL", "wss://node.test/ws")

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.BotToken != "" {
		t.Errorf("expected empty bot token, got %q", cfg.Telegram.BotToken)
	}
	if err := cfg.ValidateStream(); err != nil {
		t.Errorf("ValidateStream() = %v", err)
	}

	cfg.Stream.Provider = "kafka"
	if err := cfg.ValidateStream(); err == nil {
		t.Error("expected provider error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing token", func(c *Config) { c.Telegram.BotToken = "" }, true},
		{"stream without url", func(c *Config) { c.Stream.Enabled = true }, true},
		{"bad provider", func(c *Config) {
			c.Stream.Enabled = true
			c.Stream.URL = "wss://x"
			c.Stream.Provider = "kafka"
		}, true},
		{"bad backoff", func(c *Config) {
			c.Stream.Enabled = true
			c.Stream.URL = "wss://x"
			c.Stream.ReconnectMax = time.Millisecond
		}, true},
		{"redis without host", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}, true},
		{"web on loopback", func(c *Config) { c.Web.Enabled = true }, false},
		{"web public without token", func(c *Config) {
			c.Web.Enabled = true
			c.Web.Host = "0.0.0.0"
		}, true},
		{"web all interfaces without token", func(c *Config) {
			c.Web.Enabled = true
			c.Web.Host = ""
		}, true},
		{"web public with token", func(c *Config) {
			c.Web.Enabled = true
			c.Web.Host = "0.0.0.0"
			c.Web.Token = "s3cret"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Telegram.BotToken = "1:a"
			tt.mutate(cfg)
			cfg.normalize()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExplorerTxURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Explorer.TxTemplates["custom"] = "https://scan.test/tx/{hash}"
	cfg.Explorer.TxTemplates["bare"] = "https://bare.test/tx/"

	tests := []struct {
		chain    string
		expected string
	}{
		{"base", "https://basescan.org/tx/0xabc"},
		{"BASE", "https://basescan.org/tx/0xabc"},
		{"custom", "https://scan.test/tx/0xabc"},
		{"bare", "https://bare.test/tx/0xabc"},
		{"unknown", "https://etherscan.io/tx/0xabc"},
	}

	for _, tt := range tests {
		t.Run(tt.chain, func(t *testing.T) {
			if got := cfg.ExplorerTxURL(tt.chain, "0xabc"); got != tt.expected {
				t.Errorf("ExplorerTxURL(%q) = %q, want %q", tt.chain, got, tt.expected)
			}
		})
	}
}
