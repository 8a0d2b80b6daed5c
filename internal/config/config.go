package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// Stream providers
const (
	StreamProviderWebSocket = "websocket" // Alchemy-style alchemy_pendingTransactions
	StreamProviderRPC       = "rpc"       // plain node, newPendingTransactions + lookup
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Referral   ReferralConfig   `yaml:"referral"`
	Explorer   ExplorerConfig   `yaml:"explorer"`
	Stream     StreamConfig     `yaml:"stream"`
	Redis      RedisConfig      `yaml:"redis"`
	Web        WebConfig        `yaml:"web"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken    string        `yaml:"bot_token"`
	PollTimeout int           `yaml:"poll_timeout"` // long polling timeout in seconds
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`

	// AdminChatIDs receive lifecycle notices (startup, feed stopped)
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
}

// MarketDataConfig holds the market-data API configuration
type MarketDataConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	DefaultChain string        `yaml:"default_chain"`
	Chains       []string      `yaml:"chains"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// ReferralConfig holds the referral deep link used for the buy button
type ReferralConfig struct {
	// LinkTemplate may contain {address} and {chain}; without placeholders the
	// address is appended.
	LinkTemplate string `yaml:"link_template"`
	ButtonLabel  string `yaml:"button_label"`
}

// ExplorerConfig holds transaction explorer URL templates per chain
type ExplorerConfig struct {
	Chain       string            `yaml:"chain"` // chain used for wallet alerts
	TxTemplates map[string]string `yaml:"tx_templates"`
}

// StreamConfig holds the pending transaction stream configuration
type StreamConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Provider        string        `yaml:"provider"`
	URL             string        `yaml:"url"`
	FilterAddresses bool          `yaml:"filter_addresses"`
	ReconnectMin    time.Duration `yaml:"reconnect_min"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"`
	MaxRetries      int           `yaml:"max_retries"` // 0 means unlimited
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	QueueSize       int           `yaml:"queue_size"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Alert deduplication
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// Per-user scan throttling
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
}

// WebConfig holds the status server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Token guards the status page and /api with a bearer token
	Token string `yaml:"token"`
}

// Loopback reports whether the status server only listens on this host
func (w WebConfig) Loopback() bool {
	if w.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(w.Host)
	return ip != nil && ip.IsLoopback()
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	Output     string `yaml:"output"` // stdout, stderr, or file path
	TimeFormat string `yaml:"time_format"`
}

// Load loads configuration from file and environment variables
// Load order (later overrides earlier):
// 1. Default values
// 2. .env file (if exists) - loaded into process environment
// 3. Process environment variables (already set in shell)
// 4. YAML config file with ${VAR} expansion
// 5. Environment variable overrides (explicit mappings)
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Read runs the same layering as Load without validating the result. Tools
// that only need one section validate it themselves.
func Read(configPath string) (*Config, error) {
	cfg := defaultConfig()

	loadDotEnv(configPath)

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)
	cfg.normalize()

	return cfg, nil
}

// loadDotEnv loads .env files without overriding existing env vars
func loadDotEnv(configPath string) {
	envPaths := []string{
		".env",
		".env.local",
	}

	if configPath != "" {
		configDir := filepath.Dir(configPath)
		envPaths = append(envPaths,
			filepath.Join(configDir, ".env"),
			filepath.Join(configDir, "..", ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "elite-degen",
			Environment: "development",
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
			Workers:     4,
			QueueSize:   100,
			Timeout:     30 * time.Second,
			RetryCount:  3,
		},
		MarketData: MarketDataConfig{
			BaseURL:      "https://api.dexscreener.com",
			Timeout:      8 * time.Second,
			DefaultChain: "base",
			Chains:       []string{"base", "ethereum"},
			CacheTTL:     30 * time.Second,
		},
		Referral: ReferralConfig{
			LinkTemplate: "https://t.me/based_eth_bot?start=r_Elite_xyz_b_{address}",
			ButtonLabel:  "Buy with BaseBot",
		},
		Explorer: ExplorerConfig{
			Chain: "base",
			TxTemplates: map[string]string{
				"base":     "https://basescan.org/tx/%s",
				"ethereum": "https://etherscan.io/tx/%s",
				"bsc":      "https://bscscan.com/tx/%s",
			},
		},
		Stream: StreamConfig{
			Enabled:         false,
			Provider:        StreamProviderWebSocket,
			FilterAddresses: true,
			ReconnectMin:    time.Second,
			ReconnectMax:    time.Minute,
			MaxRetries:      10,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			ReadTimeout:     90 * time.Second,
			QueueSize:       1024,
		},
		Redis: RedisConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            6379,
			PoolSize:        10,
			MinIdleConns:    2,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			DedupTTL:        10 * time.Minute,
			RateLimitWindow: time.Minute,
			RateLimitMax:    20,
		},
		Web: WebConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	expanded := expandEnvVars(string(data))

	return yaml.Unmarshal([]byte(expanded), cfg)
}

// expandEnvVars replaces ${VAR} or $VAR with environment variable values
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		return os.Getenv(varName)
	})
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("APP_NAME"); v != "" {
		cfg.App.Name = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Environment = v
	}

	// Telegram (BOT_TOKEN is accepted as a short alias)
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Telegram.Workers = n
		}
	}

	// TELEGRAM_ADMIN_CHAT_IDS: comma-separated chat ids
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_IDS"); v != "" {
		var ids []int64
		for _, part := range splitList(v) {
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		cfg.Telegram.AdminChatIDs = ids
	}

	// Market data
	if v := os.Getenv("DEXSCREENER_BASE_URL"); v != "" {
		cfg.MarketData.BaseURL = v
	}
	if v := os.Getenv("MARKET_DATA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MarketData.Timeout = d
		}
	}
	if v := os.Getenv("DEFAULT_CHAIN"); v != "" {
		cfg.MarketData.DefaultChain = v
	}
	// CHAINS: comma-separated DexScreener chain ids, e.g. base,ethereum,bsc
	if v := os.Getenv("CHAINS"); v != "" {
		cfg.MarketData.Chains = splitList(v)
	}

	// Referral
	if v := os.Getenv("REFERRAL_LINK_BASE"); v != "" {
		cfg.Referral.LinkTemplate = v
	}
	if v := os.Getenv("REFERRAL_BUTTON_LABEL"); v != "" {
		cfg.Referral.ButtonLabel = v
	}

	// Stream. ALCHEMY_API may be a full wss URL or a bare API key.
	if v := os.Getenv("ALCHEMY_API"); v != "" {
		cfg.Stream.URL = alchemyURL(v)
		cfg.Stream.Provider = StreamProviderWebSocket
		cfg.Stream.Enabled = true
	}
	if v := os.Getenv("ANKR_RPC"); v != "" && os.Getenv("ALCHEMY_API") == "" {
		cfg.Stream.URL = v
		cfg.Stream.Provider = StreamProviderRPC
		cfg.Stream.Enabled = true
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("STREAM_PROVIDER"); v != "" {
		cfg.Stream.Provider = v
	}
	if v := os.Getenv("STREAM_ENABLED"); v != "" {
		cfg.Stream.Enabled = parseBool(v)
	}
	if v := os.Getenv("STREAM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxRetries = n
		}
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	// Web
	if v := os.Getenv("WEB_ENABLED"); v != "" {
		cfg.Web.Enabled = parseBool(v)
	}
	if v := os.Getenv("WEB_HOST"); v != "" {
		cfg.Web.Host = v
	}
	if v := os.Getenv("WEB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = n
		}
	}
	if v := os.Getenv("WEB_TOKEN"); v != "" {
		cfg.Web.Token = v
	}

	// Logger
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
}

// normalize lowercases chain ids and makes sure the default chain is supported
func (c *Config) normalize() {
	c.MarketData.DefaultChain = strings.ToLower(strings.TrimSpace(c.MarketData.DefaultChain))

	chains := make([]string, 0, len(c.MarketData.Chains)+1)
	seen := make(map[string]bool)
	add := func(ch string) {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" || seen[ch] {
			return
		}
		seen[ch] = true
		chains = append(chains, ch)
	}
	add(c.MarketData.DefaultChain)
	for _, ch := range c.MarketData.Chains {
		add(ch)
	}
	c.MarketData.Chains = chains

	c.Stream.Provider = strings.ToLower(strings.TrimSpace(c.Stream.Provider))
	c.Explorer.Chain = strings.ToLower(strings.TrimSpace(c.Explorer.Chain))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required (set telegram.bot_token or BOT_TOKEN)")
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market data base URL is required")
	}
	if c.MarketData.DefaultChain == "" {
		return fmt.Errorf("market data default chain is required")
	}
	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("market data timeout must be positive")
	}

	if c.Stream.Enabled {
		if err := c.ValidateStream(); err != nil {
			return err
		}
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required when redis is enabled")
	}

	// the status pages list every chat's wallets
	if c.Web.Enabled && !c.Web.Loopback() && c.Web.Token == "" {
		return fmt.Errorf("web token is required when web host '%s' is not loopback", c.Web.Host)
	}

	return nil
}

// ValidateStream checks the stream section regardless of stream.enabled
func (c *Config) ValidateStream() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("stream URL is required when the stream is enabled")
	}
	switch c.Stream.Provider {
	case StreamProviderWebSocket, StreamProviderRPC:
	default:
		return fmt.Errorf("invalid stream provider '%s', supported: websocket, rpc", c.Stream.Provider)
	}
	if c.Stream.ReconnectMin <= 0 || c.Stream.ReconnectMax < c.Stream.ReconnectMin {
		return fmt.Errorf("invalid stream reconnect backoff: min=%s max=%s", c.Stream.ReconnectMin, c.Stream.ReconnectMax)
	}
	return nil
}

// IsRedisEnabled returns true if the optional Redis helpers should be wired
func (c *Config) IsRedisEnabled() bool {
	return c.Redis.Enabled && c.Redis.Host != ""
}

// ExplorerTxURL returns the explorer link for a transaction hash on chain
func (c *Config) ExplorerTxURL(chain, hash string) string {
	tmpl, ok := c.Explorer.TxTemplates[strings.ToLower(chain)]
	if !ok || tmpl == "" {
		tmpl = "https://etherscan.io/tx/%s"
	}
	if strings.Contains(tmpl, "{hash}") {
		return strings.ReplaceAll(tmpl, "{hash}", hash)
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, hash)
	}
	return strings.TrimRight(tmpl, "/") + "/" + hash
}

// alchemyURL turns a bare Alchemy key into the Base mainnet websocket URL
func alchemyURL(v string) string {
	if strings.HasPrefix(v, "ws://") || strings.HasPrefix(v, "wss://") {
		return v
	}
	return "wss://base-mainnet.g.alchemy.com/v2/" + v
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
