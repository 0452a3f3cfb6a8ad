package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"
)

// Config aggregates client, dev server and logging settings.
type Config struct {
	Client ClientConfig
	Server ServerConfig
	AI     AIConfig
	Log    LogConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Client.normalize(); err != nil {
		return nil, err
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	if cfg.Server.BotWorkers < 1 {
		cfg.Server.BotWorkers = 1
	}

	return &cfg, nil
}

// ClientConfig describes how the chat client reaches the backend.
type ClientConfig struct {
	APIURL               string        `envconfig:"CHAT_API_URL" default:"http://localhost:8000"`
	WSURL                string        `envconfig:"CHAT_WS_URL" default:"ws://localhost:8000/ws_chat"`
	ReconnectDelay       time.Duration `envconfig:"CHAT_RECONNECT_DELAY" default:"3s"`
	MaxReconnectAttempts int           `envconfig:"CHAT_MAX_RECONNECT_ATTEMPTS" default:"5"`
	HandshakeTimeout     time.Duration `envconfig:"CHAT_HANDSHAKE_TIMEOUT" default:"10s"`
	PingInterval         time.Duration `envconfig:"CHAT_PING_INTERVAL" default:"30s"`
	HTTPTimeout          time.Duration `envconfig:"CHAT_HTTP_TIMEOUT" default:"15s"`
	HTTPRetries          int           `envconfig:"CHAT_HTTP_RETRIES" default:"2"`
	DataDir              string        `envconfig:"CHAT_DATA_DIR"`
}

func (c *ClientConfig) normalize() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if err := checkURL("CHAT_API_URL", c.APIURL, "http", "https"); err != nil {
		return err
	}
	c.WSURL = strings.TrimSpace(c.WSURL)
	if err := checkURL("CHAT_WS_URL", c.WSURL, "ws", "wss"); err != nil {
		return err
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("invalid CHAT_MAX_RECONNECT_ATTEMPTS value %d: must not be negative", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid CHAT_RECONNECT_DELAY value %s: must be positive", c.ReconnectDelay)
	}
	if c.HTTPRetries < 0 {
		c.HTTPRetries = 0
	}

	if c.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		c.DataDir = filepath.Join(base, "chatbot-distribuido")
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s value %q: expected %s URL", key, raw, strings.Join(schemes, " or "))
}

// ServerConfig describes the development backend.
type ServerConfig struct {
	Port        string        `envconfig:"PORT" default:"8000"`
	Addr        string        `ignored:"true"`
	SecretKey   string        `envconfig:"SECRET_KEY" default:"dev-secret-change-me"`
	TokenTTL    time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"*"`
	BotDelay    time.Duration `envconfig:"BOT_DELAY" default:"300ms"`
	BotWorkers  int           `envconfig:"BOT_WORKERS" default:"4"`
}

// normalizeAddr accepts "8000", ":8000" or "127.0.0.1:8000".
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig holds the Ark model settings used by the dev backend's bot.
type AIConfig struct {
	APIKey       string   `envconfig:"ARK_API_KEY"`
	AccessKey    string   `envconfig:"ARK_ACCESS_KEY"`
	SecretKey    string   `envconfig:"ARK_SECRET_KEY"`
	Model        string   `envconfig:"ARK_MODEL"`
	BaseURL      string   `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region       string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	Temperature  *float64 `envconfig:"ARK_TEMPERATURE"`
	TopP         *float64 `envconfig:"ARK_TOP_P"`
	MaxTokens    *int     `envconfig:"ARK_MAX_TOKENS"`
	SystemPrompt string   `envconfig:"BOT_SYSTEM_PROMPT" default:"Você é um assistente prestativo. Responda em português de forma breve."`
}

// Enabled reports whether enough credentials are present to build a model.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: set ARK_MODEL plus ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}
