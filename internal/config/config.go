package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/pkg/errors"
)

type Config struct {
	// client
	APIURL         string        `env:"NEKO_API_URL" envDefault:"http://localhost:8080"`
	WSURL          string        `env:"NEKO_WS_URL"`
	RequestTimeout time.Duration `env:"NEKO_REQUEST_TIMEOUT" envDefault:"30s"`
	StreamGrace    time.Duration `env:"NEKO_STREAM_GRACE" envDefault:"1s"`
	LogLevel       string        `env:"NEKO_LOG_LEVEL" envDefault:"info"`

	// websocket
	WSHeartbeat      time.Duration `env:"NEKO_WS_HEARTBEAT" envDefault:"30s"`
	WSPongTimeout    time.Duration `env:"NEKO_WS_PONG_TIMEOUT" envDefault:"5s"`
	WSMaxReconnects  int           `env:"NEKO_WS_MAX_RECONNECTS" envDefault:"5"`
	WSReconnectDelay time.Duration `env:"NEKO_WS_RECONNECT_DELAY" envDefault:"1s"`

	// local persistence. A DSN like user:pass@tcp(host:3306)/db selects MySQL,
	// "memory" keeps nothing across runs, anything else is handed to sqlite.
	StoreDSN    string `env:"NEKO_STORE_DSN" envDefault:"file:neko.db"`
	TokenKey    string `env:"NEKO_TOKEN_KEY" envDefault:"neko-auth-token"`
	SettingsKey string `env:"NEKO_SETTINGS_KEY" envDefault:"neko-settings"`

	// redis replaces the sql store when REDIS_ADDR is set
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"neko:"`

	// rabbitMQ stream lifecycle events, disabled when RABBIT_URL is empty
	RabbitURL   string `env:"RABBIT_URL"`
	RabbitQueue string `env:"RABBIT_QUEUE" envDefault:"neko_stream_events"`

	// devbackend
	DevAddr       string        `env:"DEV_ADDR" envDefault:":8080"`
	DevDSN        string        `env:"DEV_DB_DSN" envDefault:"file:devbackend.db"`
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	DevChunkDelay time.Duration `env:"DEV_CHUNK_DELAY" envDefault:"30ms"`
	// messages of history handed to a responder
	DevContextWindow int      `env:"DEV_CONTEXT_WINDOW" envDefault:"10"`
	DevCORSOrigins   []string `env:"DEV_CORS_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`
	OllamaBaseURL    string   `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel      string   `env:"OLLAMA_MODEL" envDefault:"llama3:latest"`

	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterModel   string `env:"OPENROUTER_MODEL" envDefault:"openai/gpt-4o-mini"`
	OpenRouterSiteURL string `env:"OPENROUTER_SITE_URL"`
	OpenRouterAppName string `env:"OPENROUTER_APP_NAME" envDefault:"neko"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Errorf("invalid NEKO_API_URL %q", c.APIURL)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("NEKO_REQUEST_TIMEOUT must be positive")
	}
	if c.StreamGrace < 0 {
		return errors.New("NEKO_STREAM_GRACE must not be negative")
	}
	if c.WSMaxReconnects < 0 {
		return errors.New("NEKO_WS_MAX_RECONNECTS must not be negative")
	}
	return nil
}

// WebSocketURL returns NEKO_WS_URL, or the API URL with a ws scheme and the
// /ws path when it is unset.
func (c Config) WebSocketURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}
