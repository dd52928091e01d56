package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the client configuration.
type AppConfig struct {
	WSURL    string `toml:"ws_url"`
	HTTPURL  string `toml:"http_url"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
	PageSize int    `toml:"page_size"`

	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteWait        Duration `toml:"write_wait"`
	PingPeriod       Duration `toml:"ping_period"`
	ReadLimit        int64    `toml:"read_limit"`

	DecodeFailurePolicy string `toml:"decode_failure_policy"`
	QueueClosedPolicy   string `toml:"queue_closed_policy"`

	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Duration reads TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing overrides it.
func Default() AppConfig {
	return AppConfig{
		WSURL:               "ws://localhost:8080/ws",
		HTTPURL:             "http://localhost:8080/",
		PageSize:            20,
		HandshakeTimeout:    Duration{10 * time.Second},
		WriteWait:           Duration{10 * time.Second},
		PingPeriod:          Duration{54 * time.Second},
		ReadLimit:           64 * 1024,
		DecodeFailurePolicy: "notify",
		QueueClosedPolicy:   "terminate",
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, then the TOML file at
// tomlPath (skipped when empty or missing), then the .env file at envPath
// and the process environment.
func Load(tomlPath, envPath string) (*AppConfig, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", tomlPath, err)
			}
			log.Warn().Str("path", tomlPath).Msg("config file not found, using defaults")
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Debug().Err(err).Str("path", envPath).Msg("could not load env file, relying on environment variables")
		}
	}

	cfg.WSURL = getEnv("CHAT_WS_URL", cfg.WSURL)
	cfg.HTTPURL = getEnv("CHAT_HTTP_URL", cfg.HTTPURL)
	cfg.Email = getEnv("CHAT_EMAIL", cfg.Email)
	cfg.Password = getEnv("CHAT_PASSWORD", cfg.Password)
	cfg.LogLevel = getEnv("CHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getEnv("CHAT_METRICS_ADDR", cfg.MetricsAddr)
	cfg.DecodeFailurePolicy = getEnv("CHAT_DECODE_FAILURE_POLICY", cfg.DecodeFailurePolicy)
	cfg.QueueClosedPolicy = getEnv("CHAT_QUEUE_CLOSED_POLICY", cfg.QueueClosedPolicy)

	pageSizeStr := getEnv("CHAT_PAGE_SIZE", strconv.Itoa(cfg.PageSize))
	pageSize, err := strconv.Atoi(pageSizeStr)
	if err != nil {
		log.Warn().Str("value", pageSizeStr).Int("fallback", cfg.PageSize).Msg("invalid CHAT_PAGE_SIZE, using fallback")
	} else {
		cfg.PageSize = pageSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks URLs, sizes and policy names.
func (c *AppConfig) Validate() error {
	var errs []error
	if err := checkURL(c.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("ws_url: %w", err))
	}
	if err := checkURL(c.HTTPURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("http_url: %w", err))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	switch c.DecodeFailurePolicy {
	case "", "notify", "disconnect":
	default:
		errs = append(errs, fmt.Errorf("decode_failure_policy: unknown value %q", c.DecodeFailurePolicy))
	}
	switch c.QueueClosedPolicy {
	case "", "terminate", "idle":
	default:
		errs = append(errs, fmt.Errorf("queue_closed_policy: unknown value %q", c.QueueClosedPolicy))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not allowed in %q", u.Scheme, raw)
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
