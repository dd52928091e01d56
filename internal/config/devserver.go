package config

import (
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DevServerConfig holds the development chat server configuration.
type DevServerConfig struct {
	ServerPort  string
	JWTSecret   string
	TokenMaxAge time.Duration
	// SeedUsers creates the demo accounts at startup.
	SeedUsers bool
}

// LoadDevServer loads the server configuration from the environment, after
// trying envPath.
func LoadDevServer(envPath string) DevServerConfig {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Warn().Err(err).Str("path", envPath).Msg("could not load env file, relying on environment variables")
		}
	}

	tokenHoursStr := getEnv("TOKEN_HOURS", "72")
	tokenHours, err := strconv.Atoi(tokenHoursStr)
	if err != nil || tokenHours <= 0 {
		log.Warn().Str("value", tokenHoursStr).Msg("invalid TOKEN_HOURS, using default 72h")
		tokenHours = 72
	}

	seed, err := strconv.ParseBool(getEnv("SEED_USERS", "true"))
	if err != nil {
		seed = true
	}

	cfg := DevServerConfig{
		ServerPort:  getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "a_very_long_and_secure_default_secret_key_please_change_this"),
		TokenMaxAge: time.Hour * time.Duration(tokenHours),
		SeedUsers:   seed,
	}
	log.Info().Str("port", cfg.ServerPort).Dur("token_max_age", cfg.TokenMaxAge).Msg("configuration loaded")
	return cfg
}
