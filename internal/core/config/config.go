package config

import (
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/backoff"
	"github.com/vietddude/biomes-client/internal/infra/fetch"
	"github.com/vietddude/biomes-client/internal/infra/game"
	redisclient "github.com/vietddude/biomes-client/internal/infra/redis"
	"github.com/vietddude/biomes-client/internal/infra/storage/postgres"
	"github.com/vietddude/biomes-client/internal/infra/tracing"
	"github.com/vietddude/biomes-client/internal/loading/sequencer"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	API      fetch.Config       `yaml:"api" envPrefix:"API_"`
	Game     game.Config        `yaml:"game" envPrefix:"GAME_"`
	Auth     AuthConfig         `yaml:"auth" envPrefix:"AUTH_"`
	Loading  sequencer.Config   `yaml:"loading" envPrefix:"LOADING_"`
	Redis    redisclient.Config `yaml:"redis" envPrefix:"REDIS_"`
	Database postgres.Config    `yaml:"database" envPrefix:"DATABASE_"`
	Logging  LoggingConfig      `yaml:"logging" envPrefix:"LOGGING_"`
	Tracing  tracing.Config     `yaml:"tracing" envPrefix:"TRACING_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// AuthConfig holds session settings.
type AuthConfig struct {
	// UserID pins the player. Zero asks the server who is logged in.
	UserID        domain.UserID  `yaml:"user_id" env:"USER_ID"`
	ProfileRetry  backoff.Policy `yaml:"profile_retry" envPrefix:"PROFILE_RETRY_"`
	FrameInterval time.Duration  `yaml:"frame_interval" env:"FRAME_INTERVAL"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}

// Default returns the configuration used for anything a file leaves unset.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{Port: 8080},
		API: fetch.Config{
			BaseURL:    "http://localhost:3000",
			Timeout:    10 * time.Second,
			Retries:    fetch.DefaultRetries,
			RetryDelay: fetch.DefaultRetryDelay,
		},
		Game: game.Config{
			URL:              "ws://localhost:3000/sync",
			HeartbeatTimeout: 10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			ProfileRetry: backoff.DefaultPolicy,
		},
		Loading: sequencer.DefaultConfig(),
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: tracing.Config{ServiceName: "biomes-client", SampleRatio: 1},
	}
}
