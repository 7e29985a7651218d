package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the game server listens on.
	DefaultAddr = ":43180"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultTickRate is the simulation frequency in ticks per second.
	DefaultTickRate = 60.0
	// DefaultWinScore ends a match once either side reaches this score.
	DefaultWinScore = 3
	// DefaultStoreTimeout bounds persistence calls issued from live handlers.
	DefaultStoreTimeout = 5 * time.Second

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultJournalMaxMatches bounds how many finished match journals are kept.
	DefaultJournalMaxMatches = 64
	// DefaultJournalMaxAge prunes journals older than this horizon.
	DefaultJournalMaxAge = 7 * 24 * time.Hour
	// DefaultMaintenanceInterval is the cadence of the background maintenance jobs.
	DefaultMaintenanceInterval = time.Minute
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Address         string
	AllowedOrigins  []string
	PingInterval    time.Duration
	MaxPayloadBytes int64

	DatabaseDSN string
	AuthSecret  string

	TickRate     float64
	WinScore     int
	StoreTimeout time.Duration

	JournalDir          string
	JournalMaxMatches   int
	JournalMaxAge       time.Duration
	MaintenanceInterval time.Duration

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:             getString("GAME_ADDR", DefaultAddr),
		AllowedOrigins:      parseList(os.Getenv("GAME_ALLOWED_ORIGINS")),
		PingInterval:        DefaultPingInterval,
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
		DatabaseDSN:         strings.TrimSpace(os.Getenv("GAME_DB_DSN")),
		AuthSecret:          strings.TrimSpace(os.Getenv("GAME_AUTH_SECRET")),
		TickRate:            DefaultTickRate,
		WinScore:            DefaultWinScore,
		StoreTimeout:        DefaultStoreTimeout,
		JournalDir:          strings.TrimSpace(os.Getenv("GAME_JOURNAL_DIR")),
		JournalMaxMatches:   DefaultJournalMaxMatches,
		JournalMaxAge:       DefaultJournalMaxAge,
		MaintenanceInterval: DefaultMaintenanceInterval,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("GAME_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(os.Getenv("GAME_LOG_PATH")),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if cfg.DatabaseDSN == "" {
		problems = append(problems, "GAME_DB_DSN must be provided")
	}
	if cfg.AuthSecret == "" {
		problems = append(problems, "GAME_AUTH_SECRET must be provided")
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_TICK_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_TICK_RATE must be a positive number, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_WIN_SCORE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_WIN_SCORE must be a positive integer, got %q", raw))
		} else {
			cfg.WinScore = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_STORE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_STORE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.StoreTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_JOURNAL_MAX_MATCHES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAME_JOURNAL_MAX_MATCHES must be a non-negative integer, got %q", raw))
		} else {
			cfg.JournalMaxMatches = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_JOURNAL_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("GAME_JOURNAL_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.JournalMaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_MAINTENANCE_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_MAINTENANCE_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.MaintenanceInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAME_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAME_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAME_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GAME_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
