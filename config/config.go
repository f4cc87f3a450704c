// Package config loads gateway configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nethesis/matrix2irc/logger"
)

const (
	defaultIRCListenAddr   = ":6667"
	defaultAdminListenAddr = ":8080"
	defaultLogLevel        = "INFO"
	defaultSyncTimeoutS    = 30
	defaultReplayQueueSize = 256
	defaultServerName      = "server."
)

// Config holds all configuration loaded from environment variables.
type Config struct {
	LogLevel string

	// IRC listener
	IRCListenAddr string
	IRCTLSCert    string
	IRCTLSKey     string
	ServerName    string

	// Matrix
	MatrixHomeserverURL string
	MatrixLoginType     string // "password" or "token"
	SyncTimeoutSeconds  int
	SyncTimeout         time.Duration

	// Admin HTTP sidecar
	AdminListenAddr string
	AdminToken      string

	// Lifecycle tuning
	ReplayQueueSize int
}

// Load reads configuration from the environment, applying defaults and
// validating required fields. Required fields that are missing cause a
// fatal error, matching the teacher's fail-fast NewConfig behavior.
func Load() (*Config, error) {
	cfg := &Config{}

	logger.Debug().Msg("starting configuration loading from environment variables")

	cfg.LogLevel = os.Getenv("LOGLEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
		logger.Debug().Str("LOGLEVEL", cfg.LogLevel).Msg("using default log level")
	}

	cfg.IRCListenAddr = os.Getenv("IRC_LISTEN_ADDR")
	if cfg.IRCListenAddr == "" {
		cfg.IRCListenAddr = defaultIRCListenAddr
		logger.Debug().Str("IRC_LISTEN_ADDR", cfg.IRCListenAddr).Msg("using default IRC listen address")
	}

	cfg.IRCTLSCert = os.Getenv("IRC_TLS_CERT")
	cfg.IRCTLSKey = os.Getenv("IRC_TLS_KEY")
	if (cfg.IRCTLSCert == "") != (cfg.IRCTLSKey == "") {
		return nil, fmt.Errorf("IRC_TLS_CERT and IRC_TLS_KEY must both be set or both be empty")
	}

	cfg.ServerName = os.Getenv("IRC_SERVER_NAME")
	if cfg.ServerName == "" {
		cfg.ServerName = defaultServerName
	}

	cfg.MatrixHomeserverURL = os.Getenv("MATRIX_HOMESERVER_URL")
	if cfg.MatrixHomeserverURL == "" {
		logger.Error().Msg("MATRIX_HOMESERVER_URL environment variable is missing")
		return nil, fmt.Errorf("MATRIX_HOMESERVER_URL is required")
	}
	logger.Debug().Str("MATRIX_HOMESERVER_URL", cfg.MatrixHomeserverURL).Msg("matrix homeserver URL loaded from environment")

	cfg.MatrixLoginType = os.Getenv("MATRIX_LOGIN_TYPE")
	if cfg.MatrixLoginType == "" {
		cfg.MatrixLoginType = "password"
		logger.Debug().Str("MATRIX_LOGIN_TYPE", cfg.MatrixLoginType).Msg("using default matrix login type")
	}
	if cfg.MatrixLoginType != "password" && cfg.MatrixLoginType != "token" {
		return nil, fmt.Errorf("MATRIX_LOGIN_TYPE must be 'password' or 'token', got %q", cfg.MatrixLoginType)
	}

	cfg.SyncTimeoutSeconds = defaultSyncTimeoutS
	if v := os.Getenv("SYNC_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.SyncTimeoutSeconds = parsed
		} else {
			logger.Warn().Str("SYNC_TIMEOUT_SECONDS", v).Int("default", defaultSyncTimeoutS).Msg("invalid sync timeout value, using default")
		}
	}
	cfg.SyncTimeout = time.Duration(cfg.SyncTimeoutSeconds) * time.Second

	cfg.AdminListenAddr = os.Getenv("ADMIN_LISTEN_ADDR")
	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = defaultAdminListenAddr
		logger.Debug().Str("ADMIN_LISTEN_ADDR", cfg.AdminListenAddr).Msg("using default admin listen address")
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN not set - token-gated admin HTTP endpoints will be unreachable")
	}

	cfg.ReplayQueueSize = defaultReplayQueueSize
	if v := os.Getenv("REPLAY_QUEUE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.ReplayQueueSize = parsed
		} else {
			logger.Warn().Str("REPLAY_QUEUE_SIZE", v).Int("default", defaultReplayQueueSize).Msg("invalid replay queue size, using default")
		}
	}

	logger.Debug().Msg("configuration loading completed successfully")
	return cfg, nil
}

// NewTestConfig creates a minimal Config for testing purposes.
func NewTestConfig() *Config {
	return &Config{
		LogLevel:            defaultLogLevel,
		IRCListenAddr:       defaultIRCListenAddr,
		ServerName:          defaultServerName,
		MatrixHomeserverURL: "https://example.com",
		MatrixLoginType:     "password",
		SyncTimeoutSeconds:  defaultSyncTimeoutS,
		SyncTimeout:         time.Duration(defaultSyncTimeoutS) * time.Second,
		AdminListenAddr:     defaultAdminListenAddr,
		ReplayQueueSize:     defaultReplayQueueSize,
	}
}
