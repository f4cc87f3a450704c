package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"LOGLEVEL", "IRC_LISTEN_ADDR", "IRC_TLS_CERT", "IRC_TLS_KEY", "IRC_SERVER_NAME",
		"MATRIX_HOMESERVER_URL", "MATRIX_LOGIN_TYPE", "SYNC_TIMEOUT_SECONDS",
		"ADMIN_LISTEN_ADDR", "ADMIN_TOKEN", "REPLAY_QUEUE_SIZE",
	}
	for _, v := range vars {
		orig, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, orig)
			}
		})
	}
}

func TestLoadRequiresHomeserverURL(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("MATRIX_HOMESERVER_URL", "https://matrix.example.org")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultIRCListenAddr, cfg.IRCListenAddr)
	assert.Equal(t, defaultAdminListenAddr, cfg.AdminListenAddr)
	assert.Equal(t, "password", cfg.MatrixLoginType)
	assert.Equal(t, defaultReplayQueueSize, cfg.ReplayQueueSize)
}

func TestLoadRejectsMismatchedTLSPair(t *testing.T) {
	clearEnv(t)
	os.Setenv("MATRIX_HOMESERVER_URL", "https://matrix.example.org")
	os.Setenv("IRC_TLS_CERT", "/tmp/cert.pem")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidLoginType(t *testing.T) {
	clearEnv(t)
	os.Setenv("MATRIX_HOMESERVER_URL", "https://matrix.example.org")
	os.Setenv("MATRIX_LOGIN_TYPE", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFallsBackOnInvalidNumericEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("MATRIX_HOMESERVER_URL", "https://matrix.example.org")
	os.Setenv("SYNC_TIMEOUT_SECONDS", "not-a-number")
	os.Setenv("REPLAY_QUEUE_SIZE", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultSyncTimeoutS, cfg.SyncTimeoutSeconds)
	assert.Equal(t, defaultReplayQueueSize, cfg.ReplayQueueSize)
}
