package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "veriledger:proof-jobs", cfg.Queue.Stream)
	assert.Equal(t, "provers", cfg.Queue.Group)
	assert.Equal(t, 3, cfg.Rollup.FetchAttempts)
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "test-secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("ledger:\n  block_size: 4\nrollup:\n  batch_size: 7\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Ledger.BlockSize)
	assert.Equal(t, 7, cfg.Rollup.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsHalfConfiguredAnchor(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "test-secret")
	t.Setenv("ANCHOR_ENDPOINT", "http://anchor.local")
	t.Setenv("ANCHOR_CONTRACT", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "test-secret")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load("")
	require.Error(t, err)
}
