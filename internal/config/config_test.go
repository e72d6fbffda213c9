package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultrasync-link/ultrasync/internal/modem"
)

func Test_Load_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func Test_Load_OverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, Config{
		Mode:          modem.ModeLow,
		Volume:        50,
		AutoDiscovery: false,
		Username:      "nyx",
		SampleRate:    44100,
		DeviceIndex:   2,
		LogLevel:      "debug",
	}))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, modem.ModeLow, cfg.Mode)
	assert.Equal(t, 50, cfg.Volume)
	assert.False(t, cfg.AutoDiscovery)
	assert.Equal(t, "nyx", cfg.Username)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 2, cfg.DeviceIndex)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func Test_LoadOrCreateIdentity_PersistsOnlyTheUsername(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")

	id1, err := LoadOrCreateIdentity(path, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id1.UserID)
	assert.Equal(t, "user"+id1.UserID[:4], id1.Username)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "userId", "the identity file holds just the display name")

	id2, err := LoadOrCreateIdentity(path, "ignored-once-minted")
	require.NoError(t, err)
	assert.Equal(t, id1.Username, id2.Username, "the display name round-trips through the file")
	assert.NotEqual(t, id1.UserID, id2.UserID, "the userId is minted fresh per process, never persisted")
}

func Test_LoadOrCreateIdentity_HonorsDefaultUsernameOnFirstMint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")

	id, err := LoadOrCreateIdentity(path, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.Username)
}
