package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRelays, cfg.Relays)
	assert.Equal(t, DefaultTimeout, cfg.Timeout())

	// defaults are copied, not shared
	cfg.Relays[0] = "wss://changed"
	assert.Equal(t, "wss://relay.damus.io", DefaultRelays[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	in := &Config{
		AuthMethod:     AuthNsec,
		Nsec:           "ncryptsec1example",
		Relays:         []string{"wss://nos.lol"},
		TimeoutSeconds: 3,
		KDFLogN:        18,
	}
	require.NoError(t, SaveTo(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, 3*time.Second, out.Timeout())
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestEnvPathAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.json")
	t.Setenv(EnvPath, path)

	got, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)

	require.NoError(t, Save(&Config{Relays: []string{"wss://a.example"}}))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://a.example"}, cfg.Relays)

	require.NoError(t, Clear())
	require.NoError(t, Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestXDGPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nostrbox", "config.json"), got)
}

func TestAddRemoveRelay(t *testing.T) {
	cfg := &Config{}
	added, err := cfg.AddRelay("Relay.Example.com/")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"wss://relay.example.com"}, cfg.Relays)

	added, err = cfg.AddRelay("wss://relay.example.com")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = cfg.AddRelay("https://nope.example.com")
	assert.Error(t, err)

	assert.True(t, cfg.RemoveRelay("relay.example.com"))
	assert.False(t, cfg.RemoveRelay("relay.example.com"))
	assert.Empty(t, cfg.Relays)
}
