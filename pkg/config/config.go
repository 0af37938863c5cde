package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"nostrbox/pkg/relay"
)

const (
	AuthNsec       = "nsec"
	AuthPlebSigner = "pleb_signer"

	// EnvPath overrides the config file location
	EnvPath = "NOSTRBOX_CONFIG"

	DefaultTimeout = 10 * time.Second
)

// DefaultRelays is used when the config names none
var DefaultRelays = []string{"wss://relay.damus.io", "wss://nos.lol"}

// Config holds all persistent settings
type Config struct {
	AuthMethod     string   `json:"auth_method,omitempty"` // "nsec" or "pleb_signer"
	Nsec           string   `json:"nsec,omitempty"`        // ncryptsec, or a plain nsec if the user chose to save one
	Relays         []string `json:"relays"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	KDFLogN        int      `json:"kdf_log_n,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}

	// Use XDG_CONFIG_HOME if set, otherwise ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "nostrbox", "config.json"), nil
}

// Load reads the config file
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{Relays: slices.Clone(DefaultRelays)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Ensure we have default relays if none saved
	if len(cfg.Relays) == 0 {
		cfg.Relays = slices.Clone(DefaultRelays)
	}
	return &cfg, nil
}

// Save writes the config file
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with restricted permissions (user only)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Clear deletes the config file
func Clear() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove config: %w", err)
	}
	return nil
}

// Timeout is the relay operation timeout
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AddRelay stores a normalized relay url. It reports false when the relay
// was already present.
func (c *Config) AddRelay(raw string) (bool, error) {
	u, err := relay.NormalizeURL(raw)
	if err != nil {
		return false, err
	}
	if slices.Contains(c.Relays, u) {
		return false, nil
	}
	c.Relays = append(c.Relays, u)
	return true, nil
}

// RemoveRelay drops a relay, reporting whether it was present
func (c *Config) RemoveRelay(raw string) bool {
	u, err := relay.NormalizeURL(raw)
	if err != nil {
		u = raw
	}
	i := slices.Index(c.Relays, u)
	if i < 0 {
		return false
	}
	c.Relays = slices.Delete(c.Relays, i, i+1)
	return true
}
