// Package config persists the agent's key/value store: identity, forge
// token, relay URL, auth mode, and optional provider key. The store is
// read at boot; five environment variables stand in when it is absent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Environment-variable fallback. Each variable overrides the matching
// store key; when no store exists the environment alone may configure
// the agent.
const (
	EnvIdentity    = "CODELINK_IDENTITY"
	EnvGitHubToken = "CODELINK_GITHUB_TOKEN"
	EnvRelayURL    = "CODELINK_RELAY_URL"
	EnvAuthMode    = "CODELINK_AUTH_MODE"
	EnvProviderKey = "CODELINK_PROVIDER_KEY"
)

// DefaultRelayURL is used when neither the store nor the environment
// names a relay.
const DefaultRelayURL = "wss://relay.codelink.dev/ws"

// AuthMode selects how the spawned code tool authenticates.
type AuthMode string

const (
	AuthModeSubscription AuthMode = "subscription" // tool uses its own logged-in session
	AuthModeAPIKey       AuthMode = "api-key"      // provider key exported to the tool
)

// Config is the agent's persisted key/value store.
type Config struct {
	Identity    string   `json:"identity"`
	GitHubToken string   `json:"github_token,omitempty"`
	RelayURL    string   `json:"relay_url,omitempty"`
	AuthMode    AuthMode `json:"auth_mode,omitempty"`
	ProviderKey string   `json:"provider_key,omitempty"`
}

// Load reads the store from disk, falling back to environment variables
// when the file does not exist. The agent identity is minted on first
// run and persisted so it stays stable across restarts.
func Load() (*Config, error) {
	path := Path()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := fromEnvironment()
		if cfg.Identity == "" {
			cfg.Identity = uuid.New().String()
		}
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to write initial config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if cfg.Identity == "" {
		cfg.Identity = uuid.New().String()
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to persist agent identity: %w", err)
		}
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = DefaultRelayURL
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeSubscription
	}

	return &cfg, nil
}

// fromEnvironment builds a config entirely from the fallback variables.
func fromEnvironment() *Config {
	cfg := &Config{
		Identity:    os.Getenv(EnvIdentity),
		GitHubToken: os.Getenv(EnvGitHubToken),
		RelayURL:    os.Getenv(EnvRelayURL),
		AuthMode:    AuthMode(os.Getenv(EnvAuthMode)),
		ProviderKey: os.Getenv(EnvProviderKey),
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = DefaultRelayURL
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeSubscription
	}
	return cfg
}

// applyEnvironmentOverrides lets each variable shadow its stored key.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv(EnvIdentity); v != "" {
		c.Identity = v
	}
	if v := os.Getenv(EnvGitHubToken); v != "" {
		c.GitHubToken = v
	}
	if v := os.Getenv(EnvRelayURL); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv(EnvAuthMode); v != "" {
		c.AuthMode = AuthMode(v)
	}
	if v := os.Getenv(EnvProviderKey); v != "" {
		c.ProviderKey = v
	}
}

// Save writes the store to disk, owner read/write only.
func (c *Config) Save() error {
	path := Path()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks that the daemon can actually start.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("missing agent identity (run 'codelink setup' or set %s)", EnvIdentity)
	}
	if c.GitHubToken == "" {
		return fmt.Errorf("missing GitHub token (run 'codelink setup' or set %s)", EnvGitHubToken)
	}
	if c.RelayURL == "" {
		return fmt.Errorf("missing relay URL (run 'codelink setup' or set %s)", EnvRelayURL)
	}
	return nil
}

// Path returns the store location. Overridable for tests via
// CODELINK_CONFIG_DIR.
func Path() string {
	if dir := os.Getenv("CODELINK_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.json")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".codelink", "config.json")
}

// WorkspaceRoot returns where working copies live.
func WorkspaceRoot() string {
	if dir := os.Getenv("CODELINK_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "workspaces")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".codelink", "workspaces")
}
