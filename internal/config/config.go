// Package config loads and saves the application configuration:
// per-provider OAuth client settings plus listing and transfer defaults.
// Tokens are never stored here — they live in the encrypted credential
// store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/techcodex/codexcloud/internal/cloud"
)

// Defaults applied when the config file omits a value.
const (
	DefaultPageSize     = 100
	DefaultRedirectPort = 8080
	DefaultCallbackPath = "/callback"
	DefaultTenant       = "common"
	DefaultLogLevel     = "info"
)

// DirPerms is used when creating config and data directories.
const DirPerms = 0o700

// ProviderConfig holds the OAuth client settings for one provider.
type ProviderConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`

	// Tenant discriminates multi-tenant endpoints (OneDrive only).
	Tenant string `toml:"tenant,omitempty"`
}

// Config is the on-disk application configuration.
type Config struct {
	LogLevel     string `toml:"log_level"`
	PageSize     int    `toml:"page_size"`
	RedirectPort int    `toml:"redirect_port"`
	DownloadRoot string `toml:"download_root"`

	GitHub   ProviderConfig `toml:"github"`
	GDrive   ProviderConfig `toml:"gdrive"`
	OneDrive ProviderConfig `toml:"onedrive"`
}

// Provider returns the section for the named provider.
func (c *Config) Provider(name cloud.Name) ProviderConfig {
	switch name {
	case cloud.GitHub:
		return c.GitHub
	case cloud.GDrive:
		return c.GDrive
	case cloud.OneDrive:
		return c.OneDrive
	default:
		return ProviderConfig{}
	}
}

// defaultScopes per provider, matching what each API requires for
// listing and transfer plus a refresh token where the provider issues one.
var defaultScopes = map[cloud.Name][]string{
	cloud.GitHub:   {"repo", "read:user"},
	cloud.GDrive:   {"https://www.googleapis.com/auth/drive"},
	cloud.OneDrive: {"Files.ReadWrite.All", "offline_access", "User.Read"},
}

// applyDefaults fills zero values in-place.
func (c *Config) applyDefaults(dataDir string) {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}

	if c.RedirectPort == 0 {
		c.RedirectPort = DefaultRedirectPort
	}

	if c.DownloadRoot == "" {
		c.DownloadRoot = filepath.Join(dataDir, "downloads")
	}

	if c.OneDrive.Tenant == "" {
		c.OneDrive.Tenant = DefaultTenant
	}

	if len(c.GitHub.Scopes) == 0 {
		c.GitHub.Scopes = defaultScopes[cloud.GitHub]
	}

	if len(c.GDrive.Scopes) == 0 {
		c.GDrive.Scopes = defaultScopes[cloud.GDrive]
	}

	if len(c.OneDrive.Scopes) == 0 {
		c.OneDrive.Scopes = defaultScopes[cloud.OneDrive]
	}
}

// DataDir returns the application data directory, creating it if needed.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user config dir: %w", err)
	}

	dir := filepath.Join(base, "codexcloud")
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return "", fmt.Errorf("config: creating data dir %s: %w", dir, err)
	}

	return dir, nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path, applying defaults for anything
// the file omits. A missing file yields a pure-defaults config.
func Load(path string) (*Config, error) {
	dataDir := filepath.Dir(path)

	var cfg Config

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg.applyDefaults(dataDir)
		return &cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	cfg.applyDefaults(dataDir)

	return &cfg, nil
}

// Save writes the config to path as TOML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), DirPerms); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", path, err)
	}

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing %s: %w", path, err)
	}

	return nil
}
