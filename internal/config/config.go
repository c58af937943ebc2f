// Package config loads and persists PortWatch's runtime configuration:
// the alert-engine Settings, the paranoid-mode flag, and the data
// directory layout, merging a YAML file with PORTWATCH_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"

	"github.com/serome111/portwatch/internal/model"
)

// Config is the top-level configuration object, atomically replaceable
// via Set so concurrent readers never observe a half-updated struct.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Settings model.Settings `mapstructure:"settings"`
	Paranoid bool           `mapstructure:"paranoid"`

	ReputationAPIKey string `mapstructure:"reputation_api_key"`
	ReputationURL    string `mapstructure:"reputation_url"`
}

// Store holds the current Config behind a mutex so the orchestrator,
// the API server, and the CLI can all read a consistent snapshot.
type Store struct {
	mu  sync.RWMutex
	cfg Config
	v   *viper.Viper
	path string
}

// DefaultConfigPath returns the support-directory config path, the
// macOS Application Support location falling back to a dotfile in the
// user's home directory elsewhere.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "PortWatch", "config.yaml")
	}
	return filepath.Join(home, ".portwatch", "config.yaml")
}

// Load reads configFile (or DefaultConfigPath if empty), applies
// PORTWATCH_* environment overrides, and fills in defaults for
// anything left unset.
func Load(configFile string) (*Store, error) {
	if configFile == "" {
		configFile = DefaultConfigPath()
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PORTWATCH")
	v.AutomaticEnv()

	dataDir := filepath.Dir(configFile)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("paranoid", false)
	def := model.DefaultSettings()
	v.SetDefault("settings.enabled", def.Enabled)
	v.SetDefault("settings.alert_level", string(def.AlertLevel))
	v.SetDefault("settings.auto_allow_signed_apple", def.AutoAllowSignedApple)
	v.SetDefault("settings.notification_cooldown_seconds", def.NotificationCooldownSeconds)
	v.SetDefault("settings.notify_intrusive", def.NotifyIntrusive)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
			}
		}
		// No file yet: defaults stand, written out on first Save.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: creating data dir %s: %w", cfg.DataDir, err)
	}

	return &Store{cfg: cfg, v: v, path: configFile}, nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set atomically replaces the configuration.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// SetSettings atomically replaces just the alert-engine settings.
func (s *Store) SetSettings(settings model.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Settings = settings
}

// SetParanoid atomically replaces the paranoid-mode flag.
func (s *Store) SetParanoid(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Paranoid = on
}

// Save writes the current configuration back to its YAML file.
func (s *Store) Save() error {
	s.mu.RLock()
	cfg := s.cfg
	path := s.path
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating dir for %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("data_dir", cfg.DataDir)
	v.Set("paranoid", cfg.Paranoid)
	v.Set("settings.enabled", cfg.Settings.Enabled)
	v.Set("settings.alert_level", string(cfg.Settings.AlertLevel))
	v.Set("settings.ignored_apps", cfg.Settings.IgnoredApps)
	v.Set("settings.auto_allow_signed_apple", cfg.Settings.AutoAllowSignedApple)
	v.Set("settings.notification_cooldown_seconds", cfg.Settings.NotificationCooldownSeconds)
	v.Set("settings.notify_intrusive", cfg.Settings.NotifyIntrusive)
	v.Set("reputation_api_key", cfg.ReputationAPIKey)
	v.Set("reputation_url", cfg.ReputationURL)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// RulesDBPath returns the path to the Rule Store's SQLite database.
func (s *Store) RulesDBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filepath.Join(s.cfg.DataDir, "rules.db")
}

// DNSConfigPath returns the path to the DNS analyzer's whitelist/
// blacklist config, watched for hot-reload (spec.md §4.6).
func (s *Store) DNSConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filepath.Join(s.cfg.DataDir, "dns_config.yaml")
}
