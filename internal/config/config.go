// Package config loads cloudtodo configuration.
//
// Values come from, in increasing priority: built-in defaults, the TOML
// config file, and CLOUDTODO_* environment variables. Nested keys map to
// environment names by replacing dots with underscores, so sync.max_concurrency
// is overridden by CLOUDTODO_SYNC_MAX_CONCURRENCY.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
)

const (
	// FileName is the config file name without extension.
	FileName = "cloudtodo"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CLOUDTODO"

	// LocalDir is the project-local config directory, searched first.
	LocalDir = ".cloudtodo"
)

// Remote backends.
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendS3     = "s3"
)

// Config is the full configuration.
type Config struct {
	Account   AccountConfig   `mapstructure:"account" toml:"account"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Remote    RemoteConfig    `mapstructure:"remote" toml:"remote"`
	Identity  IdentityConfig  `mapstructure:"identity" toml:"identity"`
	Sync      SyncConfig      `mapstructure:"sync" toml:"sync"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" toml:"-"`
}

// AccountConfig identifies the signed-in account. An empty ID means
// signed out.
type AccountConfig struct {
	ID         string `mapstructure:"id" toml:"id"`
	GivenName  string `mapstructure:"given_name" toml:"given_name"`
	FamilyName string `mapstructure:"family_name" toml:"family_name"`
	Nickname   string `mapstructure:"nickname" toml:"nickname"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// RemoteConfig selects and configures the shared record store.
type RemoteConfig struct {
	Backend string   `mapstructure:"backend" toml:"backend"`
	Dir     string   `mapstructure:"dir" toml:"dir"`
	S3      S3Config `mapstructure:"s3" toml:"s3"`
}

type S3Config struct {
	Bucket           string `mapstructure:"bucket" toml:"bucket"`
	Prefix           string `mapstructure:"prefix" toml:"prefix"`
	Region           string `mapstructure:"region" toml:"region"`
	Endpoint         string `mapstructure:"endpoint" toml:"endpoint"`
	PathStyle        bool   `mapstructure:"path_style" toml:"path_style"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency" toml:"fetch_concurrency"`
}

type IdentityConfig struct {
	// Directory is the YAML people file used for identity discovery.
	Directory string `mapstructure:"directory" toml:"directory"`
}

// SyncConfig tunes the coordinator and the daemon.
type SyncConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency" toml:"max_concurrency"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" toml:"reconcile_interval"`
	DebounceInterval  time.Duration `mapstructure:"debounce_interval" toml:"debounce_interval"`

	// Scopes reconciled by the daemon, e.g. "all" or "creator:_abc".
	Scopes []string `mapstructure:"scopes" toml:"scopes"`
}

// LogConfig configures the process logger. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	Verbose    bool   `mapstructure:"verbose" toml:"verbose"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// Dir returns the per-user cloudtodo directory, $XDG_CONFIG_HOME/cloudtodo
// on Linux. It falls back to LocalDir when no user config directory exists.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return LocalDir
	}
	return filepath.Join(base, FileName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName+".toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(dir, "todo.db")},
		Remote: RemoteConfig{
			Backend: BackendDir,
			Dir:     filepath.Join(dir, "shared"),
			S3:      S3Config{Prefix: "cloudtodo", FetchConcurrency: 8},
		},
		Identity: IdentityConfig{Directory: filepath.Join(dir, "people.yaml")},
		Sync: SyncConfig{
			MaxConcurrency:    4,
			ReconcileInterval: 30 * time.Second,
			DebounceInterval:  250 * time.Millisecond,
			Scopes:            []string{"all"},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Dashboard: DashboardConfig{Port: 8080},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("account.id", d.Account.ID)
	v.SetDefault("account.given_name", d.Account.GivenName)
	v.SetDefault("account.family_name", d.Account.FamilyName)
	v.SetDefault("account.nickname", d.Account.Nickname)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("remote.backend", d.Remote.Backend)
	v.SetDefault("remote.dir", d.Remote.Dir)
	v.SetDefault("remote.s3.bucket", d.Remote.S3.Bucket)
	v.SetDefault("remote.s3.prefix", d.Remote.S3.Prefix)
	v.SetDefault("remote.s3.region", d.Remote.S3.Region)
	v.SetDefault("remote.s3.endpoint", d.Remote.S3.Endpoint)
	v.SetDefault("remote.s3.path_style", d.Remote.S3.PathStyle)
	v.SetDefault("remote.s3.fetch_concurrency", d.Remote.S3.FetchConcurrency)
	v.SetDefault("identity.directory", d.Identity.Directory)
	v.SetDefault("sync.max_concurrency", d.Sync.MaxConcurrency)
	v.SetDefault("sync.reconcile_interval", d.Sync.ReconcileInterval)
	v.SetDefault("sync.debounce_interval", d.Sync.DebounceInterval)
	v.SetDefault("sync.scopes", d.Sync.Scopes)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise LocalDir and Dir() are searched and a missing file means
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(LocalDir)
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendMemory:
	case BackendDir:
		if c.Remote.Dir == "" {
			return fmt.Errorf("remote.dir is required for the %s backend", BackendDir)
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("remote.s3.bucket is required for the %s backend", BackendS3)
		}
	default:
		return fmt.Errorf("unknown remote.backend %q (want %s, %s or %s)",
			c.Remote.Backend, BackendMemory, BackendDir, BackendS3)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.MaxConcurrency <= 0 {
		return fmt.Errorf("sync.max_concurrency must be positive, got %d", c.Sync.MaxConcurrency)
	}
	if c.Sync.ReconcileInterval < 0 || c.Sync.DebounceInterval < 0 {
		return fmt.Errorf("sync intervals must not be negative")
	}
	if _, err := c.ReconcileScopes(); err != nil {
		return err
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// ReconcileScopes parses Sync.Scopes.
func (c *Config) ReconcileScopes() ([]remote.Scope, error) {
	scopes := make([]remote.Scope, 0, len(c.Sync.Scopes))
	for _, s := range c.Sync.Scopes {
		scope, err := remote.ParseScope(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("sync.scopes: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}
