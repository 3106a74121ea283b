package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Paths        PathsConfig        `mapstructure:"paths"`
	Platform     PlatformConfig     `mapstructure:"platform"`
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	Backup       BackupConfig       `mapstructure:"backup"`
	Update       UpdateConfig       `mapstructure:"update"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// PathsConfig contains path-related configuration
type PathsConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	PackagesDir string `mapstructure:"packages_dir"`
	BackupsDir  string `mapstructure:"backups_dir"`
	TempDir     string `mapstructure:"temp_dir"`
	DBFile      string `mapstructure:"db_file"`
	LogFile     string `mapstructure:"log_file"`
}

// PlatformConfig describes the host storefront platform
type PlatformConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	// Provided maps package name to the version the host bundles
	Provided map[string]string `mapstructure:"provided"`
}

// DependenciesConfig holds the dependency allow and deny lists
type DependenciesConfig struct {
	Allowed []string `mapstructure:"allowed"`
	Blocked []string `mapstructure:"blocked"`
}

// BackupConfig contains backup retention configuration
type BackupConfig struct {
	Retention int `mapstructure:"retention"`
}

// UpdateConfig contains updater configuration
type UpdateConfig struct {
	Source           SourceConfig `mapstructure:"source"`
	TimeoutSeconds   int          `mapstructure:"timeout_seconds"`
	AutoMigrate      bool         `mapstructure:"auto_migrate"`
	CreateBackup     bool         `mapstructure:"create_backup"`
	MigrationFailure string       `mapstructure:"migration_failure"`
}

// SourceConfig selects and configures an update source
type SourceConfig struct {
	Type       string `mapstructure:"type"` // release, registry, url, local
	URL        string `mapstructure:"url"`
	Repository string `mapstructure:"repository"`
	Package    string `mapstructure:"package"`
	Path       string `mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"`
}

// Load loads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "themepkg"))
	}
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("THEMEPKG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Paths.DataDir = expandPath(cfg.Paths.DataDir)
	cfg.Paths.PackagesDir = expandPath(cfg.Paths.PackagesDir)
	cfg.Paths.BackupsDir = expandPath(cfg.Paths.BackupsDir)
	cfg.Paths.TempDir = expandPath(cfg.Paths.TempDir)
	cfg.Paths.DBFile = expandPath(cfg.Paths.DBFile)
	cfg.Paths.LogFile = expandPath(cfg.Paths.LogFile)
	cfg.Update.Source.Path = expandPath(cfg.Update.Source.Path)

	return &cfg, nil
}

// Default returns a configuration populated only from defaults
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		homeDir = "."
	}
	dataDir := filepath.Join(homeDir, ".local", "share", "themepkg")

	v.SetDefault("paths.data_dir", dataDir)
	v.SetDefault("paths.packages_dir", filepath.Join(dataDir, "themes"))
	v.SetDefault("paths.backups_dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("paths.temp_dir", filepath.Join(dataDir, "tmp"))
	v.SetDefault("paths.db_file", filepath.Join(dataDir, "themepkg.db"))
	v.SetDefault("paths.log_file", filepath.Join(dataDir, "themepkg.log"))

	v.SetDefault("platform.name", "storefront")
	v.SetDefault("platform.version", "3.4.0")
	v.SetDefault("platform.provided", DefaultProvidedPackages())

	v.SetDefault("dependencies.allowed", DefaultAllowedPackages())
	v.SetDefault("dependencies.blocked", DefaultBlockedPackages())

	v.SetDefault("backup.retention", 10)

	v.SetDefault("update.source.type", "local")
	v.SetDefault("update.timeout_seconds", 30)
	v.SetDefault("update.auto_migrate", true)
	v.SetDefault("update.create_backup", true)
	v.SetDefault("update.migration_failure", "rollback")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.color", "auto")
}

// DefaultProvidedPackages lists the packages the host ships to every theme
func DefaultProvidedPackages() map[string]string {
	return map[string]string{
		"react":            "18.2.0",
		"react-dom":        "18.2.0",
		"@storefront/core": "3.4.0",
		"@storefront/ui":   "3.4.0",
		"clsx":             "2.0.0",
	}
}

// DefaultAllowedPackages lists package name patterns themes may depend on
func DefaultAllowedPackages() []string {
	return []string{
		"react",
		"react-dom",
		"@storefront/*",
		"clsx",
		"date-fns",
		"lodash",
		"lodash-es",
		"swiper",
	}
}

// DefaultBlockedPackages lists host-only modules a theme may never require
func DefaultBlockedPackages() []string {
	return []string{
		"fs",
		"child_process",
		"process",
		"os",
		"net",
		"cluster",
		"vm",
		"worker_threads",
	}
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}
