// Package config loads lectern's configuration from file and
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/lectern/lectern/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Account AccountConfig `mapstructure:"account"`
	Storage StorageConfig `mapstructure:"storage"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AccountConfig describes the configured catalog account
type AccountConfig struct {
	ID           string `mapstructure:"id"`
	ProviderName string `mapstructure:"provider_name"`
	SupportsAuth bool   `mapstructure:"supports_auth"`
	RequiresDRM  bool   `mapstructure:"requires_drm"`
	CatalogURI   string `mapstructure:"catalog_uri"`
	LoansURI     string `mapstructure:"loans_uri"`
	LoginURI     string `mapstructure:"login_uri"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`     // bolt databases
	DownloadDir string `mapstructure:"download_dir"` // downloaded artifacts
	BundledDir  string `mapstructure:"bundled_dir"`  // app-shipped content
}

// TasksConfig holds worker pool settings
type TasksConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// Provider converts the account configuration into the domain provider
// description.
func (a AccountConfig) Provider() domain.Provider {
	return domain.Provider{
		Name:         a.ProviderName,
		SupportsAuth: a.SupportsAuth,
		RequiresDRM:  a.RequiresDRM,
		CatalogURI:   a.CatalogURI,
		LoansURI:     a.LoansURI,
		LoginURI:     a.LoginURI,
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			ID:           "default",
			ProviderName: "default",
		},
		Storage: StorageConfig{
			DataDir:     filepath.Join(defaultDataPath(), "books"),
			DownloadDir: filepath.Join(defaultDataPath(), "downloads"),
			BundledDir:  filepath.Join(defaultDataPath(), "bundled"),
		},
		Tasks: TasksConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "lectern.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "lectern")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "lectern")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "lectern")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "lectern")
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("LECTERN")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}
