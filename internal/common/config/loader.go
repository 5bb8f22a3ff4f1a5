package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root, so
// both the server binary and package tests pick up the same secrets.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// overrideFromEnv applies the documented environment variables on top of
// whatever the yaml provided.
func overrideFromEnv(cfg *Config) {
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		cfg.OpenAI.APIKey = val
	}
	if val := os.Getenv("INSTITUTION_KEY"); val != "" {
		cfg.Search.InstitutionKey = val
	}
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "gbif-nl-search"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "o4-mini-2025-04-16"
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 60000
	}
	if cfg.OpenAI.MaxRetries == 0 {
		cfg.OpenAI.MaxRetries = 3
	}

	if cfg.GBIF.BaseURL == "" {
		cfg.GBIF.BaseURL = "https://api.gbif.org/v1"
	}
	if cfg.GBIF.Timeout == 0 {
		cfg.GBIF.Timeout = 15000
	}
	if cfg.GBIF.MaxRetries == 0 {
		cfg.GBIF.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key (OPENAI_API_KEY) is required")
	}
	if cfg.OpenAI.BaseURL == "" {
		return fmt.Errorf("openai.base_url is required")
	}
	if cfg.GBIF.BaseURL == "" {
		return fmt.Errorf("gbif.base_url is required")
	}
	return nil
}
