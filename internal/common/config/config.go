package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	GBIF    GBIFConfig    `mapstructure:"gbif"`
	Search  SearchConfig  `mapstructure:"search"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Addr              string `mapstructure:"addr"`
	ReadHeaderTimeout int    `mapstructure:"read_header_timeout"` // milliseconds
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout"`    // milliseconds
}

// OpenAIConfig holds settings for the translation endpoint. APIKey is a
// secret sourced from OPENAI_API_KEY; it must never be logged.
type OpenAIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

// GBIFConfig holds settings for the occurrence and GRSciColl endpoints.
type GBIFConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

// SearchConfig holds search scoping settings. InstitutionKey, when set, is
// merged into every resolved parameter set regardless of query content.
type SearchConfig struct {
	InstitutionKey string `mapstructure:"institution_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
