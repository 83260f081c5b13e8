package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML with
// environment overrides for secrets.
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	OpenAI struct {
		APIKey            string `yaml:"api_key"`
		TranscribeModel   string `yaml:"transcribe_model"`
		AnalysisModel     string `yaml:"analysis_model"`
		TranscribeTimeout int    `yaml:"transcribe_timeout_seconds"`
		AnalysisTimeout   int    `yaml:"analysis_timeout_seconds"`
		RetryAttempts     int    `yaml:"retry_attempts"`
	} `yaml:"openai"`

	Pipeline struct {
		MaxConcurrent int      `yaml:"max_concurrent"`
		AutoExports   []string `yaml:"auto_exports"`
	} `yaml:"pipeline"`

	Storage struct {
		TempDir  string `yaml:"temp_dir"`
		Database string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Google struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"google"`

	Jira struct {
		URL        string `yaml:"url"`
		Email      string `yaml:"email"`
		APIToken   string `yaml:"api_token"`
		ProjectKey string `yaml:"project_key"`
	} `yaml:"jira"`

	Export struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"export"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads the YAML config file, applies environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Secrets prefer the environment over the file.
	cfg.OpenAI.APIKey = envOr("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.Jira.APIToken = envOr("JIRA_API_TOKEN", cfg.Jira.APIToken)
	cfg.Jira.Email = envOr("JIRA_EMAIL", cfg.Jira.Email)
	cfg.Jira.URL = envOr("JIRA_URL", cfg.Jira.URL)

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Pipeline.MaxConcurrent == 0 {
		c.Pipeline.MaxConcurrent = 4
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "voice2action.db"
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 6
	}
	if c.Export.TimeoutSeconds == 0 {
		c.Export.TimeoutSeconds = 60
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 25
	}
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
