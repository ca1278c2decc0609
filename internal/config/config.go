package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	GitHub        GitHubConfig        `toml:"github"`
	Retry         RetryConfig         `toml:"retry"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedules     []ScheduleConfig    `toml:"schedules"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkDir      string `toml:"work_dir"`
	DatabasePath string `toml:"database_path"`
	Workers      int    `toml:"workers"`
	PollSeconds  int    `toml:"poll_seconds"`
}

// GitHubConfig holds source-host settings
type GitHubConfig struct {
	Organization  string `toml:"organization"`
	GitName       string `toml:"git_name"`
	GitEmail      string `toml:"git_email"`
	TrackingLabel string `toml:"tracking_label"`
}

// RetryConfig holds the bounded-attempt retry policy settings
type RetryConfig struct {
	MaxAttempts     int     `toml:"max_attempts"`
	InitialInterval float64 `toml:"initial_interval_seconds"`
	MaxInterval     float64 `toml:"max_interval_seconds"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig describes a cron-driven task definition submission
type ScheduleConfig struct {
	Name           string `toml:"name"`
	Cron           string `toml:"cron"`
	TaskDefinition string `toml:"task_definition"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkDir:      filepath.Join(home, ".patchstorm", "workspaces"),
			DatabasePath: filepath.Join(home, ".patchstorm", "patchstorm.db"),
			Workers:      4,
			PollSeconds:  2,
		},
		GitHub: GitHubConfig{
			GitName:       "patchstorm",
			GitEmail:      "patchstorm@localhost",
			TrackingLabel: "patchstorm",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2,
			MaxInterval:     60,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.WorkDir = ExpandPath(cfg.General.WorkDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	for i := range cfg.Schedules {
		cfg.Schedules[i].TaskDefinition = ExpandPath(cfg.Schedules[i].TaskDefinition)
	}

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "patchstorm", "config.toml")
}
