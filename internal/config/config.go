// Package config handles configuration loading and management for Hive.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Hive.
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	Mission   MissionConfig   `mapstructure:"mission"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// ProvidersConfig holds API settings for every model provider.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    CompatConfig    `mapstructure:"openai"`
	Gemini    CompatConfig    `mapstructure:"gemini"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	FastModel     string `mapstructure:"fast_model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// CompatConfig holds settings for an OpenAI-compatible provider.
type CompatConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// MissionConfig holds mission orchestration settings.
type MissionConfig struct {
	// BackendTimeouts bounds each external execution backend invocation.
	BackendTimeouts map[string]time.Duration `mapstructure:"backend_timeouts"`
}

// ChatConfig holds chat routing rate limits.
type ChatConfig struct {
	// BotBurst is how many bot-to-bot replies fit in one window per channel.
	BotBurst int `mapstructure:"bot_burst"`
	// BotWindow is the bot-to-bot rate-limit window.
	BotWindow time.Duration `mapstructure:"bot_window"`
}

// WorkspaceConfig holds filesystem settings.
type WorkspaceConfig struct {
	// WorkDir is where workers read and write deliverables.
	WorkDir string `mapstructure:"work_dir"`
	// SignalsDir is watched for stop/pause signal files.
	SignalsDir string `mapstructure:"signals_dir"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY)
// 2. Project config (.hive.yaml in current directory or parent)
// 3. User config (~/.config/hive/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("providers.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Providers.Anthropic.APIKey = os.ExpandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = os.ExpandEnv(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.Gemini.APIKey = os.ExpandEnv(cfg.Providers.Gemini.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Providers.Anthropic.APIKey = os.ExpandEnv(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = os.ExpandEnv(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.Gemini.APIKey = os.ExpandEnv(cfg.Providers.Gemini.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("providers.anthropic.fast_model", "claude-3-5-haiku-20241022")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.model", "gpt-4o")
	v.SetDefault("providers.gemini.api_key", "")
	v.SetDefault("providers.gemini.model", "gemini-2.0-flash")

	v.SetDefault("mission.backend_timeouts.chatgpt", "120s")
	v.SetDefault("mission.backend_timeouts.gemini-cli", "90s")

	v.SetDefault("chat.bot_burst", 5)
	v.SetDefault("chat.bot_window", "30s")

	v.SetDefault("workspace.work_dir", ".")
	v.SetDefault("workspace.signals_dir", ".hive/signals")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Anthropic: AnthropicConfig{
				Model:     "claude-sonnet-4-5-20250929",
				FastModel: "claude-3-5-haiku-20241022",
			},
			OpenAI: CompatConfig{Model: "gpt-4o"},
			Gemini: CompatConfig{Model: "gemini-2.0-flash"},
		},
		Mission: MissionConfig{
			BackendTimeouts: map[string]time.Duration{
				"chatgpt":    120 * time.Second,
				"gemini-cli": 90 * time.Second,
			},
		},
		Chat: ChatConfig{
			BotBurst:  5,
			BotWindow: 30 * time.Second,
		},
		Workspace: WorkspaceConfig{
			WorkDir:    ".",
			SignalsDir: filepath.Join(".hive", "signals"),
		},
		TUI: TUIConfig{RefreshRate: 100 * time.Millisecond},
	}
}

// getUserConfigDir returns the XDG config directory for Hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hive.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
