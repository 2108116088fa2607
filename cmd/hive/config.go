package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivekit/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Display the configuration Hive would run with, after merging user
config, project overrides, and environment variables.

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		displayConfig(cfg)
	},
}

// displayConfig prints all configuration values with API keys masked.
func displayConfig(cfg *config.Config) {
	fmt.Printf("providers.anthropic.api_key: %s\n", maskKey(cfg.Providers.Anthropic.APIKey))
	fmt.Printf("providers.anthropic.model: %s\n", cfg.Providers.Anthropic.Model)
	fmt.Printf("providers.anthropic.fast_model: %s\n", cfg.Providers.Anthropic.FastModel)
	fmt.Printf("providers.anthropic.use_aws_bedrock: %t\n", cfg.Providers.Anthropic.UseAWSBedrock)
	fmt.Printf("providers.openai.api_key: %s\n", maskKey(cfg.Providers.OpenAI.APIKey))
	fmt.Printf("providers.openai.model: %s\n", cfg.Providers.OpenAI.Model)
	fmt.Printf("providers.gemini.api_key: %s\n", maskKey(cfg.Providers.Gemini.APIKey))
	fmt.Printf("providers.gemini.model: %s\n", cfg.Providers.Gemini.Model)
	for backend, timeout := range cfg.Mission.BackendTimeouts {
		fmt.Printf("mission.backend_timeouts.%s: %s\n", backend, timeout)
	}
	fmt.Printf("chat.bot_burst: %d\n", cfg.Chat.BotBurst)
	fmt.Printf("chat.bot_window: %s\n", cfg.Chat.BotWindow)
	fmt.Printf("workspace.work_dir: %s\n", cfg.Workspace.WorkDir)
	fmt.Printf("workspace.signals_dir: %s\n", cfg.Workspace.SignalsDir)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)

	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("\nproject overrides: %s\n", project)
	}
	fmt.Printf("user config: %s\n", config.GetUserConfigPath())
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return "****"
}
