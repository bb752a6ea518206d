package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawrouter/internal/config"
)

func configCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate config.json",
	}
	root.AddCommand(configValidateCmd())
	return root
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load config.json and report any problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config validate: %w", err)
			}

			var problems []string
			if cfg.Agent.Name == "" {
				problems = append(problems, "agent.name is empty")
			}
			if cfg.Agent.Provider == "" {
				problems = append(problems, "agent.provider is empty")
			}
			if !cfg.Channels.CLI.Enabled && !cfg.Channels.Feishu.Enabled &&
				!cfg.Channels.Discord.Enabled && !cfg.Channels.Telegram.Enabled {
				problems = append(problems, "no channel is enabled")
			}
			if cfg.Channels.Feishu.Enabled && (cfg.Channels.Feishu.AppID == "" || cfg.Channels.Feishu.AppSecret == "") {
				problems = append(problems, "channels.feishu is enabled but app_id/app_secret are missing")
			}
			if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
				problems = append(problems, "channels.discord is enabled but its token is missing")
			}
			if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
				problems = append(problems, "channels.telegram is enabled but its token is missing")
			}
			if cfg.Database.Mode == "managed" && cfg.Database.PostgresDSN == "" {
				problems = append(problems, "database.mode is \"managed\" but GOCLAW_POSTGRES_DSN is unset")
			}

			fmt.Printf("config: %s\n", path)
			fmt.Printf("  agent:    %s (%s/%s)\n", cfg.Agent.Name, cfg.Agent.Provider, cfg.Agent.Model)
			fmt.Printf("  gateway:  home=%s max_iterations=%d\n", cfg.Gateway.Home, cfg.Gateway.MaxIterations)
			fmt.Printf("  database: mode=%s\n", orDefault(cfg.Database.Mode, "file"))

			if len(problems) == 0 {
				fmt.Println("OK: no problems found")
				return nil
			}
			fmt.Println("problems:")
			for _, p := range problems {
				fmt.Printf("  - %s\n", p)
			}
			return fmt.Errorf("config validate: %d problem(s) found", len(problems))
		},
	}
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
