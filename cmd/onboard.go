package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawrouter/internal/channels"
	"github.com/nextlevelbuilder/clawrouter/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively build a config.json for a new agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// runOnboard walks a first-time operator through naming the agent,
// picking a provider, and enabling one channel, then writes config.json.
// Secrets (API keys, tokens) are collected here but never written to
// disk; one of them (the channel secret if given, else the provider API
// key) is printed to stdout as an `export NAME=value` line.
func runOnboard() error {
	cfg := config.Default()

	var (
		agentName   = "assistant"
		provider    = "anthropic"
		model       string
		channel     = "cli"
		apiKey      string
		feishuID    string
		feishuSec   string
		discordTok  string
		telegramTok string
	)

	basics := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Description("Used as the display name in multi-agent chats.").
				Value(&agentName),
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("Anthropic (Claude)", "anthropic"),
					huh.NewOption("OpenAI-compatible", "openai"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Description("Leave blank to use the provider's default.").
				Value(&model),
			huh.NewInput().
				Title("Provider API key").
				Password(true).
				Value(&apiKey),
		),
	)
	if err := basics.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	channelForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("First channel to enable").
				Options(
					huh.NewOption("CLI (stdin/stdout)", "cli"),
					huh.NewOption("Feishu/Lark", "feishu"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("Telegram", "telegram"),
				).
				Value(&channel),
		),
	)
	if err := channelForm.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	switch channel {
	case "feishu":
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Feishu App ID").Value(&feishuID),
			huh.NewInput().Title("Feishu App Secret").Password(true).Value(&feishuSec),
		)).Run(); err != nil {
			return fmt.Errorf("onboard: %w", err)
		}
	case "discord":
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Discord bot token").Password(true).Value(&discordTok),
		)).Run(); err != nil {
			return fmt.Errorf("onboard: %w", err)
		}
	case "telegram":
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Telegram bot token").Password(true).Value(&telegramTok),
		)).Run(); err != nil {
			return fmt.Errorf("onboard: %w", err)
		}
	}

	cfg.Agent.Name = agentName
	cfg.Agent.Provider = provider
	cfg.Agent.Model = model

	switch channel {
	case "cli":
		cfg.Channels.CLI.Enabled = true
	case "feishu":
		cfg.Channels.Feishu.Enabled = true
		cfg.Channels.Feishu.AppID = feishuID
		cfg.Channels.Feishu.DMPolicy = string(channels.DMPolicyOpen)
		cfg.Channels.Feishu.GroupPolicy = string(channels.GroupPolicyAllowlist)
		cfg.Channels.Feishu.RequireMention = true
	case "discord":
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.DMPolicy = string(channels.DMPolicyOpen)
		cfg.Channels.Discord.GroupPolicy = string(channels.GroupPolicyAllowlist)
		cfg.Channels.Discord.RequireMention = true
	case "telegram":
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.DMPolicy = string(channels.DMPolicyOpen)
		cfg.Channels.Telegram.GroupPolicy = string(channels.GroupPolicyAllowlist)
		cfg.Channels.Telegram.RequireMention = true
	}

	path := resolveConfigPath()
	if err := writeOnboardConfig(path, cfg); err != nil {
		return fmt.Errorf("onboard: write config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	if secretEnv, secretVal := onboardSecretEnv(provider, apiKey, channel, feishuSec, discordTok, telegramTok); secretEnv != "" {
		fmt.Printf("Secrets are not stored in config.json — export before running the gateway:\n")
		fmt.Printf("  export %s=%s\n", secretEnv, secretVal)
	}
	fmt.Println("Run `clawrouter gateway` to start.")
	return nil
}

// writeOnboardConfig saves a minimal config.json, omitting every field that
// carries a secret (those round-trip through environment variables only,
// per config.Config's json:"-" tags).
func writeOnboardConfig(path string, cfg *config.Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func onboardSecretEnv(provider, apiKey, channel, feishuSec, discordTok, telegramTok string) (string, string) {
	switch {
	case channel == "feishu" && feishuSec != "":
		return "GOCLAW_FEISHU_APP_SECRET", feishuSec
	case channel == "discord" && discordTok != "":
		return "GOCLAW_DISCORD_TOKEN", discordTok
	case channel == "telegram" && telegramTok != "":
		return "GOCLAW_TELEGRAM_TOKEN", telegramTok
	case provider == "anthropic" && apiKey != "":
		return "GOCLAW_ANTHROPIC_API_KEY", apiKey
	case provider == "openai" && apiKey != "":
		return "GOCLAW_OPENAI_API_KEY", apiKey
	default:
		return "", ""
	}
}
