package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Config mirrors config.json: agent defaults, channel credentials,
// provider credentials, and the gateway-level routing/iteration
// tunables that feed the router and agent loop.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AgentConfig holds this process's agent identity.
type AgentConfig struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	BotOpenID   string `json:"bot_open_id"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Workspace   string `json:"workspace"`
}

// GatewayConfig holds the routing/iteration tunables consulted by C7/C8/C9.
type GatewayConfig struct {
	MaxBotReplyDepth     int    `json:"max_bot_reply_depth"`
	BotReplyLLMThreshold int    `json:"bot_reply_llm_threshold"`
	BotReplyLLMCheck     bool   `json:"bot_reply_llm_check"`
	MaxIterations        int    `json:"max_iterations"`
	PollIntervalMS       int    `json:"poll_interval_ms"`
	MaxMessageChars      int    `json:"max_message_chars"`
	Home                 string `json:"home"`
}

// ToolsConfig configures the built-in tool set.
type ToolsConfig struct {
	ImageResize ImageResizeConfig `json:"image_resize,omitempty"`
	MCP         MCPToolConfig     `json:"mcp,omitempty"`
	Cron        CronToolConfig    `json:"cron,omitempty"`
}

type ImageResizeConfig struct {
	MaxWidth  int `json:"max_width,omitempty"`
	MaxHeight int `json:"max_height,omitempty"`
}

type MCPToolConfig struct {
	ServerURL string `json:"server_url,omitempty"`
}

type CronToolConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Storage string `json:"storage"`
}

// DatabaseConfig selects the optional Postgres-backed store.
type DatabaseConfig struct {
	Mode          string `json:"mode,omitempty"` // "file" (default) or "managed"
	PostgresDSN   string `json:"-"`              // env GOCLAW_POSTGRES_DSN only
	MigrationsDir string `json:"migrations_dir,omitempty"`
}

// TelemetryConfig configures OTel export.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ChannelsConfig groups per-channel credentials.
type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli,omitempty"`
	Feishu   FeishuConfig   `json:"feishu,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

type FeishuConfig struct {
	Enabled        bool     `json:"enabled,omitempty"`
	AppID          string   `json:"app_id,omitempty"`
	AppSecret      string   `json:"-"` // env GOCLAW_FEISHU_APP_SECRET only
	Domain         string   `json:"domain,omitempty"`
	DMPolicy       string   `json:"dm_policy,omitempty"`
	GroupPolicy    string   `json:"group_policy,omitempty"`
	AllowFrom      []string `json:"allow_from,omitempty"`
	RequireMention bool     `json:"require_mention,omitempty"`
}

type DiscordConfig struct {
	Enabled        bool     `json:"enabled,omitempty"`
	Token          string   `json:"-"` // env GOCLAW_DISCORD_TOKEN only
	DMPolicy       string   `json:"dm_policy,omitempty"`
	GroupPolicy    string   `json:"group_policy,omitempty"`
	AllowFrom      []string `json:"allow_from,omitempty"`
	RequireMention bool     `json:"require_mention,omitempty"`
}

type TelegramConfig struct {
	Enabled        bool     `json:"enabled,omitempty"`
	Token          string   `json:"-"` // env GOCLAW_TELEGRAM_TOKEN only
	DMPolicy       string   `json:"dm_policy,omitempty"`
	GroupPolicy    string   `json:"group_policy,omitempty"`
	AllowFrom      []string `json:"allow_from,omitempty"`
	RequireMention bool     `json:"require_mention,omitempty"`
}

// ProvidersConfig groups per-provider credentials.
type ProvidersConfig struct {
	Anthropic ProviderCreds `json:"anthropic,omitempty"`
	OpenAI    ProviderCreds `json:"openai,omitempty"`
}

type ProviderCreds struct {
	APIKey  string `json:"-"` // secrets never round-trip through config.json
	APIBase string `json:"api_base,omitempty"`
}

// Default returns a Config with the documented §4.7 defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MaxBotReplyDepth:     8,
			BotReplyLLMThreshold: 3,
			BotReplyLLMCheck:     true,
			MaxIterations:        20,
			PollIntervalMS:       500,
			MaxMessageChars:      32000,
			Home:                 "~/.nanobot",
		},
		Sessions: SessionsConfig{Storage: "~/.nanobot/sessions"},
	}
}

// Load reads config.json (tolerant of trailing commas and // comments
// via json5) and overlays secrets from the environment, which are never
// persisted back to disk.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GOCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GOCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GOCLAW_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("GOCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("GOCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("GOCLAW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("GOCLAW_MODE", &c.Database.Mode)
	envStr("GOCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)

	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}
}

// IsManagedMode reports whether the Postgres-backed store should be used.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}
