package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawrouter/internal/adminws"
	"github.com/nextlevelbuilder/clawrouter/internal/agent"
	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/channels"
	"github.com/nextlevelbuilder/clawrouter/internal/channels/discord"
	"github.com/nextlevelbuilder/clawrouter/internal/channels/feishu"
	"github.com/nextlevelbuilder/clawrouter/internal/channels/telegram"
	"github.com/nextlevelbuilder/clawrouter/internal/config"
	"github.com/nextlevelbuilder/clawrouter/internal/cron"
	"github.com/nextlevelbuilder/clawrouter/internal/providers"
	"github.com/nextlevelbuilder/clawrouter/internal/relay"
	"github.com/nextlevelbuilder/clawrouter/internal/router"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
	"github.com/nextlevelbuilder/clawrouter/internal/store"
	"github.com/nextlevelbuilder/clawrouter/internal/tools"
	"github.com/nextlevelbuilder/clawrouter/internal/tracing"
	"github.com/nextlevelbuilder/clawrouter/internal/transcript"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent gateway: bus, router, agent loop, channels, cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("gateway: load config: %w", err)
	}

	paths := config.NewPaths(cfg.Gateway.Home)
	if err := paths.EnsureAgentDirs(cfg.Agent.Name); err != nil {
		return fmt.Errorf("gateway: prepare agent directories: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := providers.NewRegistry()
	if cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Agent.Model))
	}
	provider, err := registry.Get(cfg.Agent.Provider)
	if err != nil {
		return fmt.Errorf("gateway: resolve provider: %w", err)
	}

	tracer, err := tracing.New(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("gateway: init tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	b := bus.New(0)

	var sessions store.SessionStore
	var transcripts store.TranscriptStore
	if cfg.IsManagedMode() {
		migrationsDir := cfg.Database.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		pg, err := store.OpenPostgres(ctx, cfg.Database.PostgresDSN, migrationsDir)
		if err != nil {
			return fmt.Errorf("gateway: open postgres store: %w", err)
		}
		defer pg.Close()
		sessions, transcripts = pg, pg
		log.Info("gateway: using managed postgres store")
	} else {
		sessions = session.NewManager(paths.SessionsDir(cfg.Agent.Name), log)
		transcripts = transcript.NewStore(paths.TranscriptsDir())
	}

	rel := relay.New(paths.RelayDir())
	roster := config.NewGroupRoster(paths.GroupsPath(), log)
	defer roster.Close()

	chain := router.NewChain()
	groupFilter := router.NewGroupChatFilter(provider, cfg.Agent.Model, cfg.Agent.Workspace, roster)
	groupFilter.MaxBotReplyDepth = cfg.Gateway.MaxBotReplyDepth
	groupFilter.BotReplyLLMThreshold = cfg.Gateway.BotReplyLLMThreshold
	groupFilter.BotReplyLLMCheck = cfg.Gateway.BotReplyLLMCheck
	chain.Add(groupFilter)

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewMessageTool(b))
	spawnTool := tools.NewSpawnTool(b, nil)
	toolRegistry.Register(spawnTool)
	if cfg.Tools.ImageResize.MaxWidth > 0 {
		toolRegistry.Register(tools.NewImageResizeTool(cfg.Tools.ImageResize.MaxWidth, cfg.Tools.ImageResize.MaxHeight))
	}
	if cfg.Tools.MCP.ServerURL != "" {
		if bridge, err := tools.NewMCPBridgeTool(ctx, cfg.Tools.MCP.ServerURL); err != nil {
			log.Warn("gateway: mcp bridge unavailable", "err", err)
		} else {
			toolRegistry.Register(bridge)
		}
	}

	var cronTable *cron.Table
	if cfg.Tools.Cron.Enabled {
		cronTable = cron.NewTable(paths.CronDir(cfg.Agent.Name))
		toolRegistry.Register(tools.NewCronListTool(cronTable))
		toolRegistry.Register(tools.NewCronSetTool(cronTable))
		go cron.NewTrigger(cronTable, b, log).Run(ctx)
	}

	loop := agent.New(agent.Config{
		AgentName:     cfg.Agent.Name,
		BotOpenID:     cfg.Agent.BotOpenID,
		SystemPrompt:  defaultSystemPrompt(cfg.Agent.Name),
		Provider:      provider,
		Model:         cfg.Agent.Model,
		MaxIterations: cfg.Gateway.MaxIterations,
		Bus:           b,
		Sessions:      sessions,
		Transcripts:   transcripts,
		Relay:         rel,
		Router:        chain,
		Tools:         toolRegistry,
		Tracer:        tracer,
		Log:           log,
	})
	spawnTool.SetRunner(loop.RunSubagent)
	go loop.Run(ctx)

	subscriber := relay.NewSubscriber(rel, b, transcripts, roster, cfg.Agent.Name, func() string { return cfg.Agent.BotOpenID }, log)
	go subscriber.Run(ctx, nil)

	var started []channels.Channel
	if cfg.Channels.CLI.Enabled {
		cli := channels.NewCLIChannel(b, os.Stdin, os.Stdout, "local", log)
		if err := cli.Start(ctx); err != nil {
			return fmt.Errorf("gateway: start cli channel: %w", err)
		}
		started = append(started, cli)
	}
	if cfg.Channels.Feishu.Enabled {
		ch, err := feishu.New(feishu.Config{
			AppID: cfg.Channels.Feishu.AppID, AppSecret: cfg.Channels.Feishu.AppSecret, Domain: cfg.Channels.Feishu.Domain,
			DMPolicy: channels.DMPolicy(cfg.Channels.Feishu.DMPolicy), GroupPolicy: channels.GroupPolicy(cfg.Channels.Feishu.GroupPolicy),
			AllowFrom: cfg.Channels.Feishu.AllowFrom, RequireMention: cfg.Channels.Feishu.RequireMention,
		}, b, transcripts, log)
		if err != nil {
			log.Warn("gateway: feishu channel disabled", "err", err)
		} else if err := ch.Start(ctx); err != nil {
			log.Warn("gateway: feishu channel failed to start", "err", err)
		} else {
			started = append(started, ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(discord.Config{
			Token: cfg.Channels.Discord.Token,
			DMPolicy: channels.DMPolicy(cfg.Channels.Discord.DMPolicy), GroupPolicy: channels.GroupPolicy(cfg.Channels.Discord.GroupPolicy),
			AllowFrom: cfg.Channels.Discord.AllowFrom, RequireMention: cfg.Channels.Discord.RequireMention,
		}, b, transcripts, log)
		if err != nil {
			log.Warn("gateway: discord channel disabled", "err", err)
		} else if err := ch.Start(ctx); err != nil {
			log.Warn("gateway: discord channel failed to start", "err", err)
		} else {
			started = append(started, ch)
		}
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token: cfg.Channels.Telegram.Token,
			DMPolicy: channels.DMPolicy(cfg.Channels.Telegram.DMPolicy), GroupPolicy: channels.GroupPolicy(cfg.Channels.Telegram.GroupPolicy),
			AllowFrom: cfg.Channels.Telegram.AllowFrom, RequireMention: cfg.Channels.Telegram.RequireMention,
		}, b, transcripts, log)
		if err != nil {
			log.Warn("gateway: telegram channel disabled", "err", err)
		} else if err := ch.Start(ctx); err != nil {
			log.Warn("gateway: telegram channel failed to start", "err", err)
		} else {
			started = append(started, ch)
		}
	}

	if cfg.Telemetry.Endpoint != "" || verbose {
		adminSrv := adminws.New(b, log)
		httpSrv := &http.Server{Addr: ":8090", Handler: adminSrv}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("gateway: admin websocket server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = httpSrv.Close()
		}()
	}

	log.Info("gateway: running", "agent", cfg.Agent.Name, "channels", len(started))
	<-ctx.Done()
	log.Info("gateway: shutting down")
	for _, ch := range started {
		_ = ch.Stop()
	}
	return nil
}

func defaultSystemPrompt(agentName string) string {
	if agentName == "" {
		agentName = "assistant"
	}
	return fmt.Sprintf("You are %s, an agent taking part in a multi-agent chat. Be concise and helpful.", agentName)
}
