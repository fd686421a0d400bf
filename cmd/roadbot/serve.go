package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/roadbotai/roadbot/internal/agent"
	"github.com/roadbotai/roadbot/internal/channel"
	"github.com/roadbotai/roadbot/internal/chat"
	"github.com/roadbotai/roadbot/internal/config"
	"github.com/roadbotai/roadbot/internal/dispatch"
	"github.com/roadbotai/roadbot/internal/faults"
	"github.com/roadbotai/roadbot/internal/handlers"
	"github.com/roadbotai/roadbot/internal/knowledge"
	"github.com/roadbotai/roadbot/internal/logger"
	"github.com/roadbotai/roadbot/internal/media"
	"github.com/roadbotai/roadbot/internal/monitoring"
	"github.com/roadbotai/roadbot/internal/server"
	"github.com/roadbotai/roadbot/internal/tools"
	"github.com/roadbotai/roadbot/internal/wecom"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			faults.NewReporter,
			monitoring.NewMonitor,
			provideChecker,
			provideSampler,
			provideCrypto,
			provideWecomClient,
			provideChatProvider,
			provideKnowledgeStore,
			provideGreenChannelList,
			provideMediaFetcher,
			provideToolRegistry,
			provideNormalizer,
			provideLoop,
			provideRunner,
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideMetricsHandler),
			provideServerHandler(handlers.NewPingHandler),
			provideServer,
		),
		fx.Invoke(
			startSampler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideChecker(log *slog.Logger, monitor *monitoring.Monitor) *monitoring.Checker {
	checker := monitoring.NewChecker(log)
	monitoring.RegisterDefaultChecks(checker, monitor)
	return checker
}

func provideSampler(log *slog.Logger, monitor *monitoring.Monitor) (*monitoring.Sampler, error) {
	return monitoring.NewSampler(log, monitor)
}

func provideCrypto(cfg config.Config) (*wecom.Crypto, error) {
	return wecom.NewCrypto(cfg.Wecom.Token, cfg.Wecom.EncodingAESKey, cfg.Wecom.CorpID)
}

func provideWecomClient(log *slog.Logger, cfg config.Config) *wecom.Client {
	return wecom.NewClient(log, cfg.Wecom.APIBase, cfg.Wecom.CorpID, cfg.Wecom.Secret, cfg.Wecom.AgentID)
}

func provideChatProvider(log *slog.Logger, cfg config.Config) *chat.Provider {
	return chat.NewProvider(log, cfg.LLM.APIBase, cfg.LLM.APIKey, cfg.LLM.Timeout)
}

func provideKnowledgeStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*knowledge.Store, error) {
	store, err := knowledge.NewStore(log, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.UseTLS, cfg.Qdrant.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrant init: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return store.Close() }})
	return store, nil
}

func provideGreenChannelList(cfg config.Config) (*tools.GreenChannelList, error) {
	list, err := tools.LoadGreenChannelList(cfg.GreenChannel.ListPath)
	if err != nil {
		return nil, fmt.Errorf("green channel list: %w", err)
	}
	return list, nil
}

func provideMediaFetcher() *media.Fetcher {
	return media.NewFetcher(20*time.Second, 0)
}

func provideToolRegistry(log *slog.Logger, cfg config.Config, provider *chat.Provider, store *knowledge.Store, fetcher *media.Fetcher, list *tools.GreenChannelList) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewKnowledgeTool(log, provider, store, cfg.LLM.EmbeddingModel))
	registry.Register(tools.NewVisionTool(log, fetcher, provider, cfg.LLM.VisionModel))
	registry.Register(tools.NewGreenChannelTool(log, list, provider, cfg.LLM.Model))
	return registry
}

func provideNormalizer(log *slog.Logger, client *wecom.Client) *channel.Normalizer {
	return channel.NewNormalizer(log, client)
}

func provideLoop(log *slog.Logger, cfg config.Config, provider *chat.Provider, registry *tools.Registry) *agent.Loop {
	return agent.NewLoop(log, provider, registry, cfg.LLM.Model, cfg.Dispatch.MaxIterations)
}

func provideRunner(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, client *wecom.Client, normalizer *channel.Normalizer, loop *agent.Loop, monitor *monitoring.Monitor, reporter *faults.Reporter) *dispatch.Runner {
	runner := dispatch.NewRunner(log, client, client, normalizer, loop, monitor, reporter, cfg.Dispatch.MaxConcurrentTasks)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return runner.Shutdown(ctx) }})
	return runner
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, crypto *wecom.Crypto, runner *dispatch.Runner) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, crypto, runner, cfg.Server.WebhookPath)
}

func provideHealthHandler(log *slog.Logger, checker *monitoring.Checker) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, checker)
}

func provideMetricsHandler(log *slog.Logger, monitor *monitoring.Monitor, checker *monitoring.Checker, reporter *faults.Reporter) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(log, monitor, checker, reporter)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers)
}

func startSampler(lc fx.Lifecycle, sampler *monitoring.Sampler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { sampler.Start(); return nil },
		OnStop:  func(ctx context.Context) error { sampler.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
