package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cfieandres/cyphr-tableau/internal/adapter/gateway"
	"github.com/cfieandres/cyphr-tableau/internal/adapter/llm"
	"github.com/cfieandres/cyphr-tableau/internal/adapter/store"
	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
	"github.com/cfieandres/cyphr-tableau/internal/infra/logger"
	"github.com/cfieandres/cyphr-tableau/internal/infra/metrics"
	"github.com/cfieandres/cyphr-tableau/internal/infra/tracer"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/multiagent"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/scheduling"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. Logger & tracer
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// 2. Storage & agents
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. LLM providers
	providers, err := llm.BuildRegistry(ctx, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if len(providers.List()) == 0 {
		log.Warn("no llm provider has credentials; requests will fail until one is configured")
	}

	// 4. Sessions
	transcripts, purger, err := openTranscripts(ctx, a, cfg)
	if err != nil {
		return err
	}
	sessionOpts := []usecase.SessionStoreOption{
		usecase.WithMaxHistory(cfg.Sessions.MaxHistory),
		usecase.WithSessionTTL(cfg.Sessions.TTL),
	}
	if transcripts != nil {
		sessionOpts = append(sessionOpts, usecase.WithTranscriptStore(transcripts))
	}
	sessions := usecase.NewSessionStore(log, sessionOpts...)

	// 5. Dispatcher
	m := metrics.New()
	var logs domain.RequestLogStore
	if cfg.RequestLogs.Enabled {
		logs = a.store
	}
	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Registry: a.registry,
		Router:   multiagent.NewRouterWithLogger(a.registry, cfg.Routing.GeneralAgentIDs, log),
		Sessions: sessions,
		LLM:      providers,
		Logs:     logs,
		Metrics:  m,
		Tokens:   usecase.NewTokenCounter(cfg.RequestLogs.TokenEncoding),
		Logger:   log,
	}, usecase.DispatcherConfig{
		Timeout:        cfg.LLM.Timeout,
		MaxTokens:      cfg.LLM.MaxTokens,
		PromptLogLimit: cfg.RequestLogs.PromptLogLimit,
	})

	// 6. Gateway
	auth, err := gateway.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	if auth == nil {
		log.Warn("admin api is unauthenticated", "auth", cfg.Auth.Type)
	}
	srv := gateway.NewServer(cfg.Server, gateway.Deps{
		Dispatcher: dispatcher,
		Registry:   a.registry,
		Sessions:   sessions,
		Logs:       logs,
		Metrics:    m,
		Logger:     log,
		Version:    version,
	}, auth)

	// 7. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 8. Scheduler
	if cfg.Scheduler.Enabled {
		sched, err := newScheduler(cfg, sessions, a.store, purger, m, log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer sched.Stop()
	}

	log.Info("cyphr starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"agents", a.registry.Len(),
		"providers", providers.List(),
		"transcripts", cfg.Sessions.Transcripts,
		"request_logs", cfg.RequestLogs.Enabled,
		"auth", cfg.Auth.Type,
	)
	return srv.Start(ctx)
}

// openTranscripts returns the configured transcript store and, for
// backends that need it, the purger used by log retention. Redis
// transcripts expire on their own.
func openTranscripts(ctx context.Context, a *app, cfg *config.Config) (domain.TranscriptStore, scheduling.TranscriptPurger, error) {
	switch cfg.Sessions.Transcripts {
	case "sqlite":
		return a.store, a.store, nil
	case "redis":
		client, err := store.OpenRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("transcripts: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return store.NewRedisTranscriptStore(client, cfg.Storage.RedisKeyPrefix, cfg.Sessions.TTL,
			store.WithMaxEntries(cfg.Sessions.MaxHistory)), nil, nil
	default:
		return nil, nil, nil
	}
}

// newScheduler registers the maintenance actions and the configured tasks.
func newScheduler(cfg *config.Config, sessions *usecase.SessionStore, logs scheduling.LogPurger,
	transcripts scheduling.TranscriptPurger, m *metrics.Metrics, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log)
	sched.RegisterAction(scheduling.ActionSessionSweep,
		scheduling.SessionSweepAction(sessions, time.Now, m, log))

	keep := time.Duration(cfg.RequestLogs.RetentionDays) * 24 * time.Hour
	sched.RegisterAction(scheduling.ActionLogRetention,
		scheduling.LogRetentionAction(logs, transcripts, keep, time.Now, log))

	for _, t := range cfg.Scheduler.Tasks {
		action := scheduling.ScheduledAction(t.Action)
		if action == scheduling.ActionLogRetention && keep == 0 {
			log.Info("log retention disabled, task skipped", "task", t.Name)
			continue
		}
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   action,
			OneShot:  t.OneShot,
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
