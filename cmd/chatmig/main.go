package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nicklamont/slack-chat-migrator/internal/api"
	"github.com/nicklamont/slack-chat-migrator/internal/chat"
	"github.com/nicklamont/slack-chat-migrator/internal/config"
	"github.com/nicklamont/slack-chat-migrator/internal/events"
	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/identity"
	"github.com/nicklamont/slack-chat-migrator/internal/membership"
	"github.com/nicklamont/slack-chat-migrator/internal/migrate"
	"github.com/nicklamont/slack-chat-migrator/internal/replay"
	"github.com/nicklamont/slack-chat-migrator/internal/report"
	"github.com/nicklamont/slack-chat-migrator/internal/retryhttp"
	"github.com/nicklamont/slack-chat-migrator/internal/state"
	"github.com/nicklamont/slack-chat-migrator/internal/threshold"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to TOML config file")
	exportDir := flag.String("export", "", "path to the export directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *exportDir != "" {
		cfg.ExportDir = *exportDir
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("chatmig starting", "export_dir", cfg.ExportDir, "update_mode", cfg.UpdateMode)

	// Export archive
	archive := export.Open(cfg.ExportDir)
	users, err := archive.Users()
	if err != nil {
		slog.Error("failed to read export users", "error", err)
		return 1
	}
	slog.Info("export loaded", "users", len(users))

	// Checkpoint store
	backend, err := state.OpenBackend(ctx, cfg.StateDSN)
	if err != nil {
		slog.Error("failed to open state backend", "dsn", cfg.StateDSN, "error", err)
		return 1
	}
	store, err := state.Open(backend, slog.Default())
	if err != nil {
		slog.Error("failed to load checkpoint", "error", err)
		return 1
	}
	defer store.Close()

	// Identity resolution
	resolver := identity.NewResolver(users, cfg.Users.Overrides, cfg.Domain, cfg.Users.IgnoreBots)

	// Chat client with retry
	caller := retryhttp.NewCaller(retryhttp.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.BaseDelay(),
		MaxDelay:   cfg.MaxDelay(),
	}, slog.Default())
	client := chat.NewClient(cfg.Token, caller, slog.Default())
	if cfg.APIBase != "" {
		client.SetBaseURL(cfg.APIBase)
	}
	if err := client.CheckAccess(ctx); err != nil {
		slog.Error("chat API access check failed", "error", err)
		return 1
	}

	// Pipeline
	monitor := threshold.NewMonitor(cfg.Failures.MaxFailurePercentage)
	calc := membership.NewCalculator(resolver, slog.Default())
	sequencer := replay.NewSequencer(client, store, resolver, monitor, cfg.SendDelay(), slog.Default())
	controller := migrate.NewController(client, sequencer, calc, resolver, store, migrate.Options{
		UpdateMode:         cfg.UpdateMode,
		CompletionStrategy: migrate.CompletionStrategy(cfg.Failures.CompletionStrategy),
		CleanupOnError:     cfg.Failures.CleanupOnError,
		AbortOnError:       cfg.Failures.AbortOnError,
	}, slog.Default())

	progress := migrate.NewProgress(store.RunID(), 0)
	caller.SetContextFunc(progress.CurrentChannel)

	// Event publishing (optional)
	var publisher migrate.Publisher
	if cfg.NatsURL != "" {
		pub, err := events.NewPublisher(cfg.NatsURL, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
			return 1
		}
		defer pub.Close()
		publisher = pub
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Status endpoint (optional)
	if cfg.StatusPort > 0 {
		srv := api.NewServer(cfg.StatusPort, progress)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	runner := migrate.NewRunner(archive, controller, store, progress, publisher,
		cfg.Channels.Include, cfg.Channels.Exclude, slog.Default())

	res, runErr := runner.Run(ctx)

	// The report is printed even for interrupted runs; partial progress is
	// checkpointed and the next run resumes from it.
	fmt.Print(report.Format(res, monitor.Records()))

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		slog.Warn("run interrupted, progress checkpointed")
		return 130
	case runErr != nil:
		slog.Error("run failed", "error", runErr)
		return 1
	case res.Aborted || !res.Success:
		return 2
	default:
		slog.Info("migration complete", "channels", len(res.Channels))
		return 0
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
