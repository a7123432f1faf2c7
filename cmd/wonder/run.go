package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/wonder/internal/bot"
	cmdpkg "github.com/stupiduntilnot/wonder/internal/commander"
	"github.com/stupiduntilnot/wonder/internal/config"
	ctxpkg "github.com/stupiduntilnot/wonder/internal/context"
	"github.com/stupiduntilnot/wonder/internal/control"
	"github.com/stupiduntilnot/wonder/internal/db"
	"github.com/stupiduntilnot/wonder/internal/dummy"
	"github.com/stupiduntilnot/wonder/internal/httpapi"
	modelpkg "github.com/stupiduntilnot/wonder/internal/model"
	"github.com/stupiduntilnot/wonder/internal/observability"
	"github.com/stupiduntilnot/wonder/internal/openai"
	"github.com/stupiduntilnot/wonder/internal/telegram"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram and answer messages until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			level, err := config.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringP("config", "c", envOrDefault("WONDER_CONFIG", ""), "Path to YAML configuration file")
	return cmd
}

// run wires the bot from cfg and blocks until ctx is cancelled and in-flight
// updates have been answered.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	events := db.NewRecorder(database, logger)

	processEventID := events.Log(0, db.EventProcessStarted, map[string]any{
		"pid":       os.Getpid(),
		"version":   version,
		"provider":  cfg.ModelProvider,
		"commander": cfg.Commander,
		"model":     cfg.OpenAIModel,
	})

	commander, err := newCommander(cfg)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}
	provider, transcriber, err := newModelBackends(cfg)
	if err != nil {
		return fmt.Errorf("init model provider: %w", err)
	}

	policy := control.Policy{
		CompletionTimeout:    time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
		TranscriptionTimeout: time.Duration(cfg.TranscriptionTimeoutSeconds) * time.Second,
		MaxConcurrent:        cfg.MaxConcurrent,
	}
	store := ctxpkg.NewStore(ctxpkg.MaxHistory)
	metrics := observability.NewMetrics("wonder")
	circuit := control.NewCircuitBreaker(5, 30*time.Second)

	dispatcher := bot.NewDispatcher(bot.Deps{
		Store:         store,
		Assembler:     ctxpkg.NewTimeAwareAssembler(),
		Provider:      provider,
		Transcriber:   transcriber,
		Commander:     commander,
		Events:        events,
		Metrics:       metrics,
		Logger:        logger,
		SystemPrompt:  cfg.SystemPrompt,
		Policy:        policy,
		TempDir:       cfg.TempDir,
		ParentEventID: processEventID,
	})

	offset, err := startOffset(ctx, database, commander, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("wonder started",
		"commander", cfg.Commander,
		"provider", cfg.ModelProvider,
		"model", cfg.OpenAIModel,
		"offset", offset,
		"max_concurrent", policy.MaxConcurrent,
	)

	runner := &bot.Runner{
		Commander:     commander,
		Handler:       dispatcher,
		Circuit:       circuit,
		Events:        events,
		Logger:        logger,
		PollTimeout:   cfg.Timeout,
		Sleep:         time.Duration(cfg.SleepSeconds) * time.Second,
		MaxConcurrent: policy.MaxConcurrent,
		Offset:        offset,
		ParentEventID: processEventID,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if cfg.HTTPAddr != "" {
		server := httpapi.New(metrics, circuit, store, logger)
		g.Go(func() error { return server.ListenAndServe(gctx, cfg.HTTPAddr) })
	}
	err = g.Wait()

	events.Log(processEventID, db.EventProcessStopped, map[string]any{"pid": os.Getpid()})
	logger.Info("wonder stopped")
	return err
}

// startOffset resumes after the last recorded update. On a fresh database it
// optionally skips updates that queued up while the bot was down. A scripted
// commander has no backlog, and polling it would consume a script action.
func startOffset(ctx context.Context, database *sql.DB, commander cmdpkg.Commander, cfg config.Config, logger *slog.Logger) (int64, error) {
	offset, err := db.DeriveOffset(database)
	if err != nil {
		return 0, fmt.Errorf("derive offset: %w", err)
	}
	if offset > 0 || !cfg.DropPending || cfg.Commander == config.CommanderDummy {
		return offset, nil
	}
	offset, err = bot.BootstrapOffset(ctx, commander, cfg.PendingWindowSeconds, time.Now())
	if err != nil {
		logger.Warn("pending update bootstrap failed, starting from 0", "error", err)
		return 0, nil
	}
	return offset, nil
}

func newCommander(cfg config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case config.CommanderTelegram:
		return telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramFileBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case config.CommanderDummy:
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummyCommanderSendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelBackends(cfg config.Config) (modelpkg.Provider, modelpkg.Transcriber, error) {
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		// Per-call deadlines come from the policy; the client timeout only
		// backstops a stuck connection.
		timeout := max(cfg.CompletionTimeoutSeconds, cfg.TranscriptionTimeoutSeconds) + 10
		client := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAITranscriptionModel,
			time.Duration(timeout)*time.Second)
		return client, client, nil
	case config.ProviderDummy:
		provider, err := dummy.NewProvider(cfg.OpenAIModel, cfg.DummyProviderScript)
		if err != nil {
			return nil, nil, err
		}
		transcriber, err := dummy.NewTranscriber(cfg.DummyTranscriberScript)
		if err != nil {
			return nil, nil, err
		}
		return provider, transcriber, nil
	default:
		return nil, nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
