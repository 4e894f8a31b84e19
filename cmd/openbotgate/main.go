// Package main runs OpenBotGate with a console gateway: every stdin line is
// one chat message from a single local user and replies go to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/bridge"
	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
	"github.com/dachongbaba/openbotgate/internal/common/tracing"
	"github.com/dachongbaba/openbotgate/internal/events"
	"github.com/dachongbaba/openbotgate/internal/events/bus"
	"github.com/dachongbaba/openbotgate/internal/runtime/executor"
	"github.com/dachongbaba/openbotgate/internal/runtime/session"
	"github.com/dachongbaba/openbotgate/internal/runtime/task"
	"github.com/dachongbaba/openbotgate/internal/runtime/tools"
)

const consoleUser = "console"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger. Stdout belongs to replies.
	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}
	if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
		logCfg.OutputPath = "stderr"
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("OpenBotGate stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting OpenBotGate...",
		zap.String("version", version),
		zap.Strings("allowed_code_tools", cfg.AllowedCodeTools),
		zap.Strings("allowed_shell_commands", cfg.AllowedShellCommands))

	// 3. Create context cancelled by SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing.Init(ctx, cfg.Tracing, version, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	// 4. Event bus (in-memory, or NATS if configured)
	eventBus, closeBus := events.Provide(cfg, log)
	defer closeBus()
	sub, err := eventBus.Subscribe(events.TaskWildcard, func(_ context.Context, e *bus.Event) error {
		log.Debug("Task event",
			zap.String("subject", e.Subject),
			zap.Any("data", e.Data))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to task events: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// 5. Runtime: executor, tool registry, tasks, sessions
	exec := executor.New(cfg.Execution, log)
	registry := tools.NewRegistry(cfg, exec, log)

	tasks := task.NewManager(cfg.Tasks, registry, eventBus, log)
	tasks.Start(ctx)
	defer tasks.Stop()

	sessions, err := session.NewManager(cfg.Sessions, registry.DefaultTool(), log)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			log.Warn("Failed to save sessions", zap.Error(err))
		}
	}()

	b := bridge.New(cfg, registry, tasks, sessions, log)

	// 6. Console gateway
	console := newConsole(b, cfg, os.Stdout)
	log.Info("OpenBotGate ready", zap.String("default_tool", registry.DefaultTool()))
	serveErr := console.Serve(ctx, os.Stdin)

	log.Info("Shutting down OpenBotGate...")
	if ctx.Err() != nil {
		// Interrupted: cancel background tasks before waiting on them.
		tasks.Stop()
	}
	b.Wait()

	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}
