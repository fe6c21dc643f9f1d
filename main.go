package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"go.uber.org/zap"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/config"
	"discord-guard-bot/internal/supervisor"
	"discord-guard-bot/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	workerName := flag.String("worker", "", "run as the named worker (set by the supervisor)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if *workerName != "" {
		err = runWorker(ctx, *workerName)
	} else {
		err = runSupervisor(ctx, *configPath)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSupervisor(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := bot.NewLogger(cfg.Log, "supervisor")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	logger.Info("supervisor starting", zap.String("config", path), zap.Int("workers", len(cfg.EnabledWorkers())))
	return supervisor.New(cfg, supervisor.ExecStarter(exe), logger).Run(ctx)
}

func runWorker(ctx context.Context, name string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.Worker != name {
		return fmt.Errorf("bootstrap blob is for worker %q, not %q", cfg.Worker, name)
	}

	// Trade memory for fewer GC pauses on the event path
	debug.SetGCPercent(200)

	return worker.Run(ctx, cfg)
}
