// Package supervisor runs one child process per enabled worker and restarts
// the ones that exit.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discord-guard-bot/internal/config"
	"discord-guard-bot/internal/metrics"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	// a child that stayed up this long restarts without delay growth
	stableAfter = time.Minute
	stopGrace   = 10 * time.Second
)

// Starter launches a worker process and waits for it to exit
type Starter func(ctx context.Context, worker, blob string) error

type Supervisor struct {
	cfg    *config.Config
	start  Starter
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) bool
	now    func() time.Time
}

func New(cfg *config.Config, start Starter, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		start:  start,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Run keeps every enabled worker running until ctx is done
func (s *Supervisor) Run(ctx context.Context) error {
	names := s.cfg.EnabledWorkers()
	if len(names) == 0 {
		return errors.New("supervisor: no worker is enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		blob, err := config.EncodeBlob(s.cfg, name)
		if err != nil {
			return err
		}
		name := name
		g.Go(func() error {
			s.keep(ctx, name, blob)
			return nil
		})
	}
	s.logger.Info("workers started", zap.Strings("workers", names))
	return g.Wait()
}

func (s *Supervisor) keep(ctx context.Context, name, blob string) {
	log := s.logger.With(zap.String("worker", name))
	backoff := minBackoff
	for {
		started := s.now()
		err := s.start(ctx, name, blob)
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}

		uptime := s.now().Sub(started)
		if uptime >= stableAfter {
			backoff = minBackoff
		}
		log.Warn("worker exited, restarting",
			zap.Error(err), zap.Duration("uptime", uptime), zap.Duration("backoff", backoff))
		metrics.WorkerRestarts.WithLabelValues(name).Inc()

		if !s.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ExecStarter runs exe with "-worker <name>" and the blob in the environment.
// Cancelling ctx sends SIGTERM and kills the child after a grace period.
func ExecStarter(exe string) Starter {
	return func(ctx context.Context, worker, blob string) error {
		cmd := exec.CommandContext(ctx, exe, "-worker", worker)
		cmd.Env = append(os.Environ(), config.EnvVar+"="+blob)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = stopGrace

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("worker %s: %w", worker, err)
		}
		return nil
	}
}
