package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"discord-guard-bot/internal/metrics"
)

const retentionInterval = 24 * time.Hour

// SweepStore is the maintenance surface of the database
type SweepStore interface {
	ExpireWhitelist(ctx context.Context, now time.Time) (int64, error)
	PurgeIncidents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper expires temporary whitelist entries and drops old non-critical
// incident records
type Sweeper struct {
	store     SweepStore
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// ExpireOnce marks every lapsed temporary entry expired
func (s *Sweeper) ExpireOnce(ctx context.Context) {
	n, err := s.store.ExpireWhitelist(ctx, s.now())
	if err != nil {
		s.logger.Warn("whitelist expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.SweepRemoved.WithLabelValues("whitelist_expiry").Add(float64(n))
		s.logger.Info("expired whitelist entries", zap.Int64("count", n))
	}
}

// PurgeOnce deletes non-critical records older than the retention period
func (s *Sweeper) PurgeOnce(ctx context.Context) {
	n, err := s.store.PurgeIncidents(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.logger.Warn("incident retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.SweepRemoved.WithLabelValues("incident_retention").Add(float64(n))
		s.logger.Info("purged incident records", zap.Int64("count", n))
	}
}

func (s *Sweeper) RunExpiry(ctx context.Context) error {
	return every(ctx, s.interval, s.ExpireOnce)
}

func (s *Sweeper) RunRetention(ctx context.Context) error {
	return every(ctx, retentionInterval, s.PurgeOnce)
}

// every runs fn now and then on each tick until ctx is done
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
