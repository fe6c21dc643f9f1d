package relay

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"discord-guard-bot/internal/metrics"
)

const DefaultPollInterval = 2 * time.Second

// Handler executes a fresh command. It must be idempotent.
type Handler func(ctx context.Context, c Command) error

type PollerConfig struct {
	Path      string
	Interval  time.Duration
	Freshness time.Duration
}

// Poller checks the relay file on a fixed interval and, when the directory
// can be watched, as soon as the file is written
type Poller struct {
	cfg     PollerConfig
	handler Handler
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	last Command // last command the handler accepted
}

func NewPoller(cfg PollerConfig, handler Handler, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = GuardFreshness
	}
	return &Poller{cfg: cfg, handler: handler, logger: logger, now: time.Now}
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(p.cfg.Path)); err != nil {
			p.logger.Debug("relay directory not watchable, polling only", zap.Error(err))
		} else {
			events = watcher.Events
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.cfg.Path) || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
		}
		if err := p.Poll(ctx); err != nil && !errors.Is(err, ErrStale) {
			p.logger.Debug("relay poll failed", zap.Error(err))
		}
	}
}

// Poll reads the file once. A missing file and an already handled command
// are not errors; a stale command is ErrStale.
func (p *Poller) Poll(ctx context.Context) error {
	c, err := Read(p.cfg.Path)
	if err != nil {
		metrics.RelayCommands.WithLabelValues("invalid").Inc()
		return err
	}
	if c == nil {
		return nil
	}
	if err := c.Validate(); err != nil {
		metrics.RelayCommands.WithLabelValues("invalid").Inc()
		return err
	}
	if !c.Fresh(p.now(), p.cfg.Freshness) {
		metrics.RelayCommands.WithLabelValues("stale").Inc()
		return ErrStale
	}

	p.mu.Lock()
	if p.last == *c {
		p.mu.Unlock()
		metrics.RelayCommands.WithLabelValues("duplicate").Inc()
		return nil
	}
	p.last = *c
	p.mu.Unlock()

	if err := p.handler(ctx, *c); err != nil {
		p.mu.Lock()
		p.last = Command{}
		p.mu.Unlock()
		metrics.RelayCommands.WithLabelValues("failed").Inc()
		p.logger.Warn("relay command failed",
			zap.String("action", c.Action), zap.String("guild_id", c.GuildID), zap.Error(err))
		return err
	}
	metrics.RelayCommands.WithLabelValues("executed").Inc()
	p.logger.Info("relay command executed",
		zap.String("action", c.Action), zap.String("guild_id", c.GuildID), zap.String("channel_id", c.ChannelID))
	return nil
}
