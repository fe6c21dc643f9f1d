// Package worker runs one guard worker process: it wires the shared guard
// engine to a gateway session and registers the handlers of the worker.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/cache"
	"discord-guard-bot/internal/commands"
	"discord-guard-bot/internal/config"
	"discord-guard-bot/internal/database"
	"discord-guard-bot/internal/guard/attribution"
	"discord-guard-bot/internal/guard/emergency"
	"discord-guard-bot/internal/guard/gate"
	"discord-guard-bot/internal/guard/incident"
	"discord-guard-bot/internal/guard/massdelete"
	"discord-guard-bot/internal/guard/ratewindow"
	"discord-guard-bot/internal/guard/resolver"
	"discord-guard-bot/internal/metrics"
	"discord-guard-bot/internal/platform"
	"discord-guard-bot/internal/redis"
)

const (
	startupTimeout = 15 * time.Second
	gaugeInterval  = 15 * time.Second
)

// Worker is one of the guard processes
type Worker interface {
	// Options returns the gateway settings the worker needs
	Options() bot.Options
	// Attach registers handlers, commands and background tasks on rt
	Attach(rt *Runtime) error
}

// New returns the worker registered under name
func New(name string) (Worker, error) {
	switch name {
	case config.WorkerChannel:
		return &ChannelWorker{}, nil
	case config.WorkerBan:
		return &BanWorker{}, nil
	case config.WorkerURL:
		return &URLWorker{}, nil
	case config.WorkerEmoji:
		return &EmojiWorker{}, nil
	case config.WorkerModeration:
		return &ModerationWorker{}, nil
	case config.WorkerManage:
		return &ManageWorker{}, nil
	}
	return nil, fmt.Errorf("unknown worker %q", name)
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Runtime holds what the handlers of one worker process share
type Runtime struct {
	Name   string
	Config *config.Config
	Logger *zap.Logger

	DB        *database.Database
	Redis     *redis.Client // nil without Redis
	Profiles  *cache.ProfileCache
	Gate      *gate.Gate
	Session   *bot.Session
	Client    *platform.Discord
	Window    *ratewindow.Window
	Mass      *massdelete.Detector
	Emergency *emergency.Responder
	Incidents *incident.Log
	Notifier  *Notifier
	Resolver  *resolver.Resolver
	Router    *commands.Router

	ctx   context.Context
	tasks []task
}

// Context is the lifetime of the worker, for event handlers
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Go adds a background task that runs next to the session
func (rt *Runtime) Go(name string, fn func(ctx context.Context) error) {
	rt.tasks = append(rt.tasks, task{name: name, run: fn})
}

// Handle runs ev through the resolver
func (rt *Runtime) Handle(ev resolver.Event) resolver.Outcome {
	return rt.Resolver.Handle(rt.ctx, ev)
}

// Run starts the worker named in cfg and blocks until ctx is done or a
// component fails
func Run(ctx context.Context, cfg *config.Config) error {
	self, err := cfg.Self()
	if err != nil {
		return err
	}
	w, err := New(cfg.Worker)
	if err != nil {
		return err
	}

	logger, err := bot.NewLogger(cfg.Log, cfg.Worker)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := build(ctx, cfg, self, w.Options(), logger)
	if err != nil {
		logger.Error("worker startup failed", zap.Error(err))
		return err
	}
	defer rt.close()

	if err := w.Attach(rt); err != nil {
		return fmt.Errorf("attach %s worker: %w", cfg.Worker, err)
	}
	if cmds := rt.Router.Commands(); len(cmds) > 0 {
		rt.Session.SetCommands(cmds)
		rt.Session.AddHandler(rt.Router.OnInteraction(ctx))
	}

	return rt.run(ctx, self.MetricsAddr)
}

func build(ctx context.Context, cfg *config.Config, self config.WorkerConfig, opts bot.Options, logger *zap.Logger) (*Runtime, error) {
	g := cfg.Guard
	rt := &Runtime{
		Name:   cfg.Worker,
		Config: cfg,
		Logger: logger,
		Window: ratewindow.New(),
		Mass:   massdelete.New(g.MassDeleteThreshold),
		ctx:    ctx,
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	db, err := database.NewDatabase(startCtx, cfg.Postgres, logger.Named("database"))
	if err != nil {
		return nil, err
	}
	rt.DB = db

	if cfg.Redis.Enabled() {
		rdb, err := redis.New(startCtx, cfg.Redis, logger.Named("redis"))
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.Redis = rdb
	}

	session, err := bot.New(self.Token, opts, logger.Named("session"))
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.Session = session
	rt.Client = platform.NewDiscord(session.Session)

	owner := func(_ context.Context, guildID string) string {
		return rt.Gate.GuildOwner(guildID)
	}
	rt.Profiles, err = cache.New(db, rt.Redis, owner, cache.Config{TTL: g.ProfileTTL}, logger.Named("cache"))
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.Gate = gate.New(rt.Profiles, db, gate.Config{
		LookupTimeout: g.LookupTimeout,
		OwnerID:       cfg.OwnerID,
		TrustedIDs:    cfg.Trusted(),
	}, logger.Named("gate"))

	// a nil *redis.Client must not become a non-nil Locker
	var locker emergency.Locker
	if rt.Redis != nil {
		locker = rt.Redis
	}
	rt.Emergency, err = emergency.New(rt.Client, rt.Gate, locker, emergency.Config{
		JoinWindow:   g.JoinWindow,
		AuditLimit:   g.AuditLimit,
		AuditWindow:  g.AuditWindow,
		AllowPattern: g.AllowPattern,
		BanRate:      rate.Limit(g.BansPerSecond),
	}, logger.Named("emergency"))
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.Notifier = NewNotifier(rt.Client, rt.Profiles, logger.Named("notify"))
	rt.Incidents = incident.New(db, cfg.Worker, logger.Named("incident"))
	rt.Incidents.SetNotifier(rt.Notifier)

	rt.Resolver = resolver.New(resolver.Deps{
		Client:     rt.Client,
		Gate:       rt.Gate,
		Attributor: attribution.New(rt.Client, g.AttributionMaxAge, logger.Named("attribution")),
		Window:     rt.Window,
		Mass:       rt.Mass,
		Emergency:  rt.Emergency,
		Log:        rt.Incidents,
		Worker:     cfg.Worker,
	}, resolver.DefaultPolicies(resolver.Limits{
		Threshold:      g.Threshold,
		Window:         g.Window,
		FloodThreshold: g.FloodThreshold,
		FloodWindow:    g.FloodWindow,
	}), logger.Named("resolver"))

	var shared commands.KeySetter
	if rt.Redis != nil {
		shared = rt.Redis
	}
	rt.Router = commands.NewRouter(commands.NewCooldown(g.CommandCooldown, shared, logger.Named("cooldown")), 0, logger.Named("commands"))

	session.AddHandler(rt.onGuildCreate)
	return rt, nil
}

// onGuildCreate records the platform-reported owner of every guild
func (rt *Runtime) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	rt.Gate.SetGuildOwner(g.ID, g.OwnerID)
}

func (rt *Runtime) run(ctx context.Context, metricsAddr string) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return rt.Session.Run(gctx) })
	grp.Go(func() error { return metrics.Serve(gctx, metricsAddr) })
	grp.Go(func() error { return rt.Profiles.Watch(gctx) })
	grp.Go(func() error { return rt.Notifier.Run(gctx) })
	grp.Go(func() error {
		ticker := time.NewTicker(gaugeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.RateWindowKeys.Set(float64(rt.Window.GetStats().ActiveKeys))
			}
		}
	})
	for _, t := range rt.tasks {
		t := t
		grp.Go(func() error {
			if err := t.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			return nil
		})
	}

	rt.Logger.Info("worker started", zap.Int("tasks", len(rt.tasks)))
	err := grp.Wait()
	rt.Logger.Info("worker stopped", zap.Error(err))
	return err
}

func (rt *Runtime) close() {
	if rt.Profiles != nil {
		rt.Profiles.Close()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if rt.DB != nil {
		if err := rt.DB.Close(); err != nil {
			rt.Logger.Warn("database close failed", zap.Error(err))
		}
	}
}
