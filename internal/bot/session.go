// Package bot owns the gateway session of a worker process
package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/metrics"
)

type Options struct {
	Intents discordgo.Intent
	// MessageCache keeps recent messages in state so edits carry the
	// previous content. Zero disables state tracking.
	MessageCache int
	Commands     []*discordgo.ApplicationCommand
}

type Session struct {
	*discordgo.Session
	opts   Options
	logger *zap.Logger
}

func New(token string, opts Options, logger *zap.Logger) (*Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("session error: %w", err)
	}

	s.Identify.Intents = opts.Intents
	s.Identify.Compress = false
	s.Compress = false

	s.Client = &http.Client{
		Transport: &LatencyTransport{Base: newTransport()},
		Timeout:   15 * time.Second,
	}

	if opts.MessageCache > 0 {
		s.StateEnabled = true
		s.State.MaxMessageCount = opts.MessageCache
		s.State.TrackPresences = false
		s.State.TrackVoice = true
	} else {
		s.StateEnabled = false
	}

	s.ShouldReconnectOnError = true
	s.ShouldRetryOnRateLimit = true
	s.MaxRestRetries = 3

	b := &Session{Session: s, opts: opts, logger: logger}
	s.AddHandler(b.onReady)
	s.AddHandler(b.onGuildCreate)
	return b, nil
}

// UserID is the id of the logged in account, empty before Ready
func (b *Session) UserID() string {
	if b.State == nil || b.State.User == nil {
		return ""
	}
	return b.State.User.ID
}

// SetCommands replaces the commands registered in every guild. Call before Run.
func (b *Session) SetCommands(cmds []*discordgo.ApplicationCommand) {
	b.opts.Commands = cmds
}

// Run opens the gateway and keeps it until ctx is done
func (b *Session) Run(ctx context.Context) error {
	b.logger.Info("connecting to gateway")
	if err := b.Open(); err != nil {
		return fmt.Errorf("gateway connection failed: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			b.logger.Warn("gateway close failed", zap.Error(err))
		}
	}()

	if b.State.User == nil {
		u, err := b.User("@me")
		if err != nil {
			return fmt.Errorf("failed to get bot user: %w", err)
		}
		b.State.User = u
	}
	b.logger.Info("connected to gateway",
		zap.String("user", b.State.User.Username), zap.String("user_id", b.State.User.ID))

	b.monitorHeartbeat(ctx)
	return nil
}

func (b *Session) onReady(s *discordgo.Session, r *discordgo.Ready) {
	// state tracking may be off, Ready still carries the user
	if s.State.User == nil {
		s.State.User = r.User
	}
	b.logger.Info("ready", zap.Int("guilds", len(r.Guilds)))
}

func (b *Session) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if len(b.opts.Commands) == 0 || s.State.User == nil {
		return
	}
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, g.ID, b.opts.Commands); err != nil {
		b.logger.Warn("failed to register commands", zap.String("guild_id", g.ID), zap.Error(err))
		return
	}
	b.logger.Debug("registered commands", zap.String("guild_id", g.ID), zap.Int("count", len(b.opts.Commands)))
}

// monitorHeartbeat reports gateway latency every 30 seconds until ctx is done
func (b *Session) monitorHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latency := b.HeartbeatLatency()
			metrics.GatewayLatency.Set(latency.Seconds())
			if latency > 100*time.Millisecond {
				b.logger.Warn("high gateway latency", zap.Duration("latency", latency))
			}
		}
	}
}
