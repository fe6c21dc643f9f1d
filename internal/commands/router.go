// Package commands routes slash commands to the handlers of a worker
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/metrics"
)

var (
	ErrDenied   = errors.New("commands: invoker is not allowed")
	ErrCooldown = errors.New("commands: invoker is on cooldown")
)

// UsageError carries a message shown to the invoker as is
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func Usage(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// Handler runs one command and returns the reply text
type Handler func(ctx context.Context, inv *Invocation) (string, error)

type Router struct {
	handlers map[string]Handler
	commands []*discordgo.ApplicationCommand
	cooldown *Cooldown
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRouter creates a router. cooldown may be nil.
func NewRouter(cooldown *Cooldown, timeout time.Duration, logger *zap.Logger) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		handlers: make(map[string]Handler),
		cooldown: cooldown,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle registers cmd and the handler that serves it
func (r *Router) Handle(cmd *discordgo.ApplicationCommand, h Handler) {
	if _, dup := r.handlers[cmd.Name]; !dup {
		r.commands = append(r.commands, cmd)
	}
	r.handlers[cmd.Name] = h
}

// Commands returns the definitions to register with the platform
func (r *Router) Commands() []*discordgo.ApplicationCommand {
	return r.commands
}

// Dispatch runs the handler for inv and returns the reply text
func (r *Router) Dispatch(ctx context.Context, inv *Invocation) string {
	h, ok := r.handlers[inv.Name]
	if !ok {
		return "Unknown command."
	}

	if r.cooldown != nil && !r.cooldown.Allow(ctx, inv.AuthorID, inv.Name) {
		metrics.CommandsTotal.WithLabelValues(inv.Name, "cooldown").Inc()
		return "Slow down, try again in a few seconds."
	}

	reply, err := h(ctx, inv)

	var usage *UsageError
	switch {
	case err == nil:
		metrics.CommandsTotal.WithLabelValues(inv.Name, "ok").Inc()
		return reply
	case errors.Is(err, ErrDenied):
		metrics.CommandsTotal.WithLabelValues(inv.Name, "denied").Inc()
		return "You are not allowed to use this command."
	case errors.As(err, &usage):
		metrics.CommandsTotal.WithLabelValues(inv.Name, "invalid").Inc()
		return usage.Msg
	default:
		metrics.CommandsTotal.WithLabelValues(inv.Name, "error").Inc()
		r.logger.Error("command failed",
			zap.String("command", inv.Path()),
			zap.String("guild_id", inv.GuildID),
			zap.String("actor_id", inv.AuthorID),
			zap.Error(err))
		return fmt.Sprintf("Could not run /%s: %v", inv.Path(), err)
	}
}

// OnInteraction returns the discordgo handler serving this router. Replies
// are deferred and ephemeral.
func (r *Router) OnInteraction(ctx context.Context) func(*discordgo.Session, *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		inv, ok := Decode(i)
		if !ok {
			return
		}
		if _, known := r.handlers[inv.Name]; !known {
			return
		}

		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		})
		if err != nil {
			r.logger.Warn("failed to acknowledge interaction", zap.String("command", inv.Name), zap.Error(err))
			return
		}

		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		reply := r.Dispatch(cctx, inv)

		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
			r.logger.Warn("failed to send reply", zap.String("command", inv.Name), zap.Error(err))
		}
	}
}
