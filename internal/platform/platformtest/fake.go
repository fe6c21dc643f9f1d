// Package platformtest provides an in-memory platform.Client for tests
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/platform"
)

// ErrInjected is returned by calls configured to fail
var ErrInjected = errors.New("injected failure")

// Call is one recorded mutation
type Call struct {
	Method  string
	GuildID string
	Target  string
	Reason  string
	Allow   int64
	Deny    int64
	Timeout time.Duration
	Channel platform.Channel
	Embeds  []*discordgo.MessageEmbed
}

// Fake records every mutation and serves configured reads
type Fake struct {
	mu sync.Mutex

	Owner    map[string]string
	Audit    map[string][]platform.AuditEntry // guild -> newest first
	Members  map[string][]platform.Member
	Channels map[string][]platform.Channel
	Messages map[string][]platform.Message // channel -> newest first
	Webhooks map[string][]platform.Webhook

	// Fail makes the named method return ErrInjected
	Fail map[string]bool
	// FailTarget makes a mutation against a specific target fail
	FailTarget map[string]bool

	AuditDelay time.Duration

	calls     []Call
	nextID    int
	auditHits int
}

func New() *Fake {
	return &Fake{
		Owner:      make(map[string]string),
		Audit:      make(map[string][]platform.AuditEntry),
		Members:    make(map[string][]platform.Member),
		Channels:   make(map[string][]platform.Channel),
		Messages:   make(map[string][]platform.Message),
		Webhooks:   make(map[string][]platform.Webhook),
		Fail:       make(map[string]bool),
		FailTarget: make(map[string]bool),
	}
}

// AddAudit pushes an entry to the front of the guild's audit trail
func (f *Fake) AddAudit(guildID string, e platform.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Audit[guildID] = append([]platform.AuditEntry{e}, f.Audit[guildID]...)
}

// Calls returns a copy of the recorded mutations
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo filters recorded mutations by method
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods lists recorded method names in call order
func (f *Fake) Methods() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Method)
	}
	return out
}

// AuditFetches returns how many times the audit trail was read
func (f *Fake) AuditFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auditHits
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.Fail[c.Method] || f.FailTarget[c.Target] {
		return fmt.Errorf("%s %s: %w", c.Method, c.Target, ErrInjected)
	}
	return nil
}

func (f *Fake) failRead(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail[method] {
		return fmt.Errorf("%s: %w", method, ErrInjected)
	}
	return nil
}

func (f *Fake) FetchAuditEntries(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) ([]platform.AuditEntry, error) {
	if f.AuditDelay > 0 {
		select {
		case <-time.After(f.AuditDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.auditHits++
	f.mu.Unlock()
	if err := f.failRead("FetchAuditEntries"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.AuditEntry
	for _, e := range f.Audit[guildID] {
		if action != platform.AnyAction && e.Action != action {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GuildOwner(ctx context.Context, guildID string) (string, error) {
	if err := f.failRead("GuildOwner"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Owner[guildID], nil
}

func (f *Fake) Ban(ctx context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "Ban", GuildID: guildID, Target: userID, Reason: reason})
}

func (f *Fake) Unban(ctx context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "Unban", GuildID: guildID, Target: userID, Reason: reason})
}

func (f *Fake) Kick(ctx context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "Kick", GuildID: guildID, Target: userID, Reason: reason})
}

func (f *Fake) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	return f.record(Call{Method: "Timeout", GuildID: guildID, Target: userID, Reason: reason, Timeout: d})
}

func (f *Fake) Warn(ctx context.Context, guildID, userID, reason string) error {
	return f.record(Call{Method: "Warn", GuildID: guildID, Target: userID, Reason: reason})
}

func (f *Fake) ListMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	if err := f.failRead("ListMembers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Member(nil), f.Members[guildID]...), nil
}

func (f *Fake) ListChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	if err := f.failRead("ListChannels"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]platform.Channel(nil), f.Channels[guildID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *Fake) CreateChannel(ctx context.Context, guildID string, spec platform.Channel, reason string) (string, error) {
	if err := f.record(Call{Method: "CreateChannel", GuildID: guildID, Target: spec.Name, Reason: reason, Channel: spec}); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	spec.ID = fmt.Sprintf("created-%d", f.nextID)
	spec.GuildID = guildID
	f.Channels[guildID] = append(f.Channels[guildID], spec)
	return spec.ID, nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID, reason string) error {
	if err := f.record(Call{Method: "DeleteChannel", Target: channelID, Reason: reason}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for g, chs := range f.Channels {
		for i, c := range chs {
			if c.ID == channelID {
				f.Channels[g] = append(chs[:i:i], chs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *Fake) SetChannelPermissions(ctx context.Context, channelID, roleID string, allow, deny int64, reason string) error {
	return f.record(Call{Method: "SetChannelPermissions", GuildID: roleID, Target: channelID, Reason: reason, Allow: allow, Deny: deny})
}

func (f *Fake) RecentMessages(ctx context.Context, channelID string, limit int) ([]platform.Message, error) {
	if err := f.failRead("RecentMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.Messages[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]platform.Message(nil), msgs...), nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return f.record(Call{Method: "DeleteMessage", GuildID: channelID, Target: messageID, Reason: reason})
}

func (f *Fake) DeleteEmoji(ctx context.Context, guildID, emojiID, reason string) error {
	return f.record(Call{Method: "DeleteEmoji", GuildID: guildID, Target: emojiID, Reason: reason})
}

func (f *Fake) DeleteSticker(ctx context.Context, guildID, stickerID, reason string) error {
	return f.record(Call{Method: "DeleteSticker", GuildID: guildID, Target: stickerID, Reason: reason})
}

func (f *Fake) ChannelWebhooks(ctx context.Context, channelID string) ([]platform.Webhook, error) {
	if err := f.failRead("ChannelWebhooks"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Webhook(nil), f.Webhooks[channelID]...), nil
}

func (f *Fake) DeleteWebhook(ctx context.Context, webhookID, reason string) error {
	return f.record(Call{Method: "DeleteWebhook", Target: webhookID, Reason: reason})
}

func (f *Fake) SetVanityCode(ctx context.Context, guildID, code, reason string) error {
	return f.record(Call{Method: "SetVanityCode", GuildID: guildID, Target: code, Reason: reason})
}

func (f *Fake) SendEmbeds(ctx context.Context, channelID string, embeds []*discordgo.MessageEmbed) error {
	return f.record(Call{Method: "SendEmbeds", Target: channelID, Embeds: embeds})
}

var _ platform.Client = (*Fake)(nil)
