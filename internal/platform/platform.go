// Package platform is the boundary between the guard engine and the chat
// platform. The engine only talks to Client; Discord implements it on top of
// a discordgo session.
package platform

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// AnyAction asks FetchAuditEntries for entries of every type
const AnyAction discordgo.AuditLogAction = 0

// AuditEntry is one audit-trail entry, newest entries first in a listing
type AuditEntry struct {
	ID        string
	Action    discordgo.AuditLogAction
	ActorID   string
	ActorTag  string
	TargetID  string
	Reason    string
	CreatedAt time.Time
}

type Member struct {
	ID          string
	Username    string
	DisplayName string
	Bot         bool
	JoinedAt    time.Time
}

// Channel carries everything needed to recreate a deleted channel
type Channel struct {
	ID               string
	GuildID          string
	Name             string
	Type             discordgo.ChannelType
	Position         int
	ParentID         string
	Topic            string
	NSFW             bool
	Bitrate          int
	UserLimit        int
	RateLimitPerUser int
}

// IsLockable reports whether lockdown applies to the channel
func (c Channel) IsLockable() bool {
	return c.Type == discordgo.ChannelTypeGuildText || c.Type == discordgo.ChannelTypeGuildVoice
}

type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	CreatedAt time.Time
}

type Webhook struct {
	ID        string
	ChannelID string
	CreatorID string
}

// Client is everything the engine needs from the platform. Every call is
// attempted once; callers decide what a failure means.
type Client interface {
	FetchAuditEntries(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) ([]AuditEntry, error)
	GuildOwner(ctx context.Context, guildID string) (string, error)

	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	Warn(ctx context.Context, guildID, userID, reason string) error

	ListMembers(ctx context.Context, guildID string) ([]Member, error)
	ListChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateChannel(ctx context.Context, guildID string, spec Channel, reason string) (string, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	SetChannelPermissions(ctx context.Context, channelID, roleID string, allow, deny int64, reason string) error

	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error

	DeleteEmoji(ctx context.Context, guildID, emojiID, reason string) error
	DeleteSticker(ctx context.Context, guildID, stickerID, reason string) error
	ChannelWebhooks(ctx context.Context, channelID string) ([]Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID, reason string) error
	SetVanityCode(ctx context.Context, guildID, code, reason string) error
}

// LockdownDeny is the permission set denied to @everyone during lockdown
const LockdownDeny = discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak | discordgo.PermissionVoiceConnect
