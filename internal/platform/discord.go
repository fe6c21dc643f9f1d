package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

const memberPageSize = 1000

// Discord implements Client on a discordgo session
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

func opts(ctx context.Context, reason string) []discordgo.RequestOption {
	o := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		o = append(o, discordgo.WithAuditLogReason(reason))
	}
	return o
}

func (d *Discord) FetchAuditEntries(ctx context.Context, guildID string, action discordgo.AuditLogAction, limit int) ([]AuditEntry, error) {
	auditLog, err := d.session.GuildAuditLog(guildID, "", "", int(action), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch audit log: %w", err)
	}

	tags := make(map[string]string, len(auditLog.Users))
	for _, u := range auditLog.Users {
		if u != nil {
			tags[u.ID] = u.String()
		}
	}

	entries := make([]AuditEntry, 0, len(auditLog.AuditLogEntries))
	for _, e := range auditLog.AuditLogEntries {
		if e == nil || e.ActionType == nil {
			continue
		}
		created, err := discordgo.SnowflakeTimestamp(e.ID)
		if err != nil {
			continue
		}
		entries = append(entries, AuditEntry{
			ID:        e.ID,
			Action:    *e.ActionType,
			ActorID:   e.UserID,
			ActorTag:  tags[e.UserID],
			TargetID:  e.TargetID,
			Reason:    e.Reason,
			CreatedAt: created,
		})
	}
	return entries, nil
}

func (d *Discord) GuildOwner(ctx context.Context, guildID string) (string, error) {
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch guild: %w", err)
	}
	return g.OwnerID, nil
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanDelete(guildID, userID, opts(ctx, reason)...)
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (d *Discord) Timeout(ctx context.Context, guildID, userID string, dur time.Duration, reason string) error {
	until := time.Now().Add(dur)
	return d.session.GuildMemberTimeout(guildID, userID, &until, opts(ctx, reason)...)
}

// Warn sends the reason to the user by direct message
func (d *Discord) Warn(ctx context.Context, guildID, userID, reason string) error {
	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	_, err = d.session.ChannelMessageSend(ch.ID, fmt.Sprintf("Warning from server %s: %s", guildID, reason), discordgo.WithContext(ctx))
	return err
}

func (d *Discord) ListMembers(ctx context.Context, guildID string) ([]Member, error) {
	var members []Member
	after := ""
	for {
		page, err := d.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return members, fmt.Errorf("list members: %w", err)
		}
		for _, m := range page {
			if m == nil || m.User == nil {
				continue
			}
			members = append(members, toMember(m))
		}
		if len(page) < memberPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func toMember(m *discordgo.Member) Member {
	name := m.Nick
	if name == "" {
		name = m.User.GlobalName
	}
	if name == "" {
		name = m.User.Username
	}
	return Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		DisplayName: name,
		Bot:         m.User.Bot,
		JoinedAt:    m.JoinedAt,
	}
}

func (d *Discord) ListChannels(ctx context.Context, guildID string) ([]Channel, error) {
	chs, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]Channel, 0, len(chs))
	for _, c := range chs {
		out = append(out, ChannelFrom(c))
	}
	return out, nil
}

// ChannelFrom copies the recreatable fields of a discordgo channel
func ChannelFrom(c *discordgo.Channel) Channel {
	return Channel{
		ID:               c.ID,
		GuildID:          c.GuildID,
		Name:             c.Name,
		Type:             c.Type,
		Position:         c.Position,
		ParentID:         c.ParentID,
		Topic:            c.Topic,
		NSFW:             c.NSFW,
		Bitrate:          c.Bitrate,
		UserLimit:        c.UserLimit,
		RateLimitPerUser: c.RateLimitPerUser,
	}
}

func (d *Discord) CreateChannel(ctx context.Context, guildID string, spec Channel, reason string) (string, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:             spec.Name,
		Type:             spec.Type,
		Topic:            spec.Topic,
		Bitrate:          spec.Bitrate,
		UserLimit:        spec.UserLimit,
		RateLimitPerUser: spec.RateLimitPerUser,
		Position:         spec.Position,
		ParentID:         spec.ParentID,
		NSFW:             spec.NSFW,
	}, opts(ctx, reason)...)
	if err != nil {
		return "", fmt.Errorf("create channel: %w", err)
	}
	return ch.ID, nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := d.session.ChannelDelete(channelID, opts(ctx, reason)...)
	return err
}

func (d *Discord) SetChannelPermissions(ctx context.Context, channelID, roleID string, allow, deny int64, reason string) error {
	return d.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny, opts(ctx, reason)...)
}

func (d *Discord) RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		authorID := ""
		if m.Author != nil {
			authorID = m.Author.ID
		}
		out = append(out, Message{ID: m.ID, ChannelID: m.ChannelID, AuthorID: authorID, CreatedAt: m.Timestamp})
	}
	return out, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	return d.session.ChannelMessageDelete(channelID, messageID, opts(ctx, reason)...)
}

func (d *Discord) DeleteEmoji(ctx context.Context, guildID, emojiID, reason string) error {
	return d.session.GuildEmojiDelete(guildID, emojiID, opts(ctx, reason)...)
}

func (d *Discord) DeleteSticker(ctx context.Context, guildID, stickerID, reason string) error {
	endpoint := discordgo.EndpointGuild(guildID) + "/stickers/" + stickerID
	_, err := d.session.RequestWithBucketID("DELETE", endpoint, nil, discordgo.EndpointGuild(guildID)+"/stickers/", opts(ctx, reason)...)
	return err
}

func (d *Discord) ChannelWebhooks(ctx context.Context, channelID string) ([]Webhook, error) {
	hooks, err := d.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	out := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		creator := ""
		if h.User != nil {
			creator = h.User.ID
		}
		out = append(out, Webhook{ID: h.ID, ChannelID: h.ChannelID, CreatorID: creator})
	}
	return out, nil
}

func (d *Discord) DeleteWebhook(ctx context.Context, webhookID, reason string) error {
	return d.session.WebhookDelete(webhookID, opts(ctx, reason)...)
}

func (d *Discord) SetVanityCode(ctx context.Context, guildID, code, reason string) error {
	endpoint := discordgo.EndpointGuild(guildID) + "/vanity-url"
	_, err := d.session.RequestWithBucketID("PATCH", endpoint, map[string]string{"code": code}, discordgo.EndpointGuild(guildID), opts(ctx, reason)...)
	return err
}

// SendEmbeds posts up to ten embeds as one message
func (d *Discord) SendEmbeds(ctx context.Context, channelID string, embeds []*discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageSendEmbeds(channelID, embeds, discordgo.WithContext(ctx))
	return err
}
