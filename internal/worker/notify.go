package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/models"
)

const (
	notifyQueueSize = 5000
	notifyInterval  = 100 * time.Millisecond
	notifyBatchSize = 10 // embeds per message
)

// EmbedSender posts embeds to a channel
type EmbedSender interface {
	SendEmbeds(ctx context.Context, channelID string, embeds []*discordgo.MessageEmbed) error
}

// ProfileSource resolves the log channel of a guild
type ProfileSource interface {
	Get(ctx context.Context, guildID string) (*models.GuardProfile, error)
}

// Notifier posts incident records to each guild's log channel. Records are
// queued without blocking and sent in batches; a full queue drops records.
type Notifier struct {
	queue    chan *models.IncidentRecord
	sender   EmbedSender
	profiles ProfileSource
	logger   *zap.Logger
}

func NewNotifier(sender EmbedSender, profiles ProfileSource, logger *zap.Logger) *Notifier {
	return &Notifier{
		queue:    make(chan *models.IncidentRecord, notifyQueueSize),
		sender:   sender,
		profiles: profiles,
		logger:   logger,
	}
}

// Notify queues rec for posting
func (n *Notifier) Notify(rec *models.IncidentRecord) {
	select {
	case n.queue <- rec:
	default:
		n.logger.Warn("notify queue full, dropping record",
			zap.String("guild_id", rec.GuildID), zap.String("action", string(rec.Action)))
	}
}

// Run drains the queue until ctx is done
func (n *Notifier) Run(ctx context.Context) error {
	batch := make([]*models.IncidentRecord, 0, notifyBatchSize)
	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-n.queue:
			batch = append(batch, rec)
			if len(batch) >= notifyBatchSize {
				n.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				n.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (n *Notifier) flush(ctx context.Context, batch []*models.IncidentRecord) {
	byGuild := make(map[string][]*discordgo.MessageEmbed)
	var order []string
	for _, rec := range batch {
		if _, seen := byGuild[rec.GuildID]; !seen {
			order = append(order, rec.GuildID)
		}
		byGuild[rec.GuildID] = append(byGuild[rec.GuildID], incidentEmbed(rec))
	}

	for _, guildID := range order {
		p, err := n.profiles.Get(ctx, guildID)
		if err != nil || p.LogChannelID == "" {
			continue
		}
		if err := n.sender.SendEmbeds(ctx, p.LogChannelID, byGuild[guildID]); err != nil {
			n.logger.Warn("failed to post incident notice",
				zap.String("guild_id", guildID), zap.String("channel_id", p.LogChannelID), zap.Error(err))
		}
	}
}

func severityColor(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 0x992D22
	case models.SeverityHigh:
		return 0xE74C3C
	case models.SeverityMedium:
		return 0xE67E22
	default:
		return 0x95A5A6
	}
}

func incidentEmbed(rec *models.IncidentRecord) *discordgo.MessageEmbed {
	title := strings.ReplaceAll(string(rec.Action), "_", " ")

	fields := []*discordgo.MessageEmbedField{
		{Name: "Executor", Value: mention(rec.Executor.ID, rec.Executor.Tag), Inline: true},
		{Name: "Severity", Value: strings.ToUpper(string(rec.Severity)), Inline: true},
	}
	if rec.Target.ID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Target",
			Value:  fmt.Sprintf("%s `%s`", rec.Target.Kind, rec.Target.ID),
			Inline: true,
		})
	}
	if rec.Punishment.Applied {
		result := "applied"
		if !rec.Punishment.Success {
			result = "failed: " + rec.Punishment.Error
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Punishment",
			Value: fmt.Sprintf("%s (%s)", rec.Punishment.Type, result),
		})
	}
	if rec.AntiRaid.IsRaidAction {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Raid",
			Value: fmt.Sprintf("`%s`, %d actions", rec.AntiRaid.RaidID, rec.AntiRaid.MassActionCount),
		})
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: rec.Reason,
		Color:       severityColor(rec.Severity),
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "worker " + rec.Worker},
		Timestamp:   rec.CreatedAt.Format(time.RFC3339),
	}
}

func mention(id, tag string) string {
	if id == "" {
		return "unknown"
	}
	if tag == "" {
		return "<@" + id + ">"
	}
	return fmt.Sprintf("<@%s> (%s)", id, tag)
}
