// Package incident appends incident records: it stamps id, time and
// severity, persists the record and counts it.
package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"discord-guard-bot/internal/metrics"
	"discord-guard-bot/internal/models"
)

// Store persists records; implemented by the database package
type Store interface {
	InsertIncident(ctx context.Context, r *models.IncidentRecord) error
}

// Notifier receives every persisted record, e.g. to post it to the guild's
// log channel. Implementations must not block.
type Notifier interface {
	Notify(r *models.IncidentRecord)
}

type Log struct {
	store    Store
	worker   string
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func New(store Store, worker string, logger *zap.Logger) *Log {
	return &Log{
		store:  store,
		worker: worker,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetNotifier installs n. Call before the log is shared.
func (l *Log) SetNotifier(n Notifier) {
	l.notifier = n
}

// Classify derives the severity of an action
func Classify(a models.Action) models.Severity {
	s := string(a)
	switch {
	case strings.Contains(s, "RAID"), strings.Contains(s, "MASS_DELETE"):
		return models.SeverityCritical
	case strings.Contains(s, "BAN"), strings.Contains(s, "KICK"), strings.Contains(s, "DELETE"):
		return models.SeverityHigh
	case strings.HasPrefix(s, "WHITELIST_"), strings.HasPrefix(s, "GUARD_"), a == models.ActionPunishmentSet:
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

// Append stamps and persists rec. Severity is always derived from the action;
// raid actions are critical regardless of what the caller set.
func (l *Log) Append(ctx context.Context, rec models.IncidentRecord) (*models.IncidentRecord, error) {
	rec.ID = l.newID()
	rec.CreatedAt = l.now().UTC()
	rec.Severity = Classify(rec.Action)
	if rec.AntiRaid.IsRaidAction {
		rec.Severity = models.SeverityCritical
	}
	if rec.Worker == "" {
		rec.Worker = l.worker
	}

	if err := l.store.InsertIncident(ctx, &rec); err != nil {
		l.logger.Error("failed to persist incident",
			zap.String("guild_id", rec.GuildID),
			zap.String("action", string(rec.Action)),
			zap.String("actor_id", rec.Executor.ID),
			zap.Error(err))
		return nil, fmt.Errorf("append incident: %w", err)
	}

	metrics.IncidentsTotal.WithLabelValues(string(rec.Severity)).Inc()

	fields := []zap.Field{
		zap.String("incident_id", rec.ID),
		zap.String("guild_id", rec.GuildID),
		zap.String("action", string(rec.Action)),
		zap.String("severity", string(rec.Severity)),
		zap.String("actor_id", rec.Executor.ID),
		zap.String("target_id", rec.Target.ID),
		zap.String("reason", rec.Reason),
	}
	if rec.Punishment.Applied {
		fields = append(fields,
			zap.String("punishment", string(rec.Punishment.Type)),
			zap.Bool("punishment_ok", rec.Punishment.Success))
	}
	if rec.AntiRaid.IsRaidAction {
		fields = append(fields,
			zap.String("raid_id", rec.AntiRaid.RaidID),
			zap.Int("mass_action_count", rec.AntiRaid.MassActionCount))
	}
	if rec.Severity == models.SeverityCritical {
		l.logger.Warn("incident recorded", fields...)
	} else {
		l.logger.Info("incident recorded", fields...)
	}

	if l.notifier != nil {
		l.notifier.Notify(&rec)
	}
	return &rec, nil
}
