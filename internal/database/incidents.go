package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"discord-guard-bot/internal/models"
)

// InsertIncident appends one record
func (d *Database) InsertIncident(ctx context.Context, r *models.IncidentRecord) error {
	punishment, err := json.Marshal(r.Punishment)
	if err != nil {
		return err
	}
	antiRaid, err := json.Marshal(r.AntiRaid)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO guard_incidents (id, guild_id, action, executor_id, executor_tag, target_id, target_kind,
			target_name, reason, severity, punishment, anti_raid, worker, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, r.ID, r.GuildID, string(r.Action), r.Executor.ID, r.Executor.Tag, r.Target.ID, string(r.Target.Kind),
		r.Target.Name, r.Reason, string(r.Severity), punishment, antiRaid, r.Worker, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", r.Action, err)
	}
	return nil
}

// RecentIncidents returns the newest records of a guild
func (d *Database) RecentIncidents(ctx context.Context, guildID string, limit int) ([]*models.IncidentRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, guild_id, action, executor_id, executor_tag, target_id, target_kind, target_name,
			reason, severity, punishment, anti_raid, worker, created_at
		FROM guard_incidents
		WHERE guild_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent incidents %s: %w", guildID, err)
	}
	defer rows.Close()

	var out []*models.IncidentRecord
	for rows.Next() {
		var (
			r                    models.IncidentRecord
			action, kind, sev    string
			punishment, antiRaid []byte
		)
		if err := rows.Scan(&r.ID, &r.GuildID, &action, &r.Executor.ID, &r.Executor.Tag, &r.Target.ID, &kind,
			&r.Target.Name, &r.Reason, &sev, &punishment, &antiRaid, &r.Worker, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Action = models.Action(action)
		r.Target.Kind = models.TargetKind(kind)
		r.Severity = models.Severity(sev)
		_ = json.Unmarshal(punishment, &r.Punishment)
		_ = json.Unmarshal(antiRaid, &r.AntiRaid)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PurgeIncidents deletes non-critical records created before cutoff
func (d *Database) PurgeIncidents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM guard_incidents WHERE created_at < $1 AND severity <> 'critical'
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge incidents: %w", err)
	}
	return res.RowsAffected()
}
