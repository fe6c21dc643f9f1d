package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"discord-guard-bot/internal/models"
)

const profileColumns = `guild_id, owner_id, guards, limits, punishment_type, timeout_duration_ms, log_channel_id, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.GuardProfile, error) {
	var (
		p              models.GuardProfile
		guards, limits []byte
		punishment     string
		timeoutMs      int64
	)
	err := row.Scan(&p.GuildID, &p.OwnerID, &guards, &limits, &punishment, &timeoutMs, &p.LogChannelID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Guards = decodeGuards(guards)
	p.Limits = decodeLimits(limits)
	p.PunishmentType = models.PunishmentType(punishment)
	p.TimeoutDuration = time.Duration(timeoutMs) * time.Millisecond
	return &p, nil
}

// GetProfile returns the stored profile or ErrNotFound
func (d *Database) GetProfile(ctx context.Context, guildID string) (*models.GuardProfile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM guard_profiles WHERE guild_id = $1`, guildID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", guildID, err)
	}
	return p, nil
}

// GetOrCreateProfile returns the guild's profile, creating the all-enabled
// default if absent. Concurrent callers converge on a single row: the insert
// is ON CONFLICT DO NOTHING and the winner's row is read back.
func (d *Database) GetOrCreateProfile(ctx context.Context, guildID, ownerID string) (*models.GuardProfile, error) {
	p, err := d.GetProfile(ctx, guildID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	def := models.DefaultGuardProfile(guildID, ownerID)
	guards, err := encodeGuards(def.Guards)
	if err != nil {
		return nil, err
	}
	limits, err := encodeLimits(def.Limits)
	if err != nil {
		return nil, err
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO guard_profiles (guild_id, owner_id, guards, limits, punishment_type, timeout_duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id) DO NOTHING
	`, guildID, ownerID, guards, limits, string(def.PunishmentType), def.TimeoutDuration.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("create profile %s: %w", guildID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		d.logger.Info("guard profile created", zap.String("guild_id", guildID))
	}

	return d.GetProfile(ctx, guildID)
}

// SetOwner records the guild owner when it is not yet known
func (d *Database) SetOwner(ctx context.Context, guildID, ownerID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE guard_profiles SET owner_id = $2, updated_at = NOW()
		WHERE guild_id = $1 AND owner_id <> $2
	`, guildID, ownerID)
	return err
}

// ToggleGuard flips one guard in a single statement and returns its new
// state. Object-shaped values keep their extras. A missing guard counts as
// disabled and becomes enabled.
func (d *Database) ToggleGuard(ctx context.Context, guildID string, guard models.Guard) (bool, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx, `
		UPDATE guard_profiles SET guards = jsonb_set(guards, ARRAY[$2::text],
			CASE jsonb_typeof(guards -> $2::text)
				WHEN 'object' THEN jsonb_set(guards -> $2::text, '{enabled}',
					to_jsonb(NOT COALESCE((guards -> $2::text ->> 'enabled')::boolean, false)))
				WHEN 'boolean' THEN to_jsonb(NOT (guards ->> $2::text)::boolean)
				ELSE 'true'::jsonb
			END, true),
			updated_at = NOW()
		WHERE guild_id = $1
		RETURNING guards
	`, guildID, string(guard)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle guard %s/%s: %w", guildID, guard, err)
	}
	return decodeGuards(raw)[guard].Enabled, nil
}

// SetGuard sets one guard explicitly, preserving extras
func (d *Database) SetGuard(ctx context.Context, guildID string, guard models.Guard, enabled bool) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE guard_profiles SET guards = jsonb_set(guards, ARRAY[$2::text],
			CASE jsonb_typeof(guards -> $2::text)
				WHEN 'object' THEN jsonb_set(guards -> $2::text, '{enabled}', to_jsonb($3::boolean))
				ELSE to_jsonb($3::boolean)
			END, true),
			updated_at = NOW()
		WHERE guild_id = $1
	`, guildID, string(guard), enabled)
	if err != nil {
		return fmt.Errorf("set guard %s/%s: %w", guildID, guard, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPunishment updates the punishment type and timeout duration
func (d *Database) SetPunishment(ctx context.Context, guildID string, p models.PunishmentType, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = models.DefaultTimeoutDuration
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE guard_profiles SET punishment_type = $2, timeout_duration_ms = $3, updated_at = NOW()
		WHERE guild_id = $1
	`, guildID, string(p), timeout.Milliseconds())
	if err != nil {
		return fmt.Errorf("set punishment %s: %w", guildID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLogChannel sets the channel incident summaries are posted to
func (d *Database) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE guard_profiles SET log_channel_id = $2, updated_at = NOW() WHERE guild_id = $1
	`, guildID, channelID)
	return err
}
