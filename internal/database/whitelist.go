package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"discord-guard-bot/internal/models"
)

const whitelistColumns = `guild_id, user_id, added_by, reason, permissions, status, temporary, expires_at, created_at, updated_at`

func scanWhitelist(row interface{ Scan(...any) error }) (*models.WhitelistEntry, error) {
	var (
		e       models.WhitelistEntry
		status  string
		expires sql.NullTime
	)
	err := row.Scan(&e.GuildID, &e.UserID, &e.AddedBy, &e.Reason, pq.Array(&e.Permissions),
		&status, &e.Temporary, &expires, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = models.WhitelistStatus(status)
	if expires.Valid {
		e.ExpiresAt = expires.Time
	}
	return &e, nil
}

// FindWhitelistEntry returns the entry for (guild, user) whatever its status,
// or ErrNotFound. Callers decide effectiveness.
func (d *Database) FindWhitelistEntry(ctx context.Context, guildID, userID string) (*models.WhitelistEntry, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+whitelistColumns+` FROM guard_whitelist WHERE guild_id = $1 AND user_id = $2
	`, guildID, userID)
	e, err := scanWhitelist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find whitelist %s/%s: %w", guildID, userID, err)
	}
	return e, nil
}

// AddWhitelist inserts or reactivates an entry
func (d *Database) AddWhitelist(ctx context.Context, e *models.WhitelistEntry) error {
	var expires sql.NullTime
	if e.Temporary {
		expires = sql.NullTime{Time: e.ExpiresAt, Valid: true}
	}
	perms := e.Permissions
	if perms == nil {
		perms = []string{}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO guard_whitelist (guild_id, user_id, added_by, reason, permissions, status, temporary, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)
		ON CONFLICT (guild_id, user_id) DO UPDATE
		SET added_by = EXCLUDED.added_by,
			reason = EXCLUDED.reason,
			permissions = EXCLUDED.permissions,
			status = 'active',
			temporary = EXCLUDED.temporary,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, e.GuildID, e.UserID, e.AddedBy, e.Reason, pq.Array(perms), e.Temporary, expires)
	if err != nil {
		return fmt.Errorf("add whitelist %s/%s: %w", e.GuildID, e.UserID, err)
	}
	return nil
}

// RemoveWhitelist deletes an entry and reports whether one existed
func (d *Database) RemoveWhitelist(ctx context.Context, guildID, userID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM guard_whitelist WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("remove whitelist %s/%s: %w", guildID, userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListWhitelist returns every entry of a guild, newest first
func (d *Database) ListWhitelist(ctx context.Context, guildID string) ([]*models.WhitelistEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+whitelistColumns+` FROM guard_whitelist WHERE guild_id = $1 ORDER BY created_at DESC
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list whitelist %s: %w", guildID, err)
	}
	defer rows.Close()

	var entries []*models.WhitelistEntry
	for rows.Next() {
		e, err := scanWhitelist(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExpireWhitelist marks temporary entries past their expiry as expired
func (d *Database) ExpireWhitelist(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE guard_whitelist SET status = 'expired', updated_at = NOW()
		WHERE temporary AND status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire whitelist: %w", err)
	}
	return res.RowsAffected()
}
