package models

import (
	"strings"
	"time"
)

// Guard identifies a protection that can be toggled per guild
type Guard string

const (
	GuardChannel  Guard = "channel"
	GuardRole     Guard = "role"
	GuardBan      Guard = "ban"
	GuardKick     Guard = "kick"
	GuardURL      Guard = "url"
	GuardSpam     Guard = "spam"
	GuardEmoji    Guard = "emoji"
	GuardSticker  Guard = "sticker"
	GuardWebhook  Guard = "webhook"
	GuardBot      Guard = "bot"
	GuardVanity   Guard = "vanity"
	GuardAntiRaid Guard = "antiRaid"
)

// AllGuards returns every guard in display order
func AllGuards() []Guard {
	return []Guard{
		GuardChannel,
		GuardRole,
		GuardBan,
		GuardKick,
		GuardURL,
		GuardSpam,
		GuardEmoji,
		GuardSticker,
		GuardWebhook,
		GuardBot,
		GuardVanity,
		GuardAntiRaid,
	}
}

// ParseGuard resolves a guard key case-insensitively
func ParseGuard(s string) (Guard, bool) {
	for _, g := range AllGuards() {
		if strings.EqualFold(string(g), s) {
			return g, true
		}
	}
	return "", false
}

// DisplayName returns a human-readable name for a guard
func (g Guard) DisplayName() string {
	switch g {
	case GuardChannel:
		return "Channel Protection"
	case GuardRole:
		return "Role Protection"
	case GuardBan:
		return "Ban Protection"
	case GuardKick:
		return "Kick Protection"
	case GuardURL:
		return "Link Protection"
	case GuardSpam:
		return "Spam Protection"
	case GuardEmoji:
		return "Emoji Protection"
	case GuardSticker:
		return "Sticker Protection"
	case GuardWebhook:
		return "Webhook Protection"
	case GuardBot:
		return "Bot Protection"
	case GuardVanity:
		return "Vanity URL Protection"
	case GuardAntiRaid:
		return "Anti-Raid"
	default:
		return string(g)
	}
}

// GuardSetting is the normalized form of a stored guard value. Stored values
// are either a bare boolean or an object with an "enabled" field plus extras.
type GuardSetting struct {
	Enabled bool           `json:"enabled"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// PunishmentType is applied to an unauthorized actor on the single-incident path
type PunishmentType string

const (
	PunishmentBan     PunishmentType = "ban"
	PunishmentKick    PunishmentType = "kick"
	PunishmentTimeout PunishmentType = "timeout"
	PunishmentWarn    PunishmentType = "warn"
)

// ParsePunishment validates a punishment name
func ParsePunishment(s string) (PunishmentType, bool) {
	switch p := PunishmentType(strings.ToLower(s)); p {
	case PunishmentBan, PunishmentKick, PunishmentTimeout, PunishmentWarn:
		return p, true
	}
	return "", false
}

const DefaultTimeoutDuration = 10 * time.Minute

// GuardProfile is the per-guild guard configuration
type GuardProfile struct {
	GuildID         string                 `json:"guild_id"`
	OwnerID         string                 `json:"owner_id"`
	Guards          map[Guard]GuardSetting `json:"guards"`
	Limits          map[Guard]int          `json:"limits"`
	PunishmentType  PunishmentType         `json:"punishment_type"`
	TimeoutDuration time.Duration          `json:"timeout_duration"`
	LogChannelID    string                 `json:"log_channel_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// DefaultLimits are the advisory per-guard thresholds of a new profile
func DefaultLimits() map[Guard]int {
	return map[Guard]int{
		GuardChannel: 3,
		GuardRole:    3,
		GuardBan:     2,
		GuardKick:    3,
		GuardURL:     5,
		GuardEmoji:   5,
		GuardSticker: 5,
	}
}

// DefaultGuardProfile returns a profile with every guard enabled
func DefaultGuardProfile(guildID, ownerID string) *GuardProfile {
	guards := make(map[Guard]GuardSetting, len(AllGuards()))
	for _, g := range AllGuards() {
		guards[g] = GuardSetting{Enabled: true}
	}
	return &GuardProfile{
		GuildID:         guildID,
		OwnerID:         ownerID,
		Guards:          guards,
		Limits:          DefaultLimits(),
		PunishmentType:  PunishmentBan,
		TimeoutDuration: DefaultTimeoutDuration,
	}
}

// GuardEnabled reports whether g is switched on. A guard absent from the
// profile is off.
func (p *GuardProfile) GuardEnabled(g Guard) bool {
	if p == nil {
		return false
	}
	return p.Guards[g].Enabled
}

// Punishment returns the configured punishment, falling back to ban
func (p *GuardProfile) Punishment() PunishmentType {
	if p == nil {
		return PunishmentBan
	}
	if pt, ok := ParsePunishment(string(p.PunishmentType)); ok {
		return pt
	}
	return PunishmentBan
}

// Timeout returns the configured timeout duration or the default
func (p *GuardProfile) Timeout() time.Duration {
	if p == nil || p.TimeoutDuration <= 0 {
		return DefaultTimeoutDuration
	}
	return p.TimeoutDuration
}

// WhitelistStatus is the lifecycle state of a whitelist entry
type WhitelistStatus string

const (
	WhitelistActive    WhitelistStatus = "active"
	WhitelistSuspended WhitelistStatus = "suspended"
	WhitelistExpired   WhitelistStatus = "expired"
)

// WhitelistEntry pre-authorizes a user for a guild
type WhitelistEntry struct {
	GuildID     string          `json:"guild_id"`
	UserID      string          `json:"user_id"`
	AddedBy     string          `json:"added_by"`
	Reason      string          `json:"reason"`
	Permissions []string        `json:"permissions"`
	Status      WhitelistStatus `json:"status"`
	Temporary   bool            `json:"temporary"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Effective reports whether the entry grants authorization at now
func (e *WhitelistEntry) Effective(now time.Time) bool {
	if e == nil || e.Status != WhitelistActive {
		return false
	}
	if !e.Temporary {
		return true
	}
	return now.Before(e.ExpiresAt)
}
