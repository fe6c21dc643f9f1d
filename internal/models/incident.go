package models

import "time"

// Action is the closed set of monitored and recorded actions. Event kinds and
// the action recorded for them share the same value.
type Action string

const (
	ActionChannelDelete   Action = "CHANNEL_DELETE"
	ActionRoleDelete      Action = "ROLE_DELETE"
	ActionMemberBan       Action = "BAN_PROTECTION"
	ActionMemberKick      Action = "KICK_PROTECTION"
	ActionEmojiCreate     Action = "EMOJI_CREATE"
	ActionEmojiDelete     Action = "EMOJI_DELETE"
	ActionStickerCreate   Action = "STICKER_CREATE"
	ActionStickerDelete   Action = "STICKER_DELETE"
	ActionWebhookCreate   Action = "WEBHOOK_CREATE"
	ActionBotAdd          Action = "UNAUTHORIZED_BOT_ADD"
	ActionVanityChange    Action = "VANITY_URL_CHANGED"
	ActionInviteLink      Action = "DISCORD_INVITE_DETECTED"
	ActionSuspiciousURL   Action = "SUSPICIOUS_URL_DETECTED"
	ActionEditedInvite    Action = "EDITED_DISCORD_INVITE"
	ActionEditedURL       Action = "EDITED_SUSPICIOUS_URL"
	ActionMessageFlood    Action = "SPAM_DETECTED"
	ActionRaidDetected    Action = "RAID_DETECTED"
	ActionMassDelete      Action = "MASS_DELETE_DETECTED"
	ActionWhitelistAdd    Action = "WHITELIST_ADD"
	ActionWhitelistRemove Action = "WHITELIST_REMOVE"
	ActionGuardEnable     Action = "GUARD_ENABLE"
	ActionGuardDisable    Action = "GUARD_DISABLE"
	ActionPunishmentSet   Action = "PUNISHMENT_UPDATE"
)

// Severity of an incident record
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TargetKind describes what an incident was aimed at
type TargetKind string

const (
	TargetChannel TargetKind = "channel"
	TargetRole    TargetKind = "role"
	TargetUser    TargetKind = "user"
	TargetGuild   TargetKind = "guild"
	TargetEmoji   TargetKind = "emoji"
	TargetSticker TargetKind = "sticker"
	TargetWebhook TargetKind = "webhook"
	TargetMessage TargetKind = "message"
)

type Executor struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

type Target struct {
	ID   string     `json:"id"`
	Kind TargetKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

// PunishmentOutcome records what happened to the executor
type PunishmentOutcome struct {
	Applied bool           `json:"applied"`
	Type    PunishmentType `json:"type,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

type AntiRaid struct {
	IsRaidAction    bool   `json:"is_raid_action"`
	RaidID          string `json:"raid_id,omitempty"`
	MassActionCount int    `json:"mass_action_count,omitempty"`
}

// IncidentRecord is an append-only audit entry of an engine decision
type IncidentRecord struct {
	ID         string            `json:"id"`
	GuildID    string            `json:"guild_id"`
	Action     Action            `json:"action"`
	Executor   Executor          `json:"executor"`
	Target     Target            `json:"target"`
	Reason     string            `json:"reason"`
	Severity   Severity          `json:"severity"`
	Punishment PunishmentOutcome `json:"punishment"`
	AntiRaid   AntiRaid          `json:"anti_raid"`
	Worker     string            `json:"worker"`
	CreatedAt  time.Time         `json:"created_at"`
}
