package commands

import (
	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/models"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}

var adminOnly = int64Ptr(discordgo.PermissionAdministrator)

func userOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason shown in the audit log",
		Required:    false,
		MaxLength:   400,
	}
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionChannel,
		Name:        "channel",
		Description: description,
		Required:    false,
		ChannelTypes: []discordgo.ChannelType{
			discordgo.ChannelTypeGuildText,
			discordgo.ChannelTypeGuildVoice,
		},
	}
}

// Moderation worker

var Ban = &discordgo.ApplicationCommand{
	Name:        "ban",
	Description: "Ban a member or a user id",
	Options: []*discordgo.ApplicationCommandOption{
		userOption("user", "Member to ban", false),
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "id",
			Description: "User id to ban when they are not in the server",
			Required:    false,
		},
		reasonOption(),
	},
}

var Kick = &discordgo.ApplicationCommand{
	Name:        "kick",
	Description: "Kick a member",
	Options: []*discordgo.ApplicationCommandOption{
		userOption("user", "Member to kick", true),
		reasonOption(),
	},
}

var Timeout = &discordgo.ApplicationCommand{
	Name:        "timeout",
	Description: "Time out a member",
	Options: []*discordgo.ApplicationCommandOption{
		userOption("user", "Member to time out", true),
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "minutes",
			Description: "Length of the timeout in minutes",
			Required:    true,
			MinValue:    floatPtr(1),
			MaxValue:    40320,
		},
		reasonOption(),
	},
}

var Lock = &discordgo.ApplicationCommand{
	Name:        "lock",
	Description: "Stop @everyone from sending messages in a channel",
	Options: []*discordgo.ApplicationCommandOption{
		channelOption("Channel to lock, defaults to this one"),
		reasonOption(),
	},
}

var Unlock = &discordgo.ApplicationCommand{
	Name:        "unlock",
	Description: "Let @everyone send messages in a channel again",
	Options: []*discordgo.ApplicationCommandOption{
		channelOption("Channel to unlock, defaults to this one"),
		reasonOption(),
	},
}

var Unban = &discordgo.ApplicationCommand{
	Name:        "unban",
	Description: "Lift a ban",
	Options: []*discordgo.ApplicationCommandOption{
		userOption("user", "User to unban", false),
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "id",
			Description: "User id to unban",
			Required:    false,
		},
		reasonOption(),
	},
}

// ModerationCommands are served by the moderation worker
func ModerationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{Ban, Kick, Timeout, Lock, Unlock, Unban}
}

// Management worker

func guardChoices() []*discordgo.ApplicationCommandOptionChoice {
	all := models.AllGuards()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(all))
	for _, g := range all {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  g.DisplayName(),
			Value: string(g),
		})
	}
	return choices
}

var Whitelist = &discordgo.ApplicationCommand{
	Name:                     "whitelist",
	Description:              "Manage users allowed to perform guarded actions",
	DefaultMemberPermissions: adminOnly,
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "add",
			Description: "Add a user to the whitelist",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "User to whitelist", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "duration",
					Description: "Expire after this long, e.g. 2h or 30m",
					Required:    false,
				},
				reasonOption(),
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "remove",
			Description: "Remove a user from the whitelist",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "User to remove", true),
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "list",
			Description: "Show the whitelist",
		},
	},
}

var Guard = &discordgo.ApplicationCommand{
	Name:                     "guard",
	Description:              "Guard settings",
	DefaultMemberPermissions: adminOnly,
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "toggle",
			Description: "Switch a guard on or off",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "guard",
					Description: "Guard to switch",
					Required:    true,
					Choices:     guardChoices(),
				},
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "status",
			Description: "Show which guards are on",
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "logs",
			Description: "Set the channel incident notices are posted to",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Log channel, leave empty to stop posting",
					Required:     false,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
	},
}

var Punishment = &discordgo.ApplicationCommand{
	Name:                     "punishment",
	Description:              "Set what happens to unauthorized actors",
	DefaultMemberPermissions: adminOnly,
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "set",
			Description: "Set the punishment",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Punishment type",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Ban", Value: string(models.PunishmentBan)},
						{Name: "Kick", Value: string(models.PunishmentKick)},
						{Name: "Timeout", Value: string(models.PunishmentTimeout)},
						{Name: "Warn", Value: string(models.PunishmentWarn)},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Timeout length in minutes",
					Required:    false,
					MinValue:    floatPtr(1),
					MaxValue:    40320,
				},
			},
		},
	},
}

var Voice = &discordgo.ApplicationCommand{
	Name:                     "voice",
	Description:              "Voice presence of the guard workers",
	DefaultMemberPermissions: adminOnly,
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "join",
			Description: "Make the guard workers join a voice channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Voice channel to join",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
				},
			},
		},
	},
}

// ManageCommands are served by the management worker
func ManageCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{Whitelist, Guard, Punishment, Voice}
}
