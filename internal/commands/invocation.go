package commands

import (
	"github.com/bwmarrin/discordgo"
)

// Invocation is one decoded slash command call
type Invocation struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Name      string
	Sub       string // subcommand, empty for flat commands

	options map[string]any
}

// NewInvocation builds an invocation by hand, used by tests and the relay
func NewInvocation(guildID, channelID, authorID, name, sub string, options map[string]any) *Invocation {
	if options == nil {
		options = make(map[string]any)
	}
	return &Invocation{
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Name:      name,
		Sub:       sub,
		options:   options,
	}
}

// Decode reads an application command interaction. It returns false for
// every other interaction type and for calls made outside a guild.
func Decode(i *discordgo.InteractionCreate) (*Invocation, bool) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" {
		return nil, false
	}
	data := i.ApplicationCommandData()

	inv := NewInvocation(i.GuildID, i.ChannelID, authorID(i), data.Name, "", nil)

	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		inv.Sub = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		inv.options[o.Name] = optionValue(o)
	}
	return inv, true
}

func authorID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// optionValue flattens an option; users, channels and roles become their id
func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) any {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		return o.IntValue()
	case discordgo.ApplicationCommandOptionNumber:
		return o.FloatValue()
	case discordgo.ApplicationCommandOptionBoolean:
		return o.BoolValue()
	case discordgo.ApplicationCommandOptionString:
		return o.StringValue()
	default:
		id, _ := o.Value.(string)
		return id
	}
}

// String returns a string, user, channel or role option, or ""
func (inv *Invocation) String(name string) string {
	s, _ := inv.options[name].(string)
	return s
}

// Int returns an integer option and whether it was given
func (inv *Invocation) Int(name string) (int64, bool) {
	switch v := inv.options[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func (inv *Invocation) Bool(name string) bool {
	b, _ := inv.options[name].(bool)
	return b
}

// Path is the command name with its subcommand, e.g. "whitelist add"
func (inv *Invocation) Path() string {
	if inv.Sub == "" {
		return inv.Name
	}
	return inv.Name + " " + inv.Sub
}
