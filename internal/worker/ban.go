package worker

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/guard/resolver"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/relay"
)

// BanWorker guards member bans and kicks. A member leaving with no matching
// kick entry in the audit trail left on their own and is ignored.
type BanWorker struct {
	handle HandleFunc
	now    func() time.Time
}

func (w *BanWorker) Options() bot.Options {
	return bot.Options{
		Intents: discordgo.IntentsGuilds |
			discordgo.IntentsGuildMembers |
			discordgo.IntentsGuildBans |
			discordgo.IntentsGuildVoiceStates,
	}
}

func (w *BanWorker) Attach(rt *Runtime) error {
	w.handle = rt.Handle
	w.now = time.Now

	rt.Session.AddHandler(w.onBanAdd)
	rt.Session.AddHandler(w.onMemberRemove)

	rt.Go("relay", voiceRelay(rt, relay.GuardFreshness))
	return nil
}

func (w *BanWorker) onBanAdd(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
	if b.User == nil {
		return
	}
	w.handle(resolver.Event{
		GuildID:    b.GuildID,
		Kind:       models.ActionMemberBan,
		Target:     models.Target{ID: b.User.ID, Kind: models.TargetUser, Name: b.User.Username},
		ObservedAt: w.now(),
		LiveCount:  resolver.UnknownCount,
	})
}

func (w *BanWorker) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil {
		return
	}
	w.handle(resolver.Event{
		GuildID:    m.GuildID,
		Kind:       models.ActionMemberKick,
		Target:     models.Target{ID: m.User.ID, Kind: models.TargetUser, Name: m.User.Username},
		ObservedAt: w.now(),
		LiveCount:  resolver.UnknownCount,
	})
}
