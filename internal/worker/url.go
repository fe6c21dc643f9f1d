package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/guard/attribution"
	"discord-guard-bot/internal/guard/resolver"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/relay"
)

// messageCache is how many messages the url worker keeps to compare edits
const messageCache = 500

// URLWorker guards messages (flood, invite and unsafe links, edits that add
// them), webhook creation and vanity url changes
type URLWorker struct {
	handle HandleFunc
	links  *LinkClassifier
	now    func() time.Time

	mu     sync.Mutex
	vanity map[string]string // guild -> last seen vanity code
}

func newURLWorker(handle HandleFunc, safeDomains []string) *URLWorker {
	w := &URLWorker{}
	w.init(handle, safeDomains)
	return w
}

func (w *URLWorker) init(handle HandleFunc, safeDomains []string) {
	w.handle = handle
	w.links = NewLinkClassifier(safeDomains)
	w.now = time.Now
	w.vanity = make(map[string]string)
}

func (w *URLWorker) Options() bot.Options {
	return bot.Options{
		Intents: discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent |
			discordgo.IntentsGuildWebhooks |
			discordgo.IntentsGuildVoiceStates,
		MessageCache: messageCache,
	}
}

func (w *URLWorker) Attach(rt *Runtime) error {
	w.init(rt.Handle, rt.Config.Guard.SafeDomains)

	rt.Session.AddHandler(w.onGuildCreate)
	rt.Session.AddHandler(w.onGuildUpdate)
	rt.Session.AddHandler(w.onMessageCreate)
	rt.Session.AddHandler(w.onMessageUpdate)
	rt.Session.AddHandler(w.onWebhooksUpdate)

	rt.Go("relay", voiceRelay(rt, relay.GuardFreshness))
	return nil
}

func messageEvent(kind models.Action, m *discordgo.Message, actor *attribution.Actor, now time.Time) resolver.Event {
	return resolver.Event{
		GuildID:    m.GuildID,
		Kind:       kind,
		Target:     models.Target{ID: m.ID, Kind: models.TargetMessage},
		ObservedAt: now,
		Actor:      actor,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		LiveCount:  resolver.UnknownCount,
	}
}

func humanAuthor(m *discordgo.Message) (*attribution.Actor, bool) {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot || m.WebhookID != "" {
		return nil, false
	}
	return &attribution.Actor{ID: m.Author.ID, Tag: m.Author.String()}, true
}

// onMessageCreate counts every message toward the author's flood window,
// then judges its links
func (w *URLWorker) onMessageCreate(_ *discordgo.Session, mc *discordgo.MessageCreate) {
	actor, ok := humanAuthor(mc.Message)
	if !ok {
		return
	}
	now := w.now()

	switch w.handle(messageEvent(models.ActionMessageFlood, mc.Message, actor, now)) {
	case resolver.Authorized, resolver.Escalated:
		return
	}

	var kind models.Action
	switch w.links.Classify(mc.Content) {
	case InviteLink:
		kind = models.ActionInviteLink
	case SuspiciousLink:
		kind = models.ActionSuspiciousURL
	default:
		return
	}
	w.handle(messageEvent(kind, mc.Message, actor, now))
}

// onMessageUpdate judges edits. Without the cached previous content an edit
// cannot be told apart from the original message and is skipped.
func (w *URLWorker) onMessageUpdate(_ *discordgo.Session, mu *discordgo.MessageUpdate) {
	if mu.BeforeUpdate == nil || mu.Message == nil {
		return
	}
	m := mu.Message
	if m.Author == nil {
		m.Author = mu.BeforeUpdate.Author
	}
	if m.GuildID == "" {
		m.GuildID = mu.BeforeUpdate.GuildID
	}
	actor, ok := humanAuthor(m)
	if !ok || m.Content == "" {
		return
	}

	var kind models.Action
	switch w.links.ClassifyEdit(mu.BeforeUpdate.Content, m.Content) {
	case InviteLink:
		kind = models.ActionEditedInvite
	case SuspiciousLink:
		kind = models.ActionEditedURL
	default:
		return
	}
	w.handle(messageEvent(kind, m, actor, w.now()))
}

func (w *URLWorker) onWebhooksUpdate(_ *discordgo.Session, u *discordgo.WebhooksUpdate) {
	w.handle(resolver.Event{
		GuildID:    u.GuildID,
		Kind:       models.ActionWebhookCreate,
		Target:     models.Target{ID: u.ChannelID, Kind: models.TargetWebhook},
		ObservedAt: w.now(),
		ChannelID:  u.ChannelID,
		LiveCount:  resolver.UnknownCount,
	})
}

func (w *URLWorker) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	w.mu.Lock()
	w.vanity[g.ID] = g.VanityURLCode
	w.mu.Unlock()
}

// swapVanity stores code and returns the previous one
func (w *URLWorker) swapVanity(guildID, code string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	old, ok := w.vanity[guildID]
	w.vanity[guildID] = code
	return old, ok
}

func (w *URLWorker) onGuildUpdate(_ *discordgo.Session, g *discordgo.GuildUpdate) {
	old, known := w.swapVanity(g.ID, g.VanityURLCode)
	if !known || old == g.VanityURLCode {
		return
	}
	w.handle(resolver.Event{
		GuildID:    g.ID,
		Kind:       models.ActionVanityChange,
		Target:     models.Target{ID: g.ID, Kind: models.TargetGuild, Name: g.Name},
		ObservedAt: w.now(),
		Previous:   old,
		Detail:     fmt.Sprintf("%q -> %q", old, g.VanityURLCode),
		LiveCount:  resolver.UnknownCount,
	})
}
