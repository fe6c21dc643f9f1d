package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-guard-bot/internal/bot"
	"discord-guard-bot/internal/guard/resolver"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/relay"
)

// item is an emoji or sticker
type item struct {
	ID   string
	Name string
}

// knownSet tracks the emoji or sticker set of every guild. The platform only
// sends the full new set on change, so creations and deletions are derived
// by diffing against the previous one.
type knownSet struct {
	mu   sync.Mutex
	sets map[string]map[string]string // guild -> id -> name
}

func newKnownSet() *knownSet {
	return &knownSet{sets: make(map[string]map[string]string)}
}

// Replace stores next for the guild and returns what was added and removed.
// known is false the first time a guild is seen.
func (k *knownSet) Replace(guildID string, next []item) (added, removed []item, known bool) {
	nextSet := make(map[string]string, len(next))
	for _, it := range next {
		nextSet[it.ID] = it.Name
	}

	k.mu.Lock()
	prev, known := k.sets[guildID]
	k.sets[guildID] = nextSet
	k.mu.Unlock()

	if !known {
		return nil, nil, false
	}
	for id, name := range nextSet {
		if _, ok := prev[id]; !ok {
			added = append(added, item{ID: id, Name: name})
		}
	}
	for id, name := range prev {
		if _, ok := nextSet[id]; !ok {
			removed = append(removed, item{ID: id, Name: name})
		}
	}
	sortItems(added)
	sortItems(removed)
	return added, removed, true
}

func (k *knownSet) Forget(guildID string) {
	k.mu.Lock()
	delete(k.sets, guildID)
	k.mu.Unlock()
}

func sortItems(items []item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func emojiItems(emojis []*discordgo.Emoji) []item {
	out := make([]item, 0, len(emojis))
	for _, e := range emojis {
		if e != nil {
			out = append(out, item{ID: e.ID, Name: e.Name})
		}
	}
	return out
}

func stickerItems(stickers []*discordgo.Sticker) []item {
	out := make([]item, 0, len(stickers))
	for _, s := range stickers {
		if s != nil {
			out = append(out, item{ID: s.ID, Name: s.Name})
		}
	}
	return out
}

// EmojiWorker guards emojis, stickers and bot additions
type EmojiWorker struct {
	handle   HandleFunc
	emojis   *knownSet
	stickers *knownSet
	now      func() time.Time
}

func newEmojiWorker(handle HandleFunc) *EmojiWorker {
	return &EmojiWorker{
		handle:   handle,
		emojis:   newKnownSet(),
		stickers: newKnownSet(),
		now:      time.Now,
	}
}

func (w *EmojiWorker) Options() bot.Options {
	return bot.Options{
		Intents: discordgo.IntentsGuilds |
			discordgo.IntentsGuildMembers |
			discordgo.IntentsGuildEmojis |
			discordgo.IntentsGuildVoiceStates,
	}
}

func (w *EmojiWorker) Attach(rt *Runtime) error {
	w.handle = rt.Handle
	w.emojis = newKnownSet()
	w.stickers = newKnownSet()
	w.now = time.Now

	rt.Session.AddHandler(w.onGuildCreate)
	rt.Session.AddHandler(w.onGuildDelete)
	rt.Session.AddHandler(w.onEmojisUpdate)
	rt.Session.AddHandler(w.onStickersUpdate)
	rt.Session.AddHandler(w.onMemberAdd)

	rt.Go("relay", voiceRelay(rt, relay.GuardFreshness))
	return nil
}

func (w *EmojiWorker) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	w.emojis.Replace(g.ID, emojiItems(g.Emojis))
	w.stickers.Replace(g.ID, stickerItems(g.Stickers))
}

func (w *EmojiWorker) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	w.emojis.Forget(g.ID)
	w.stickers.Forget(g.ID)
}

func (w *EmojiWorker) onEmojisUpdate(_ *discordgo.Session, u *discordgo.GuildEmojisUpdate) {
	added, removed, known := w.emojis.Replace(u.GuildID, emojiItems(u.Emojis))
	if !known {
		return
	}
	w.emit(u.GuildID, models.TargetEmoji, models.ActionEmojiCreate, added)
	w.emit(u.GuildID, models.TargetEmoji, models.ActionEmojiDelete, removed)
}

func (w *EmojiWorker) onStickersUpdate(_ *discordgo.Session, u *discordgo.GuildStickersUpdate) {
	added, removed, known := w.stickers.Replace(u.GuildID, stickerItems(u.Stickers))
	if !known {
		return
	}
	w.emit(u.GuildID, models.TargetSticker, models.ActionStickerCreate, added)
	w.emit(u.GuildID, models.TargetSticker, models.ActionStickerDelete, removed)
}

func (w *EmojiWorker) emit(guildID string, kind models.TargetKind, action models.Action, items []item) {
	now := w.now()
	for _, it := range items {
		w.handle(resolver.Event{
			GuildID:    guildID,
			Kind:       action,
			Target:     models.Target{ID: it.ID, Kind: kind, Name: it.Name},
			ObservedAt: now,
			LiveCount:  resolver.UnknownCount,
		})
	}
}

func (w *EmojiWorker) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || !m.User.Bot {
		return
	}
	w.handle(resolver.Event{
		GuildID:    m.GuildID,
		Kind:       models.ActionBotAdd,
		Target:     models.Target{ID: m.User.ID, Kind: models.TargetUser, Name: m.User.Username},
		ObservedAt: w.now(),
		LiveCount:  resolver.UnknownCount,
	})
}
