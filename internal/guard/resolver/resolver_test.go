package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"discord-guard-bot/internal/guard/attribution"
	"discord-guard-bot/internal/guard/emergency"
	"discord-guard-bot/internal/guard/gate"
	"discord-guard-bot/internal/guard/incident"
	"discord-guard-bot/internal/guard/massdelete"
	"discord-guard-bot/internal/guard/ratewindow"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/platform"
	"discord-guard-bot/internal/platform/platformtest"
)

const (
	guildID = "g1"
	owner   = "owner"
	nuker   = "nuker"
)

type fakeGate struct {
	profile    *models.GuardProfile
	authorized map[string]bool
	enabled    int
}

func (g *fakeGate) IsGuardEnabled(ctx context.Context, guildID string, guard models.Guard) bool {
	g.enabled++
	return g.profile.GuardEnabled(guard)
}

func (g *fakeGate) Authorize(ctx context.Context, guildID, actorID string) gate.Decision {
	if actorID == owner || g.authorized[actorID] {
		return gate.Authorized
	}
	return gate.Denied
}

func (g *fakeGate) Profile(ctx context.Context, guildID string) (*models.GuardProfile, error) {
	return g.profile, nil
}

type fakeEmergency struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (e *fakeEmergency) Activate(ctx context.Context, guildID, trigger string) (emergency.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = append(e.triggers, trigger)
	return emergency.Report{GuildID: guildID, Trigger: trigger, ActorBans: 1, LockedChannels: 2}, e.err
}

type memStore struct {
	mu      sync.Mutex
	records []models.IncidentRecord
}

func (m *memStore) InsertIncident(ctx context.Context, r *models.IncidentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

type harness struct {
	fake      *platformtest.Fake
	gate      *fakeGate
	window    *ratewindow.Window
	mass      *massdelete.Detector
	emergency *fakeEmergency
	store     *memStore
	resolver  *Resolver
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:      platformtest.New(),
		gate:      &fakeGate{profile: models.DefaultGuardProfile(guildID, owner), authorized: map[string]bool{}},
		window:    ratewindow.New(),
		mass:      massdelete.New(massdelete.DefaultThreshold),
		emergency: &fakeEmergency{},
		store:     &memStore{},
		now:       time.Now(),
	}
	logger := zap.NewNop()
	h.resolver = New(Deps{
		Client:     h.fake,
		Gate:       h.gate,
		Attributor: attribution.New(h.fake, 15*time.Second, logger),
		Window:     h.window,
		Mass:       h.mass,
		Emergency:  h.emergency,
		Log:        incident.New(h.store, "test", logger),
		Worker:     "test",
	}, DefaultPolicies(Limits{}), logger)
	return h
}

// deleteChannel simulates an audited channel deletion by actor
func (h *harness) deleteChannel(actor, channelID string, live int) Event {
	h.fake.AddAudit(guildID, platform.AuditEntry{
		Action:    discordgo.AuditLogActionChannelDelete,
		ActorID:   actor,
		TargetID:  channelID,
		CreatedAt: h.now,
	})
	return Event{
		GuildID:    guildID,
		Kind:       models.ActionChannelDelete,
		Target:     models.Target{ID: channelID, Kind: models.TargetChannel, Name: "general-" + channelID},
		ObservedAt: h.now,
		Channel: &platform.Channel{
			ID:       channelID,
			GuildID:  guildID,
			Name:     "general-" + channelID,
			Type:     discordgo.ChannelTypeGuildText,
			Position: 4,
			ParentID: "cat",
			Topic:    "talk",
			NSFW:     true,
		},
		LiveCount: live,
	}
}

func (h *harness) records() []models.IncidentRecord {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return append([]models.IncidentRecord(nil), h.store.records...)
}

func TestSingleChannelDelete_RecreatesBansAndRecords(t *testing.T) {
	h := newHarness(t)
	ev := h.deleteChannel(nuker, "c1", UnknownCount)

	out := h.resolver.Handle(context.Background(), ev)
	assert.Equal(t, Responded, out)

	assert.Equal(t, []string{"CreateChannel", "Ban"}, h.fake.Methods(), "revert before punish")
	created := h.fake.CallsTo("CreateChannel")[0].Channel
	assert.Equal(t, "general-c1", created.Name)
	assert.Equal(t, discordgo.ChannelTypeGuildText, created.Type)
	assert.Equal(t, 4, created.Position)
	assert.Equal(t, "cat", created.ParentID)
	assert.Equal(t, "talk", created.Topic)
	assert.True(t, created.NSFW)
	assert.Equal(t, nuker, h.fake.CallsTo("Ban")[0].Target)

	recs := h.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.ActionChannelDelete, recs[0].Action)
	assert.Equal(t, models.SeverityHigh, recs[0].Severity)
	assert.False(t, recs[0].AntiRaid.IsRaidAction)
	assert.Equal(t, nuker, recs[0].Executor.ID)
	assert.True(t, recs[0].Punishment.Applied)
	assert.True(t, recs[0].Punishment.Success)
	assert.Equal(t, models.PunishmentBan, recs[0].Punishment.Type)
	assert.Empty(t, h.emergency.triggers)
}

func TestThirdRepeatEscalatesAndResetsWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, Responded, h.resolver.Handle(ctx, h.deleteChannel(nuker, "c1", UnknownCount)))
	assert.Equal(t, Responded, h.resolver.Handle(ctx, h.deleteChannel(nuker, "c2", UnknownCount)))
	assert.Equal(t, Escalated, h.resolver.Handle(ctx, h.deleteChannel(nuker, "c3", UnknownCount)))

	assert.Equal(t, []string{"rate"}, h.emergency.triggers)
	key := ratewindow.Key{GuildID: guildID, ActorID: nuker, Kind: models.ActionChannelDelete}
	assert.Zero(t, h.window.Count(key, h.now, DefaultWindow), "key cleared on escalation")

	recs := h.records()
	require.Len(t, recs, 3)
	raid := recs[2]
	assert.Equal(t, models.ActionRaidDetected, raid.Action)
	assert.Equal(t, models.SeverityCritical, raid.Severity)
	assert.True(t, raid.AntiRaid.IsRaidAction)
	assert.NotEmpty(t, raid.AntiRaid.RaidID)
	assert.Equal(t, 3, raid.AntiRaid.MassActionCount)
	assert.Len(t, h.fake.CallsTo("CreateChannel"), 2, "escalated event is not reverted")

	// the next repeat starts a fresh window
	assert.Equal(t, Responded, h.resolver.Handle(ctx, h.deleteChannel(nuker, "c4", UnknownCount)))
	assert.Equal(t, 1, h.window.Count(key, h.now, DefaultWindow))
}

func TestAttributionMissIsSilent(t *testing.T) {
	h := newHarness(t)
	ev := h.deleteChannel(nuker, "c1", UnknownCount)
	h.fake.Audit[guildID] = nil

	assert.Equal(t, Unattributed, h.resolver.Handle(context.Background(), ev))
	assert.Empty(t, h.records())
	assert.Empty(t, h.fake.Calls())
	assert.Zero(t, h.window.GetStats().ActiveKeys)
}

func TestStaleAuditEntryIsNotAttributed(t *testing.T) {
	h := newHarness(t)
	ev := h.deleteChannel(nuker, "c1", UnknownCount)
	ev.ObservedAt = h.now.Add(time.Minute)

	assert.Equal(t, Unattributed, h.resolver.Handle(context.Background(), ev))
	assert.Empty(t, h.records())
}

func TestAuthorizedActorStops(t *testing.T) {
	for _, actor := range []string{owner, "trusted"} {
		t.Run(actor, func(t *testing.T) {
			h := newHarness(t)
			h.gate.authorized["trusted"] = true

			for i := 0; i < 5; i++ {
				assert.Equal(t, Authorized, h.resolver.Handle(context.Background(), h.deleteChannel(actor, "c", UnknownCount)))
			}
			assert.Empty(t, h.records())
			assert.Empty(t, h.fake.Calls())
			assert.Zero(t, h.window.GetStats().ActiveKeys)
			assert.Empty(t, h.emergency.triggers)
		})
	}
}

func TestDisabledGuardStopsBeforeAttribution(t *testing.T) {
	h := newHarness(t)
	h.gate.profile.Guards[models.GuardChannel] = models.GuardSetting{Enabled: false}

	assert.Equal(t, Disabled, h.resolver.Handle(context.Background(), h.deleteChannel(nuker, "c1", UnknownCount)))
	assert.Zero(t, h.fake.AuditFetches())
	assert.Empty(t, h.records())
}

func TestUnknownKindIsIgnored(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, Ignored, h.resolver.Handle(context.Background(), Event{GuildID: guildID, Kind: models.ActionGuardEnable}))
	assert.Zero(t, h.gate.enabled)
}

func TestMassDeleteEscalates(t *testing.T) {
	h := newHarness(t)
	h.mass.Capture(guildID, 20)

	out := h.resolver.Handle(context.Background(), h.deleteChannel(nuker, "c1", 15))
	assert.Equal(t, Escalated, out)
	assert.Equal(t, []string{"mass_delete"}, h.emergency.triggers)

	recs := h.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.ActionMassDelete, recs[0].Action)
	assert.Equal(t, models.SeverityCritical, recs[0].Severity)
	assert.Equal(t, 5, recs[0].AntiRaid.MassActionCount)

	snap, ok := h.mass.Snapshot(guildID)
	require.True(t, ok)
	assert.Equal(t, 15, snap.Count)
	assert.Zero(t, h.window.GetStats().ActiveKeys, "mass path does not touch the window")
}

func TestAfterEscalateRuns(t *testing.T) {
	h := newHarness(t)
	var refreshed []string
	h.resolver.AfterEscalate = func(ctx context.Context, guildID string) {
		refreshed = append(refreshed, guildID)
	}
	h.mass.Capture(guildID, 10)

	h.resolver.Handle(context.Background(), h.deleteChannel(nuker, "c1", 4))
	assert.Equal(t, []string{guildID}, refreshed)
}

func TestEscalationInFlightStillRecorded(t *testing.T) {
	h := newHarness(t)
	h.emergency.err = emergency.ErrInFlight
	h.mass.Capture(guildID, 10)

	assert.Equal(t, Escalated, h.resolver.Handle(context.Background(), h.deleteChannel(nuker, "c1", 2)))
	recs := h.records()
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Reason, "in flight")
}

func TestFailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail["CreateChannel"] = true
	h.fake.Fail["Ban"] = true

	assert.Equal(t, Responded, h.resolver.Handle(context.Background(), h.deleteChannel(nuker, "c1", UnknownCount)))
	assert.Equal(t, []string{"CreateChannel", "Ban"}, h.fake.Methods())

	recs := h.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Punishment.Applied)
	assert.False(t, recs[0].Punishment.Success)
	assert.Contains(t, recs[0].Punishment.Error, platformtest.ErrInjected.Error())
}

func TestProfilePunishmentIsUsed(t *testing.T) {
	h := newHarness(t)
	h.gate.profile.PunishmentType = models.PunishmentTimeout
	h.gate.profile.TimeoutDuration = 3 * time.Minute
	h.fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionRoleDelete, ActorID: nuker, CreatedAt: h.now})

	out := h.resolver.Handle(context.Background(), Event{
		GuildID:    guildID,
		Kind:       models.ActionRoleDelete,
		Target:     models.Target{ID: "r1", Kind: models.TargetRole},
		ObservedAt: h.now,
	})
	assert.Equal(t, Responded, out)

	calls := h.fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Timeout", calls[0].Method)
	assert.Equal(t, 3*time.Minute, calls[0].Timeout)
}

func TestBanRevertUnbansVictim(t *testing.T) {
	h := newHarness(t)
	h.fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionMemberBanAdd, ActorID: nuker, TargetID: "victim", CreatedAt: h.now})

	ev := Event{GuildID: guildID, Kind: models.ActionMemberBan, Target: models.Target{ID: "victim", Kind: models.TargetUser}, ObservedAt: h.now}
	assert.Equal(t, Responded, h.resolver.Handle(context.Background(), ev))
	assert.Equal(t, []string{"Unban", "Ban"}, h.fake.Methods())
	assert.Equal(t, "victim", h.fake.CallsTo("Unban")[0].Target)

	// an entry about someone else is not this ban
	ev.Target.ID = "other"
	assert.Equal(t, Unattributed, h.resolver.Handle(context.Background(), ev))
}

func TestInviteLinkDeletesAndTimesOut(t *testing.T) {
	h := newHarness(t)
	out := h.resolver.Handle(context.Background(), Event{
		GuildID:   guildID,
		Kind:      models.ActionInviteLink,
		Actor:     &attribution.Actor{ID: "spammer", Tag: "spammer#0"},
		Target:    models.Target{ID: "m1", Kind: models.TargetMessage},
		ChannelID: "ch",
		MessageID: "m1",
	})
	assert.Equal(t, Responded, out)
	assert.Equal(t, []string{"DeleteMessage", "Timeout"}, h.fake.Methods())
	assert.Equal(t, 10*time.Minute, h.fake.CallsTo("Timeout")[0].Timeout)
	assert.Zero(t, h.fake.AuditFetches(), "message authors are pre-attributed")

	recs := h.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.PunishmentTimeout, recs[0].Punishment.Type)
}

func TestMessageFloodPurgesAndEscalates(t *testing.T) {
	h := newHarness(t)
	h.fake.Messages["ch"] = []platform.Message{
		{ID: "m5", ChannelID: "ch", AuthorID: "spammer", CreatedAt: h.now},
		{ID: "other", ChannelID: "ch", AuthorID: "bystander", CreatedAt: h.now},
		{ID: "m4", ChannelID: "ch", AuthorID: "spammer", CreatedAt: h.now.Add(-2 * time.Second)},
		{ID: "old", ChannelID: "ch", AuthorID: "spammer", CreatedAt: h.now.Add(-time.Minute)},
	}
	actor := &attribution.Actor{ID: "spammer"}

	for i := 0; i < FloodThreshold-1; i++ {
		out := h.resolver.Handle(context.Background(), Event{GuildID: guildID, Kind: models.ActionMessageFlood, Actor: actor, ChannelID: "ch", ObservedAt: h.now})
		assert.Equal(t, Observed, out)
	}
	assert.Empty(t, h.fake.Calls())
	assert.Empty(t, h.records())

	out := h.resolver.Handle(context.Background(), Event{GuildID: guildID, Kind: models.ActionMessageFlood, Actor: actor, ChannelID: "ch", ObservedAt: h.now})
	assert.Equal(t, Escalated, out)

	deleted := h.fake.CallsTo("DeleteMessage")
	require.Len(t, deleted, 2)
	assert.Equal(t, "m5", deleted[0].Target)
	assert.Equal(t, "m4", deleted[1].Target)
	assert.Equal(t, []string{"rate"}, h.emergency.triggers)

	recs := h.records()
	require.Len(t, recs, 1)
	assert.Equal(t, FloodThreshold, recs[0].AntiRaid.MassActionCount)
}

func TestWebhookRevertDeletesOnlyActorsHooks(t *testing.T) {
	h := newHarness(t)
	h.fake.Webhooks["ch"] = []platform.Webhook{
		{ID: "w1", ChannelID: "ch", CreatorID: nuker},
		{ID: "w2", ChannelID: "ch", CreatorID: "someone"},
		{ID: "w3", ChannelID: "ch", CreatorID: nuker},
	}
	h.gate.profile.PunishmentType = models.PunishmentWarn
	h.fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionWebhookCreate, ActorID: nuker, TargetID: "w3", CreatedAt: h.now})

	out := h.resolver.Handle(context.Background(), Event{GuildID: guildID, Kind: models.ActionWebhookCreate, ChannelID: "ch", Target: models.Target{ID: "ch", Kind: models.TargetChannel}})
	assert.Equal(t, Responded, out)
	assert.Equal(t, []string{"DeleteWebhook", "DeleteWebhook", "Ban"}, h.fake.Methods(), "webhook punishment is always a ban")
	assert.Equal(t, "w1", h.fake.CallsTo("DeleteWebhook")[0].Target)
	assert.Equal(t, "w3", h.fake.CallsTo("DeleteWebhook")[1].Target)
}

func TestWebhookEchoIsAnsweredOnce(t *testing.T) {
	h := newHarness(t)
	h.fake.Webhooks["ch"] = []platform.Webhook{{ID: "w1", ChannelID: "ch", CreatorID: nuker}}
	h.fake.AddAudit(guildID, platform.AuditEntry{ID: "a1", Action: discordgo.AuditLogActionWebhookCreate, ActorID: nuker, TargetID: "w1", CreatedAt: h.now})
	ev := Event{GuildID: guildID, Kind: models.ActionWebhookCreate, ChannelID: "ch", Target: models.Target{ID: "ch", Kind: models.TargetChannel}}

	assert.Equal(t, Responded, h.resolver.Handle(context.Background(), ev))
	assert.Equal(t, Ignored, h.resolver.Handle(context.Background(), ev), "the update echoed by the revert resolves to the same audit entry")
	assert.Len(t, h.fake.CallsTo("Ban"), 1)
	assert.Len(t, h.records(), 1)

	h.fake.AddAudit(guildID, platform.AuditEntry{ID: "a2", Action: discordgo.AuditLogActionWebhookCreate, ActorID: nuker, TargetID: "w2", CreatedAt: h.now})
	assert.Equal(t, Responded, h.resolver.Handle(context.Background(), ev), "a new audit entry is answered")
	assert.Len(t, h.records(), 2)
}

func TestEntrySetExpires(t *testing.T) {
	s := newEntrySet()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, s.claim("g1:webhook_create:a1", at))
	assert.False(t, s.claim("g1:webhook_create:a1", at.Add(entryTTL)))
	assert.True(t, s.claim("g1:webhook_create:a1", at.Add(entryTTL+time.Second)))
	assert.Len(t, s.seen, 1)
}

func TestVanityRestore(t *testing.T) {
	h := newHarness(t)
	h.fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionGuildUpdate, ActorID: nuker, CreatedAt: h.now})

	out := h.resolver.Handle(context.Background(), Event{
		GuildID:  guildID,
		Kind:     models.ActionVanityChange,
		Target:   models.Target{ID: guildID, Kind: models.TargetGuild},
		Previous: "cool",
		Detail:   "cool -> stolen",
	})
	assert.Equal(t, Responded, out)
	assert.Equal(t, []string{"SetVanityCode", "Timeout"}, h.fake.Methods())
	assert.Equal(t, "cool", h.fake.CallsTo("SetVanityCode")[0].Target)
	assert.Equal(t, 30*time.Minute, h.fake.CallsTo("Timeout")[0].Timeout)
	assert.Contains(t, h.records()[0].Reason, "cool -> stolen")
}

func TestKickIsNotReverted(t *testing.T) {
	h := newHarness(t)
	h.fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionMemberKick, ActorID: nuker, TargetID: "victim", CreatedAt: h.now})

	out := h.resolver.Handle(context.Background(), Event{GuildID: guildID, Kind: models.ActionMemberKick, Target: models.Target{ID: "victim", Kind: models.TargetUser}})
	assert.Equal(t, Responded, out)
	assert.Equal(t, []string{"Ban"}, h.fake.Methods())
}
