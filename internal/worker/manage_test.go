package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"discord-guard-bot/internal/commands"
	"discord-guard-bot/internal/models"
	"discord-guard-bot/internal/relay"
)

type fakeStore struct {
	mu        sync.Mutex
	profile   *models.GuardProfile
	whitelist map[string]*models.WhitelistEntry
	err       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profile:   models.DefaultGuardProfile("g1", "owner"),
		whitelist: make(map[string]*models.WhitelistEntry),
	}
}

func (s *fakeStore) ToggleGuard(_ context.Context, _ string, g models.Guard) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	next := !s.profile.Guards[g].Enabled
	s.profile.Guards[g] = models.GuardSetting{Enabled: next}
	return next, nil
}

func (s *fakeStore) SetPunishment(_ context.Context, _ string, p models.PunishmentType, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.PunishmentType = p
	s.profile.TimeoutDuration = timeout
	return s.err
}

func (s *fakeStore) SetLogChannel(_ context.Context, _, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.LogChannelID = channelID
	return s.err
}

func (s *fakeStore) AddWhitelist(_ context.Context, e *models.WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.whitelist[e.UserID] = e
	return nil
}

func (s *fakeStore) RemoveWhitelist(_ context.Context, _, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.whitelist[userID]
	delete(s.whitelist, userID)
	return ok, s.err
}

func (s *fakeStore) ListWhitelist(_ context.Context, _ string) ([]*models.WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WhitelistEntry
	for _, e := range s.whitelist {
		out = append(out, e)
	}
	return out, s.err
}

type fakeProfiles struct {
	store       *fakeStore
	invalidated int
}

func (p *fakeProfiles) Get(_ context.Context, _ string) (*models.GuardProfile, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	cp := *p.store.profile
	return &cp, nil
}

func (p *fakeProfiles) Invalidate(_ context.Context, _ string) error {
	p.invalidated++
	return nil
}

type fakeLog struct {
	records []models.IncidentRecord
	err     error
}

func (l *fakeLog) Append(_ context.Context, rec models.IncidentRecord) (*models.IncidentRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.records = append(l.records, rec)
	return &rec, nil
}

type fakeVoice struct {
	joined []string
}

func (v *fakeVoice) JoinVoice(_ context.Context, guildID, channelID string) (relay.Command, error) {
	v.joined = append(v.joined, guildID+"/"+channelID)
	return relay.Command{Action: relay.ActionJoinVoice, GuildID: guildID, ChannelID: channelID}, nil
}

type manageFixture struct {
	router   *commands.Router
	store    *fakeStore
	profiles *fakeProfiles
	log      *fakeLog
	voice    *fakeVoice
}

func newManage(t *testing.T) *manageFixture {
	t.Helper()
	f := &manageFixture{store: newFakeStore(), log: &fakeLog{}, voice: &fakeVoice{}}
	f.profiles = &fakeProfiles{store: f.store}
	w := &ManageWorker{
		store:    f.store,
		profiles: f.profiles,
		auth:     &fakeAuth{owner: "owner", allowed: map[string]bool{"mod": true}},
		log:      f.log,
		voice:    f.voice,
		logger:   zap.NewNop(),
		now:      fixedNow,
	}
	f.router = commands.NewRouter(nil, 0, zap.NewNop())
	w.register(f.router)
	return f
}

func (f *manageFixture) run(author, name, sub string, opts map[string]any) string {
	return f.router.Dispatch(context.Background(), commands.NewInvocation("g1", "here", author, name, sub, opts))
}

func TestManage_OwnerOnly(t *testing.T) {
	f := newManage(t)

	reply := f.run("mod", "whitelist", "add", map[string]any{"user": "u1"})
	assert.Equal(t, "You are not allowed to use this command.", reply, "whitelisted users cannot manage the guard")
	assert.Empty(t, f.store.whitelist)
}

func TestManage_WhitelistLifecycle(t *testing.T) {
	f := newManage(t)

	assert.Equal(t, "Whitelisted <@u1>.", f.run("owner", "whitelist", "add", map[string]any{"user": "u1", "reason": "trusted admin"}))
	reply := f.run("owner", "whitelist", "add", map[string]any{"user": "u2", "duration": "2h"})
	assert.Equal(t, "Whitelisted <@u2> until <t:1772373600:f>.", reply)

	e := f.store.whitelist["u2"]
	require.NotNil(t, e)
	assert.True(t, e.Temporary)
	assert.Equal(t, testNow.Add(2*time.Hour), e.ExpiresAt)
	assert.Equal(t, "owner", e.AddedBy)

	require.Len(t, f.log.records, 2)
	assert.Equal(t, models.ActionWhitelistAdd, f.log.records[0].Action)
	assert.Equal(t, "trusted admin", f.log.records[0].Reason)
	assert.Equal(t, "temporary until 2026-03-01T14:00:00Z", f.log.records[1].Reason)
	assert.Equal(t, 2, f.profiles.invalidated)

	list := f.run("owner", "whitelist", "list", nil)
	assert.Contains(t, list, "<@u1>")
	assert.Contains(t, list, "<@u2> until")

	assert.Equal(t, "Removed <@u1> from the whitelist.", f.run("owner", "whitelist", "remove", map[string]any{"user": "u1"}))
	assert.Equal(t, "<@u1> is not whitelisted.", f.run("owner", "whitelist", "remove", map[string]any{"user": "u1"}))
	assert.Equal(t, models.ActionWhitelistRemove, f.log.records[2].Action)
	assert.Len(t, f.log.records, 3)
}

func TestManage_WhitelistListSkipsLapsedEntries(t *testing.T) {
	f := newManage(t)
	f.store.whitelist["old"] = &models.WhitelistEntry{UserID: "old", Status: models.WhitelistActive, Temporary: true, ExpiresAt: testNow.Add(-time.Minute)}
	f.store.whitelist["off"] = &models.WhitelistEntry{UserID: "off", Status: models.WhitelistSuspended}

	assert.Equal(t, "The whitelist is empty.", f.run("owner", "whitelist", "list", nil))
}

func TestManage_WhitelistBadDuration(t *testing.T) {
	f := newManage(t)

	reply := f.run("owner", "whitelist", "add", map[string]any{"user": "u1", "duration": "soon"})
	assert.Equal(t, `"soon" is not a duration, use something like 30m or 12h.`, reply)
	assert.Empty(t, f.store.whitelist)
	assert.Empty(t, f.log.records)
}

func TestManage_GuardToggleAndStatus(t *testing.T) {
	f := newManage(t)

	assert.Equal(t, "Link Protection is now off.", f.run("owner", "guard", "toggle", map[string]any{"guard": "url"}))
	assert.Equal(t, "Link Protection is now on.", f.run("owner", "guard", "toggle", map[string]any{"guard": "URL"}))
	assert.Equal(t, `Unknown guard "nope".`, f.run("owner", "guard", "toggle", map[string]any{"guard": "nope"}))

	require.Len(t, f.log.records, 2)
	assert.Equal(t, models.ActionGuardDisable, f.log.records[0].Action)
	assert.Equal(t, models.ActionGuardEnable, f.log.records[1].Action)
	assert.Equal(t, models.Target{ID: "g1", Kind: models.TargetGuild, Name: "url"}, f.log.records[1].Target)

	f.run("owner", "guard", "toggle", map[string]any{"guard": "spam"})
	status := f.run("owner", "guard", "status", nil)
	assert.Contains(t, status, "Spam Protection: off")
	assert.Contains(t, status, "Channel Protection: on")
	assert.Contains(t, status, "Punishment: ban")
}

func TestManage_LogChannelIsNotRecorded(t *testing.T) {
	f := newManage(t)

	assert.Equal(t, "Incident notices go to <#logs>.", f.run("owner", "guard", "logs", map[string]any{"channel": "logs"}))
	assert.Equal(t, "logs", f.store.profile.LogChannelID)
	assert.Empty(t, f.log.records)
	assert.Contains(t, f.run("owner", "guard", "status", nil), "Log channel: <#logs>")
}

func TestManage_Punishment(t *testing.T) {
	f := newManage(t)

	assert.Equal(t, "The punishment set to timeout for 30m0s.",
		f.run("owner", "punishment", "set", map[string]any{"type": "timeout", "minutes": int64(30)}))
	assert.Equal(t, models.PunishmentTimeout, f.store.profile.PunishmentType)
	assert.Equal(t, 30*time.Minute, f.store.profile.TimeoutDuration)

	assert.Equal(t, "The punishment set to kick.", f.run("owner", "punishment", "set", map[string]any{"type": "kick"}))
	assert.Equal(t, models.DefaultTimeoutDuration, f.store.profile.TimeoutDuration)

	assert.Equal(t, `Unknown punishment "jail".`, f.run("owner", "punishment", "set", map[string]any{"type": "jail"}))
	require.Len(t, f.log.records, 2)
	assert.Equal(t, models.ActionPunishmentSet, f.log.records[1].Action)
}

func TestManage_RecordFailureDoesNotFailCommand(t *testing.T) {
	f := newManage(t)
	f.log.err = errors.New("db down")

	assert.Equal(t, "Whitelisted <@u1>.", f.run("owner", "whitelist", "add", map[string]any{"user": "u1"}))
	assert.Contains(t, f.store.whitelist, "u1")
}

func TestManage_StoreFailure(t *testing.T) {
	f := newManage(t)
	f.store.err = errors.New("db down")

	reply := f.run("owner", "guard", "toggle", map[string]any{"guard": "url"})
	assert.Equal(t, "Could not run /guard toggle: db down", reply)
	assert.Empty(t, f.log.records)
}

func TestManage_VoiceJoin(t *testing.T) {
	f := newManage(t)

	assert.Equal(t, "Give a voice channel.", f.run("owner", "voice", "join", nil))
	assert.Equal(t, "The guard workers will join <#vc>.", f.run("owner", "voice", "join", map[string]any{"channel": "vc"}))
	assert.Equal(t, []string{"g1/vc"}, f.voice.joined)
}
