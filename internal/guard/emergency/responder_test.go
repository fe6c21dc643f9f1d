package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"discord-guard-bot/internal/platform"
	"discord-guard-bot/internal/platform/platformtest"
)

const guildID = "g1"

type fakeAuth struct {
	owner       string
	trusted     map[string]bool
	whitelisted map[string]bool
}

func (f *fakeAuth) IsOwner(guildID, actorID string) bool { return actorID == f.owner }
func (f *fakeAuth) IsTrusted(actorID string) bool        { return f.trusted[actorID] }
func (f *fakeAuth) IsAuthorized(ctx context.Context, guildID, actorID string) bool {
	return actorID == f.owner || f.trusted[actorID] || f.whitelisted[actorID]
}

type fakeLocker struct {
	mu      sync.Mutex
	held    map[string]string
	err     error
	extends int
}

func (l *fakeLocker) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = token
	return true, nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *fakeLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return false, nil
	}
	l.extends++
	return true, nil
}

func (l *fakeLocker) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

// slowMembers delays the member listing so an activation outlives the lock ttl.
type slowMembers struct {
	*platformtest.Fake
	delay time.Duration
}

func (s slowMembers) ListMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	time.Sleep(s.delay)
	return s.Fake.ListMembers(ctx, guildID)
}

func newResponder(t *testing.T, client platform.Client, locker Locker, now time.Time) *Responder {
	t.Helper()
	auth := &fakeAuth{
		owner:       "owner",
		trusted:     map[string]bool{"engine": true},
		whitelisted: map[string]bool{"wl": true},
	}
	r, err := New(client, auth, locker, Config{BanRate: rate.Inf}, zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }
	return r
}

func targets(calls []platformtest.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Target)
	}
	return out
}

func TestActivate_RunsStepsInOrder(t *testing.T) {
	now := time.Now()
	fake := platformtest.New()
	fake.Members[guildID] = []platform.Member{
		{ID: "owner", Username: "boss", JoinedAt: now.Add(-time.Minute)},
		{ID: "engine", Username: "engine", JoinedAt: now.Add(-time.Minute)},
		{ID: "wl", Username: "helper", JoinedAt: now.Add(-time.Minute)},
		{ID: "helper-bot", Username: "Henzy Guard", JoinedAt: now.Add(-time.Minute)},
		{ID: "raider1", Username: "raider1", JoinedAt: now.Add(-2 * time.Minute)},
		{ID: "raider2", Username: "raider2", JoinedAt: now.Add(-9 * time.Minute)},
		{ID: "veteran", Username: "veteran", JoinedAt: now.Add(-11 * time.Minute)},
	}
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionChannelDelete, ActorID: "old", CreatedAt: now.Add(-6 * time.Minute)})
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionRoleDelete, ActorID: "nuker", CreatedAt: now.Add(-time.Minute)})
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionChannelDelete, ActorID: "nuker", CreatedAt: now.Add(-30 * time.Second)})
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionChannelCreate, ActorID: "builder", CreatedAt: now})
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionMemberBanAdd, ActorID: "raider1", CreatedAt: now})
	fake.AddAudit(guildID, platform.AuditEntry{Action: discordgo.AuditLogActionChannelDelete, ActorID: "wl", CreatedAt: now})
	fake.Channels[guildID] = []platform.Channel{
		{ID: "text", Type: discordgo.ChannelTypeGuildText, Position: 0},
		{ID: "voice", Type: discordgo.ChannelTypeGuildVoice, Position: 1},
		{ID: "cat", Type: discordgo.ChannelTypeGuildCategory, Position: 2},
	}

	r := newResponder(t, fake, nil, now)
	rep, err := r.Activate(context.Background(), guildID, "rate")
	require.NoError(t, err)

	bans := fake.CallsTo("Ban")
	assert.Equal(t, []string{"raider1", "raider2", "nuker"}, targets(bans))
	assert.Equal(t, ReasonRecentJoin, bans[0].Reason)
	assert.Equal(t, ReasonActivity, bans[2].Reason)

	locks := fake.CallsTo("SetChannelPermissions")
	assert.Equal(t, []string{"text", "voice"}, targets(locks))
	for _, l := range locks {
		assert.Equal(t, guildID, l.GuildID, "lock targets @everyone")
		assert.Equal(t, int64(platform.LockdownDeny), l.Deny)
	}

	assert.Equal(t, []string{"Ban", "Ban", "Ban", "SetChannelPermissions", "SetChannelPermissions"}, fake.Methods())
	assert.Equal(t, 2, rep.JoinBans)
	assert.Equal(t, 1, rep.ActorBans)
	assert.Equal(t, 3, rep.Banned())
	assert.Equal(t, 2, rep.LockedChannels)
	assert.Zero(t, rep.Failures)
}

func TestActivate_FailuresDoNotStopSequence(t *testing.T) {
	now := time.Now()
	fake := platformtest.New()
	fake.Members[guildID] = []platform.Member{
		{ID: "a", Username: "a", JoinedAt: now},
		{ID: "b", Username: "b", JoinedAt: now},
	}
	fake.FailTarget["a"] = true
	fake.FailTarget["text1"] = true
	fake.Fail["FetchAuditEntries"] = true
	fake.Channels[guildID] = []platform.Channel{
		{ID: "text1", Type: discordgo.ChannelTypeGuildText, Position: 0},
		{ID: "text2", Type: discordgo.ChannelTypeGuildText, Position: 1},
	}

	r := newResponder(t, fake, nil, now)
	rep, err := r.Activate(context.Background(), guildID, "rate")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, targets(fake.CallsTo("Ban")))
	assert.Equal(t, []string{"text1", "text2"}, targets(fake.CallsTo("SetChannelPermissions")))
	assert.Equal(t, 1, rep.JoinBans)
	assert.Equal(t, 1, rep.LockedChannels)
	assert.Equal(t, 3, rep.Failures)
}

// blockingClient holds ListMembers until released
type blockingClient struct {
	*platformtest.Fake
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClient) ListMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	close(b.entered)
	<-b.release
	return b.Fake.ListMembers(ctx, guildID)
}

func TestActivate_SecondCallWhileRunningIsRejected(t *testing.T) {
	client := &blockingClient{Fake: platformtest.New(), entered: make(chan struct{}), release: make(chan struct{})}
	r := newResponder(t, client, nil, time.Now())

	done := make(chan error, 1)
	go func() {
		_, err := r.Activate(context.Background(), guildID, "rate")
		done <- err
	}()
	<-client.entered

	_, err := r.Activate(context.Background(), guildID, "mass_delete")
	assert.ErrorIs(t, err, ErrInFlight)

	close(client.release)
	require.NoError(t, <-done)

	// flag is released once the first run finishes
	client.entered = make(chan struct{})
	client.release = make(chan struct{})
	close(client.release)
	_, err = r.Activate(context.Background(), guildID, "rate")
	assert.NoError(t, err)
}

func TestActivate_CrossProcessLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{"guard:emergency:" + guildID: "other-worker"}}
	fake := platformtest.New()
	r := newResponder(t, fake, locker, time.Now())

	_, err := r.Activate(context.Background(), guildID, "rate")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Empty(t, fake.Calls())

	delete(locker.held, "guard:emergency:"+guildID)
	_, err = r.Activate(context.Background(), guildID, "rate")
	require.NoError(t, err)
	assert.Empty(t, locker.held, "lock released after the run")
}

func TestActivate_RenewsLockWhileRunning(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}}
	fake := platformtest.New()
	fake.Channels[guildID] = []platform.Channel{{ID: "text", Type: discordgo.ChannelTypeGuildText}}
	r := newResponder(t, slowMembers{Fake: fake, delay: 150 * time.Millisecond}, locker, time.Now())
	r.cfg.LockTTL = 30 * time.Millisecond

	rep, err := r.Activate(context.Background(), guildID, "rate")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LockedChannels)
	assert.GreaterOrEqual(t, locker.extendCount(), 2, "lock renewed while the run outlived its ttl")
	assert.Empty(t, locker.held, "lock released after the run")

	after := locker.extendCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, locker.extendCount(), "renewal stops with the run")
}

func TestKeepLock_StopsWhenLockIsLost(t *testing.T) {
	key := "guard:emergency:" + guildID
	locker := &fakeLocker{held: map[string]string{key: "mine"}}
	r := newResponder(t, platformtest.New(), locker, time.Now())
	r.cfg.LockTTL = 15 * time.Millisecond

	stop := r.keepLock(context.Background(), guildID, key, "mine")
	require.Eventually(t, func() bool { return locker.extendCount() > 0 }, time.Second, 5*time.Millisecond)

	locker.mu.Lock()
	locker.held[key] = "someone-else"
	locker.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	lost := locker.extendCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, lost, locker.extendCount())
	stop()
}

func TestActivate_LockErrorFallsBackToLocalFlag(t *testing.T) {
	locker := &fakeLocker{held: map[string]string{}, err: assert.AnError}
	fake := platformtest.New()
	fake.Channels[guildID] = []platform.Channel{{ID: "text", Type: discordgo.ChannelTypeGuildText}}
	r := newResponder(t, fake, locker, time.Now())

	rep, err := r.Activate(context.Background(), guildID, "rate")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.LockedChannels)
}

func TestActivate_IgnoresCancellationOnceStarted(t *testing.T) {
	now := time.Now()
	fake := platformtest.New()
	fake.Members[guildID] = []platform.Member{{ID: "raider", Username: "raider", JoinedAt: now}}
	fake.Channels[guildID] = []platform.Channel{{ID: "text", Type: discordgo.ChannelTypeGuildText}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newResponder(t, fake, nil, now)
	rep, err := r.Activate(ctx, guildID, "rate")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.JoinBans)
	assert.Equal(t, 1, rep.LockedChannels)
}

func TestNew_InvalidAllowPattern(t *testing.T) {
	_, err := New(platformtest.New(), &fakeAuth{}, nil, Config{AllowPattern: "("}, zap.NewNop())
	assert.Error(t, err)
}
