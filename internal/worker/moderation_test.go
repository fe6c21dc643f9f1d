package worker

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"discord-guard-bot/internal/commands"
	"discord-guard-bot/internal/platform/platformtest"
)

type fakeAuth struct {
	owner   string
	allowed map[string]bool
}

func (a *fakeAuth) IsOwner(_, actorID string) bool { return actorID == a.owner }

func (a *fakeAuth) IsAuthorized(_ context.Context, _, actorID string) bool {
	return actorID == a.owner || a.allowed[actorID]
}

func newModeration(t *testing.T) (*commands.Router, *platformtest.Fake) {
	t.Helper()
	fake := platformtest.New()
	w := &ModerationWorker{
		client: fake,
		auth:   &fakeAuth{owner: "owner", allowed: map[string]bool{"mod": true}},
		logger: zap.NewNop(),
	}
	r := commands.NewRouter(nil, 0, zap.NewNop())
	w.register(r)
	return r, fake
}

func modInvocation(author, name string, opts map[string]any) *commands.Invocation {
	return commands.NewInvocation("g1", "here", author, name, "", opts)
}

func TestModeration_Denied(t *testing.T) {
	r, fake := newModeration(t)

	reply := r.Dispatch(context.Background(), modInvocation("random", "ban", map[string]any{"user": "victim"}))
	assert.Equal(t, "You are not allowed to use this command.", reply)
	assert.Empty(t, fake.Calls())
}

func TestModeration_Ban(t *testing.T) {
	r, fake := newModeration(t)
	ctx := context.Background()

	reply := r.Dispatch(ctx, modInvocation("mod", "ban", map[string]any{"user": "victim", "reason": "spam"}))
	assert.Equal(t, "Banned <@victim>.", reply)

	bans := fake.CallsTo("Ban")
	require.Len(t, bans, 1)
	assert.Equal(t, "victim", bans[0].Target)
	assert.Equal(t, "spam (by mod)", bans[0].Reason)

	reply = r.Dispatch(ctx, modInvocation("mod", "ban", map[string]any{"id": "123456"}))
	assert.Equal(t, "Banned <@123456>.", reply)
	assert.Equal(t, defaultReason+" (by mod)", fake.CallsTo("Ban")[1].Reason)
}

func TestModeration_BanRefusals(t *testing.T) {
	r, fake := newModeration(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts map[string]any
		want string
	}{
		{"no target", map[string]any{}, "Give a user or a user id."},
		{"bad id", map[string]any{"id": "abc"}, `"abc" is not a user id.`},
		{"self", map[string]any{"user": "mod"}, "You cannot ban yourself."},
		{"owner", map[string]any{"user": "owner"}, "The server owner cannot be banned."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Dispatch(ctx, modInvocation("mod", "ban", tt.opts)))
		})
	}
	assert.Empty(t, fake.Calls())
}

func TestModeration_KickAndTimeout(t *testing.T) {
	r, fake := newModeration(t)
	ctx := context.Background()

	assert.Equal(t, "Kicked <@victim>.", r.Dispatch(ctx, modInvocation("owner", "kick", map[string]any{"user": "victim"})))
	assert.Equal(t, "The server owner cannot be kicked.", r.Dispatch(ctx, modInvocation("mod", "kick", map[string]any{"user": "owner"})))

	assert.Equal(t, "Give the timeout length in minutes.",
		r.Dispatch(ctx, modInvocation("mod", "timeout", map[string]any{"user": "victim"})))
	assert.Equal(t, "Timed out <@victim> for 15m0s.",
		r.Dispatch(ctx, modInvocation("mod", "timeout", map[string]any{"user": "victim", "minutes": int64(15)})))

	timeouts := fake.CallsTo("Timeout")
	require.Len(t, timeouts, 1)
	assert.Equal(t, 15*time.Minute, timeouts[0].Timeout)
	assert.Len(t, fake.CallsTo("Kick"), 1)
}

func TestModeration_LockUnlock(t *testing.T) {
	r, fake := newModeration(t)
	ctx := context.Background()

	assert.Equal(t, "Locked <#here>.", r.Dispatch(ctx, modInvocation("mod", "lock", nil)))
	assert.Equal(t, "Unlocked <#other>.", r.Dispatch(ctx, modInvocation("mod", "unlock", map[string]any{"channel": "other"})))

	perms := fake.CallsTo("SetChannelPermissions")
	require.Len(t, perms, 2)
	assert.Equal(t, "here", perms[0].Target)
	assert.Equal(t, "g1", perms[0].GuildID, "the everyone role shares the guild id")
	assert.Equal(t, int64(discordgo.PermissionSendMessages), perms[0].Deny)
	assert.Equal(t, "other", perms[1].Target)
	assert.Zero(t, perms[1].Deny)
	assert.Zero(t, perms[1].Allow)
}

func TestModeration_PlatformError(t *testing.T) {
	r, fake := newModeration(t)
	fake.Fail["Unban"] = true

	reply := r.Dispatch(context.Background(), modInvocation("mod", "unban", map[string]any{"id": "42"}))
	assert.Contains(t, reply, "Could not run /unban")
}
