package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecode_Subcommand(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "whitelist",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "add",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u2"},
					{Name: "duration", Type: discordgo.ApplicationCommandOptionString, Value: "2h"},
				},
			}},
		},
	}}

	inv, ok := Decode(i)
	require.True(t, ok)
	assert.Equal(t, "g1", inv.GuildID)
	assert.Equal(t, "c1", inv.ChannelID)
	assert.Equal(t, "u1", inv.AuthorID)
	assert.Equal(t, "whitelist add", inv.Path())
	assert.Equal(t, "u2", inv.String("user"))
	assert.Equal(t, "2h", inv.String("duration"))
	assert.Empty(t, inv.String("reason"))
}

func TestDecode_FlatCommand(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "g1",
		User:    &discordgo.User{ID: "u1"},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "timeout",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u2"},
				{Name: "minutes", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(15)},
			},
		},
	}}

	inv, ok := Decode(i)
	require.True(t, ok)
	assert.Equal(t, "u1", inv.AuthorID)
	assert.Equal(t, "timeout", inv.Path())
	minutes, ok := inv.Int("minutes")
	assert.True(t, ok)
	assert.Equal(t, int64(15), minutes)
	_, ok = inv.Int("missing")
	assert.False(t, ok)
}

func TestDecode_IgnoresOtherInteractions(t *testing.T) {
	_, ok := Decode(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		GuildID: "g1",
	}})
	assert.False(t, ok)

	_, ok = Decode(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: "ban"},
	}})
	assert.False(t, ok, "direct messages are not served")
}

func newTestRouter(cd *Cooldown) *Router {
	r := NewRouter(cd, time.Second, zap.NewNop())
	r.Handle(Kick, func(ctx context.Context, inv *Invocation) (string, error) {
		switch inv.String("user") {
		case "denied":
			return "", ErrDenied
		case "usage":
			return "", Usage("cannot kick %s", "them")
		case "broken":
			return "", errors.New("platform down")
		}
		return "kicked", nil
	})
	return r
}

func TestDispatch(t *testing.T) {
	r := newTestRouter(nil)
	tests := []struct {
		user string
		want string
	}{
		{"u2", "kicked"},
		{"denied", "You are not allowed to use this command."},
		{"usage", "cannot kick them"},
		{"broken", "Could not run /kick: platform down"},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			inv := NewInvocation("g1", "c1", "u1", "kick", "", map[string]any{"user": tt.user})
			assert.Equal(t, tt.want, r.Dispatch(context.Background(), inv))
		})
	}

	inv := NewInvocation("g1", "c1", "u1", "nope", "", nil)
	assert.Equal(t, "Unknown command.", r.Dispatch(context.Background(), inv))
}

func TestRouter_CommandsRegisteredOnce(t *testing.T) {
	r := newTestRouter(nil)
	r.Handle(Kick, func(context.Context, *Invocation) (string, error) { return "", nil })
	r.Handle(Ban, func(context.Context, *Invocation) (string, error) { return "", nil })
	assert.Equal(t, []*discordgo.ApplicationCommand{Kick, Ban}, r.Commands())
}

func TestDispatch_Cooldown(t *testing.T) {
	cd := NewCooldown(3*time.Second, nil, zap.NewNop())
	now := time.Unix(1000, 0)
	cd.now = func() time.Time { return now }
	r := newTestRouter(cd)

	inv := NewInvocation("g1", "c1", "u1", "kick", "", map[string]any{"user": "u2"})
	assert.Equal(t, "kicked", r.Dispatch(context.Background(), inv))
	assert.Contains(t, r.Dispatch(context.Background(), inv), "Slow down")

	other := NewInvocation("g1", "c1", "u9", "kick", "", map[string]any{"user": "u2"})
	assert.Equal(t, "kicked", r.Dispatch(context.Background(), other), "cooldowns are per user")

	now = now.Add(3 * time.Second)
	assert.Equal(t, "kicked", r.Dispatch(context.Background(), inv))
}

type fakeSetter struct {
	keys map[string]bool
	err  error
}

func (f *fakeSetter) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func TestCooldown_Shared(t *testing.T) {
	shared := &fakeSetter{keys: map[string]bool{}}
	a := NewCooldown(3*time.Second, shared, zap.NewNop())
	b := NewCooldown(3*time.Second, shared, zap.NewNop())

	assert.True(t, a.Allow(context.Background(), "u1", "ban"))
	assert.False(t, b.Allow(context.Background(), "u1", "ban"), "another process sees the same key")
	assert.True(t, b.Allow(context.Background(), "u1", "kick"))
	assert.True(t, shared.keys["guard:cooldown:ban:u1"])
}

func TestCooldown_SharedFailureFallsBackToLocal(t *testing.T) {
	shared := &fakeSetter{keys: map[string]bool{}, err: errors.New("connection refused")}
	cd := NewCooldown(3*time.Second, shared, zap.NewNop())

	assert.True(t, cd.Allow(context.Background(), "u1", "ban"))
	assert.False(t, cd.Allow(context.Background(), "u1", "ban"))
}

func TestManageCommandsAreAdminOnly(t *testing.T) {
	for _, c := range ManageCommands() {
		require.NotNil(t, c.DefaultMemberPermissions, c.Name)
		assert.Equal(t, int64(discordgo.PermissionAdministrator), *c.DefaultMemberPermissions, c.Name)
	}
}
