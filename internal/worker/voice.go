package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-guard-bot/internal/relay"
)

// voiceSession is the part of a gateway session voice joins need
type voiceSession interface {
	ConnectedChannel(guildID string) string
	Join(guildID, channelID string) error
}

type discordVoice struct {
	s *discordgo.Session
}

func (v discordVoice) ConnectedChannel(guildID string) string {
	v.s.RLock()
	vc, ok := v.s.VoiceConnections[guildID]
	v.s.RUnlock()
	if !ok || vc == nil {
		return ""
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.ChannelID
}

// Join connects deafened; the workers only sit in the channel
func (v discordVoice) Join(guildID, channelID string) error {
	_, err := v.s.ChannelVoiceJoin(guildID, channelID, false, true)
	return err
}

// VoiceJoiner executes join-voice relay commands
type VoiceJoiner struct {
	voice  voiceSession
	logger *zap.Logger
}

// Handle joins the commanded channel unless already there
func (j *VoiceJoiner) Handle(_ context.Context, c relay.Command) error {
	if c.Action != relay.ActionJoinVoice {
		return fmt.Errorf("%w: %q", relay.ErrUnknownAction, c.Action)
	}
	if j.voice.ConnectedChannel(c.GuildID) == c.ChannelID {
		return nil
	}
	if err := j.voice.Join(c.GuildID, c.ChannelID); err != nil {
		return fmt.Errorf("join voice channel %s: %w", c.ChannelID, err)
	}
	j.logger.Info("joined voice channel", zap.String("guild_id", c.GuildID), zap.String("channel_id", c.ChannelID))
	return nil
}

// voiceRelay returns the task that follows voice commands published by the
// management worker
func voiceRelay(rt *Runtime, freshness time.Duration) func(ctx context.Context) error {
	logger := rt.Logger.Named("relay")
	j := &VoiceJoiner{voice: discordVoice{s: rt.Session.Session}, logger: logger}
	p := relay.NewPoller(relay.PollerConfig{
		Path:      rt.Config.Relay.Path,
		Interval:  rt.Config.Relay.PollInterval,
		Freshness: freshness,
	}, j.Handle, logger)
	return p.Run
}
