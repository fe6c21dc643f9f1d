package relay

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultDeleteAfter = 10 * time.Second

// Writer publishes commands for the other workers and removes the file once
// every consumer has had a chance to see it
type Writer struct {
	path        string
	deleteAfter time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	pending *time.Timer
}

func NewWriter(path string, deleteAfter time.Duration, logger *zap.Logger) *Writer {
	if deleteAfter <= 0 {
		deleteAfter = DefaultDeleteAfter
	}
	return &Writer{path: path, deleteAfter: deleteAfter, logger: logger, now: time.Now}
}

// JoinVoice asks every worker to join channelID in guildID
func (w *Writer) JoinVoice(ctx context.Context, guildID, channelID string) (Command, error) {
	c := Command{
		Action:    ActionJoinVoice,
		GuildID:   guildID,
		ChannelID: channelID,
		Timestamp: w.now().UnixMilli(),
	}
	if err := ctx.Err(); err != nil {
		return c, err
	}
	if err := w.Publish(c); err != nil {
		return c, err
	}
	return c, nil
}

// Publish writes c and schedules its removal. A newer command replaces an
// older one and takes over its removal.
func (w *Writer) Publish(c Command) error {
	if err := c.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := write(w.path, c); err != nil {
		return err
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	ts := c.Timestamp
	w.pending = time.AfterFunc(w.deleteAfter, func() { w.remove(ts) })

	w.logger.Info("relay command published",
		zap.String("action", c.Action),
		zap.String("guild_id", c.GuildID),
		zap.String("channel_id", c.ChannelID))
	return nil
}

// remove deletes the file if it still holds the command stamped ts
func (w *Writer) remove(ts int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := Read(w.path)
	if err != nil || c == nil || c.Timestamp != ts {
		return
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove relay file", zap.String("path", w.path), zap.Error(err))
	}
}

// Close cancels a pending removal
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}
