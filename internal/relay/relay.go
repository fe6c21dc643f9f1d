// Package relay passes one-shot commands between worker processes through a
// small JSON file on shared disk. Commands carry their creation time and are
// only honored while fresh.
package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

const ActionJoinVoice = "joinVoice"

// Freshness windows per consumer
const (
	GuardFreshness      = 15 * time.Second
	ModerationFreshness = 30 * time.Second
)

var (
	// ErrStale is returned for a command older than the consumer's freshness window
	ErrStale         = errors.New("relay command is stale")
	ErrUnknownAction = errors.New("unknown relay action")
)

// Command is the file payload. Timestamp is in unix milliseconds.
type Command struct {
	Action    string `json:"action"`
	ChannelID string `json:"channelId"`
	GuildID   string `json:"guildId"`
	Timestamp int64  `json:"timestamp"`
}

func (c Command) CreatedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Fresh reports whether the command may still be acted on at now
func (c Command) Fresh(now time.Time, freshness time.Duration) bool {
	return now.Sub(c.CreatedAt()) < freshness
}

func (c Command) Validate() error {
	if c.Action != ActionJoinVoice {
		return fmt.Errorf("%w: %q", ErrUnknownAction, c.Action)
	}
	if c.GuildID == "" || c.ChannelID == "" {
		return errors.New("relay command missing guild or channel")
	}
	return nil
}

// Read loads the command file. A missing file is (nil, nil).
func Read(path string) (*Command, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read relay file: %w", err)
	}
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode relay file: %w", err)
	}
	return &c, nil
}

// write replaces the file atomically so readers never see half a command
func write(path string, c Command) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create relay dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".relay-*")
	if err != nil {
		return fmt.Errorf("create relay temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write relay temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish relay file: %w", err)
	}
	return nil
}
