package ratewindow

import (
	"sync"
	"time"

	"discord-guard-bot/internal/models"
)

const shardCount = 64

// Key identifies one counter. The same actor doing two different kinds of
// action in the same guild touches two independent keys.
type Key struct {
	GuildID string
	ActorID string
	Kind    models.Action
}

type entry struct {
	events []time.Time // oldest first
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// Window is a process-local sliding-window counter. Sharded to reduce lock
// contention between concurrently dispatched gateway handlers.
type Window struct {
	shards [shardCount]*shard
}

// New creates an empty Window
func New() *Window {
	w := &Window{}
	for i := 0; i < shardCount; i++ {
		w.shards[i] = &shard{entries: make(map[Key]*entry)}
	}
	return w
}

func (w *Window) shardFor(k Key) *shard {
	hash := uint64(0)
	for i := 0; i < len(k.GuildID); i++ {
		hash = hash*31 + uint64(k.GuildID[i])
	}
	for i := 0; i < len(k.ActorID); i++ {
		hash = hash*31 + uint64(k.ActorID[i])
	}
	for i := 0; i < len(k.Kind); i++ {
		hash = hash*31 + uint64(k.Kind[i])
	}
	return w.shards[hash%shardCount]
}

// Touch prunes timestamps with now-t >= window, appends now and returns the
// resulting number of events in the window.
func (w *Window) Touch(k Key, now time.Time, window time.Duration) int {
	s := w.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}

	kept := e.events[:0]
	for _, t := range e.events {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	e.events = append(kept, now)

	return len(e.events)
}

// Count returns the number of events for k still inside window at now
// without recording anything.
func (w *Window) Count(k Key, now time.Time, window time.Duration) int {
	s := w.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range e.events {
		if now.Sub(t) < window {
			n++
		}
	}
	return n
}

// Clear drops the key entirely
func (w *Window) Clear(k Key) {
	s := w.shardFor(k)
	s.mu.Lock()
	delete(s.entries, k)
	s.mu.Unlock()
}

// Stats returns counter statistics
type Stats struct {
	ActiveKeys  int
	TotalEvents int
}

// GetStats returns aggregated statistics across all shards
func (w *Window) GetStats() Stats {
	var stats Stats
	for _, s := range w.shards {
		s.mu.Lock()
		stats.ActiveKeys += len(s.entries)
		for _, e := range s.entries {
			stats.TotalEvents += len(e.events)
		}
		s.mu.Unlock()
	}
	return stats
}
