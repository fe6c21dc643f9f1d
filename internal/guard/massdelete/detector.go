// Package massdelete detects bulk channel deletion by comparing live channel
// counts against a per-guild snapshot, independent of who deleted them.
package massdelete

import (
	"sync"
	"time"
)

// DefaultThreshold is the channel-count drop that counts as a mass event
const DefaultThreshold = 5

// Snapshot is the channel count of a guild at capture time
type Snapshot struct {
	Count      int
	CapturedAt time.Time
}

type Detector struct {
	threshold int
	now       func() time.Time

	mu        sync.Mutex
	snapshots map[string]Snapshot
}

func New(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		threshold: threshold,
		now:       time.Now,
		snapshots: make(map[string]Snapshot),
	}
}

// Capture sets the guild's snapshot to count
func (d *Detector) Capture(guildID string, count int) {
	d.mu.Lock()
	d.snapshots[guildID] = Snapshot{Count: count, CapturedAt: d.now()}
	d.mu.Unlock()
}

// Snapshot returns the current snapshot for a guild
func (d *Detector) Snapshot(guildID string) (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snapshots[guildID]
	return s, ok
}

// OnDestroy compares liveCount with the snapshot. When the drop reaches the
// threshold it reports a mass event and moves the snapshot to liveCount, so
// the next drop is measured from there. Without a snapshot it reports false.
func (d *Detector) OnDestroy(guildID string, liveCount int) (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.snapshots[guildID]
	if !ok {
		return false, 0
	}
	dropped := s.Count - liveCount
	if dropped < d.threshold {
		return false, dropped
	}
	d.snapshots[guildID] = Snapshot{Count: liveCount, CapturedAt: d.now()}
	return true, dropped
}

// Forget drops a guild's snapshot
func (d *Detector) Forget(guildID string) {
	d.mu.Lock()
	delete(d.snapshots, guildID)
	d.mu.Unlock()
}
