package resolver

import (
	"sync"
	"time"
)

// entryTTL outlives the gateway echoes that one audit entry can produce
const entryTTL = time.Minute

// entrySet remembers audit entries that already drew a response
type entrySet struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newEntrySet() *entrySet {
	return &entrySet{seen: make(map[string]time.Time)}
}

// claim reports whether key is new at now and marks it handled. Expired
// keys are pruned on the way.
func (s *entrySet) claim(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if now.Sub(at) > entryTTL {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = now
	return true
}
