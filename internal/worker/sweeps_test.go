package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSweepStore struct {
	mu      sync.Mutex
	expired []time.Time
	cutoffs []time.Time
	err     error
}

func (s *fakeSweepStore) ExpireWhitelist(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, now)
	return 2, s.err
}

func (s *fakeSweepStore) PurgeIncidents(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return 5, s.err
}

func (s *fakeSweepStore) expiries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expired)
}

func newSweeper(store SweepStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: 30 * 24 * time.Hour,
		logger:    zap.NewNop(),
		now:       fixedNow,
	}
}

func TestSweeper_Once(t *testing.T) {
	store := &fakeSweepStore{}
	s := newSweeper(store, time.Minute)

	s.ExpireOnce(context.Background())
	s.PurgeOnce(context.Background())

	assert.Equal(t, []time.Time{testNow}, store.expired)
	assert.Equal(t, []time.Time{testNow.Add(-30 * 24 * time.Hour)}, store.cutoffs)
}

func TestSweeper_FailureIsLogged(t *testing.T) {
	store := &fakeSweepStore{err: errors.New("db down")}
	s := newSweeper(store, time.Minute)

	assert.NotPanics(t, func() {
		s.ExpireOnce(context.Background())
		s.PurgeOnce(context.Background())
	})
}

func TestSweeper_RunExpiryTicks(t *testing.T) {
	store := &fakeSweepStore{}
	s := newSweeper(store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunExpiry(ctx) }()

	assert.Eventually(t, func() bool { return store.expiries() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestEvery_RunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := every(ctx, time.Hour, func(context.Context) {
		calls++
		cancel()
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
