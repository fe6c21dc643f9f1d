package massdelete

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnDestroy_FiresOncePerDrop(t *testing.T) {
	d := New(5)
	d.Capture("g1", 20)

	for live := 19; live > 15; live-- {
		fired, _ := d.OnDestroy("g1", live)
		assert.False(t, fired, "live=%d", live)
	}

	fired, dropped := d.OnDestroy("g1", 15)
	assert.True(t, fired)
	assert.Equal(t, 5, dropped)

	s, ok := d.Snapshot("g1")
	assert.True(t, ok)
	assert.Equal(t, 15, s.Count)

	fired, dropped = d.OnDestroy("g1", 14)
	assert.False(t, fired, "a later single deletion is judged from the refreshed snapshot")
	assert.Equal(t, 1, dropped)
}

func TestOnDestroy_LargeDropAtOnce(t *testing.T) {
	d := New(0)
	d.Capture("g1", 30)

	fired, dropped := d.OnDestroy("g1", 10)
	assert.True(t, fired)
	assert.Equal(t, 20, dropped)
}

func TestOnDestroy_NoSnapshot(t *testing.T) {
	d := New(5)
	fired, _ := d.OnDestroy("unknown", 0)
	assert.False(t, fired)
}

func TestOnDestroy_GuildsAreIndependent(t *testing.T) {
	d := New(5)
	d.Capture("g1", 10)
	d.Capture("g2", 10)

	fired, _ := d.OnDestroy("g1", 4)
	assert.True(t, fired)
	fired, _ = d.OnDestroy("g2", 9)
	assert.False(t, fired)

	d.Forget("g2")
	_, ok := d.Snapshot("g2")
	assert.False(t, ok)
}

func TestOnDestroy_ConcurrentReportsFireOnce(t *testing.T) {
	d := New(5)
	d.Capture("g1", 10)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fires int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fired, _ := d.OnDestroy("g1", 5); fired {
				mu.Lock()
				fires++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fires)
}
