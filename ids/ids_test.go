package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRIDIsUUID(t *testing.T) {
	rid := NewRID()
	_, err := uuid.Parse(rid)
	require.NoError(t, err)
	assert.NotEqual(t, rid, NewRID())
}

func TestNewSuffixIncreases(t *testing.T) {
	prev := NewSuffix()
	for i := 0; i < 50; i++ {
		next := NewSuffix()
		_, err := ulid.Parse(next)
		require.NoError(t, err)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestNewSuffixConcurrentUniqueness(t *testing.T) {
	const goroutines, perGoroutine = 8, 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewSuffix()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
