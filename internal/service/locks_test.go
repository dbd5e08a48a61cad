package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("serializes one key", func(t *testing.T) {
		req := require.New(t)
		k := newKeyedMutex()

		var (
			wg      sync.WaitGroup
			inside  int
			maxSeen int
			mu      sync.Mutex
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := k.Lock("u2")
				defer unlock()

				mu.Lock()
				inside++
				maxSeen = max(maxSeen, inside)
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
			}()
		}
		wg.Wait()

		req.Equal(1, maxSeen)
		req.Zero(k.len())
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		req := require.New(t)
		k := newKeyedMutex()

		unlockA := k.Lock("u1")
		unlockB := k.Lock("u2")
		req.Equal(2, k.len())

		unlockA()
		unlockB()
		req.Zero(k.len())
	})
}
