package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartflow/crm-chat/internal/model"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string             { return h.id }
func (h *fakeHandle) Push(model.Frame) error { return nil }
func (h *fakeHandle) Viewing() string        { return "" }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	h := &fakeHandle{id: "c1"}

	// When
	previous := r.Register("u1", h)

	// Then
	req.Nil(previous)
	got, ok := r.Lookup("u1")
	req.True(ok)
	req.Same(h, got)
	req.Equal(1, r.Len())

	_, ok = r.Lookup("u2")
	req.False(ok)
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	first := &fakeHandle{id: "c1"}
	second := &fakeHandle{id: "c2"}
	r.Register("u1", first)

	previous := r.Register("u1", second)

	req.Same(first, previous)
	got, ok := r.Lookup("u1")
	req.True(ok)
	req.Same(second, got)
	req.Equal(1, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	r.Register("u1", &fakeHandle{id: "c1"})
	r.Register("u2", &fakeHandle{id: "c2"})

	r.Remove("u1")
	r.Remove("u1")
	r.Remove("never-joined")

	_, ok := r.Lookup("u1")
	req.False(ok)
	_, ok = r.Lookup("u2")
	req.True(ok)
	req.Equal(1, r.Len())
}

func TestRegistry_RemoveIf(t *testing.T) {
	t.Run("displaced connection cannot remove its successor", func(t *testing.T) {
		req := require.New(t)
		r := NewRegistry()
		old := &fakeHandle{id: "c1"}
		current := &fakeHandle{id: "c2"}
		r.Register("u1", old)
		r.Register("u1", current)

		removed := r.RemoveIf("u1", old)

		req.False(removed)
		got, ok := r.Lookup("u1")
		req.True(ok)
		req.Same(current, got)
	})

	t.Run("owning connection removes its entry", func(t *testing.T) {
		req := require.New(t)
		r := NewRegistry()
		h := &fakeHandle{id: "c1"}
		r.Register("u1", h)

		req.True(r.RemoveIf("u1", h))
		req.False(r.RemoveIf("u1", h))
		req.Equal(0, r.Len())
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%10)
			h := &fakeHandle{id: fmt.Sprintf("c%d", i)}
			r.Register(id, h)
			r.Lookup(id)
			if i%2 == 0 {
				r.RemoveIf(id, h)
			}
		}(i)
	}
	wg.Wait()

	req.LessOrEqual(r.Len(), 10)
}
