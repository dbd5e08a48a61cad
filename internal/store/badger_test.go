package store

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/smartflow/crm-chat/internal/model"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

// steppingClock returns strictly increasing timestamps.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(time.Millisecond)
		return now
	}
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestBadgerStore_Create(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("persists with status sent", func(t *testing.T) {
		req := require.New(t)

		msg, err := s.Create(ctx, "u1", "u2", "hello")

		req.NoError(err)
		req.NotEmpty(msg.ID)
		req.Equal(model.StatusSent, msg.Status)
		req.False(msg.CreatedAt.IsZero())

		stored, err := s.Get(ctx, msg.ID)
		req.NoError(err)
		req.Equal(msg.ID, stored.ID)
		req.Equal("hello", stored.Content)
		req.Equal(model.StatusSent, stored.Status)
		req.True(msg.CreatedAt.Equal(stored.CreatedAt))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		req := require.New(t)

		_, err := s.Create(ctx, "", "u2", "hello")
		req.ErrorIs(err, model.ErrInvalidIdentity)

		_, err = s.Create(ctx, "u1", "", "hello")
		req.ErrorIs(err, model.ErrInvalidIdentity)

		_, err = s.Create(ctx, "u1", "u1", "hello")
		req.ErrorIs(err, model.ErrSameParticipant)

		_, err = s.Create(ctx, "u1", "u2", "")
		req.ErrorIs(err, model.ErrInvalidMessage)

		_, err = s.Create(ctx, "u1\x00x", "u2", "hello")
		req.ErrorIs(err, model.ErrInvalidIdentity)

		_, err = s.Create(ctx, strings.Repeat("u", model.MaxIdentityLength+1), "u2", "hello")
		req.ErrorIs(err, model.ErrInvalidIdentity)

		_, err = s.FindConversation(ctx, "u1", "line\nbreak", Page{})
		req.ErrorIs(err, model.ErrInvalidIdentity)
	})
}

func TestBadgerStore_Get_NotFound(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")

	req.ErrorIs(err, ErrNotFound)
}

func TestBadgerStore_SetStatus_IsMonotonic(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		steps       []model.Status
		wantChanged []bool
		want        model.Status
	}{
		{
			name:        "forward one step at a time",
			steps:       []model.Status{model.StatusDelivered, model.StatusRead},
			wantChanged: []bool{true, true},
			want:        model.StatusRead,
		},
		{
			name:        "sent straight to read",
			steps:       []model.Status{model.StatusRead},
			wantChanged: []bool{true},
			want:        model.StatusRead,
		},
		{
			name:        "delivered after read is ignored",
			steps:       []model.Status{model.StatusRead, model.StatusDelivered},
			wantChanged: []bool{true, false},
			want:        model.StatusRead,
		},
		{
			name:        "sent after delivered is ignored",
			steps:       []model.Status{model.StatusDelivered, model.StatusSent},
			wantChanged: []bool{true, false},
			want:        model.StatusDelivered,
		},
		{
			name:        "repeated read is a no-op",
			steps:       []model.Status{model.StatusRead, model.StatusRead},
			wantChanged: []bool{true, false},
			want:        model.StatusRead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			s := newTestStore(t)
			msg, err := s.Create(ctx, "u1", "u2", "hello")
			req.NoError(err)

			for i, status := range tt.steps {
				updated, changed, err := s.SetStatus(ctx, msg.ID, status)
				req.NoError(err)
				req.Equal(tt.wantChanged[i], changed, "step %d", i)
				req.GreaterOrEqual(updated.Status.Rank(), status.Rank())
			}

			stored, err := s.Get(ctx, msg.ID)
			req.NoError(err)
			req.Equal(tt.want, stored.Status)
		})
	}
}

func TestBadgerStore_SetStatus_Errors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.SetStatus(ctx, "missing", model.StatusRead)
	req.ErrorIs(err, ErrNotFound)

	msg, err := s.Create(ctx, "u1", "u2", "hello")
	req.NoError(err)
	_, _, err = s.SetStatus(ctx, msg.ID, model.Status("archived"))
	req.ErrorIs(err, ErrInvalidStatus)
}

func TestBadgerStore_SetStatus_ConcurrentTransitionsNeverRegress(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	msg, err := s.Create(ctx, "u1", "u2", "hello")
	req.NoError(err)

	// When delivered and read race many times
	var (
		wg        sync.WaitGroup
		readSaved atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = s.SetStatus(ctx, msg.ID, model.StatusDelivered)
		}()
		go func() {
			defer wg.Done()
			if _, _, err := s.SetStatus(ctx, msg.ID, model.StatusRead); err == nil {
				readSaved.Store(true)
			}
		}()
	}
	wg.Wait()

	// Then a committed read is never overwritten by a later delivered
	stored, err := s.Get(ctx, msg.ID)
	req.NoError(err)
	if readSaved.Load() {
		req.Equal(model.StatusRead, stored.Status)
	}
}

func TestBadgerStore_FindConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("both directions, creation order, symmetric", func(t *testing.T) {
		req := require.New(t)
		s := newTestStore(t)
		s.now = steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

		m1, err := s.Create(ctx, "u1", "u2", "one")
		req.NoError(err)
		m2, err := s.Create(ctx, "u2", "u1", "two")
		req.NoError(err)
		_, err = s.Create(ctx, "u1", "u3", "elsewhere")
		req.NoError(err)
		m3, err := s.Create(ctx, "u1", "u2", "three")
		req.NoError(err)

		ab, err := s.FindConversation(ctx, "u1", "u2", Page{})
		req.NoError(err)
		ba, err := s.FindConversation(ctx, "u2", "u1", Page{})
		req.NoError(err)

		req.Equal([]string{m1.ID, m2.ID, m3.ID}, ids(ab.Messages))
		req.Equal(ids(ab.Messages), ids(ba.Messages))
		req.False(ab.HasMore)
		req.Empty(ab.NextCursor)
	})

	t.Run("empty conversation", func(t *testing.T) {
		req := require.New(t)
		s := newTestStore(t)

		page, err := s.FindConversation(ctx, "u1", "u2", Page{Limit: 10})

		req.NoError(err)
		req.Empty(page.Messages)
		req.NotNil(page.Messages)
		req.False(page.HasMore)
	})

	t.Run("paged from newest backwards", func(t *testing.T) {
		req := require.New(t)
		s := newTestStore(t)
		s.now = steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

		var all []string
		for i := 0; i < 5; i++ {
			m, err := s.Create(ctx, "u1", "u2", "msg")
			req.NoError(err)
			all = append(all, m.ID)
		}

		first, err := s.FindConversation(ctx, "u1", "u2", Page{Limit: 2})
		req.NoError(err)
		req.Equal(all[3:], ids(first.Messages))
		req.True(first.HasMore)
		req.NotEmpty(first.NextCursor)

		second, err := s.FindConversation(ctx, "u2", "u1", Page{Limit: 2, Before: first.NextCursor})
		req.NoError(err)
		req.Equal(all[1:3], ids(second.Messages))
		req.True(second.HasMore)

		last, err := s.FindConversation(ctx, "u1", "u2", Page{Limit: 2, Before: second.NextCursor})
		req.NoError(err)
		req.Equal(all[:1], ids(last.Messages))
		req.False(last.HasMore)
		req.Empty(last.NextCursor)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		req := require.New(t)
		s := newTestStore(t)

		_, err := s.FindConversation(ctx, "u1", "u2", Page{Limit: 2, Before: "garbage"})

		req.ErrorIs(err, ErrInvalidCursor)
	})
}

func TestBadgerStore_Pending(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)
	s.now = steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	m1, err := s.Create(ctx, "u1", "u2", "one")
	req.NoError(err)
	m2, err := s.Create(ctx, "u3", "u2", "two")
	req.NoError(err)
	_, err = s.Create(ctx, "u2", "u1", "not for u2")
	req.NoError(err)

	pending, err := s.Pending(ctx, "u2")
	req.NoError(err)
	req.Equal([]string{m1.ID, m2.ID}, ids(pending))

	// When one of them is delivered it leaves the pending index
	_, _, err = s.SetStatus(ctx, m1.ID, model.StatusDelivered)
	req.NoError(err)

	pending, err = s.Pending(ctx, "u2")
	req.NoError(err)
	req.Equal([]string{m2.ID}, ids(pending))
}
