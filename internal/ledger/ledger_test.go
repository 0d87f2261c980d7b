package ledger

import (
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/store"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu    sync.Mutex
	user  *auth.User
	ready bool
}

func (s *fakeSession) Snapshot() (*auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.ready
}

func (s *fakeSession) set(u *auth.User, ready bool) {
	s.mu.Lock()
	s.user, s.ready = u, ready
	s.mu.Unlock()
}

// flakyStore fails the first n counter transactions.
type flakyStore struct {
	store.Store
	fail atomic.Int32
}

func (f *flakyStore) Transaction(ctx context.Context, path string, fn store.TransactionFunc) (any, error) {
	if f.fail.Add(-1) >= 0 {
		return nil, store.ErrNotCommitted
	}

	return f.Store.Transaction(ctx, path, fn)
}

var testTime = time.Date(2025, 1, 23, 10, 0, 0, 0, time.UTC)

func newTestLedger(s store.Store) (*Ledger, *fakeSession) {
	sess := &fakeSession{}
	return New(context.Background(), sess, s, clockwork.NewFakeClockAt(testTime)), sess
}

func events(t *testing.T, s store.Store, uid string) map[string]any {
	t.Helper()

	v, err := s.Get(context.Background(), store.EventsPath(uid))
	require.NoError(t, err)
	return v.(map[string]any)
}

func TestLedgerQueuesUntilReady(t *testing.T) {
	s := store.New(store.NewMemoryBackend())
	l, sess := newTestLedger(s)

	l.Log("page_view", map[string]any{"page": "playground"})
	l.Log("run_click", nil)
	l.LogVideo(map[string]any{"task_id": "abc"})
	l.Wait()

	ev, vids := l.Pending()
	assert.Equal(t, 2, ev)
	assert.Equal(t, 1, vids)

	// Identity without a ready record still queues
	sess.set(&auth.User{ID: "u1"}, false)
	l.Log("prompt_blur", nil)
	l.Flush(context.Background())
	ev, _ = l.Pending()
	assert.Equal(t, 3, ev)

	sess.set(&auth.User{ID: "u1"}, true)
	l.Flush(context.Background())

	ev, vids = l.Pending()
	assert.Zero(t, ev)
	assert.Zero(t, vids)

	got := events(t, s, "u1")
	require.Len(t, got, 3)
	assert.Equal(t, "page_view", got["1"].(map[string]any)["name"])
	assert.Equal(t, "playground", got["1"].(map[string]any)["page"])
	assert.Equal(t, "run_click", got["2"].(map[string]any)["name"])
	assert.Equal(t, "prompt_blur", got["3"].(map[string]any)["name"])

	first := got["1"].(map[string]any)
	assert.EqualValues(t, testTime.UnixMilli(), first["timestamp"])
	assert.Equal(t, "2025-01-23 12:00:00 UTC+02:00", first["time_utc_plus_2"])

	counter, err := s.Get(context.Background(), store.EventCounterPath("u1"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, counter)

	videos, err := l.Videos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.EqualValues(t, 1, videos[0].Seq)
	assert.Equal(t, "abc", videos[0].Fields["task_id"])
	_, hasName := videos[0].Fields["name"]
	assert.False(t, hasName)
}

func TestLedgerSequencesAreGapFreeAndOrdered(t *testing.T) {
	s := store.New(store.NewMemoryBackend())
	l, sess := newTestLedger(s)
	sess.set(&auth.User{ID: "u1"}, true)

	const n = 50
	for i := range n {
		l.Log(fmt.Sprintf("e%d", i), map[string]any{"i": i})
	}
	l.Wait()

	got := events(t, s, "u1")
	require.Len(t, got, n)

	for i := range n {
		rec := got[fmt.Sprint(i+1)].(map[string]any)
		assert.Equal(t, fmt.Sprintf("e%d", i), rec["name"])
		assert.EqualValues(t, i, rec["i"])
	}
}

func TestLedgerConcurrentFlushWritesOnce(t *testing.T) {
	s := store.New(store.NewMemoryBackend())
	l, sess := newTestLedger(s)

	for i := range 20 {
		l.Log(fmt.Sprintf("e%d", i), nil)
	}

	sess.set(&auth.User{ID: "u1"}, true)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Flush(context.Background())
		}()
	}
	wg.Wait()
	l.Wait()

	got := events(t, s, "u1")
	assert.Len(t, got, 20)

	seen := map[any]bool{}
	for _, rec := range got {
		name := rec.(map[string]any)["name"]
		assert.False(t, seen[name], "duplicate %v", name)
		seen[name] = true
	}

	counter, err := s.Get(context.Background(), store.EventCounterPath("u1"))
	require.NoError(t, err)
	assert.EqualValues(t, 20, counter)
}

func TestLedgerDropsUncommittedEntries(t *testing.T) {
	fs := &flakyStore{Store: store.New(store.NewMemoryBackend())}
	fs.fail.Store(1)

	l, sess := newTestLedger(fs)
	sess.set(&auth.User{ID: "u1"}, true)

	l.Log("lost", nil)
	l.Log("kept", nil)
	l.Wait()

	got := events(t, fs, "u1")
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got["1"].(map[string]any)["name"])
}

func TestLedgerVideosOrderedBySequence(t *testing.T) {
	s := store.New(store.NewMemoryBackend())
	l, sess := newTestLedger(s)

	videos, err := l.Videos(context.Background())
	require.NoError(t, err)
	assert.Nil(t, videos)

	sess.set(&auth.User{ID: "u1"}, true)
	for i := range 12 {
		l.LogVideo(map[string]any{"output_url": fmt.Sprintf("https://x/%d.mp4", i)})
	}
	l.Wait()

	videos, err = l.Videos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 12)

	for i, v := range videos {
		assert.EqualValues(t, i+1, v.Seq)
		assert.Equal(t, fmt.Sprintf("https://x/%d.mp4", i), v.Fields["output_url"])
	}
}

func TestWriteError(t *testing.T) {
	err := &WriteError{Kind: kindEvent, Name: "run_click", Err: store.ErrNotCommitted}
	assert.ErrorIs(t, err, store.ErrNotCommitted)
	assert.Contains(t, err.Error(), "run_click")
}
