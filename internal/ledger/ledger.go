// Package ledger writes the per-user event and video log. Writes issued before
// the session's identity is ready are queued and flushed in order later.
package ledger

import (
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/util"
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Session reports the identity entries are written for and whether its user
// record is ready.
type Session interface {
	Snapshot() (*auth.User, bool)
}

type recordKind string

const (
	kindEvent recordKind = "event"
	kindVideo recordKind = "video"
)

// WriteError describes an entry that could not be written and was dropped.
type WriteError struct {
	Kind recordKind
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("failed to write %s %q, %v", e.Kind, e.Name, e.Err)
	}

	return fmt.Sprintf("failed to write %s, %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type pendingEvent struct {
	name string
	meta map[string]any
}

type Ledger struct {
	ctx     context.Context
	session Session
	store   store.Store
	clock   clockwork.Clock

	mu       sync.Mutex
	events   []pendingEvent
	videos   []map[string]any
	draining bool
	idle     *sync.Cond
}

// New creates a ledger. ctx is used by background drains.
func New(ctx context.Context, session Session, s store.Store, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	l := &Ledger{
		ctx:     ctx,
		session: session,
		store:   s,
		clock:   clock,
	}
	l.idle = sync.NewCond(&l.mu)

	return l
}

// Log records an event. It never blocks on the store.
func (l *Ledger) Log(name string, meta map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, pendingEvent{name: name, meta: maps.Clone(meta)})
	start := l.claimLocked()
	l.mu.Unlock()

	if start {
		go l.drain(l.ctx)
	}
}

// LogVideo records a generated video. It never blocks on the store.
func (l *Ledger) LogVideo(meta map[string]any) {
	l.mu.Lock()
	l.videos = append(l.videos, maps.Clone(meta))
	start := l.claimLocked()
	l.mu.Unlock()

	if start {
		go l.drain(l.ctx)
	}
}

// claimLocked makes the caller the drainer if the session is ready and no
// drain is running.
func (l *Ledger) claimLocked() bool {
	if l.draining {
		return false
	}

	if u, ready := l.session.Snapshot(); u == nil || !ready {
		return false
	}

	l.draining = true
	return true
}

// Flush writes every queued entry, events first, and returns once the queues
// are empty. It returns immediately if another drain is in progress.
func (l *Ledger) Flush(ctx context.Context) {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return
	}

	l.draining = true
	l.mu.Unlock()

	l.drain(ctx)
}

// Wait blocks until the running drain is done.
func (l *Ledger) Wait() {
	l.mu.Lock()
	for l.draining {
		l.idle.Wait()
	}
	l.mu.Unlock()
}

// Pending returns the number of queued events and videos.
func (l *Ledger) Pending() (events, videos int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events), len(l.videos)
}

func (l *Ledger) drain(ctx context.Context) {
	for {
		l.mu.Lock()
		u, ready := l.session.Snapshot()
		if u == nil || !ready || (len(l.events) == 0 && len(l.videos) == 0) {
			l.draining = false
			l.idle.Broadcast()
			l.mu.Unlock()
			return
		}

		events, videos := l.events, l.videos
		l.events, l.videos = nil, nil
		l.mu.Unlock()

		for _, e := range events {
			if err := l.writeEvent(ctx, u.ID, e.name, e.meta); err != nil {
				zap.L().Warn("Dropped ledger entry", zap.String("userID", u.ID), zap.Error(err))
			}
		}

		for _, v := range videos {
			if err := l.writeVideo(ctx, u.ID, v); err != nil {
				zap.L().Warn("Dropped ledger entry", zap.String("userID", u.ID), zap.Error(err))
			}
		}
	}
}

func (l *Ledger) payload(meta map[string]any) map[string]any {
	now := l.clock.Now()

	p := map[string]any{
		"timestamp":       now.UnixMilli(),
		"time_utc_plus_2": util.FormatUTCPlus2(now),
	}
	maps.Copy(p, meta)

	return p
}

func (l *Ledger) writeEvent(ctx context.Context, uid, name string, meta map[string]any) error {
	p := l.payload(meta)
	if _, ok := meta["name"]; !ok {
		p["name"] = name
	}

	if err := l.write(ctx, store.EventCounterPath(uid), func(seq int64) string { return store.EventPath(uid, seq) }, p); err != nil {
		return &WriteError{Kind: kindEvent, Name: name, Err: err}
	}

	return nil
}

func (l *Ledger) writeVideo(ctx context.Context, uid string, meta map[string]any) error {
	if err := l.write(ctx, store.VideoCounterPath(uid), func(seq int64) string { return store.VideoPath(uid, seq) }, l.payload(meta)); err != nil {
		return &WriteError{Kind: kindVideo, Err: err}
	}

	return nil
}

// write takes the next sequence number from the counter at counterPath and
// stores payload under it.
func (l *Ledger) write(ctx context.Context, counterPath string, at func(int64) string, payload map[string]any) error {
	v, err := l.store.Transaction(ctx, counterPath, func(cur any) (any, bool) {
		return store.Int(cur) + 1, true
	})
	if err != nil {
		return err
	}

	return l.store.Set(ctx, at(store.Int(v)), payload)
}

// Video is a stored video record.
type Video struct {
	Seq    int64          `json:"seq"`
	Fields map[string]any `json:"fields"`
}

// Videos returns the video records of the current identity ordered by
// sequence number.
func (l *Ledger) Videos(ctx context.Context) ([]Video, error) {
	u, _ := l.session.Snapshot()
	if u == nil {
		return nil, nil
	}

	v, err := l.store.Get(ctx, store.VideosPath(u.ID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch videos, %w", err)
	}

	records, _ := v.(map[string]any)
	videos := make([]Video, 0, len(records))

	for key, raw := range records {
		seq, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}

		fields, _ := raw.(map[string]any)
		videos = append(videos, Video{Seq: seq, Fields: fields})
	}

	sort.Slice(videos, func(i, j int) bool {
		return videos[i].Seq < videos[j].Seq
	})

	return videos, nil
}
