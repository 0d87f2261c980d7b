// Package identity owns the current identity of a playground session and the
// readiness signal every write to the user's record waits on.
package identity

import (
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/store"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultReadyTimeout bounds WaitReady when no timeout is configured.
const DefaultReadyTimeout = 1500 * time.Millisecond

// ErrNoIdentity is returned by Credential when nobody is signed in.
var ErrNoIdentity = errors.New("no identity")

type Options struct {
	Clock        clockwork.Clock
	ReadyTimeout time.Duration
}

// Gate wraps an auth.Provider. It keeps the user record of the current
// identity in the store and reports when it's safe to write to it.
type Gate struct {
	provider     auth.Provider
	store        store.Store
	clock        clockwork.Clock
	readyTimeout time.Duration

	mu    sync.RWMutex
	user  *auth.User
	ready bool

	readyOnce sync.Once
	readyCh   chan struct{}
	first     *auth.User

	// handleMu serializes session changes coming from the provider
	handleMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(*auth.User)
	nextSub int
	hooks   []func(ctx context.Context)

	ctx         context.Context
	unsubscribe func()
}

func New(p auth.Provider, s store.Store, opts Options) *Gate {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}

	return &Gate{
		provider:     p,
		store:        s,
		clock:        opts.Clock,
		readyTimeout: opts.ReadyTimeout,
		readyCh:      make(chan struct{}),
		subs:         make(map[int]func(*auth.User)),
		ctx:          context.Background(),
	}
}

// Start subscribes to the provider. ctx is used for the store calls made on
// every session change and must outlive the gate.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	g.unsubscribe = g.provider.OnAuthStateChanged(func(u *auth.User) {
		g.handle(g.context(), u)
	})
}

// Stop detaches the gate from the provider.
func (g *Gate) Stop() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

func (g *Gate) context() context.Context {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ctx
}

// OnReady registers fn to run every time the gate becomes ready, before
// waiters and subscribers are released. Must be called before Start.
func (g *Gate) OnReady(fn func(ctx context.Context)) {
	g.subMu.Lock()
	g.hooks = append(g.hooks, fn)
	g.subMu.Unlock()
}

// Subscribe registers fn for every identity that becomes ready.
func (g *Gate) Subscribe(fn func(*auth.User)) (unsubscribe func()) {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

func (g *Gate) handle(ctx context.Context, u *auth.User) {
	if u == nil {
		g.set(nil, false)

		if _, err := g.provider.SignInAnonymously(ctx); err != nil {
			zap.L().Error("Anonymous sign in failed", zap.Error(err))
		}
		return
	}

	g.handleMu.Lock()
	defer g.handleMu.Unlock()

	g.set(u, false)

	if err := g.prepare(ctx, u); err != nil {
		zap.L().Error("Failed to initialize user record", zap.String("userID", u.ID), zap.Error(err))
	} else {
		g.markReady(ctx)
	}

	g.readyOnce.Do(func() {
		g.first = copyUser(u)
		close(g.readyCh)
	})

	g.notify(u)
}

func (g *Gate) prepare(ctx context.Context, u *auth.User) error {
	if err := g.ensureUserRecord(ctx, u); err != nil {
		return err
	}

	return g.migrateEventKeys(ctx, u.ID)
}

func (g *Gate) set(u *auth.User, ready bool) {
	g.mu.Lock()
	g.user = copyUser(u)
	g.ready = ready
	g.mu.Unlock()
}

func (g *Gate) markReady(ctx context.Context) {
	g.mu.Lock()
	g.ready = g.user != nil
	g.mu.Unlock()

	g.subMu.Lock()
	hooks := append([]func(context.Context){}, g.hooks...)
	g.subMu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

func (g *Gate) notify(u *auth.User) {
	g.subMu.Lock()
	fns := make([]func(*auth.User), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()

	for _, fn := range fns {
		fn(copyUser(u))
	}
}

func copyUser(u *auth.User) *auth.User {
	if u == nil {
		return nil
	}

	c := *u
	return &c
}

// Current returns the current identity or nil. It never blocks.
func (g *Gate) Current() *auth.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyUser(g.user)
}

// Snapshot returns the current identity and whether its user record is ready.
func (g *Gate) Snapshot() (*auth.User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyUser(g.user), g.ready
}

// Ready is closed once the first identity has been processed.
func (g *Gate) Ready() <-chan struct{} {
	return g.readyCh
}

// Readiness blocks until the first identity is processed and returns it.
func (g *Gate) Readiness(ctx context.Context) (*auth.User, error) {
	select {
	case <-g.readyCh:
		return copyUser(g.first), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitReady returns the current identity, waiting at most the ready timeout
// for the first one to show up. The result may be nil.
func (g *Gate) WaitReady(ctx context.Context) *auth.User {
	if u := g.Current(); u != nil {
		return u
	}

	timer := g.clock.NewTimer(g.readyTimeout)
	defer timer.Stop()

	select {
	case <-g.readyCh:
	case <-timer.Chan():
		zap.L().Debug("Timed out waiting for identity", zap.Duration("timeout", g.readyTimeout))
	case <-ctx.Done():
	}

	return g.Current()
}

// Credential returns a bearer token for the current identity.
func (g *Gate) Credential(ctx context.Context) (string, error) {
	if g.Current() == nil {
		return "", ErrNoIdentity
	}

	tok, err := g.provider.IDToken(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return "", ErrNoIdentity
		}

		return "", fmt.Errorf("failed to get ID token, %w", err)
	}

	return tok, nil
}
