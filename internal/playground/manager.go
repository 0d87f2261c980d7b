package playground

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// Manager keeps sessions alive while they're used and closes them once idle
// for longer than the TTL.
type Manager struct {
	ctx      context.Context
	cfg      Config
	sessions *ttlcache.Cache

	// mu serializes session creation
	mu sync.Mutex
}

func NewManager(ctx context.Context, cfg Config, ttl time.Duration) *Manager {
	c := ttlcache.NewCache()
	c.SetTTL(ttl)
	c.SkipTTLExtensionOnHit(false)
	c.SetExpirationCallback(func(key string, value any) {
		zap.L().Debug("Session expired", zap.String("session", key))
		go value.(*Session).Close()
	})

	return &Manager{
		ctx:      ctx,
		cfg:      cfg,
		sessions: c,
	}
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	v, err := m.sessions.Get(id)
	if err != nil {
		return nil, false
	}

	return v.(*Session), true
}

// Open returns the session with the given id, or creates a new session if it
// doesn't exist. token is used to resume an identity for new sessions.
func (m *Manager) Open(id, token string) (*Session, error) {
	if s, ok := m.Get(id); ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.Get(id); ok {
		return s, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID, %w", err)
	}

	s := NewSession(m.ctx, id, token, m.cfg)
	if err := m.sessions.Set(id, s); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to store session, %w", err)
	}

	zap.L().Debug("Opened session", zap.String("session", id))
	return s, nil
}

func (m *Manager) Count() int {
	return m.sessions.Count()
}

// Close closes every session.
func (m *Manager) Close() error {
	for _, key := range m.sessions.GetKeys() {
		if s, ok := m.Get(key); ok {
			s.Close()
		}
	}

	if err := m.sessions.Close(); err != nil && !errors.Is(err, ttlcache.ErrClosed) {
		return err
	}

	return nil
}
