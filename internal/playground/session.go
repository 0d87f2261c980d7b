// Package playground bundles the identity gate, the ledger and the generation
// orchestrator of one browser session and implements the playground flows on
// top of them.
package playground

import (
	"bitwise74/playground-api/internal/archive"
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/generation"
	"bitwise74/playground-api/internal/identity"
	"bitwise74/playground-api/internal/ledger"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/security"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config holds the shared dependencies every session is built from.
type Config struct {
	Accounts *auth.Accounts
	Signer   *security.Signer
	Store    store.Store
	API      generation.API
	// Archiver is optional
	Archiver *archive.Archiver
	Clock    clockwork.Clock

	ReadyTimeout time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// HistoryItem is a finished generation shown in the session's history.
type HistoryItem struct {
	TaskID         string    `json:"taskId"`
	OutputURL      string    `json:"outputUrl"`
	Prompt         string    `json:"prompt"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	ArchiveKey     string    `json:"archiveKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Session struct {
	ID string

	provider *auth.Local
	gate     *identity.Gate
	ledger   *ledger.Ledger
	orch     *generation.Orchestrator
	archiver *archive.Archiver
	clock    clockwork.Clock

	// ctx bounds generation runs and ends with the parent. storeCtx is used
	// for ledger and user record writes and outlives the parent until Close
	// has flushed.
	ctx         context.Context
	cancel      context.CancelFunc
	storeCtx    context.Context
	storeCancel context.CancelFunc
	runs        sync.WaitGroup

	mu             sync.Mutex
	running        bool
	message        string
	tone           string
	history        []HistoryItem
	pageViewLogged bool
	closed         bool
	unsubscribe    func()
}

// NewSession builds and starts a session. A valid token resumes the identity
// it was issued for, otherwise a new anonymous identity is created.
func NewSession(parent context.Context, id, token string, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(parent)
	storeCtx, storeCancel := context.WithCancel(context.WithoutCancel(parent))

	provider := auth.NewLocal(cfg.Accounts, cfg.Signer)
	provider.Restore(storeCtx, token)

	gate := identity.New(provider, cfg.Store, identity.Options{
		Clock:        cfg.Clock,
		ReadyTimeout: cfg.ReadyTimeout,
	})
	l := ledger.New(storeCtx, gate, cfg.Store, cfg.Clock)
	gate.OnReady(l.Flush)

	s := &Session{
		ID:       id,
		provider: provider,
		gate:     gate,
		ledger:   l,
		orch: generation.NewOrchestrator(cfg.API, gate, generation.Config{
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxAttempts,
			Clock:        cfg.Clock,
		}),
		archiver:    cfg.Archiver,
		clock:       cfg.Clock,
		ctx:         ctx,
		cancel:      cancel,
		storeCtx:    storeCtx,
		storeCancel: storeCancel,
	}

	s.unsubscribe = gate.Subscribe(s.onIdentity)
	gate.Start(storeCtx)

	return s
}

func (s *Session) onIdentity(u *auth.User) {
	s.mu.Lock()
	first := !s.pageViewLogged
	s.pageViewLogged = true
	s.mu.Unlock()

	if first {
		s.ledger.Log("page_view", map[string]any{
			"page":   "playground",
			"status": u.Anonymous,
		})
	}
}

// Close stops the running generation and any uploads, waits for them to record
// their outcome and flushes the ledger. Entries still queued because no identity was ever ready
// are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.gate.Stop()

	s.cancel()
	s.runs.Wait()

	s.ledger.Wait()
	if events, videos := s.ledger.Pending(); events+videos > 0 {
		zap.L().Warn("Session closed with unwritten ledger entries",
			zap.String("session", s.ID),
			zap.Int("events", events),
			zap.Int("videos", videos),
		)
	}

	s.storeCancel()
}

func (s *Session) Identity(ctx context.Context) *auth.User {
	return s.gate.WaitReady(ctx)
}

// Token returns a bearer token for the session's identity.
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.gate.Credential(ctx)
}

// Log records an arbitrary client event.
func (s *Session) Log(name string, meta map[string]any) {
	s.ledger.Log(name, meta)
}

func (s *Session) Videos(ctx context.Context) ([]ledger.Video, error) {
	return s.ledger.Videos(ctx)
}

// History returns finished generations, newest first.
func (s *Session) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem{}, s.history...)
}

// Status combines the orchestrator state with the session's status line.
func (s *Session) Status() generation.Status {
	st := s.orch.Status()

	s.mu.Lock()
	st.Message = s.message
	st.Tone = s.tone
	s.mu.Unlock()

	return st
}

func (s *Session) setStatus(message, tone string) {
	s.mu.Lock()
	s.message = message
	s.tone = tone
	s.mu.Unlock()
}
