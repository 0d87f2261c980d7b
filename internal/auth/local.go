package auth

import (
	"bitwise74/playground-api/internal/model"
	"bitwise74/playground-api/pkg/security"
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Local is a Provider backed by the accounts table. One Local instance holds
// the auth state of one client session.
type Local struct {
	accounts *Accounts
	signer   *security.Signer

	mu        sync.Mutex
	user      *User
	listeners map[int]func(*User)
	nextID    int
}

func NewLocal(accounts *Accounts, signer *security.Signer) *Local {
	return &Local{
		accounts:  accounts,
		signer:    signer,
		listeners: make(map[int]func(*User)),
	}
}

func userFrom(acc *model.Account) *User {
	u := &User{
		ID:        acc.ID,
		Anonymous: acc.Anonymous,
	}

	if acc.Email != nil {
		u.Email = *acc.Email
	}

	return u
}

// Restore resumes the identity carried by a token issued earlier. Invalid
// tokens and unknown accounts are ignored and reported as false.
func (l *Local) Restore(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	claims, err := l.signer.Parse(token)
	if err != nil {
		zap.L().Debug("Ignoring invalid auth token", zap.Error(err))
		return false
	}

	acc, err := l.accounts.Find(ctx, claims.UserID)
	if err != nil {
		zap.L().Debug("Ignoring auth token for unknown account", zap.String("userID", claims.UserID), zap.Error(err))
		return false
	}

	l.mu.Lock()
	l.user = userFrom(acc)
	l.mu.Unlock()

	return true
}

func (l *Local) CurrentUser() *User {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.user == nil {
		return nil
	}

	u := *l.user
	return &u
}

func (l *Local) OnAuthStateChanged(fn func(*User)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	go func() {
		l.mu.Lock()
		_, ok := l.listeners[id]
		l.mu.Unlock()

		if ok {
			fn(l.CurrentUser())
		}
	}()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// notify runs listeners in registration order on the calling goroutine.
func (l *Local) notify(u *User) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fns := make([]func(*User), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.listeners[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		if u == nil {
			fn(nil)
			continue
		}

		cp := *u
		fn(&cp)
	}
}

func (l *Local) setUser(u *User) {
	l.mu.Lock()
	l.user = u
	l.mu.Unlock()
}

func (l *Local) SignInAnonymously(ctx context.Context) (*User, error) {
	acc, err := l.accounts.CreateAnonymous(ctx)
	if err != nil {
		return nil, err
	}

	u := userFrom(acc)
	l.setUser(u)
	l.notify(u)

	return l.CurrentUser(), nil
}

func (l *Local) SignInWithEmail(ctx context.Context, email, password string) (*User, error) {
	acc, err := l.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	u := userFrom(acc)
	l.setUser(u)
	l.notify(u)

	return l.CurrentUser(), nil
}

func (l *Local) LinkWithEmail(ctx context.Context, email, password string) (*User, error) {
	cur := l.CurrentUser()
	if cur == nil {
		return nil, ErrNoSession
	}

	if !cur.Anonymous {
		return nil, ErrAlreadyLinked
	}

	acc, err := l.accounts.Link(ctx, cur.ID, email, password)
	if err != nil {
		return nil, err
	}

	l.setUser(userFrom(acc))
	return l.CurrentUser(), nil
}

func (l *Local) SignOut(_ context.Context) error {
	l.setUser(nil)
	l.notify(nil)
	return nil
}

func (l *Local) IDToken(_ context.Context) (string, error) {
	u := l.CurrentUser()
	if u == nil {
		return "", ErrNoSession
	}

	return l.signer.Sign(u.ID, u.Anonymous, u.Email)
}
