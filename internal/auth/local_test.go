package auth

import (
	"bitwise74/playground-api/internal/model"
	"bitwise74/playground-api/pkg/security"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestAccounts(t *testing.T) *Accounts {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Account{}))

	h := security.NewHasher()
	h.Memory = 1024
	h.Iterations = 1

	return NewAccounts(db, h)
}

type recorder struct {
	mu     sync.Mutex
	events []*User
}

func (r *recorder) record(u *User) {
	r.mu.Lock()
	r.events = append(r.events, u)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []*User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*User(nil), r.events...)
}

func TestLocalAnonymousThenLink(t *testing.T) {
	ctx := context.Background()
	signer := security.NewSigner("secret", time.Hour)
	l := NewLocal(newTestAccounts(t), signer)

	rec := &recorder{}
	unsubscribe := l.OnAuthStateChanged(rec.record)
	defer unsubscribe()

	// Initial state arrives asynchronously
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.snapshot()[0])

	anon, err := l.SignInAnonymously(ctx)
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)
	require.Len(t, rec.snapshot(), 2)
	assert.Equal(t, anon.ID, rec.snapshot()[1].ID)

	linked, err := l.LinkWithEmail(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, linked.ID)
	assert.False(t, linked.Anonymous)
	assert.Equal(t, "user@example.com", linked.Email)
	// Linking keeps the same user, no new auth state event
	assert.Len(t, rec.snapshot(), 2)

	tok, err := l.IDToken(ctx)
	require.NoError(t, err)
	claims, err := signer.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, anon.ID, claims.UserID)
	assert.False(t, claims.Anonymous)

	_, err = l.LinkWithEmail(ctx, "other@example.com", "secret1")
	assert.ErrorIs(t, err, ErrAlreadyLinked)
}

func TestLocalLinkErrors(t *testing.T) {
	ctx := context.Background()
	accounts := newTestAccounts(t)
	signer := security.NewSigner("secret", time.Hour)

	first := NewLocal(accounts, signer)
	_, err := first.LinkWithEmail(ctx, "user@example.com", "secret1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = first.SignInAnonymously(ctx)
	require.NoError(t, err)

	_, err = first.LinkWithEmail(ctx, "bad", "secret1")
	assert.Equal(t, "auth/invalid-email", Code(err))

	_, err = first.LinkWithEmail(ctx, "user@example.com", "123")
	assert.Equal(t, "auth/weak-password", Code(err))

	_, err = first.LinkWithEmail(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	second := NewLocal(accounts, signer)
	_, err = second.SignInAnonymously(ctx)
	require.NoError(t, err)

	_, err = second.LinkWithEmail(ctx, "user@example.com", "secret2")
	assert.ErrorIs(t, err, ErrEmailInUse)
}

func TestLocalSignInAndRestore(t *testing.T) {
	ctx := context.Background()
	accounts := newTestAccounts(t)
	signer := security.NewSigner("secret", time.Hour)

	l := NewLocal(accounts, signer)
	anon, err := l.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = l.LinkWithEmail(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	other := NewLocal(accounts, signer)
	_, err = other.SignInWithEmail(ctx, "user@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	u, err := other.SignInWithEmail(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, u.ID)

	tok, err := other.IDToken(ctx)
	require.NoError(t, err)

	restored := NewLocal(accounts, signer)
	assert.True(t, restored.Restore(ctx, tok))
	assert.Equal(t, anon.ID, restored.CurrentUser().ID)
	assert.False(t, restored.Restore(ctx, "garbage"))

	require.NoError(t, restored.SignOut(ctx))
	assert.Nil(t, restored.CurrentUser())

	_, err = restored.IDToken(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, "unknown", Code(assert.AnError))
}
