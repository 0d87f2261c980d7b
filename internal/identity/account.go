package identity

import (
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/util"
	"context"
	"fmt"
	"strings"
)

// Register turns the current identity into a registered one. An anonymous
// identity is linked, so its ID and counters carry over.
func (g *Gate) Register(ctx context.Context, email, password string) (*auth.User, error) {
	u := g.provider.CurrentUser()
	if u == nil {
		return nil, auth.ErrNoSession
	}

	if u.Anonymous {
		linked, err := g.provider.LinkWithEmail(ctx, email, password)
		if err != nil {
			return nil, err
		}
		u = linked
	}

	if err := g.stamp(ctx, u, email, "registered_at"); err != nil {
		return nil, err
	}

	g.set(u, true)
	g.markReady(ctx)

	return copyUser(u), nil
}

// SignIn signs in with an existing email account.
func (g *Gate) SignIn(ctx context.Context, email, password string) (*auth.User, error) {
	u, err := g.provider.SignInWithEmail(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := g.ensureUserRecord(ctx, u); err != nil {
		return nil, err
	}

	if err := g.stamp(ctx, u, email, "last_login_at"); err != nil {
		return nil, err
	}

	g.set(u, true)
	g.markReady(ctx)

	return copyUser(u), nil
}

// SignOut drops the current identity. The provider then reports no session
// and a new anonymous identity takes its place.
func (g *Gate) SignOut(ctx context.Context) error {
	g.set(nil, false)

	if err := g.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out, %w", err)
	}

	return nil
}

func (g *Gate) stamp(ctx context.Context, u *auth.User, email, field string) error {
	if u.Email != "" {
		email = u.Email
	}

	now := g.clock.Now()

	err := g.store.Update(ctx, store.UserPath(u.ID), map[string]any{
		"status":         "registered",
		"email":          strings.TrimSpace(email),
		field:            now.UnixMilli(),
		field + "_local": util.FormatUTCPlus2(now),
	})
	if err != nil {
		return fmt.Errorf("failed to update user record, %w", err)
	}

	return nil
}
