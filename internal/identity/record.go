package identity

import (
	"bitwise74/playground-api/internal/auth"
	"bitwise74/playground-api/internal/store"
	"bitwise74/playground-api/pkg/util"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

const (
	statusAnonymous  = "anonymous"
	statusRegistered = "registered"
)

var (
	legacyEventKey  = regexp.MustCompile(`^event(\d+)$`)
	numericEventKey = regexp.MustCompile(`^\d+$`)
)

// ensureUserRecord creates the record of u with zeroed counters or brings the
// status and email of an existing one up to date.
func (g *Gate) ensureUserRecord(ctx context.Context, u *auth.User) error {
	path := store.UserPath(u.ID)

	cur, err := g.store.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		now := g.clock.Now()

		status := statusRegistered
		if u.Anonymous {
			status = statusAnonymous
		}

		var email any
		if u.Email != "" {
			email = u.Email
		}

		err = g.store.Set(ctx, path, map[string]any{
			"status":           status,
			"created_at":       now.UnixMilli(),
			"created_at_local": util.FormatUTCPlus2(now),
			"email":            email,
			"event_counter":    0,
			"video_counter":    0,
		})
		if err != nil {
			return fmt.Errorf("failed to create user record, %w", err)
		}

		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read user record, %w", err)
	}

	rec, _ := cur.(map[string]any)
	updates := map[string]any{}

	if !u.Anonymous && rec["status"] != statusRegistered {
		updates["status"] = statusRegistered
	}

	if u.Email != "" && rec["email"] != u.Email {
		updates["email"] = u.Email
	}

	if len(updates) == 0 {
		return nil
	}

	if err := g.store.Update(ctx, path, updates); err != nil {
		return fmt.Errorf("failed to update user record, %w", err)
	}

	return nil
}

// migrateEventKeys renames events stored under "eventN" to "N" and makes
// sure the event counter is past every sequence number in use.
func (g *Gate) migrateEventKeys(ctx context.Context, uid string) error {
	v, err := g.store.Get(ctx, store.EventsPath(uid))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read events, %w", err)
	}

	events, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	updates := map[string]any{}
	var maxSeq int64

	for key, val := range events {
		if m := legacyEventKey.FindStringSubmatch(key); m != nil {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}

			numeric := strconv.FormatInt(n, 10)
			if events[numeric] == nil {
				updates[numeric] = val
			}

			updates[key] = nil
			maxSeq = max(maxSeq, n)
			continue
		}

		if numericEventKey.MatchString(key) {
			if n, err := strconv.ParseInt(key, 10, 64); err == nil {
				maxSeq = max(maxSeq, n)
			}
		}
	}

	if len(updates) > 0 {
		if err := g.store.Update(ctx, store.EventsPath(uid), updates); err != nil {
			return fmt.Errorf("failed to migrate event keys, %w", err)
		}

		zap.L().Info("Migrated legacy event keys", zap.String("userID", uid), zap.Int("keys", len(updates)))
	}

	if maxSeq == 0 {
		return nil
	}

	_, err = g.store.Transaction(ctx, store.EventCounterPath(uid), func(cur any) (any, bool) {
		return max(store.Int(cur), maxSeq), true
	})
	if err != nil {
		return fmt.Errorf("failed to raise event counter, %w", err)
	}

	return nil
}
