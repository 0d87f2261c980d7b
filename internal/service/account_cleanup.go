// Package service contains background jobs
package service

import (
	"bitwise74/playground-api/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountCleanup deletes anonymous accounts older than maxAge every tick
// until ctx is done. Their tokens have expired by then so no session can
// resume them. Stored documents are kept.
func AccountCleanup(ctx context.Context, clock clockwork.Clock, t, maxAge time.Duration, db *gorm.DB) {
	ticker := clock.NewTicker(t)

	zap.L().Debug("Account cleanup attached", zap.Duration("tick_every", t))

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}

			n, err := PruneAnonymous(ctx, db, clock.Now().Add(-maxAge))
			if err != nil {
				zap.L().Error("Failed to clean up anonymous accounts", zap.Error(err))
				continue
			}

			if n > 0 {
				zap.L().Debug("Account cleanup finished", zap.Int64("deleted", n))
			}
		}
	}()
}

// PruneAnonymous deletes anonymous accounts created before the cutoff.
func PruneAnonymous(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	r := db.
		WithContext(ctx).
		Where("anonymous = ? AND created_at < ?", true, before.UnixMilli()).
		Delete(&model.Account{})
	if r.Error != nil {
		return 0, fmt.Errorf("failed to delete anonymous accounts, %w", r.Error)
	}

	return r.RowsAffected, nil
}
