package store

import (
	"bitwise74/playground-api/internal/model"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Document{}))
	return db
}

func TestGormBackendSwap(t *testing.T) {
	ctx := context.Background()
	b := NewGormBackend(newTestDB(t))

	doc, version, err := b.Load(ctx, "users/u1")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Zero(t, version)

	ok, err := b.Swap(ctx, "users/u1", map[string]any{"status": "anonymous"}, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second create loses
	ok, err = b.Swap(ctx, "users/u1", map[string]any{"status": "registered"}, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	doc, version, err = b.Load(ctx, "users/u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "anonymous", doc["status"])

	ok, err = b.Swap(ctx, "users/u1", map[string]any{"status": "registered"}, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale version
	ok, err = b.Swap(ctx, "users/u1", map[string]any{"status": "anonymous"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormBackedTreeCounter(t *testing.T) {
	ctx := context.Background()
	s := New(NewGormBackend(newTestDB(t)))

	for i := 1; i <= 3; i++ {
		v, err := s.Transaction(ctx, EventCounterPath("u1"), func(cur any) (any, bool) {
			return Int(cur) + 1, true
		})
		require.NoError(t, err)
		assert.EqualValues(t, i, Int(v))
	}
}

func TestGormBackedTreeDeleteRoot(t *testing.T) {
	ctx := context.Background()
	s := New(NewGormBackend(newTestDB(t)))

	require.NoError(t, s.Set(ctx, "users/u1", map[string]any{"status": "anonymous"}))
	require.NoError(t, s.Update(ctx, "users/u1", map[string]any{"status": nil}))

	_, err := s.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, ErrNotFound)

	// The emptied row keeps its version, so writes still go through
	require.NoError(t, s.Set(ctx, "users/u1/status", "registered"))
	v, err := s.Get(ctx, "users/u1/status")
	require.NoError(t, err)
	assert.Equal(t, "registered", v)
}
