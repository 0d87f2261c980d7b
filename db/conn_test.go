package db

import (
	"bitwise74/playground-api/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigratesTables(t *testing.T) {
	db, err := New("sqlite", "file:conn_test?mode=memory&cache=shared")
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&model.Account{}))
	assert.True(t, db.Migrator().HasTable(&model.Document{}))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New("mysql", "")
	assert.Error(t, err)
}

func TestIsMemoryDSN(t *testing.T) {
	assert.True(t, isMemoryDSN("file::memory:"))
	assert.True(t, isMemoryDSN("file:test?mode=memory&cache=shared"))
	assert.False(t, isMemoryDSN("database.db"))
}
