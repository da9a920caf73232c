package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMigrator(t *testing.T) (*Migrator, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	return m, db
}

func TestMigrator_UpAndStatus(t *testing.T) {
	m, db := setupMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.False(t, statuses[0].Applied)

	require.NoError(t, m.Up(ctx))
	assert.True(t, db.Migrator().HasTable(&models.PlaybackPosition{}))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Version)
	}
}

func TestMigrator_Down(t *testing.T) {
	m, db := setupMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable(&models.PlaybackPosition{}))

	// nothing left to roll back
	require.NoError(t, m.Down(ctx))
}
