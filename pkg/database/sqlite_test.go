package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type counterRow struct {
	ID    string `gorm:"primaryKey"`
	Value int
}

func TestInTxCommitsAndRollsBack(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, &counterRow{})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.InTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&counterRow{ID: "a", Value: 1}).Error
	}))

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&counterRow{}).Where("id = ?", "a").Update("value", 2).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var row counterRow
	require.NoError(t, db.Conn(ctx).First(&row, "id = ?", "a").Error)
	assert.Equal(t, 1, row.Value)
}

func TestInTxRetriesLockErrors(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "retry.db"), MaxRetries: 3}, &counterRow{})
	require.NoError(t, err)
	defer db.Close()

	calls := 0
	err = db.InTx(context.Background(), func(tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("SQLITE_BUSY: database is locked")))
	assert.False(t, IsRetryable(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
