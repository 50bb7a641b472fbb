package database

import (
	"context"
	"testing"
	"time"

	"meetbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	assert.NoError(t, err)
	db.Close()

	ctx := context.Background()

	t.Run("CreateBooking", func(t *testing.T) {
		assert.Error(t, db.CreateBooking(ctx, newTestBooking("t", "r")))
	})

	t.Run("GetBooking", func(t *testing.T) {
		_, err := db.GetBooking(ctx, "t")
		assert.Error(t, err)
	})

	t.Run("TransitionBooking", func(t *testing.T) {
		assert.Error(t, db.TransitionBooking(ctx, "t", models.StatusApproved, time.Now()))
	})

	t.Run("ListBookings", func(t *testing.T) {
		_, err := db.ListBookings(ctx, models.BookingFilter{})
		assert.Error(t, err)
	})

	t.Run("TokenExists", func(t *testing.T) {
		_, err := db.TokenExists(ctx, "t")
		assert.Error(t, err)
	})
}

func TestNewDB_Error(t *testing.T) {
	logger := zerolog.Nop()
	// A directory cannot be opened as a database file.
	_, err := NewDB(t.TempDir(), &logger)
	assert.Error(t, err)
}

func TestCreateBooking_Nil(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	assert.Error(t, db.CreateBooking(context.Background(), nil))
}
