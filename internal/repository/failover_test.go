package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimiter(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	limiter := NewFailoverRateLimiter(primary, fallback, &logger)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Allow", ctx, "a", 5, time.Hour).Return(true, nil).Once()

		allowed, err := limiter.Allow(ctx, "a", 5, time.Hour)
		assert.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Allow", ctx, "b", 5, time.Hour).Return(false, errors.New("fail")).Once()
		fallback.On("Allow", ctx, "b", 5, time.Hour).Return(true, nil).Once()

		allowed, err := limiter.Allow(ctx, "b", 5, time.Hour)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, limiter.isDown)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Allow", ctx, "c", 5, time.Hour).Return(false, nil).Once()

		allowed, err := limiter.Allow(ctx, "c", 5, time.Hour)
		assert.NoError(t, err)
		assert.False(t, allowed)
		primary.AssertNotCalled(t, "Allow", ctx, "c", 5, time.Hour)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Allow", ctx, "d", 5, time.Hour).Return(true, nil).Once()

		allowed, err := limiter.Allow(ctx, "d", 5, time.Hour)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, limiter.isDown)
	})
}
