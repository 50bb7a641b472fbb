package repository

import (
	"context"
	"sync"
	"time"

	"meetbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverRateLimiter uses primary until it errors, then fallback,
// retrying primary once per recoveryInterval.
type FailoverRateLimiter struct {
	primary  domain.RateLimiter
	fallback domain.RateLimiter
	logger   *zerolog.Logger

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverRateLimiter(primary, fallback domain.RateLimiter, logger *zerolog.Logger) *FailoverRateLimiter {
	return &FailoverRateLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.shouldTryPrimary() {
		allowed, err := r.primary.Allow(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.Allow(ctx, key, limit, window)
}

func (r *FailoverRateLimiter) shouldTryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.isDown || r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverRateLimiter) markUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDown {
		r.logger.Info().Msg("Primary rate limiter recovered")
	}
	r.isDown = false
}

func (r *FailoverRateLimiter) markDown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		r.logger.Error().Err(err).Msg("Primary rate limiter failed, falling back to memory")
	}
	r.isDown = true
	r.lastCheck = r.now()
}
