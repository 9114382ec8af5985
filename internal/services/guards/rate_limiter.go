package guards

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// rateLimitWindow is the sliding window over which requests are counted.
const rateLimitWindow = 60 * time.Second

// RateLimiter enforces a per-user sliding-window request ceiling backed
// by the rate_limit_tracker table. A limit of zero or below disables the
// limiter entirely.
type RateLimiter struct {
	storage interfaces.GuardStorage
	limit   int
	logger  arbor.ILogger
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(storage interfaces.GuardStorage, requestsPerMinute int, logger arbor.ILogger) *RateLimiter {
	return &RateLimiter{
		storage: storage,
		limit:   requestsPerMinute,
		logger:  logger,
	}
}

// Allow records the request and reports whether the user is inside their
// window. The request is recorded before counting so concurrent callers
// cannot both slip under the limit.
func (r *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	if userID == "" {
		userID = "anonymous"
	}

	now := time.Now()
	if err := r.storage.RecordRequest(ctx, userID, now); err != nil {
		return false, err
	}

	count, err := r.storage.CountRequestsSince(ctx, userID, now.Add(-rateLimitWindow))
	if err != nil {
		return false, err
	}

	if count > r.limit {
		r.logger.Warn().
			Str("user_id", userID).
			Int("count", count).
			Int("limit", r.limit).
			Msg("Rate limit exceeded")
		return false, nil
	}
	return true, nil
}

// Prune deletes tracker rows older than the window. Run from the
// maintenance scheduler.
func (r *RateLimiter) Prune(ctx context.Context) (int64, error) {
	return r.storage.PruneRequestsBefore(ctx, time.Now().Add(-rateLimitWindow))
}
