package corpusgram

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognicore/corpusgram/pkg/corpusgram/store"
)

// RetryPolicy controls how conflicting units of work are re-run.
type RetryPolicy struct {
	// MaxAttempts caps the attempts; 0 retries until the work succeeds or
	// the context ends.
	MaxAttempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
	// MaxBackoff caps the pause between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy retries forever with a short linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff:    20 * time.Millisecond,
		MaxBackoff: time.Second,
	}
}

// IsZero reports whether p is the zero policy.
func (p RetryPolicy) IsZero() bool {
	return p == RetryPolicy{}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff * time.Duration(attempt)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Do runs fn until it returns something other than a store conflict. It
// returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, what string, fn func() error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !store.IsConflict(err) {
			return attempt, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return attempt, fmt.Errorf("%s: giving up after %d attempts: %w", what, attempt, err)
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("conflict", store.ConflictOf(err).String()).
			Msgf("%s conflicted, retrying", what)

		if d := p.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}
}
