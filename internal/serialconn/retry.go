package serialconn

import (
	"context"
	"time"
)

// DefaultRetryInterval is the fixed pause between failed open attempts.
const DefaultRetryInterval = 5 * time.Second

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy controls how Open retries a failing port. The interval is
// fixed; there is no exponential backoff.
type RetryPolicy struct {
	Interval time.Duration
	// MaxAttempts caps consecutive failed opens per round. Zero retries
	// forever. After a capped round gives up, the next Manager.Poll starts a
	// new round.
	MaxAttempts int
	// Sleep replaces the real clock in tests. Nil uses SleepContext.
	Sleep SleepFunc
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultRetryInterval
	}
	return p.Interval
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// exhausted reports whether attempts consecutive failures end the retry loop.
func (p RetryPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// SleepContext sleeps for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
