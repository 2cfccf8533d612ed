package worker

// backoff.go
// Decides, after a failed submission, whether and when a transaction is
// re-attempted. The decision is pure data computed from the typed
// gateway error — no exception-style control flow.

import (
	"time"

	"github.com/bugradavut/dev-vizionmenu-sub009/internal/infra"
)

// RetryPolicy holds the exponential backoff parameters.
type RetryPolicy struct {
	Base time.Duration // delay before the first retry
	Cap  time.Duration // upper bound on any delay
}

// DefaultRetryPolicy mirrors the configured defaults: 30s base, 30m cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 30 * time.Second, Cap: 30 * time.Minute}
}

// Decision is the scheduler's verdict for one failed attempt.
type Decision struct {
	Terminal    bool
	NextRetryAt time.Time // meaningful only when !Terminal
}

// Decide applies the retry policy to a failed attempt. retryCount is the
// record's count after this attempt was charged against it.
//
//   - Validation rejections and internal payload defects are never
//     retried: terminal immediately.
//   - Transient, auth, and indeterminate failures retry with exponential
//     backoff until the budget is exhausted.
func (p RetryPolicy) Decide(gerr *infra.GatewayError, retryCount, maxRetries int, now time.Time) Decision {
	if gerr != nil && !gerr.Retryable() {
		return Decision{Terminal: true}
	}
	if retryCount >= maxRetries {
		return Decision{Terminal: true}
	}
	return Decision{NextRetryAt: now.Add(p.Delay(retryCount))}
}

// Delay returns the backoff before retry attempt n: base * 2^n, capped.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
