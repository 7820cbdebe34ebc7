package worker

import (
	"math"
	"time"

	"trackresync/internal/models"
)

// RetryPolicy defines exponential backoff parameters for run dispatch.
// MaxRetries 0 retries forever.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy starts at 20s and doubles up to 5h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:  models.DefaultDispatchBackoff,
		MaxDelay:      models.MaxDispatchBackoff,
		BackoffFactor: 2,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = models.DefaultDispatchBackoff
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	d := time.Duration(delay)
	if d <= 0 {
		d = r.InitialDelay
	}
	return d
}

// Exhausted reports whether a request that has already been retried attempt times may
// not be retried again.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt >= r.MaxRetries
}
