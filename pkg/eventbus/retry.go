package eventbus

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether and when a failed job is delivered again.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// Next returns the delay before attempt+1, or false when the job must not be
// retried.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	if IsPermanent(err) || attempt >= p.MaxAttempts {
		return 0, false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for range attempt - 1 {
		delay = b.NextBackOff()
	}

	return delay, true
}

// IsPermanent reports whether err was marked with backoff.Permanent.
func IsPermanent(err error) bool {
	var permanent *backoff.PermanentError

	return errors.As(err, &permanent)
}
