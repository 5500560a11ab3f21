package query

import "time"

type options struct {
	timeout          time.Duration
	retry            RetryPolicy
	retrySpawnErrors bool
	interval         time.Duration
	enabled          bool
}

type Option func(*options)

// WithTimeout bounds every attempt. An attempt that runs past d is abandoned
// and fails with ErrTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry retries transient failures according to policy.
func WithRetry(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// WithRetrySpawnErrors treats runner spawn failures as transient.
func WithRetrySpawnErrors() Option {
	return func(o *options) {
		o.retrySpawnErrors = true
	}
}

// WithRefetchInterval refetches every d. Ticks are skipped while a fetch is
// in flight.
func WithRefetchInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithEnabled fetches once at construction.
func WithEnabled() Option {
	return func(o *options) {
		o.enabled = true
	}
}
