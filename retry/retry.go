// Package retry runs operations again after exponentially growing pauses.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop: at most MaxAttempts runs, waiting BaseDelay
// after the first failure and doubling the wait after every other one.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

// Once runs an operation a single time.
var Once = Policy{MaxAttempts: 1}

// Delays lists the pauses a fully failing loop goes through.
func (p Policy) Delays() []time.Duration {
	var delays []time.Duration
	d := p.BaseDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, d)
		d *= 2
	}
	return delays
}

// Timer schedules the pauses between attempts.
type Timer = backoff.Timer

type Notify func(attempt int, err error, next time.Duration)

type options struct {
	timer  Timer
	notify Notify
}

type Option func(*options)

// WithTimer replaces the wall clock timer, mostly for tests.
func WithTimer(t Timer) Option {
	return func(o *options) { o.timer = t }
}

// WithNotify is called after every failed attempt that will be retried.
func WithNotify(n Notify) Option {
	return func(o *options) { o.notify = n }
}

// Permanent wraps err so that it is not retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, fails permanently, the context is done or the
// policy runs out of attempts. It returns how many attempts were made and
// the last error.
func Do(ctx context.Context, p Policy, op func(context.Context) error, opts ...Option) (attempts int, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Duration(1<<62)),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)

	var notify backoff.Notify
	if o.notify != nil {
		notify = func(err error, next time.Duration) {
			o.notify(attempts, err, next)
		}
	}

	err = backoff.RetryNotifyWithTimer(func() error {
		attempts++
		return op(ctx)
	}, b, notify, o.timer)
	return
}
