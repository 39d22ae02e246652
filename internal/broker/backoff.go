package broker

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fixed waits the same delay before every retry.
func Fixed(delay time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(delay)
}

// Exponential doubles the delay after every attempt, starting at initial and
// never exceeding max. It has no jitter so delays are predictable.
func Exponential(initial, max time.Duration) backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(max),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// Capped clamps every delay returned by policy to max.
func Capped(policy backoff.BackOff, max time.Duration) backoff.BackOff {
	return &capped{policy: policy, max: max}
}

type capped struct {
	policy backoff.BackOff
	max    time.Duration
}

func (c *capped) NextBackOff() time.Duration {
	d := c.policy.NextBackOff()
	if d != backoff.Stop && d > c.max {
		return c.max
	}
	return d
}

func (c *capped) Reset() {
	c.policy.Reset()
}

// Policy builds a backoff policy by name: "fixed" or "exponential".
func Policy(kind string, delay, max time.Duration) (backoff.BackOff, error) {
	switch kind {
	case "", "fixed":
		return Capped(Fixed(delay), max), nil
	case "exponential":
		return Exponential(delay, max), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", kind)
	}
}
