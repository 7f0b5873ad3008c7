package service

import (
	"math/rand"
	"time"
)

const (
	defaultBaseRetryDelay  = 30 * time.Second
	defaultMaxRetryDelay   = 10 * time.Minute
	defaultMaxAttempts     = 5
	maxRetryJitterMillis   = 5000
	minDispatchConcurrency = 1
)

// RetryPolicy computes the backoff schedule for transient delivery failures:
// exponential doubling from a base delay, capped, with random jitter so a
// burst of failures after an outage does not come back as one thundering
// herd. Attempts past MaxAttempts are terminal.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	randIntn func(n int) int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   defaultBaseRetryDelay,
		MaxDelay:    defaultMaxRetryDelay,
		MaxAttempts: defaultMaxAttempts,
		randIntn:    rand.Intn,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseRetryDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = defaultMaxRetryDelay
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.randIntn == nil {
		p.randIntn = rand.Intn
	}
	return p
}

// Delay returns the wait before the next attempt, given the attempt number
// that just failed (1-based).
func (p RetryPolicy) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	jitterMillis := 0
	if p.randIntn != nil {
		jitterMillis = p.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// Exhausted reports whether the attempt that just failed was the last one.
func (p RetryPolicy) Exhausted(attemptNumber int) bool {
	return attemptNumber >= p.MaxAttempts
}
