package provider

import (
	"context"
	"errors"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	breakerConsecutiveFailures = 5
	breakerOpenTimeout         = 30 * time.Second
)

// BreakerProvider wraps a provider in a circuit breaker so a dead channel
// backend sheds load instead of burning the whole dispatch batch on
// timeouts. A rejected call is a transient failure and lands in the normal
// retry schedule. Skips count as successes; they say nothing about the
// backend's health.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

func WithBreaker(inner Provider, logger *zap.Logger) *BreakerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:    inner.Channel().String(),
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit state changed",
				zap.String("channel", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerProvider) Channel() domain.Channel { return b.inner.Channel() }

func (b *BreakerProvider) State() gobreaker.State { return b.breaker.State() }

func (b *BreakerProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Deliver(ctx, target, intent)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderError{
				Message:   "provider circuit open",
				Transient: true,
				Cause:     err,
			}
		}
		return nil, err
	}

	result, ok := out.(*Result)
	if !ok {
		return nil, &ProviderError{Message: "unexpected provider result", Transient: false}
	}

	return result, nil
}
