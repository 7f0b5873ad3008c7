package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/event"
	"github.com/classpoint/notify/internal/observability"
	"github.com/classpoint/notify/internal/provider"
	"github.com/classpoint/notify/internal/ratelimit"
	"github.com/classpoint/notify/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDispatchBatchSize    = 50
	defaultDispatchConcurrency  = 16
	defaultDispatchPollInterval = 2 * time.Second
	defaultClaimLease           = 2 * time.Minute
	defaultAttemptTimeout       = 15 * time.Second
)

// ProviderRegistry routes a target to the provider for its channel.
type ProviderRegistry interface {
	For(channel domain.Channel) (provider.Provider, bool)
}

// DispatcherConfig tunes the dispatch loop. Zero values fall back to
// defaults.
type DispatcherConfig struct {
	BatchSize      int
	Concurrency    int
	PollInterval   time.Duration
	ClaimLease     time.Duration
	AttemptTimeout time.Duration
	Retry          RetryPolicy
}

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.BatchSize < 1 {
		c.BatchSize = defaultDispatchBatchSize
	}
	if c.Concurrency < minDispatchConcurrency {
		c.Concurrency = defaultDispatchConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultDispatchPollInterval
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = defaultClaimLease
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	c.Retry = c.Retry.normalized()
	return c
}

// Dispatcher drains the outbox: it claims intent batches under a lease, fans
// delivery attempts out per target under a concurrency bound, records every
// outcome in the ledger and finalizes the intent. One target failing never
// blocks the rest of the intent.
type Dispatcher struct {
	outbox     repository.OutboxRepository
	deliveries repository.DeliveryRepository
	providers  ProviderRegistry
	limiter    ratelimit.RateLimiter
	status     event.StatusPublisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        DispatcherConfig
	now        func() time.Time
}

func NewDispatcher(
	outbox repository.OutboxRepository,
	deliveries repository.DeliveryRepository,
	providers ProviderRegistry,
	limiter ratelimit.RateLimiter,
	cfg DispatcherConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		outbox:     outbox,
		deliveries: deliveries,
		providers:  providers,
		limiter:    limiter,
		logger:     logger,
		cfg:        cfg.normalized(),
		now:        time.Now,
	}, nil
}

// SetStatusPublisher wires the outcome feed for non-completed intents.
func (d *Dispatcher) SetStatusPublisher(publisher event.StatusPublisher) {
	if d == nil {
		return
	}
	d.status = publisher
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Start polls the outbox until context cancellation. Intents claimed but not
// yet started when the context ends are released back to pending.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := d.dispatchOnce(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("dispatch pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.dispatchOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("dispatch pass failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) dispatchOnce(ctx context.Context) error {
	intents, err := d.outbox.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.ClaimLease)
	if err != nil {
		return fmt.Errorf("failed to claim intents: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	if d.metrics != nil {
		d.metrics.AddIntentsClaimed(len(intents))
	}

	// Plain errgroup without context propagation: one target's failure must
	// not cancel its siblings. The group spans the whole claimed batch, so
	// Concurrency bounds in-flight attempts across intents rather than per
	// intent.
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	started := make([]*domain.Intent, 0, len(intents))
	for i := range intents {
		if ctx.Err() != nil {
			d.releaseUnstarted(intents[i:])
			break
		}

		intent := intents[i]
		if err := d.deliveries.EnsurePending(ctx, &intent); err != nil {
			// Keep the claim; the lapsed lease re-dispatches the intent.
			d.logger.Error("failed to seed delivery ledger",
				zap.String("intentId", intent.ID),
				zap.Error(err),
			)
			continue
		}
		started = append(started, &intent)

		for _, target := range intent.Targets {
			target := target
			g.Go(func() error {
				d.deliverTarget(ctx, intent, target, 1)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, intent := range started {
		if err := d.finalizeIntent(ctx, intent); err != nil {
			d.logger.Error("failed to finalize intent",
				zap.String("intentId", intent.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// releaseUnstarted hands claimed-but-untouched intents back to the outbox on
// shutdown so another dispatcher picks them up without waiting out the lease.
func (d *Dispatcher) releaseUnstarted(intents []domain.Intent) {
	if len(intents) == 0 {
		return
	}

	ids := make([]string, 0, len(intents))
	for i := range intents {
		ids = append(ids, intents[i].ID)
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.outbox.Release(releaseCtx, ids); err != nil {
		d.logger.Error("failed to release claimed intents", zap.Error(err))
		return
	}

	d.logger.Info("released claimed intents on shutdown", zap.Int("count", len(ids)))
}

// deliverTarget runs one attempt and records its outcome. Ledger write
// failures are logged and leave the row pending; the lapsed lease brings the
// target back on a later pass.
func (d *Dispatcher) deliverTarget(ctx context.Context, intent domain.Intent, target domain.Target, attemptNumber int) {
	channelName := strings.ToLower(target.Channel.String())

	p, ok := d.providers.For(target.Channel)
	if !ok {
		d.recordFailure(ctx, intent.ID, target, fmt.Errorf("no provider for channel %s", target.Channel), false, attemptNumber)
		return
	}

	if err := d.limiter.Wait(ctx, channelName); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("rate limiter wait failed",
			zap.String("intentId", intent.ID),
			zap.String("channel", channelName),
			zap.Error(err),
		)
		return
	}

	if d.metrics != nil {
		d.metrics.IncDispatchInFlight(channelName)
		defer d.metrics.DecDispatchInFlight(channelName)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	start := d.now()
	result, deliverErr := p.Deliver(attemptCtx, target, intent)
	if d.metrics != nil {
		d.metrics.ObserveDeliveryDuration(channelName, d.now().Sub(start))
	}

	if deliverErr != nil {
		d.recordFailure(ctx, intent.ID, target, deliverErr, provider.IsTransient(deliverErr), attemptNumber)
		return
	}

	switch result.Status {
	case provider.StatusSkipped:
		reason := result.Reason
		d.recordOutcome(ctx, intent.ID, target, domain.DeliverySkipped, nil, &reason)
	default:
		var messageID *string
		if strings.TrimSpace(result.MessageID) != "" {
			messageID = &result.MessageID
		}
		d.recordOutcome(ctx, intent.ID, target, domain.DeliverySent, messageID, nil)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, intentID string, target domain.Target, deliverErr error, transient bool, attemptNumber int) {
	channelName := strings.ToLower(target.Channel.String())
	lastErr := deliverErr.Error()

	if transient && !d.cfg.Retry.Exhausted(attemptNumber) {
		nextRetryAt := d.now().UTC().Add(d.cfg.Retry.Delay(attemptNumber))
		err := d.deliveries.ScheduleRetry(ctx, target, intentID, nextRetryAt, &lastErr)
		if err == nil {
			if d.metrics != nil {
				d.metrics.IncRetryScheduled(channelName)
				d.metrics.IncDeliveryOutcome(channelName, "retrying")
			}
			return
		}
		if errors.Is(err, domain.ErrConflict) {
			// Target reached a terminal state through another path.
			return
		}
		d.logger.Error("failed to schedule retry",
			zap.String("intentId", intentID),
			zap.String("recipientId", target.RecipientID),
			zap.String("channel", channelName),
			zap.Error(err),
		)
		return
	}

	d.recordOutcome(ctx, intentID, target, domain.DeliveryFailed, nil, &lastErr)
}

func (d *Dispatcher) recordOutcome(ctx context.Context, intentID string, target domain.Target, state domain.DeliveryState, messageID, lastErr *string) {
	channelName := strings.ToLower(target.Channel.String())

	if err := d.deliveries.RecordTerminal(ctx, target, intentID, state, messageID, lastErr); err != nil {
		d.logger.Error("failed to record delivery outcome",
			zap.String("intentId", intentID),
			zap.String("recipientId", target.RecipientID),
			zap.String("channel", channelName),
			zap.String("state", state.String()),
			zap.Error(err),
		)
		return
	}

	if d.metrics != nil {
		d.metrics.IncDeliveryOutcome(channelName, strings.ToLower(state.String()))
	}
}

// finalizeIntent settles the intent status from the ledger: completed when
// every target landed sent/skipped, failed when every target failed
// terminally, partially-failed otherwise (including targets still waiting on
// a retry round).
func (d *Dispatcher) finalizeIntent(ctx context.Context, intent *domain.Intent) error {
	records, err := d.deliveries.StatusForIntent(ctx, intent.ID)
	if err != nil {
		return fmt.Errorf("failed to read delivery status: %w", err)
	}

	var pending, delivered, retrying, failed int
	for i := range records {
		switch records[i].State {
		case domain.DeliveryPending:
			pending++
		case domain.DeliverySent, domain.DeliverySkipped:
			delivered++
		case domain.DeliveryRetrying:
			retrying++
		case domain.DeliveryFailed:
			failed++
		}
	}

	if pending > 0 || len(records) == 0 {
		// A ledger write failed mid-pass. Keep the claim; the lapsed lease
		// re-dispatches the intent and the terminal upserts stay idempotent.
		d.logger.Warn("intent left dispatching with pending targets",
			zap.String("intentId", intent.ID),
			zap.Int("pending", pending),
		)
		return nil
	}

	status := domain.IntentCompleted
	switch {
	case failed > 0 && delivered == 0 && retrying == 0:
		status = domain.IntentFailed
	case failed > 0 || retrying > 0:
		status = domain.IntentPartiallyFailed
	}

	if err := d.outbox.Finalize(ctx, intent.ID, status); err != nil {
		return fmt.Errorf("failed to finalize intent: %w", err)
	}
	intent.Status = status

	if d.metrics != nil {
		d.metrics.IncIntentFinalized(strings.ToLower(status.String()))
	}

	d.logger.Info("intent finalized",
		zap.String("intentId", intent.ID),
		zap.String("status", status.String()),
		zap.Int("delivered", delivered),
		zap.Int("retrying", retrying),
		zap.Int("failed", failed),
	)

	if status != domain.IntentCompleted {
		d.publishStatus(ctx, intent, status)
	}

	return nil
}

// publishStatus is best effort; the ledger is the source of truth and a
// broker outage must not fail finalization.
func (d *Dispatcher) publishStatus(ctx context.Context, intent *domain.Intent, status domain.IntentStatus) {
	if d.status == nil {
		return
	}

	msg := event.StatusMessage{
		IntentID:      intent.ID,
		Status:        status.String(),
		CorrelationID: intent.CorrelationID,
	}
	if err := d.status.PublishStatus(ctx, msg); err != nil {
		d.logger.Warn("failed to publish intent status",
			zap.String("intentId", intent.ID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
}

// Redeliver re-attempts one due retry record through the regular provider
// path. The caller settles the intent afterwards via FinalizeIntent.
func (d *Dispatcher) Redeliver(ctx context.Context, record domain.DeliveryRecord) error {
	intent, err := d.outbox.GetByID(ctx, record.IntentID)
	if err != nil {
		return fmt.Errorf("failed to load intent %s: %w", record.IntentID, err)
	}

	d.deliverTarget(ctx, *intent, record.Target(), record.AttemptCount+1)
	return nil
}

// FinalizeIntent re-settles an intent's status after a retry round.
func (d *Dispatcher) FinalizeIntent(ctx context.Context, intentID string) error {
	intent, err := d.outbox.GetByID(ctx, intentID)
	if err != nil {
		return fmt.Errorf("failed to load intent %s: %w", intentID, err)
	}
	return d.finalizeIntent(ctx, intent)
}
