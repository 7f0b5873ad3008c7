package service

import (
	"context"
	"fmt"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
	// retryClaimLease bounds how long one retry pass owns its claimed rows.
	// A pass that dies mid-round leaves them RETRYING with next_retry_at
	// pushed out by this much, so the next pass picks them up again.
	retryClaimLease = 2 * time.Minute
)

// Redeliverer is the slice of the dispatcher the retry pass drives.
type Redeliverer interface {
	Redeliver(ctx context.Context, record domain.DeliveryRecord) error
	FinalizeIntent(ctx context.Context, intentID string) error
}

// RetryScanner periodically claims due retrying targets and pushes them back
// through the provider path, then re-settles the touched intents.
type RetryScanner struct {
	deliveries repository.DeliveryRepository
	dispatcher Redeliverer
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewRetryScanner(
	deliveries repository.DeliveryRepository,
	dispatcher Redeliverer,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		deliveries: deliveries,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first
	// ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	dueRecords, err := s.deliveries.ClaimDueRetries(ctx, s.now().UTC(), s.limit, retryClaimLease)
	if err != nil {
		return fmt.Errorf("failed to claim due retries: %w", err)
	}
	if len(dueRecords) == 0 {
		return nil
	}

	touchedIntents := make(map[string]struct{}, len(dueRecords))
	for i := range dueRecords {
		record := dueRecords[i]
		if ctx.Err() != nil {
			return nil
		}

		if err := s.dispatcher.Redeliver(ctx, record); err != nil {
			s.logger.Error("failed to redeliver target",
				zap.String("intentId", record.IntentID),
				zap.String("recipientId", record.RecipientID),
				zap.String("channel", record.Channel.String()),
				zap.Error(err),
			)
			continue
		}
		touchedIntents[record.IntentID] = struct{}{}
	}

	for intentID := range touchedIntents {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.dispatcher.FinalizeIntent(ctx, intentID); err != nil {
			s.logger.Error("failed to re-finalize intent after retry round",
				zap.String("intentId", intentID),
				zap.Error(err),
			)
		}
	}

	return nil
}
