package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/classpoint/notify/internal/directory"
	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationService is the ingestion facade: it turns a domain event into
// one durable intent with the recipient set and channel preferences resolved
// up front. Resolution failure fails the call and writes nothing; delivery
// happens later, out of band, off the outbox.
type NotificationService struct {
	outbox     repository.OutboxRepository
	deliveries repository.DeliveryRepository
	directory  directory.Directory
	logger     *zap.Logger
	now        func() time.Time
}

func NewNotificationService(
	outbox repository.OutboxRepository,
	deliveries repository.DeliveryRepository,
	dir directory.Directory,
	logger *zap.Logger,
) (*NotificationService, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		outbox:     outbox,
		deliveries: deliveries,
		directory:  dir,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *NotificationService) Notify(ctx context.Context, event domain.Event) (*domain.Intent, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	recipients, err := s.resolveRecipients(ctx, event)
	if err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, recipients)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: every recipient has notifications disabled", domain.ErrNoTargets)
	}

	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	intent := &domain.Intent{
		ID:            uuid.NewString(),
		Kind:          event.Kind,
		CorrelationID: correlationID,
		Payload:       event.Payload,
		Targets:       targets,
		Status:        domain.IntentPending,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if err := s.outbox.Enqueue(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to enqueue intent: %w", err)
	}

	s.logger.Info("intent enqueued",
		zap.String("intentId", intent.ID),
		zap.String("kind", intent.Kind.String()),
		zap.String("correlationId", intent.CorrelationID),
		zap.Int("targets", len(intent.Targets)),
	)

	return intent, nil
}

func (s *NotificationService) resolveRecipients(ctx context.Context, event domain.Event) ([]string, error) {
	if event.Kind == domain.KindMessageSent {
		recipients := dedupeRecipients(event.RecipientIDs, event.AuthorID)
		if len(recipients) == 0 {
			return nil, fmt.Errorf("%w: message has no recipients besides the author", domain.ErrNoTargets)
		}
		return recipients, nil
	}

	recipients, err := s.directory.ClassRecipients(ctx, event.ClassID, event.AuthorID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: class %s has no members to notify", domain.ErrNoTargets, event.ClassID)
	}

	return recipients, nil
}

func (s *NotificationService) resolveTargets(ctx context.Context, recipients []string) ([]domain.Target, error) {
	targets := make([]domain.Target, 0, len(recipients))
	for _, recipientID := range recipients {
		channels, err := s.directory.Preferences(ctx, recipientID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve preferences for %s: %w", recipientID, err)
		}
		for _, channel := range channels {
			targets = append(targets, domain.Target{RecipientID: recipientID, Channel: channel})
		}
	}
	return targets, nil
}

func (s *NotificationService) GetIntent(ctx context.Context, id string) (*domain.Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: intent id is required", domain.ErrValidation)
	}
	return s.outbox.GetByID(ctx, id)
}

// DeliveryStatus returns the ledger rows for an intent, one per target.
func (s *NotificationService) DeliveryStatus(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, fmt.Errorf("%w: intent id is required", domain.ErrValidation)
	}

	if _, err := s.outbox.GetByID(ctx, intentID); err != nil {
		return nil, err
	}

	return s.deliveries.StatusForIntent(ctx, intentID)
}

// ResendFailed re-opens the terminal failed targets of a finalized intent for
// another retry round and reports how many targets it touched.
func (s *NotificationService) ResendFailed(ctx context.Context, intentID string) (int64, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return 0, fmt.Errorf("%w: intent id is required", domain.ErrValidation)
	}

	intent, err := s.outbox.GetByID(ctx, intentID)
	if err != nil {
		return 0, err
	}
	if !intent.Status.IsTerminal() {
		return 0, fmt.Errorf("%w: intent %s is still %s", domain.ErrConflict, intentID, intent.Status)
	}

	reopened, err := s.deliveries.ResetFailed(ctx, intentID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if reopened == 0 {
		return 0, nil
	}

	// The retry pass owns the reopened targets now; the intent goes back to
	// signaling that a retry round is pending.
	if err := s.outbox.Finalize(ctx, intentID, domain.IntentPartiallyFailed); err != nil {
		return reopened, err
	}

	s.logger.Info("failed targets reopened for resend",
		zap.String("intentId", intentID),
		zap.Int64("reopened", reopened),
	)

	return reopened, nil
}

func dedupeRecipients(recipientIDs []string, excludeUserID string) []string {
	seen := make(map[string]struct{}, len(recipientIDs))
	out := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		id = strings.TrimSpace(id)
		if id == "" || id == excludeUserID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
