package repository

import (
	"context"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryRepository is the delivery ledger: one row per
// (intent, recipient, channel) target, mutated in place across retries.
type DeliveryRepository interface {
	// EnsurePending creates a PENDING row for every target of the intent.
	// Rows that already exist are left untouched, so re-dispatch after a
	// lapsed lease never duplicates ledger entries.
	EnsurePending(ctx context.Context, intent *domain.Intent) error
	// RecordTerminal moves a target to SENT, SKIPPED or FAILED. Calling it
	// again once the target is terminal is a no-op.
	RecordTerminal(ctx context.Context, target domain.Target, intentID string, state domain.DeliveryState, messageID, lastErr *string) error
	// ScheduleRetry moves a non-terminal target to RETRYING with the given
	// due time, bumping the attempt counter.
	ScheduleRetry(ctx context.Context, target domain.Target, intentID string, nextRetryAt time.Time, lastErr *string) error
	// ClaimDueRetries leases due RETRYING rows to one retry pass by pushing
	// next_retry_at forward by lease, and returns them. Rows stay RETRYING,
	// so a pass that dies mid-round loses nothing: its claims come due again
	// once the lease lapses.
	ClaimDueRetries(ctx context.Context, before time.Time, limit int, lease time.Duration) ([]domain.DeliveryRecord, error)
	StatusForIntent(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error)
	// ResetFailed re-opens terminal FAILED targets of an intent for another
	// retry round and returns how many rows it touched.
	ResetFailed(ctx context.Context, intentID string, dueAt time.Time) (int64, error)
}

type GormDeliveryRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db, now: time.Now}
}

func (r *GormDeliveryRepo) EnsurePending(ctx context.Context, intent *domain.Intent) error {
	if intent == nil || len(intent.Targets) == 0 {
		return nil
	}

	models := make([]DeliveryModel, 0, len(intent.Targets))
	for _, target := range intent.Targets {
		models = append(models, DeliveryModel{
			IntentID:    intent.ID,
			RecipientID: target.RecipientID,
			Channel:     target.Channel,
			State:       domain.DeliveryPending,
		})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models).Error
}

func (r *GormDeliveryRepo) RecordTerminal(
	ctx context.Context,
	target domain.Target,
	intentID string,
	state domain.DeliveryState,
	messageID, lastErr *string,
) error {
	if !state.IsTerminal() {
		return domain.ErrValidation
	}

	now := r.now().UTC()
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("intent_id = ? AND recipient_id = ? AND channel = ?",
			intentID, target.RecipientID, target.Channel).
		Where("state IN ?", []domain.DeliveryState{domain.DeliveryPending, domain.DeliveryRetrying}).
		Updates(map[string]any{
			"state":           state,
			"message_id":      messageID,
			"last_error":      lastErr,
			"last_attempt_at": now,
			"next_retry_at":   nil,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	// RowsAffected == 0 means the target is already terminal; repeating the
	// outcome must stay a no-op.
	return nil
}

func (r *GormDeliveryRepo) ScheduleRetry(
	ctx context.Context,
	target domain.Target,
	intentID string,
	nextRetryAt time.Time,
	lastErr *string,
) error {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("intent_id = ? AND recipient_id = ? AND channel = ?",
			intentID, target.RecipientID, target.Channel).
		Where("state IN ?", []domain.DeliveryState{domain.DeliveryPending, domain.DeliveryRetrying}).
		Updates(map[string]any{
			"state":           domain.DeliveryRetrying,
			"next_retry_at":   nextRetryAt,
			"last_error":      lastErr,
			"last_attempt_at": now,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) ClaimDueRetries(ctx context.Context, before time.Time, limit int, lease time.Duration) ([]domain.DeliveryRecord, error) {
	if limit < 1 {
		limit = 1
	}

	due := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Select("intent_id, recipient_id, channel").
		Where("state = ? AND next_retry_at <= ?", domain.DeliveryRetrying, before).
		Order("next_retry_at ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Model(&models).
		Clauses(clause.Returning{}).
		Where("(intent_id, recipient_id, channel) IN (?)", due).
		Updates(map[string]any{
			"next_retry_at": before.Add(lease),
		}).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records, nil
}

func (r *GormDeliveryRepo) StatusForIntent(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("recipient_id ASC, channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}
	return records, nil
}

func (r *GormDeliveryRepo) ResetFailed(ctx context.Context, intentID string, dueAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("intent_id = ? AND state = ?", intentID, domain.DeliveryFailed).
		Updates(map[string]any{
			"state":         domain.DeliveryRetrying,
			"attempt_count": 0,
			"next_retry_at": dueAt,
			"last_error":    nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
