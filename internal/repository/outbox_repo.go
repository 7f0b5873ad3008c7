package repository

import (
	"context"
	"errors"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository is the durable queue of notification intents.
type OutboxRepository interface {
	Enqueue(ctx context.Context, intent *domain.Intent) error
	// ClaimBatch atomically transitions up to limit intents to DISPATCHING
	// and stamps a lease. Intents whose previous lease has lapsed are
	// reclaimable; live claims are never handed out twice.
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]domain.Intent, error)
	Finalize(ctx context.Context, id string, status domain.IntentStatus) error
	Release(ctx context.Context, ids []string) error
	GetByID(ctx context.Context, id string) (*domain.Intent, error)
}

type GormOutboxRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormOutboxRepo(db *gorm.DB) *GormOutboxRepo {
	return &GormOutboxRepo{db: db, now: time.Now}
}

func (r *GormOutboxRepo) Enqueue(ctx context.Context, intent *domain.Intent) error {
	model, err := intentModelFromDomain(intent)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if intent != nil {
		created, err := intentModelToDomain(model)
		if err != nil {
			return err
		}
		*intent = *created
	}
	return nil
}

func (r *GormOutboxRepo) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]domain.Intent, error) {
	if limit < 1 {
		limit = 1
	}
	now := r.now().UTC()

	claimable := r.db.WithContext(ctx).
		Model(&IntentModel{}).
		Select("id").
		Where("status = ? OR (status = ? AND lease_expires_at <= ?)",
			domain.IntentPending, domain.IntentDispatching, now).
		Order("created_at ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

	var models []IntentModel
	err := r.db.WithContext(ctx).
		Model(&models).
		Clauses(clause.Returning{}).
		Where("id IN (?)", claimable).
		Updates(map[string]any{
			"status":           domain.IntentDispatching,
			"lease_expires_at": now.Add(lease),
		}).Error
	if err != nil {
		return nil, err
	}

	intents := make([]domain.Intent, 0, len(models))
	for i := range models {
		intent, err := intentModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}

	return intents, nil
}

func (r *GormOutboxRepo) Finalize(ctx context.Context, id string, status domain.IntentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&IntentModel{}).
		Where("id = ? AND status <> ?", id, status).
		Updates(map[string]any{
			"status":           status,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already in the requested status, or unknown id.
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&IntentModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *GormOutboxRepo) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&IntentModel{}).
		Where("id IN ? AND status = ?", ids, domain.IntentDispatching).
		Updates(map[string]any{
			"status":           domain.IntentPending,
			"lease_expires_at": nil,
		}).Error
}

func (r *GormOutboxRepo) GetByID(ctx context.Context, id string) (*domain.Intent, error) {
	var model IntentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return intentModelToDomain(&model)
}
