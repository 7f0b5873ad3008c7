package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/classpoint/notify/internal/domain"
)

// IntentModel is the persistence model for the notification_outbox table.
type IntentModel struct {
	ID             string              `gorm:"type:uuid;primaryKey"`
	Kind           domain.EventKind    `gorm:"type:varchar(30);not null"`
	CorrelationID  string              `gorm:"type:varchar(36);not null"`
	Payload        []byte              `gorm:"type:jsonb;not null"`
	Targets        []byte              `gorm:"type:jsonb;not null"`
	Status         domain.IntentStatus `gorm:"type:varchar(20);not null;default:'PENDING'"`
	LeaseExpiresAt *time.Time          `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (IntentModel) TableName() string {
	return "notification_outbox"
}

// DeliveryModel is the persistence model for the notification_deliveries
// table, one row per (intent, recipient, channel).
type DeliveryModel struct {
	IntentID      string               `gorm:"type:uuid;primaryKey"`
	RecipientID   string               `gorm:"type:varchar(36);primaryKey"`
	Channel       domain.Channel       `gorm:"type:varchar(10);primaryKey"`
	State         domain.DeliveryState `gorm:"type:varchar(10);not null;default:'PENDING'"`
	AttemptCount  int                  `gorm:"not null;default:0"`
	LastAttemptAt *time.Time           `gorm:"type:timestamptz"`
	NextRetryAt   *time.Time           `gorm:"type:timestamptz"`
	LastError     *string              `gorm:"type:text"`
	MessageID     *string              `gorm:"type:varchar(255)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DeliveryModel) TableName() string {
	return "notification_deliveries"
}

func intentModelFromDomain(i *domain.Intent) (*IntentModel, error) {
	if i == nil {
		return nil, nil
	}

	payload, err := json.Marshal(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent payload: %w", err)
	}
	targets, err := json.Marshal(i.Targets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent targets: %w", err)
	}

	return &IntentModel{
		ID:             i.ID,
		Kind:           i.Kind,
		CorrelationID:  i.CorrelationID,
		Payload:        payload,
		Targets:        targets,
		Status:         i.Status,
		LeaseExpiresAt: i.LeaseExpiresAt,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}, nil
}

func intentModelToDomain(m *IntentModel) (*domain.Intent, error) {
	if m == nil {
		return nil, nil
	}

	var payload domain.Payload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent payload: %w", err)
	}
	var targets []domain.Target
	if err := json.Unmarshal(m.Targets, &targets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent targets: %w", err)
	}

	return &domain.Intent{
		ID:             m.ID,
		Kind:           m.Kind,
		CorrelationID:  m.CorrelationID,
		Payload:        payload,
		Targets:        targets,
		Status:         m.Status,
		LeaseExpiresAt: m.LeaseExpiresAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func deliveryModelToDomain(m *DeliveryModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		IntentID:      m.IntentID,
		RecipientID:   m.RecipientID,
		Channel:       m.Channel,
		State:         m.State,
		AttemptCount:  m.AttemptCount,
		LastAttemptAt: m.LastAttemptAt,
		NextRetryAt:   m.NextRetryAt,
		LastError:     m.LastError,
		MessageID:     m.MessageID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
