package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/classpoint/notify/internal/domain"
	"gorm.io/gorm"
)

// GormDirectory reads the platform's identity tables (classes, members,
// notification settings, contacts). The tables are owned and migrated by the
// CRUD side of the platform; this side only queries them.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ClassRecipients(ctx context.Context, classID, excludeUserID string) ([]string, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return nil, fmt.Errorf("%w: class id is required", domain.ErrValidation)
	}

	var exists int64
	if err := d.db.WithContext(ctx).
		Table("classes").
		Where("id = ?", classID).
		Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: class %s", domain.ErrNotFound, classID)
	}

	var userIDs []string
	err := d.db.WithContext(ctx).
		Table("class_members").
		Where("class_id = ? AND active", classID).
		Where("user_id <> ?", excludeUserID).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}

	return userIDs, nil
}

func (d *GormDirectory) Preferences(ctx context.Context, userID string) ([]domain.Channel, error) {
	type settingRow struct {
		Channel string `gorm:"column:channel"`
		Enabled bool   `gorm:"column:enabled"`
	}

	var rows []settingRow
	err := d.db.WithContext(ctx).
		Table("notification_settings").
		Where("user_id = ?", userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// No stored settings means every channel is enabled.
	if len(rows) == 0 {
		return domain.Channels(), nil
	}

	channels := make([]domain.Channel, 0, len(rows))
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		channel, err := domain.ParseChannelFromString(row.Channel)
		if err != nil {
			continue
		}
		channels = append(channels, channel)
	}

	return channels, nil
}

func (d *GormDirectory) EmailAddress(ctx context.Context, userID string) (string, error) {
	var email *string
	err := d.db.WithContext(ctx).
		Table("users").
		Where("id = ?", userID).
		Pluck("email", &email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	if email == nil {
		return "", nil
	}
	return strings.TrimSpace(*email), nil
}

func (d *GormDirectory) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := d.db.WithContext(ctx).
		Table("device_tokens").
		Where("user_id = ? AND NOT revoked", userID).
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}
