package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/classpoint/notify/internal/domain"
	"github.com/classpoint/notify/internal/event"
	"github.com/classpoint/notify/internal/provider"
)

type fakeOutbox struct {
	mu        sync.Mutex
	enqueued  []*domain.Intent
	finalized map[string]domain.IntentStatus
	released  []string

	enqueueFn    func(ctx context.Context, intent *domain.Intent) error
	claimBatchFn func(ctx context.Context, limit int, lease time.Duration) ([]domain.Intent, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.Intent, error)
	finalizeFn   func(ctx context.Context, id string, status domain.IntentStatus) error
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{finalized: make(map[string]domain.IntentStatus)}
}

func (f *fakeOutbox) Enqueue(ctx context.Context, intent *domain.Intent) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, intent)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, intent)
	return nil
}

func (f *fakeOutbox) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]domain.Intent, error) {
	if f.claimBatchFn != nil {
		return f.claimBatchFn(ctx, limit, lease)
	}
	return nil, nil
}

func (f *fakeOutbox) Finalize(ctx context.Context, id string, status domain.IntentStatus) error {
	if f.finalizeFn != nil {
		return f.finalizeFn(ctx, id, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[id] = status
	return nil
}

func (f *fakeOutbox) Release(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ids...)
	return nil
}

func (f *fakeOutbox) GetByID(ctx context.Context, id string) (*domain.Intent, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, intent := range f.enqueued {
		if intent.ID == id {
			copied := *intent
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeOutbox) finalStatus(id string) (domain.IntentStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.finalized[id]
	return status, ok
}

// memLedger is an in-memory delivery ledger honoring the same state
// transition rules as the gorm implementation.
type memLedger struct {
	mu   sync.Mutex
	rows map[string]*domain.DeliveryRecord

	resetFailedFn func(ctx context.Context, intentID string, dueAt time.Time) (int64, error)
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]*domain.DeliveryRecord)}
}

func ledgerKey(intentID string, target domain.Target) string {
	return fmt.Sprintf("%s|%s|%s", intentID, target.RecipientID, target.Channel)
}

func (l *memLedger) EnsurePending(ctx context.Context, intent *domain.Intent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, target := range intent.Targets {
		key := ledgerKey(intent.ID, target)
		if _, exists := l.rows[key]; exists {
			continue
		}
		l.rows[key] = &domain.DeliveryRecord{
			IntentID:    intent.ID,
			RecipientID: target.RecipientID,
			Channel:     target.Channel,
			State:       domain.DeliveryPending,
		}
	}
	return nil
}

func (l *memLedger) RecordTerminal(ctx context.Context, target domain.Target, intentID string, state domain.DeliveryState, messageID, lastErr *string) error {
	if !state.IsTerminal() {
		return domain.ErrValidation
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[ledgerKey(intentID, target)]
	if !ok || row.State.IsTerminal() {
		return nil
	}
	row.State = state
	row.MessageID = messageID
	row.LastError = lastErr
	row.NextRetryAt = nil
	row.AttemptCount++
	return nil
}

func (l *memLedger) ScheduleRetry(ctx context.Context, target domain.Target, intentID string, nextRetryAt time.Time, lastErr *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[ledgerKey(intentID, target)]
	if !ok || row.State.IsTerminal() {
		return domain.ErrConflict
	}
	row.State = domain.DeliveryRetrying
	row.NextRetryAt = &nextRetryAt
	row.LastError = lastErr
	row.AttemptCount++
	return nil
}

func (l *memLedger) ClaimDueRetries(ctx context.Context, before time.Time, limit int, lease time.Duration) ([]domain.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []domain.DeliveryRecord
	for _, row := range l.rows {
		if len(due) >= limit {
			break
		}
		if row.State == domain.DeliveryRetrying && row.NextRetryAt != nil && !row.NextRetryAt.After(before) {
			claimedUntil := before.Add(lease)
			row.NextRetryAt = &claimedUntil
			due = append(due, *row)
		}
	}
	return due, nil
}

func (l *memLedger) StatusForIntent(ctx context.Context, intentID string) ([]domain.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var records []domain.DeliveryRecord
	for _, row := range l.rows {
		if row.IntentID == intentID {
			records = append(records, *row)
		}
	}
	return records, nil
}

func (l *memLedger) ResetFailed(ctx context.Context, intentID string, dueAt time.Time) (int64, error) {
	if l.resetFailedFn != nil {
		return l.resetFailedFn(ctx, intentID, dueAt)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var reopened int64
	for _, row := range l.rows {
		if row.IntentID == intentID && row.State == domain.DeliveryFailed {
			row.State = domain.DeliveryRetrying
			row.AttemptCount = 0
			row.NextRetryAt = &dueAt
			row.LastError = nil
			reopened++
		}
	}
	return reopened, nil
}

func (l *memLedger) row(intentID string, target domain.Target) (domain.DeliveryRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[ledgerKey(intentID, target)]
	if !ok {
		return domain.DeliveryRecord{}, false
	}
	return *row, true
}

type fakeDirectory struct {
	classRecipientsFn func(ctx context.Context, classID, excludeUserID string) ([]string, error)
	preferencesFn     func(ctx context.Context, userID string) ([]domain.Channel, error)
	emailAddressFn    func(ctx context.Context, userID string) (string, error)
	deviceTokensFn    func(ctx context.Context, userID string) ([]string, error)
}

func (f *fakeDirectory) ClassRecipients(ctx context.Context, classID, excludeUserID string) ([]string, error) {
	if f.classRecipientsFn != nil {
		return f.classRecipientsFn(ctx, classID, excludeUserID)
	}
	return nil, nil
}

func (f *fakeDirectory) Preferences(ctx context.Context, userID string) ([]domain.Channel, error) {
	if f.preferencesFn != nil {
		return f.preferencesFn(ctx, userID)
	}
	return domain.Channels(), nil
}

func (f *fakeDirectory) EmailAddress(ctx context.Context, userID string) (string, error) {
	if f.emailAddressFn != nil {
		return f.emailAddressFn(ctx, userID)
	}
	return "", nil
}

func (f *fakeDirectory) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	if f.deviceTokensFn != nil {
		return f.deviceTokensFn(ctx, userID)
	}
	return nil, nil
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, channel string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, channel string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type stubProvider struct {
	channel   domain.Channel
	deliverFn func(ctx context.Context, target domain.Target, intent domain.Intent) (*provider.Result, error)
}

func (s *stubProvider) Channel() domain.Channel { return s.channel }

func (s *stubProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*provider.Result, error) {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, target, intent)
	}
	return provider.Delivered(""), nil
}

type fakeStatusPublisher struct {
	mu        sync.Mutex
	published []event.StatusMessage
}

func (f *fakeStatusPublisher) PublishStatus(ctx context.Context, msg event.StatusMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeStatusPublisher) Close() error { return nil }

func (f *fakeStatusPublisher) messages() []event.StatusMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.StatusMessage, len(f.published))
	copy(out, f.published)
	return out
}
