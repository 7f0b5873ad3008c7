package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/classpoint/notify/internal/domain"
	"github.com/sony/gobreaker"
)

func TestBreakerProviderOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	inner := &fakeProvider{
		channel: domain.ChannelEmail,
		deliverFn: func(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
			return nil, &ProviderError{Message: "smtp send failed", Transient: true}
		},
	}
	b := WithBreaker(inner, nil)

	target := domain.Target{RecipientID: "user-1", Channel: domain.ChannelEmail}
	for i := 0; i < breakerConsecutiveFailures; i++ {
		if _, err := b.Deliver(context.Background(), target, testIntent()); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %s, want %s", b.State(), gobreaker.StateOpen)
	}

	// Rejected calls must come back as transient so they re-enter the
	// retry schedule instead of failing the delivery outright.
	_, err := b.Deliver(context.Background(), target, testIntent())
	if err == nil {
		t.Fatal("expected rejection while open")
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want gobreaker.ErrOpenState in chain", err)
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestBreakerProviderSkipsCountAsSuccess(t *testing.T) {
	t.Parallel()

	inner := &fakeProvider{
		channel: domain.ChannelPush,
		deliverFn: func(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
			return Skipped("no device token registered"), nil
		},
	}
	b := WithBreaker(inner, nil)

	target := domain.Target{RecipientID: "user-1", Channel: domain.ChannelPush}
	for i := 0; i < breakerConsecutiveFailures*2; i++ {
		result, err := b.Deliver(context.Background(), target, testIntent())
		if err != nil {
			t.Fatalf("Deliver() unexpected error: %v", err)
		}
		if result.Status != StatusSkipped {
			t.Fatalf("Status = %s, want %s", result.Status, StatusSkipped)
		}
	}

	if b.State() != gobreaker.StateClosed {
		t.Fatalf("State() = %s, want %s", b.State(), gobreaker.StateClosed)
	}
}

func TestBreakerProviderPassesThroughResults(t *testing.T) {
	t.Parallel()

	inner := &fakeProvider{
		channel: domain.ChannelSocket,
		deliverFn: func(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
			return Delivered("msg-1"), nil
		},
	}
	b := WithBreaker(inner, nil)

	if b.Channel() != domain.ChannelSocket {
		t.Fatalf("Channel() = %s, want %s", b.Channel(), domain.ChannelSocket)
	}

	result, err := b.Deliver(context.Background(), domain.Target{RecipientID: "user-1", Channel: domain.ChannelSocket}, testIntent())
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
	if result.MessageID != "msg-1" {
		t.Fatalf("MessageID = %q, want %q", result.MessageID, "msg-1")
	}
}
