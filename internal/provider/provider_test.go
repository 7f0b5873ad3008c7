package provider

import (
	"context"

	"github.com/classpoint/notify/internal/domain"
)

func testIntent() domain.Intent {
	return domain.Intent{
		ID:            "intent-1",
		Kind:          domain.KindUpdateCreated,
		CorrelationID: "corr-1",
		Payload: domain.Payload{
			Title:  "New update in Math 101",
			Body:   "A new update was posted.",
			Action: map[string]string{"updateId": "upd-9"},
		},
		Status: domain.IntentDispatching,
	}
}

type fakeProvider struct {
	channel   domain.Channel
	deliverFn func(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error)
}

func (f *fakeProvider) Channel() domain.Channel { return f.channel }

func (f *fakeProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
	return f.deliverFn(ctx, target, intent)
}
