package domain

import (
	"strings"
	"testing"
)

func validIntent() *Intent {
	return &Intent{
		ID:   "i1",
		Kind: KindUpdateCreated,
		Payload: Payload{
			Title: "New class update",
			Body:  "Homework for Friday posted.",
		},
		Targets: []Target{
			{RecipientID: "u1", Channel: ChannelEmail},
			{RecipientID: "u1", Channel: ChannelPush},
			{RecipientID: "u2", Channel: ChannelSocket},
		},
		Status: IntentPending,
	}
}

func TestIntentValidate(t *testing.T) {
	t.Parallel()

	if err := validIntent().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestIntentValidateEmptyTargets(t *testing.T) {
	t.Parallel()

	intent := validIntent()
	intent.Targets = nil
	if err := intent.Validate(); err == nil {
		t.Fatal("expected error for empty targets")
	}
}

func TestIntentValidateDuplicateTarget(t *testing.T) {
	t.Parallel()

	intent := validIntent()
	intent.Targets = append(intent.Targets, Target{RecipientID: "u1", Channel: ChannelEmail})
	err := intent.Validate()
	if err == nil {
		t.Fatal("expected error for duplicate target")
	}
	if !strings.Contains(err.Error(), "duplicate target") {
		t.Fatalf("error = %v, want duplicate target", err)
	}
}

func TestIntentValidateInvalidChannel(t *testing.T) {
	t.Parallel()

	intent := validIntent()
	intent.Targets[0].Channel = Channel("FAX")
	if err := intent.Validate(); err == nil {
		t.Fatal("expected error for invalid channel")
	}
}

func TestPayloadValidateMissingTitle(t *testing.T) {
	t.Parallel()

	p := Payload{Body: "body"}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for missing title")
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	ch, err := ParseChannelFromString(" email ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() error = %v", err)
	}
	if ch != ChannelEmail {
		t.Fatalf("channel = %s, want EMAIL", ch)
	}

	if _, err := ParseChannelFromString("pigeon"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestIntentStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []IntentStatus{IntentCompleted, IntentPartiallyFailed, IntentFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if IntentPending.IsTerminal() || IntentDispatching.IsTerminal() {
		t.Fatal("pending/dispatching must not be terminal")
	}
}
