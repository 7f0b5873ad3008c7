package provider

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/classpoint/notify/internal/domain"
	"gopkg.in/gomail.v2"
)

// AddressBook resolves a user's email address. An empty address means the
// user has none on file.
type AddressBook interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// MailDialer matches gomail.Dialer so tests can stub the SMTP hop.
type MailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailProvider sends notifications over SMTP. Permanent 5xx rejections fail
// terminally, other SMTP failures are transient; a missing or malformed
// address is a skip.
type EmailProvider struct {
	dialer    MailDialer
	addresses AddressBook
	from      string
}

func NewEmailProvider(dialer MailDialer, addresses AddressBook, from string) (*EmailProvider, error) {
	if dialer == nil {
		return nil, fmt.Errorf("mail dialer is required")
	}
	if addresses == nil {
		return nil, fmt.Errorf("address book is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", from, err)
	}

	return &EmailProvider{
		dialer:    dialer,
		addresses: addresses,
		from:      from,
	}, nil
}

func (p *EmailProvider) Channel() domain.Channel { return domain.ChannelEmail }

func (p *EmailProvider) Deliver(ctx context.Context, target domain.Target, intent domain.Intent) (*Result, error) {
	address, err := p.addresses.EmailAddress(ctx, target.RecipientID)
	if err != nil {
		return nil, &ProviderError{
			Message:   "address lookup failed",
			Transient: true,
			Cause:     err,
		}
	}

	address = strings.TrimSpace(address)
	if address == "" {
		return Skipped("no email address on file"), nil
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return Skipped("invalid email address"), nil
	}

	message := gomail.NewMessage()
	message.SetHeader("From", p.from)
	message.SetHeader("To", address)
	message.SetHeader("Subject", intent.Payload.Title)
	message.SetBody("text/plain", intent.Payload.Body)

	// gomail has no context support; run the send aside and let the
	// attempt deadline cut it off.
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- p.dialer.DialAndSend(message)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{
			Message:   "smtp send aborted",
			Transient: !errors.Is(ctx.Err(), context.Canceled),
			Cause:     ctx.Err(),
		}
	case err := <-sendErr:
		if err != nil {
			return nil, &ProviderError{
				Message:   "smtp send failed",
				Transient: !isPermanentSMTPError(err),
				Cause:     err,
			}
		}
	}

	return Delivered(""), nil
}

// isPermanentSMTPError reports whether the server rejected the message with a
// 5xx reply. net/smtp surfaces protocol replies as *textproto.Error; anything
// else (dial failures, timeouts, 4xx) is worth retrying.
func isPermanentSMTPError(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500
}
