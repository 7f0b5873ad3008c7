package directory

import (
	"context"

	"github.com/classpoint/notify/internal/domain"
)

// Directory resolves who can be reached and how. It is owned by the
// identity/preferences side of the platform; the dispatch engine only reads
// it. Absence of an address is reported as an empty value, never an error.
type Directory interface {
	// ClassRecipients returns the active members of a class, excluding the
	// author of the triggering event. A missing class is ErrNotFound.
	ClassRecipients(ctx context.Context, classID, excludeUserID string) ([]string, error)
	// Preferences returns the channels a user has enabled.
	Preferences(ctx context.Context, userID string) ([]domain.Channel, error)
	// EmailAddress returns the user's address, or "" when none is stored.
	EmailAddress(ctx context.Context, userID string) (string, error)
	// DeviceTokens returns the user's live push tokens, possibly empty.
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}
