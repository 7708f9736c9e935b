package telephony

import (
	"context"
	"errors"
)

var ErrNoNumberAvailable = errors.New("telephony: no phone number available on account")

// Credentials identify a user's voice-provider sub-account.
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// NumberProvider defines the provider-agnostic view of a voice sub-account
// used by call initiation.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Numbers are E.164.
type NumberProvider interface {
	Name() string
	// FirstNumber returns the first phone number owned by the sub-account,
	// or ErrNoNumberAvailable.
	FirstNumber(ctx context.Context, creds Credentials) (string, error)
}
