package users

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("users: not found")

// Profile carries the per-user provider resources needed to place calls.
//
// AgentID and the voice sub-account credentials are provisioned elsewhere.
// PhoneNumber and AgentPhoneNumberID are filled lazily on first call.
type Profile struct {
	ID                 string `json:"id"`
	AgentID            string `json:"agent_id,omitempty"`
	VoiceAccountSID    string `json:"-"`
	VoiceAuthToken     string `json:"-"`
	PhoneNumber        string `json:"phone_number,omitempty"`
	AgentPhoneNumberID string `json:"agent_phone_number_id,omitempty"`
}

// Repository is the persistence contract for user provisioning state.
type Repository interface {
	Get(ctx context.Context, userID string) (Profile, error)
	SetPhoneNumber(ctx context.Context, userID, phoneNumber string) error
	SetAgentPhoneNumberID(ctx context.Context, userID, bindingID string) error
}
