package calls

import (
	"errors"
	"fmt"

	"outbound-dialer/internal/jobs"
)

// Error classes. Every error returned by Service.Initiate wraps exactly one
// of ErrJobFatal or ErrLeadFatal together with its cause.
var (
	// ErrJobFatal means every later lead would fail the same way.
	ErrJobFatal = errors.New("calls: job fatal")
	// ErrLeadFatal means only this lead failed; move on to the next one.
	ErrLeadFatal = errors.New("calls: lead fatal")

	ErrMissingPrerequisite = errors.New("calls: missing prerequisite")
	ErrInvalidPhone        = errors.New("calls: invalid phone number")
	ErrNoConversationID    = errors.New("calls: provider returned no conversation id")
)

func jobFatal(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrJobFatal, step, err)
}

func leadFatal(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLeadFatal, step, err)
}

// Request is one outbound call attempt for a lead on behalf of a user.
type Request struct {
	UserID string
	Lead   jobs.Lead

	// SuppressStatusToken skips issuing a status token for this call.
	SuppressStatusToken bool
}

// Result describes a placed call. StatusToken is only ever returned here.
type Result struct {
	ConversationID string `json:"conversation_id"`
	StatusToken    string `json:"status_token,omitempty"`
	CallSID        string `json:"call_sid,omitempty"`
	FromNumber     string `json:"from_number"`
	ToNumber       string `json:"to_number"`
	AgentID        string `json:"agent_id"`
}
