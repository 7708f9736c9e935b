package jobs

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a call queue job.
type Status string

const (
	StatusPending             Status = "pending"
	StatusScheduled           Status = "scheduled"
	StatusRunning             Status = "running"
	StatusSucceeded           Status = "succeeded"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusCompletedWithErrors, StatusFailed:
		return true
	default:
		return false
	}
}

// Outcome is the result of processing a single lead.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

var (
	ErrNotFound        = errors.New("jobs: not found")
	ErrNotOwner        = errors.New("jobs: job not owned by worker")
	ErrInvalidArgument = errors.New("jobs: invalid argument")
	ErrInvalidSchedule = errors.New("jobs: invalid schedule")
)

// Lead is a contact captured into a job's snapshot at enqueue time.
type Lead struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
}

// Job is one batch outbound-dialing run.
//
// Invariants:
// - LeadSnapshot is immutable after creation.
// - Counters never decrease; Completed <= Initiated <= TotalLeads and Completed+Failed <= TotalLeads.
// - Current* fields are set only while a lead is being processed.
// - WorkerID is set only while Status is running.
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Status           Status     `json:"status"`
	ScheduledStartAt *time.Time `json:"scheduled_start_at,omitempty"`
	LeadSnapshot     []Lead     `json:"lead_snapshot"`

	TotalLeads int `json:"total_leads"`
	Initiated  int `json:"initiated"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	CurrentIndex          int     `json:"current_index"`
	CurrentLead           *Lead   `json:"current_lead,omitempty"`
	CurrentConversationID *string `json:"current_conversation_id,omitempty"`

	WorkerID *string `json:"worker_id,omitempty"`
	Error    *string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FinalStatus derives the terminal state from the accumulated counters.
func (j Job) FinalStatus() Status {
	switch {
	case j.Failed == 0:
		return StatusSucceeded
	case j.Completed > 0:
		return StatusCompletedWithErrors
	default:
		return StatusFailed
	}
}

func strPtr(s string) *string { return &s }
