package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// StatusStarted is the placeholder written when a call is placed.
	StatusStarted = "call.started"
	// StatusEnded is reported when a log has an end time but no usable status.
	StatusEnded = "ended"

	// MetadataTokenHashKey holds the status token hash inside Metadata.
	MetadataTokenHashKey = "status_token_hash"
)

var ErrNotFound = errors.New("calllog: not found")

// Entry is the single authoritative record of one external conversation.
type Entry struct {
	ConversationID   string          `json:"conversation_id"`
	UserID           string          `json:"user_id,omitempty"`
	LeadID           string          `json:"lead_id,omitempty"`
	Status           string          `json:"status,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds  *int            `json:"duration,omitempty"`
	Cost             *float64        `json:"cost,omitempty"`
	Transcript       json.RawMessage `json:"transcript,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	DynamicVariables map[string]any  `json:"dynamic_variables,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TokenHash returns the stored status token hash, if any.
func (e Entry) TokenHash() string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[MetadataTokenHashKey].(string)
	return s
}

// Ended reports whether the conversation reached a terminal state, and the
// status to report for it.
func (e Entry) Ended() (string, bool) {
	if e.EndedAt != nil {
		if e.Status == "" || e.Status == StatusStarted {
			return StatusEnded, true
		}
		return e.Status, true
	}
	if e.Status != "" && e.Status != StatusStarted {
		return e.Status, true
	}
	return "", false
}

// Repository is the persistence contract for call logs. Rows are keyed by
// conversation id; both write paths merge into the same row.
type Repository interface {
	Get(ctx context.Context, conversationID string) (Entry, error)
	// InsertIfAbsent creates the row. When a row already exists only keys missing
	// from Metadata and DynamicVariables are added; nothing is overwritten.
	InsertIfAbsent(ctx context.Context, e Entry) error
	// Upsert inserts or merges per Merge.
	Upsert(ctx context.Context, e Entry) error
}
