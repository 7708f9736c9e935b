package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"outbound-dialer/internal/calllog"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/metrics"
)

var ErrInvalidPayload = errors.New("webhook: payload is not valid JSON")

// terminalEvents and terminalStatuses mark a conversation as over.
var (
	terminalEvents = map[string]bool{
		"post_call_transcription": true,
		"call.ended":              true,
		"call_ended":              true,
		"conversation.ended":      true,
		"call.completed":          true,
	}
	terminalStatuses = map[string]bool{
		"done":       true,
		"ended":      true,
		"completed":  true,
		"failed":     true,
		"call.ended": true,
		"no-answer":  true,
		"busy":       true,
		"canceled":   true,
	}
)

// Deduper remembers payloads that were already stored.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Result struct {
	Stored         bool   `json:"stored"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Terminal       bool   `json:"terminal,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Ingestor turns provider events into call log upserts.
type Ingestor struct {
	repo    calllog.Repository
	dedupe  Deduper
	metrics *metrics.Metrics
	clock   func() time.Time
}

// NewIngestor builds an Ingestor. dedupe and m may be nil.
func NewIngestor(repo calllog.Repository, dedupe Deduper, m *metrics.Metrics) *Ingestor {
	return &Ingestor{repo: repo, dedupe: dedupe, metrics: m, clock: time.Now}
}

// Ingest stores one event. Events without a conversation id or user id are
// acknowledged but not stored; they are reported through Result.Reason.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte) (Result, error) {
	if !gjson.ValidBytes(raw) {
		i.metrics.ObserveWebhook("invalid")
		return Result{}, ErrInvalidPayload
	}
	l := logger.From(ctx)

	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])
	if i.dedupe != nil {
		seen, err := i.dedupe.Seen(ctx, key)
		if err != nil {
			l.Warn("webhook dedupe lookup failed", "err", err)
		} else if seen {
			i.metrics.ObserveWebhook("duplicate")
			return Result{Duplicate: true, Reason: "duplicate delivery"}, nil
		}
	}

	entry, terminal := i.extract(raw)
	res := Result{ConversationID: entry.ConversationID, Terminal: terminal}
	switch {
	case entry.ConversationID == "":
		res.Reason = "missing conversation id"
	case entry.UserID == "":
		res.Reason = "missing user id"
	}
	if res.Reason != "" {
		l.Info("webhook event not stored", "reason", res.Reason, "conversation_id", entry.ConversationID)
		i.metrics.ObserveWebhook("unusable")
		return res, nil
	}

	if err := i.repo.Upsert(ctx, entry); err != nil {
		i.metrics.ObserveWebhook("error")
		return res, fmt.Errorf("upsert call log %s: %w", entry.ConversationID, err)
	}
	res.Stored = true

	if i.dedupe != nil {
		if err := i.dedupe.Mark(ctx, key); err != nil {
			l.Warn("webhook dedupe mark failed", "err", err)
		}
	}
	i.metrics.ObserveWebhook("stored")
	l.Info("webhook event stored", "conversation_id", entry.ConversationID, "status", entry.Status, "terminal", terminal)
	return res, nil
}

func (i *Ingestor) extract(raw []byte) (calllog.Entry, bool) {
	now := i.clock().UTC()
	eventType := lookupString(raw, fieldEventType)
	status := lookupString(raw, fieldStatus)

	e := calllog.Entry{
		ConversationID:   lookupString(raw, fieldConversationID),
		UserID:           lookupString(raw, fieldUserID),
		LeadID:           lookupString(raw, fieldLeadID),
		Status:           status,
		StartedAt:        lookupTime(raw, fieldStartedAt),
		EndedAt:          lookupTime(raw, fieldEndedAt),
		DurationSeconds:  lookupInt(raw, fieldDuration),
		Cost:             lookupFloat(raw, fieldCost),
		Transcript:       lookupRaw(raw, fieldTranscript),
		Analysis:         lookupRaw(raw, fieldAnalysis),
		Metadata:         lookupObject(raw, fieldMetadata),
		DynamicVariables: lookupObject(raw, fieldDynamicVars),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	extra := map[string]any{}
	if eventType != "" {
		extra["last_event_type"] = eventType
	}
	if n := lookupString(raw, fieldAgentNumber); n != "" {
		extra["agent_phone_number"] = n
	}
	if n := lookupString(raw, fieldLeadNumber); n != "" {
		extra["lead_phone_number"] = n
	}
	if len(extra) > 0 {
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		for k, v := range extra {
			e.Metadata[k] = v
		}
	}

	terminal := terminalEvents[strings.ToLower(eventType)] || terminalStatuses[strings.ToLower(status)] || e.EndedAt != nil
	if terminal {
		if e.Status == "" {
			e.Status = eventType
		}
		if e.EndedAt == nil {
			end := now
			if e.StartedAt != nil && e.DurationSeconds != nil {
				end = e.StartedAt.Add(time.Duration(*e.DurationSeconds) * time.Second)
			}
			e.EndedAt = &end
		}
	}
	if e.Status == "" {
		e.Status = eventType
	}
	return e, terminal
}
