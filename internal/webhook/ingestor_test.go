package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"outbound-dialer/internal/calllog"
)

const terminalEvent = `{
  "type": "post_call_transcription",
  "data": {
    "conversation_id": "conv-1",
    "status": "done",
    "transcript": [{"role":"agent","message":"hi"}],
    "analysis": {"call_successful":"success"},
    "metadata": {"start_time_unix_secs": 1767268800, "call_duration_secs": 42, "cost": 120},
    "conversation_initiation_client_data": {
      "dynamic_variables": {"user_id": "u1", "lead_id": "lead-1", "lead_phone_number": "+15551234567"}
    }
  }
}`

func newIngestor(repo calllog.Repository, d Deduper, now time.Time) *Ingestor {
	i := NewIngestor(repo, d, nil)
	i.clock = func() time.Time { return now }
	return i
}

func TestIngest_TerminalEventIsIdempotent(t *testing.T) {
	repo := calllog.NewMemoryRepo()
	ctx := context.Background()

	first := newIngestor(repo, nil, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	res, err := first.Ingest(ctx, []byte(terminalEvent))
	require.NoError(t, err)
	require.True(t, res.Stored)
	require.True(t, res.Terminal)

	e, err := repo.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, e.EndedAt)
	wantEnd := time.Unix(1767268800+42, 0).UTC()
	require.True(t, e.EndedAt.Equal(wantEnd), "ended_at = %v", e.EndedAt)
	require.Equal(t, "done", e.Status)
	require.Equal(t, 42, *e.DurationSeconds)
	require.Equal(t, "u1", e.UserID)
	require.Equal(t, "lead-1", e.LeadID)

	// Redelivery later: still one row, ended_at unchanged.
	second := newIngestor(repo, nil, time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC))
	_, err = second.Ingest(ctx, []byte(terminalEvent))
	require.NoError(t, err)

	require.Equal(t, 1, repo.Len())
	e2, _ := repo.Get(ctx, "conv-1")
	require.True(t, e2.EndedAt.Equal(wantEnd))
}

func TestIngest_LateProgressDoesNotReopen(t *testing.T) {
	repo := calllog.NewMemoryRepo()
	ctx := context.Background()
	i := newIngestor(repo, nil, time.Now())

	_, err := i.Ingest(ctx, []byte(terminalEvent))
	require.NoError(t, err)
	_, err = i.Ingest(ctx, []byte(`{"type":"call.progress","conversation_id":"conv-1","status":"in-progress","user_id":"u1"}`))
	require.NoError(t, err)

	e, _ := repo.Get(ctx, "conv-1")
	require.NotNil(t, e.EndedAt)
	require.Equal(t, "done", e.Status)
}

func TestIngest_MissingIdentifiersAreAcknowledgedNotStored(t *testing.T) {
	repo := calllog.NewMemoryRepo()
	i := newIngestor(repo, nil, time.Now())

	res, err := i.Ingest(context.Background(), []byte(`{"type":"call.ended","data":{"status":"done"}}`))
	require.NoError(t, err)
	require.False(t, res.Stored)
	require.Equal(t, "missing conversation id", res.Reason)

	res, err = i.Ingest(context.Background(), []byte(`{"conversationId":"conv-9","status":"done"}`))
	require.NoError(t, err)
	require.False(t, res.Stored)
	require.Equal(t, "missing user id", res.Reason)
	require.Equal(t, 0, repo.Len())
}

func TestIngest_AlternatePayloadShape(t *testing.T) {
	repo := calllog.NewMemoryRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	i := newIngestor(repo, nil, now)

	payload := `{"event":"call.ended","conversationId":"conv-2","userId":"u2","started_at":"2026-01-01T11:58:00Z","ended_at":1767268740000,"cost":"0.35"}`
	res, err := i.Ingest(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.True(t, res.Stored)

	e, err := repo.Get(context.Background(), "conv-2")
	require.NoError(t, err)
	require.Equal(t, "u2", e.UserID)
	require.Equal(t, "call.ended", e.Status)
	require.True(t, e.EndedAt.Equal(time.UnixMilli(1767268740000).UTC()))
	require.InDelta(t, 0.35, *e.Cost, 1e-9)
	require.Equal(t, "call.ended", e.Metadata["last_event_type"])
}

func TestIngest_TerminalWithoutTimesUsesReceiveTime(t *testing.T) {
	repo := calllog.NewMemoryRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	i := newIngestor(repo, nil, now)

	_, err := i.Ingest(context.Background(), []byte(`{"conversation_id":"c","user_id":"u","status":"failed"}`))
	require.NoError(t, err)
	e, _ := repo.Get(context.Background(), "c")
	require.True(t, e.EndedAt.Equal(now))
}

func TestIngest_InvalidJSON(t *testing.T) {
	i := newIngestor(calllog.NewMemoryRepo(), nil, time.Now())
	_, err := i.Ingest(context.Background(), []byte(`{not json`))
	require.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestIngest_RedisDedupeShortCircuits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := calllog.NewMemoryRepo()
	i := newIngestor(repo, NewRedisDedupe(rdb, time.Hour), time.Now())

	res, err := i.Ingest(context.Background(), []byte(terminalEvent))
	require.NoError(t, err)
	require.True(t, res.Stored)

	res, err = i.Ingest(context.Background(), []byte(terminalEvent))
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.False(t, res.Stored)
	require.Equal(t, 1, repo.Writes())

	mr.FastForward(2 * time.Hour)
	res, err = i.Ingest(context.Background(), []byte(terminalEvent))
	require.NoError(t, err)
	require.True(t, res.Stored)
}
