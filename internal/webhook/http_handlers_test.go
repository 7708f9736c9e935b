package webhook

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"outbound-dialer/internal/calllog"
)

func newWebhookRouter(secret string) (*gin.Engine, *calllog.MemoryRepo) {
	gin.SetMode(gin.TestMode)
	repo := calllog.NewMemoryRepo()
	h := Handler{Ingestor: newIngestor(repo, nil, time.Now()), Secret: secret}
	r := gin.New()
	r.POST("/webhooks/convai", h.Handle)
	return r, repo
}

func post(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/convai", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_InvalidJSONIs400(t *testing.T) {
	r, _ := newWebhookRouter("")
	if w := post(r, "{oops", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_UnusablePayloadIsAcknowledged(t *testing.T) {
	r, repo := newWebhookRouter("")
	w := post(r, `{"type":"ping"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if repo.Len() != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestHandler_SecretRequiredWhenConfigured(t *testing.T) {
	r, repo := newWebhookRouter("shh")

	if w := post(r, terminalEvent, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}
	if w := post(r, terminalEvent, map[string]string{headerWebhookSecret: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", w.Code)
	}
	w := post(r, terminalEvent, map[string]string{headerWebhookSecret: "shh"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected stored event")
	}
}

// transcriptEvent is a valid terminal event whose transcript holds size bytes.
func transcriptEvent(convID string, size int) string {
	return fmt.Sprintf(`{"type":"post_call_transcription","data":{"conversation_id":%q,"status":"done",
		"transcript":[{"role":"agent","message":%q}],
		"conversation_initiation_client_data":{"dynamic_variables":{"user_id":"u1"}}}}`,
		convID, strings.Repeat("x", size))
}

func TestHandler_LargeTranscriptIsStored(t *testing.T) {
	r, repo := newWebhookRouter("")
	w := post(r, transcriptEvent("conv-big", 2<<20), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if repo.Len() != 1 {
		t.Fatalf("expected the large transcript to be stored")
	}
}

func TestHandler_OversizedBodyIs413(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := calllog.NewMemoryRepo()
	h := Handler{Ingestor: newIngestor(repo, nil, time.Now()), MaxBodyBytes: 1024}
	r := gin.New()
	r.POST("/webhooks/convai", h.Handle)

	w := post(r, transcriptEvent("conv-big", 2048), nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if repo.Len() != 0 {
		t.Fatalf("an oversized body must not be stored")
	}

	if w := post(r, transcriptEvent("conv-small", 16), nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 under the cap, got %d", w.Code)
	}
}
