package webhook

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"

	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Webhook-Secret"

	// DefaultMaxBodyBytes sits well above the largest post-call transcripts.
	DefaultMaxBodyBytes = 16 << 20
)

// Handler accepts conversational-agent provider events.
//
// No business logic here. Any syntactically valid JSON is acknowledged with
// 200, even when it cannot be stored, so the provider does not retry it.
type Handler struct {
	Ingestor *Ingestor

	// Secret, when set, must match the X-Webhook-Secret header.
	Secret string

	// MaxBodyBytes caps the request body. Larger bodies get 413 and are
	// never parsed. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func (h Handler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Ingestor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook ingestor not configured"})
		return
	}
	if h.Secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(headerWebhookSecret)), []byte(h.Secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", "limit_bytes", limit)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body exceeds " + strconv.FormatInt(limit, 10) + " bytes"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ctx := logger.With(c.Request.Context(), log)
	res, err := h.Ingestor.Ingest(ctx, body)
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		log.Error("webhook ingest failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "stored": res.Stored, "reason": res.Reason})
}
