package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/calllog"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/jobs"
	"outbound-dialer/internal/rbac"
	"outbound-dialer/internal/users"
	"outbound-dialer/internal/worker"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Jobs     JobService
	Calls    CallInitiator
	CallLogs calllog.Reader
	Tokens   TokenVerifier
	Worker   Ticker

	// Redis backs the per-IP limit on anonymous status reads. Nil disables it.
	Redis           redis.Scripter
	RateLimit       int
	RateLimitWindow time.Duration

	WorkerSecret string
}

type JobService interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (jobs.EnqueueResult, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
}

type CallInitiator interface {
	Initiate(ctx context.Context, req calls.Request) (calls.Result, error)
}

type TokenVerifier interface {
	Verify(conversationID, token, storedHash string) bool
}

type Ticker interface {
	Tick(ctx context.Context) (worker.Outcome, error)
}

const (
	headerStatusToken  = "X-Status-Token"
	headerWorkerSecret = "X-Worker-Secret"
)

// --- Jobs ---

type enqueueRequest struct {
	Leads          []jobs.Lead `json:"leads"`
	ScheduledAt    string      `json:"scheduled_at"`
	ScheduledDate  string      `json:"scheduled_date"`
	ScheduledTime  string      `json:"scheduled_time"`
	TimezoneOffset string      `json:"timezone_offset"`
}

// EnqueueJob creates a job for the caller from a frozen lead list.
func (h Handlers) EnqueueJob(c *gin.Context) {
	if h.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jobs not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Jobs.Enqueue(c.Request.Context(), jobs.EnqueueRequest{
		UserID: userID,
		Leads:  req.Leads,
		Schedule: jobs.Schedule{
			At:       req.ScheduledAt,
			Date:     req.ScheduledDate,
			Time:     req.ScheduledTime,
			TZOffset: req.TimezoneOffset,
		},
	})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidArgument) || errors.Is(err, jobs.ErrInvalidSchedule) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("enqueue failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetJob returns the full job row to its owner or an admin. Other callers
// get 404 so job ids cannot be enumerated.
func (h Handlers) GetJob(c *gin.Context) {
	if h.Jobs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jobs not configured"})
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		logger.FromGin(c).Error("job lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}
	if !rbac.CanAccess(c.Request.Context(), j.UserID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// --- Calls ---

type initiateCallRequest struct {
	Lead jobs.Lead `json:"lead"`
}

// InitiateCall places a single call outside any job. The response carries the
// status token; it is not stored anywhere in plain form.
func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Lead.Phone) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead.phone required"})
		return
	}

	res, err := h.Calls.Initiate(c.Request.Context(), calls.Request{UserID: userID, Lead: req.Lead})
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, calls.ErrInvalidPhone):
			status = http.StatusBadRequest
		case errors.Is(err, users.ErrNotFound), errors.Is(err, calls.ErrMissingPrerequisite):
			status = http.StatusConflict
		}
		logger.FromGin(c).Warn("call initiation failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

type callStatusResponse struct {
	ConversationID  string     `json:"conversation_id"`
	Status          string     `json:"status"`
	Ended           bool       `json:"ended"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration,omitempty"`
}

// CallStatus serves anonymous status reads for callers holding the token
// returned at initiation. Unknown conversations and bad tokens both yield 404.
func (h Handlers) CallStatus(c *gin.Context) {
	if h.CallLogs == nil || h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call status not configured"})
		return
	}
	log := logger.FromGin(c)

	if h.Redis != nil && h.RateLimit > 0 {
		ok, err := utils.AllowFixedWindow(c.Request.Context(), h.Redis, "ratelimit:call_status:"+c.ClientIP(), h.RateLimit, h.RateLimitWindow)
		switch {
		case err != nil:
			log.Warn("rate limit check failed; allowing", "err", err)
		case !ok:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	convID := c.Param("conversation_id")
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader(headerStatusToken)
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "status token required"})
		return
	}

	e, err := h.CallLogs.Get(c.Request.Context(), convID)
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		log.Error("call log lookup failed", "conversation_id", convID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !h.Tokens.Verify(convID, token, e.TokenHash()) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	_, ended := e.Ended()
	c.JSON(http.StatusOK, callStatusResponse{
		ConversationID:  e.ConversationID,
		Status:          e.Status,
		Ended:           ended,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
	})
}

// --- Worker ---

// WorkerTick runs one claim-and-process cycle and answers with its plain
// outcome string. The request blocks for as long as the claimed job runs,
// but the job does not stop when the trigger client gives up on it.
func (h Handlers) WorkerTick(c *gin.Context) {
	if h.Worker == nil || h.WorkerSecret == "" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "worker trigger not configured"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(headerWorkerSecret)), []byte(h.WorkerSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid worker secret"})
		return
	}

	outcome, err := h.Worker.Tick(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		logger.FromGin(c).Error("worker tick failed", "outcome", outcome, "err", err)
	}
	c.String(http.StatusOK, string(outcome))
}
