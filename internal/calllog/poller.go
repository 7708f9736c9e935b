package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outbound-dialer/pkg/logger"
)

var ErrPollTimeout = errors.New("calllog: poll timed out")

// Reader is the read side of Repository.
type Reader interface {
	Get(ctx context.Context, conversationID string) (Entry, error)
}

// Poller waits for a conversation to reach a terminal state. It never writes.
type Poller struct {
	repo     Reader
	interval time.Duration
}

func NewPoller(repo Reader, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{repo: repo, interval: interval}
}

// Poll checks the entry immediately and then every interval until it ends or
// timeout elapses. A missing entry keeps waiting; the webhook may not have
// arrived yet. Cancellation of ctx is returned as ctx.Err().
func (p *Poller) Poll(ctx context.Context, conversationID string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l := logger.From(ctx).With("conversation_id", conversationID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastErr error
	for {
		e, err := p.repo.Get(pollCtx, conversationID)
		switch {
		case err == nil:
			if status, ended := e.Ended(); ended {
				return status, nil
			}
		case errors.Is(err, ErrNotFound):
		default:
			lastErr = err
			l.Warn("call log read failed", "err", err)
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if lastErr != nil {
				return "", fmt.Errorf("%w after %s (last error: %v)", ErrPollTimeout, timeout, lastErr)
			}
			return "", fmt.Errorf("%w after %s", ErrPollTimeout, timeout)
		case <-ticker.C:
		}
	}
}
