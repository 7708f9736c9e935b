package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const RoutingKeyJobFinished = "call_queue.job.finished"

// JobFinished is published once a job reaches a terminal state.
type JobFinished struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	TotalLeads int       `json:"total_leads"`
	Initiated  int       `json:"initiated"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers job lifecycle events. Delivery is best-effort; callers
// log failures and move on.
type Publisher interface {
	PublishJobFinished(ctx context.Context, e JobFinished) error
	Close() error
}

// NopPublisher drops every event. Used when AMQP is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishJobFinished(ctx context.Context, e JobFinished) error { return nil }
func (NopPublisher) Close() error                                                { return nil }

// AMQPPublisher publishes JSON events to a topic exchange. The channel is
// reopened lazily after the broker closes it.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("events: amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: amqp dial: %w", err)
	}
	p := &AMQPPublisher{conn: conn, exchange: exchange}
	ch, err := p.channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %q: %w", exchange, err)
	}
	return p, nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) PublishJobFinished(ctx context.Context, e JobFinished) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, RoutingKeyJobFinished, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.JobID,
		Timestamp:    e.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("events: publish job finished: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []JobFinished
}

func (r *Recorder) PublishJobFinished(ctx context.Context, e JobFinished) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []JobFinished {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobFinished, len(r.events))
	copy(out, r.events)
	return out
}
