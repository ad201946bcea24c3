// Package service holds outbound integrations used by the HTTP handlers.
// The event publisher pushes domain events to RabbitMQ; failures are
// returned so callers can log them without failing the request.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/machine-treatments/internal/queue"
)

// Publisher opens a short-lived connection per message.  Write traffic on
// the treatment catalogue is low, so a pooled channel is not worth its
// reconnect bookkeeping.
type Publisher struct {
	URL         string
	DialTimeout time.Duration
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, DialTimeout: 3 * time.Second}
}

// PublishTreatmentEvent sends ev to the treatments.changed queue.
func (p *Publisher) PublishTreatmentEvent(ctx context.Context, ev queue.TreatmentEvent) error {
	return p.publish(ctx, queue.TreatmentsQueue, ev)
}

// PublishUserRegistered sends ev to the users.registered queue.
func (p *Publisher) PublishUserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error {
	return p.publish(ctx, queue.UsersQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, name string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.DialTimeout)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", name, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", name, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// NopPublisher discards every event.  It is used when EVENTS_ENABLED is off.
type NopPublisher struct{}

func (NopPublisher) PublishTreatmentEvent(context.Context, queue.TreatmentEvent) error { return nil }

func (NopPublisher) PublishUserRegistered(context.Context, queue.UserRegisteredEvent) error {
	return nil
}
