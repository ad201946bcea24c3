package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/machine-treatments/internal/logger"
)

const maxBackoff = 30 * time.Second

// Consumer drains the treatment and registration queues into the
// structured log, giving operators a live feed of catalogue changes.
type Consumer struct {
	URL string
	Log *logger.Logger
}

// NewConsumer returns a consumer for the broker at url.
func NewConsumer(url string, log *logger.Logger) *Consumer {
	return &Consumer{URL: url, Log: log.With("event-consumer")}
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial and
// channel failures are retried with exponential backoff; Run only returns
// once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.DialConfig(c.URL, amqp.Config{Dial: amqp.DefaultDial(3 * time.Second)})
		if err != nil {
			c.Log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial broker failed")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn().Err(err).Msg("set QoS failed")
	}

	// stop releases the forwarders when this loop returns, whether or not
	// ctx is done.
	stop := make(chan struct{})
	defer close(stop)

	deliveries := make(chan namedDelivery)
	for _, name := range []string{TreatmentsQueue, UsersQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		go forward(stop, name, msgs, deliveries)
	}
	c.Log.Info().Msg("consuming events")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d := <-deliveries:
			if err := c.handleMessage(d.queue, d.Body); err != nil {
				c.Log.Error().Err(err).Str("queue", d.queue).Msg("handle message failed")
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

type namedDelivery struct {
	amqp.Delivery
	queue string
}

func forward(stop <-chan struct{}, queue string, in <-chan amqp.Delivery, out chan<- namedDelivery) {
	for d := range in {
		select {
		case out <- namedDelivery{Delivery: d, queue: queue}:
		case <-stop:
			return
		}
	}
}

func (c *Consumer) handleMessage(queue string, body []byte) error {
	switch queue {
	case TreatmentsQueue:
		var ev TreatmentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if ev.Action == "" || ev.ID == "" {
			return errors.New("treatment event without action or id")
		}
		c.Log.Info().
			Str("action", ev.Action).
			Str("id", ev.ID).
			Str("machine_type", ev.MachineType).
			Str("user_id", ev.UserID).
			Time("at", ev.At).
			Msg("treatment changed")
	case UsersQueue:
		var ev UserRegisteredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		c.Log.Info().Str("user_id", ev.UserID).Str("email", ev.Email).Time("at", ev.At).Msg("user registered")
	default:
		return fmt.Errorf("unexpected queue %q", queue)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
