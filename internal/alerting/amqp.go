package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"budgetwatch/internal/notification"
)

const publishTimeout = 5 * time.Second

// RaisedEvent is the message body published for every raised notification.
type RaisedEvent struct {
	UserID       string                    `json:"user_id"`
	Notification notification.Notification `json:"notification"`
	RaisedAt     time.Time                 `json:"raised_at"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes raised notifications to a direct exchange.
type AMQPNotifier struct {
	channel    publisher
	closer     func() error
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

// AMQPOptions configures the broker topology.
type AMQPOptions struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

// NewAMQPNotifier dials the broker and declares the exchange, queue and binding.
func NewAMQPNotifier(opts AMQPOptions, logger zerolog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, opts); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	n := newAMQPNotifier(ch, opts, logger)
	n.closer = func() error {
		ch.Close()
		return conn.Close()
	}
	return n, nil
}

func newAMQPNotifier(p publisher, opts AMQPOptions, logger zerolog.Logger) *AMQPNotifier {
	key := opts.RoutingKey
	if key == "" {
		key = opts.Queue
	}
	return &AMQPNotifier{
		channel:    p,
		exchange:   opts.Exchange,
		routingKey: key,
		logger:     logger.With().Str("component", "alert_amqp").Logger(),
	}
}

func declareTopology(ch *amqp091.Channel, opts AMQPOptions) error {
	if err := ch.ExchangeDeclare(
		opts.Exchange, // name
		"direct",      // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		opts.Queue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	key := opts.RoutingKey
	if key == "" {
		key = opts.Queue
	}
	if err := ch.QueueBind(opts.Queue, key, opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Notify publishes one persistent JSON message per notification.
func (n *AMQPNotifier) Notify(ctx context.Context, userID string, list []notification.Notification) error {
	now := time.Now().UTC()
	for _, note := range list {
		body, err := json.Marshal(RaisedEvent{UserID: userID, Notification: note, RaisedAt: now})
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = n.channel.PublishWithContext(
			pubCtx,
			n.exchange,
			n.routingKey,
			false, // mandatory
			false, // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				MessageId:    note.Nonce,
				Timestamp:    now,
				Body:         body,
			},
		)
		cancel()
		if err != nil {
			return fmt.Errorf("publish %s: %w", note.ID(), err)
		}
	}

	n.logger.Info().Str("user_id", userID).
		Int("count", len(list)).
		Str("exchange", n.exchange).
		Msg("alert published (amqp)")
	return nil
}

// Close releases the broker channel and connection.
func (n *AMQPNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

var _ Notifier = (*AMQPNotifier)(nil)
