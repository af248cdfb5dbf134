// Package amqprelay republishes decoded gateway dispatch events onto an
// AMQP exchange, so downstream workers consume events from a durable queue
// instead of holding their own gateway connections.
package amqprelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher relays dispatch events to one AMQP exchange. It is safe for
// concurrent use; publishes after Close are dropped with an error.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	exchange string
	logger   *slog.Logger
	closed   bool
}

// envelope is the JSON body published per event.
type envelope struct {
	TargetID  string          `json:"target_id"`
	Event     string          `json:"event"`
	Sequence  int64           `json:"seq"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// New dials url and declares a durable topic exchange to publish into.
func New(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqprelay: dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqprelay: open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqprelay: declare exchange %q: %w", exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger.With("component", "amqprelay"),
	}, nil
}

// RelayDispatch publishes one dispatch event. The routing key is "dispatch."
// followed by the event name exactly as received, e.g.
// "dispatch.MESSAGE_CREATE".
func (p *Publisher) RelayDispatch(ctx context.Context, targetID, eventName string, sequence int64, data []byte) error {
	body, err := json.Marshal(envelope{
		TargetID:  targetID,
		Event:     eventName,
		Sequence:  sequence,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("amqprelay: marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("amqprelay: publisher closed")
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, "dispatch."+eventName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqprelay: publish %s: %w", eventName, err)
	}
	return nil
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("closing channel", "error", err)
	}
	return p.conn.Close()
}
