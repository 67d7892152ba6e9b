/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * It encapsulates the logic for connecting to RabbitMQ and publishing JSON messages
 * to a durable topic exchange, including the fraud alerts raised by the analytics-service.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const (
	DefaultEventsExchange = "transfa.events"
	FraudAlertRoutingKey  = "fraud.simswap.flagged"
)

// FraudAlert is the payload published when a reset subscriber is flagged as likely fraud.
type FraudAlert struct {
	MSISDN            string     `json:"msisdn"`
	SubscriberName    string     `json:"subscriber_name,omitempty"`
	EventKind         string     `json:"event_kind"`
	ResetAt           time.Time  `json:"reset_at"`
	Verdict           string     `json:"verdict"`
	UnfamiliarCount   int        `json:"unfamiliar_count"`
	UnfamiliarAmount  int64      `json:"unfamiliar_amount"`
	NewCounterparties []string   `json:"new_counterparties,omitempty"`
	ReportID          *uuid.UUID `json:"report_id,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishFraudAlert(ctx context.Context, alert FraudAlert) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishFraudAlert(ctx context.Context, alert FraudAlert) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"fraud alert publish skipped\" msisdn=%s verdict=%s", alert.MSISDN, alert.Verdict)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ. Fraud alerts go to exchange, or to
// DefaultEventsExchange when it is blank.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultEventsExchange
	}
	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends a JSON message to a durable topic exchange with a routing key. A failed
// declare or publish reopens the channel and retries once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, jsonBody)
	if err == nil {
		return nil
	}

	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	return p.publishLocked(ctx, exchange, routingKey, jsonBody)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishFraudAlert publishes a flagged subscriber to the events exchange.
func (p *EventProducer) PublishFraudAlert(ctx context.Context, alert FraudAlert) error {
	return p.Publish(ctx, p.exchange, FraudAlertRoutingKey, alert)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
