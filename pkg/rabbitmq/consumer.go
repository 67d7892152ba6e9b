package rabbitmq

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer holds a RabbitMQ connection used for a single queue subscription.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer connects to RabbitMQ.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares a durable queue bound to exchange once per routing key and
// dispatches deliveries to the matching handler in a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]func([]byte) bool)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			settle(d, dispatch(handlers, d.RoutingKey, d.Body))
		}
	}()

	return nil
}

// Outcome is what happens to a delivery after its handler ran.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeDropped
)

func dispatch(handlers map[string]func([]byte) bool, routingKey string, body []byte) Outcome {
	handler, ok := handlers[routingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", routingKey)
		return OutcomeDropped
	}
	if handler(body) {
		return OutcomeAck
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s", routingKey)
	return OutcomeRequeue
}

func settle(d amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"failed to settle delivery\" routing_key=%s err=%v", d.RoutingKey, err)
	}
}

// Close closes the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
