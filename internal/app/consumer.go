package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/metrics"
)

const (
	RoutingKeySIMSwap             = "subscriber.sim_swap"
	RoutingKeyPINReset            = "subscriber.pin_reset"
	RoutingKeyTransactionRecorded = "transaction.recorded"
)

// EventRecorder stores what the bus reports. *Service implements it.
type EventRecorder interface {
	RecordResetEvent(ctx context.Context, event domain.ResetEvent) error
	RecordTransactions(ctx context.Context, txs []domain.Transaction) (int, error)
}

// ResetEventMessage is the body of subscriber.sim_swap and subscriber.pin_reset.
type ResetEventMessage struct {
	MSISDN         string    `json:"msisdn"`
	SubscriberName string    `json:"subscriber_name"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// TransactionMessage is the body of transaction.recorded.
type TransactionMessage struct {
	TransactionID   string    `json:"transaction_id"`
	MSISDN          string    `json:"msisdn"`
	DebitParty      string    `json:"debit_party"`
	CreditParty     string    `json:"credit_party"`
	CreditPartyName string    `json:"credit_party_name"`
	Amount          int64     `json:"amount"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EventConsumer turns bus messages into recorded reset events and transactions.
type EventConsumer struct {
	recorder EventRecorder
	logger   *slog.Logger
	timeout  time.Duration
}

func NewEventConsumer(recorder EventRecorder, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{recorder: recorder, logger: logger, timeout: 15 * time.Second}
}

// Bindings returns one handler per routing key, ready for Consumer.ConsumeWithBindings.
func (c *EventConsumer) Bindings() map[string]func([]byte) bool {
	bindings := make(map[string]func([]byte) bool, 3)
	for _, key := range []string{RoutingKeySIMSwap, RoutingKeyPINReset, RoutingKeyTransactionRecorded} {
		bindings[key] = func(body []byte) bool { return c.HandleMessage(key, body) }
	}
	return bindings
}

// HandleMessage processes one delivery. It returns false only when the message should be
// re-queued: malformed or invalid payloads are acknowledged and dropped.
func (c *EventConsumer) HandleMessage(routingKey string, body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	switch routingKey {
	case RoutingKeySIMSwap, RoutingKeyPINReset:
		err = c.handleReset(ctx, routingKey, body)
	case RoutingKeyTransactionRecorded:
		err = c.handleTransaction(ctx, body)
	default:
		c.logger.Warn("unexpected routing key; dropping", "routing_key", routingKey)
		metrics.IncEvent(routingKey, "dropped")
		return true
	}

	switch {
	case err == nil:
		metrics.IncEvent(routingKey, "ok")
		return true
	case errors.Is(err, ErrInvalidEvent):
		c.logger.Warn("dropping malformed event", "routing_key", routingKey, "error", err)
		metrics.IncEvent(routingKey, "dropped")
		return true
	default:
		c.logger.Error("failed to record event; re-queuing", "routing_key", routingKey, "error", err)
		metrics.IncEvent(routingKey, "retry")
		return false
	}
}

func (c *EventConsumer) handleReset(ctx context.Context, routingKey string, body []byte) error {
	var msg ResetEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: decode reset event: %v", ErrInvalidEvent, err)
	}
	kind := domain.EventPINReset
	if routingKey == RoutingKeySIMSwap {
		kind = domain.EventSIMSwap
	}
	return c.recorder.RecordResetEvent(ctx, domain.ResetEvent{
		MSISDN:         msg.MSISDN,
		SubscriberName: msg.SubscriberName,
		Kind:           kind,
		OccurredAt:     msg.OccurredAt,
	})
}

func (c *EventConsumer) handleTransaction(ctx context.Context, body []byte) error {
	var msg TransactionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: decode transaction: %v", ErrInvalidEvent, err)
	}
	_, err := c.recorder.RecordTransactions(ctx, []domain.Transaction{{
		ID:              msg.TransactionID,
		ResetMSISDN:     msg.MSISDN,
		DebitParty:      msg.DebitParty,
		CreditParty:     msg.CreditParty,
		CreditPartyName: msg.CreditPartyName,
		Amount:          msg.Amount,
		OccurredAt:      msg.OccurredAt,
	}})
	return err
}
