/**
 * @description
 * This file defines the core domain models for the analytics-service: reset events
 * (SIM swaps and PIN resets), the subscriber transactions recorded around them, and
 * the classifications the familiarity analysis attaches to each transaction.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit, matching the
 *   transaction-service ledger.
 * - MSISDNs are kept as normalised digit strings; shortcodes are shorter than a
 *   full MSISDN and identify businesses (paybills, tills, agents).
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShortcodeMaxLength is the longest identifier still treated as a business shortcode.
// A full international MSISDN has 12 digits.
const ShortcodeMaxLength = 11

// EventKind identifies what happened to the subscriber's credentials.
type EventKind string

const (
	EventSIMSwap  EventKind = "sim_swap"
	EventPINReset EventKind = "pin_reset"
)

// ParseEventKind maps free-form input onto a known kind. Unknown values are PIN resets.
func ParseEventKind(raw string) EventKind {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch normalized {
	case "sim_swap", "simswap", "sim":
		return EventSIMSwap
	default:
		return EventPINReset
	}
}

// ResetEvent is a SIM swap or PIN reset for one subscriber.
type ResetEvent struct {
	ID             uuid.UUID `json:"id"`
	MSISDN         string    `json:"msisdn"`
	SubscriberName string    `json:"subscriber_name,omitempty"`
	Kind           EventKind `json:"kind"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Transaction is a single money movement out of a reset subscriber's wallet.
type Transaction struct {
	ID              string    `json:"id"`
	ResetMSISDN     string    `json:"reset_msisdn"`
	DebitParty      string    `json:"debit_party"`
	CreditParty     string    `json:"credit_party"`
	CreditPartyName string    `json:"credit_party_name,omitempty"`
	Amount          int64     `json:"amount"`
	OccurredAt      time.Time `json:"occurred_at"`
	ResetAt         time.Time `json:"reset_at"`
	EventKind       EventKind `json:"event_kind"`
}

// Period tells whether a transaction happened before or after the reset.
type Period string

const (
	PeriodBefore Period = "before"
	PeriodAfter  Period = "after"
)

// PeriodOf returns PeriodBefore only when the transaction strictly precedes the reset.
func PeriodOf(tx Transaction) Period {
	if tx.OccurredAt.Before(tx.ResetAt) {
		return PeriodBefore
	}
	return PeriodAfter
}

// Familiarity is the outcome of comparing a transaction against the subscriber's history.
type Familiarity string

const (
	FamiliarityHistorical Familiarity = "historical"
	FamiliarityFamiliar   Familiarity = "familiar"
	FamiliarityUnfamiliar Familiarity = "unfamiliar"
)

// Rank orders familiarities by severity; higher is worse.
func (f Familiarity) Rank() int {
	switch f {
	case FamiliarityUnfamiliar:
		return 2
	case FamiliarityFamiliar:
		return 1
	default:
		return 0
	}
}

// ClassifiedTransaction pairs a transaction with its period and familiarity.
type ClassifiedTransaction struct {
	Transaction
	Period      Period      `json:"period"`
	Familiarity Familiarity `json:"familiarity"`
}

// NormalizeMSISDN strips formatting characters from a phone number or shortcode.
func NormalizeMSISDN(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '+', '-', '(', ')', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsShortcode reports whether id is too short to be a full MSISDN.
func IsShortcode(id string) bool {
	return len(id) <= ShortcodeMaxLength
}
