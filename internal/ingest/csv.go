/**
 * @description
 * This package reads subscriber transaction extracts exported by the mobile-money
 * platform. Each row ties one outgoing transaction to the subscriber's latest SIM
 * swap or PIN reset. Columns are resolved by header name so that extracts with
 * extra or reordered columns still load.
 *
 * @dependencies
 * - encoding/csv: Delimiter-separated parsing.
 * - internal/domain: Transaction and reset event models.
 */

package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/domain"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyInput    = errors.New("input has no header row")
	ErrInvalidRow    = errors.New("invalid row")
)

// Column identifies a logical field in the extract.
type Column string

const (
	ColResetTime       Column = "reset_time"
	ColResetMSISDN     Column = "reset_msisdn"
	ColTransactionTime Column = "transaction_time"
	ColTransactionID   Column = "transaction_id"
	ColDebitParty      Column = "debit_party"
	ColCreditParty     Column = "credit_party"
	ColCreditPartyName Column = "credit_party_name"
	ColAmount          Column = "amount"
	ColEventType       Column = "event_type"
)

var columnAliases = map[Column][]string{
	ColResetTime:       {"PIN RESET TIME", "RESET TIME", "SIM SWAP TIME", "EVENT TIME"},
	ColResetMSISDN:     {"PIN RESET MSISDN", "RESET MSISDN", "SIM SWAP MSISDN"},
	ColTransactionTime: {"TRANSACTION TIME"},
	ColTransactionID:   {"TRANSACTION ID"},
	ColDebitParty:      {"DEBIT PARTY"},
	ColCreditParty:     {"CREDIT PARTY"},
	ColCreditPartyName: {"CREDIT PARTY SHORTCODE/MSISDN", "CREDIT PARTY NAME"},
	ColAmount:          {"TRANSACTION AMOUNT"},
	ColEventType:       {"EVENT TYPE", "RESET TYPE"},
}

var requiredColumns = []Column{
	ColResetTime,
	ColResetMSISDN,
	ColTransactionTime,
	ColTransactionID,
	ColDebitParty,
	ColCreditParty,
	ColCreditPartyName,
	ColAmount,
}

// DefaultTimeLayouts are tried in order when parsing timestamps.
var DefaultTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"02-01-2006 15:04:05",
}

// ParseOptions controls how an extract is read.
type ParseOptions struct {
	Delimiter   rune
	Location    *time.Location
	ExtraLayout string
	Strict      bool
}

// RowError records a row that could not be loaded.
type RowError struct {
	Line   int
	Column Column
	Err    error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Column, e.Err)
}

func (e RowError) Unwrap() error {
	return ErrInvalidRow
}

// Batch is the parsed content of one extract.
type Batch struct {
	Transactions []domain.Transaction
	Skipped      []RowError
	Header       []string
}

// Parse reads a delimiter-separated extract.
func Parse(r io.Reader, opts ParseOptions) (*Batch, error) {
	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = ';'
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	layouts := DefaultTimeLayouts
	if layout := strings.TrimSpace(opts.ExtraLayout); layout != "" {
		layouts = append([]string{layout}, DefaultTimeLayouts...)
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read extract: %w", err)
		}
		if isBlank(record) {
			continue
		}
		// Physical line where the record starts; quoted fields may span lines.
		line, _ := reader.FieldPos(0)

		tx, rowErr := parseRecord(record, index, layouts, loc, line)
		if rowErr != nil {
			if opts.Strict {
				return nil, rowErr
			}
			batch.Skipped = append(batch.Skipped, *rowErr)
			continue
		}
		batch.Transactions = append(batch.Transactions, tx)
	}

	return batch, nil
}

// ResetEvents derives one reset event per subscriber; the latest reset time wins.
func (b *Batch) ResetEvents() []domain.ResetEvent {
	latest := make(map[string]domain.ResetEvent)
	for _, tx := range b.Transactions {
		current, ok := latest[tx.ResetMSISDN]
		if ok && !tx.ResetAt.After(current.OccurredAt) {
			continue
		}
		latest[tx.ResetMSISDN] = domain.ResetEvent{
			ID:             ResetEventID(tx.ResetMSISDN, tx.ResetAt),
			MSISDN:         tx.ResetMSISDN,
			SubscriberName: tx.DebitParty,
			Kind:           tx.EventKind,
			OccurredAt:     tx.ResetAt,
		}
	}

	events := make([]domain.ResetEvent, 0, len(latest))
	for _, event := range latest {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].MSISDN < events[j].MSISDN
	})
	return events
}

// ResetEventID is stable so that reloading an extract does not duplicate events.
func ResetEventID(msisdn string, at time.Time) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(msisdn+"|"+at.UTC().Format(time.RFC3339)))
}

func resolveColumns(header []string) (map[Column]int, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, exists := positions[key]; !exists {
			positions[key] = i
		}
	}

	index := make(map[Column]int, len(columnAliases))
	for column, aliases := range columnAliases {
		for _, alias := range aliases {
			if pos, ok := positions[normalizeHeader(alias)]; ok {
				index[column] = pos
				break
			}
		}
	}

	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("%w: %s (expected one of %q)", ErrMissingColumn, column, columnAliases[column])
		}
	}
	return index, nil
}

func normalizeHeader(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

func parseRecord(record []string, index map[Column]int, layouts []string, loc *time.Location, line int) (domain.Transaction, *RowError) {
	field := func(c Column) string {
		pos, ok := index[c]
		if !ok || pos >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[pos])
	}

	resetAt, err := ParseTime(field(ColResetTime), layouts, loc)
	if err != nil {
		return domain.Transaction{}, &RowError{Line: line, Column: ColResetTime, Err: err}
	}
	occurredAt, err := ParseTime(field(ColTransactionTime), layouts, loc)
	if err != nil {
		return domain.Transaction{}, &RowError{Line: line, Column: ColTransactionTime, Err: err}
	}

	resetMSISDN := domain.NormalizeMSISDN(field(ColResetMSISDN))
	if resetMSISDN == "" {
		return domain.Transaction{}, &RowError{Line: line, Column: ColResetMSISDN, Err: errors.New("blank msisdn")}
	}
	creditParty := domain.NormalizeMSISDN(field(ColCreditParty))
	if creditParty == "" {
		return domain.Transaction{}, &RowError{Line: line, Column: ColCreditParty, Err: errors.New("blank credit party")}
	}

	amount, err := ParseAmount(field(ColAmount))
	if err != nil {
		return domain.Transaction{}, &RowError{Line: line, Column: ColAmount, Err: err}
	}

	txID := field(ColTransactionID)
	if txID == "" {
		txID = fmt.Sprintf("line-%d", line)
	}

	return domain.Transaction{
		ID:              txID,
		ResetMSISDN:     resetMSISDN,
		DebitParty:      field(ColDebitParty),
		CreditParty:     creditParty,
		CreditPartyName: field(ColCreditPartyName),
		Amount:          amount,
		OccurredAt:      occurredAt,
		ResetAt:         resetAt,
		EventKind:       domain.ParseEventKind(field(ColEventType)),
	}, nil
}

// ParseTime tries each layout in order.
func ParseTime(raw string, layouts []string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("blank timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// maxMinorUnits is 2^63, the first float64 that no longer fits an int64.
const maxMinorUnits = float64(1 << 63)

// ParseAmount converts a decimal amount in major units into minor units.
func ParseAmount(raw string) (int64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	clean = strings.ReplaceAll(clean, " ", "")
	if clean == "" {
		return 0, errors.New("blank amount")
	}
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	minor := math.Round(value * 100)
	if minor >= maxMinorUnits {
		return 0, fmt.Errorf("amount %q out of range", raw)
	}
	return int64(minor), nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
