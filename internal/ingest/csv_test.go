package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/transfa/analytics-service/internal/domain"
)

const header = "REGION;AGENT;CHANNEL;STATUS;PIN RESET TIME;PIN RESET MSISDN;TRANSACTION TIME;TRANSACTION ID;TYPE;DEBIT PARTY;CREDIT PARTY;CREDIT PARTY SHORTCODE/MSISDN;TRANSACTION AMOUNT;CURRENCY"

func TestParse_ReadsExtractByHeaderName(t *testing.T) {
	input := strings.Join([]string{
		header,
		"DAR;A1;USSD;OK;2018-08-21 10:00:00;+255 700 000 001;2018-08-20 09:00:00;TX1;P2P;Juma;255711111111;Neema;1,500.50;TZS",
		"DAR;A1;USSD;OK;2018-08-21 10:00:00;255700000001;2018-08-21 10:00:00;TX2;P2P;Juma;400200;LUKU;2000;TZS",
		"",
	}, "\n")

	batch, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(batch.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(batch.Transactions))
	}

	first := batch.Transactions[0]
	if first.ResetMSISDN != "255700000001" {
		t.Fatalf("expected normalised msisdn, got %q", first.ResetMSISDN)
	}
	if first.Amount != 150050 {
		t.Fatalf("expected amount in minor units, got %d", first.Amount)
	}
	if first.DebitParty != "Juma" || first.CreditPartyName != "Neema" {
		t.Fatalf("unexpected names: %+v", first)
	}
	if domain.PeriodOf(first) != domain.PeriodBefore {
		t.Fatalf("expected first transaction before the reset")
	}
	if domain.PeriodOf(batch.Transactions[1]) != domain.PeriodAfter {
		t.Fatalf("expected transaction at reset time to be after the reset")
	}
	if first.EventKind != domain.EventPINReset {
		t.Fatalf("expected default event kind pin_reset, got %s", first.EventKind)
	}
}

func TestParse_MissingColumn(t *testing.T) {
	input := "PIN RESET TIME;PIN RESET MSISDN;TRANSACTION TIME\n2018-08-21;255700000001;2018-08-21\n"

	_, err := Parse(strings.NewReader(input), ParseOptions{})
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""), ParseOptions{})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestParse_SkipsBadRowsUnlessStrict(t *testing.T) {
	input := strings.Join([]string{
		header,
		"x;x;x;x;not-a-date;255700000001;2018-08-20 09:00:00;TX1;P2P;Juma;255711111111;Neema;100;TZS",
		"x;x;x;x;2018-08-21 10:00:00;255700000001;2018-08-22 09:00:00;TX2;P2P;Juma;255711111111;Neema;abc;TZS",
		"x;x;x;x;2018-08-21 10:00:00;255700000001;2018-08-22 09:00:00;TX3;P2P;Juma;255711111111;Neema;100;TZS",
	}, "\n")

	batch, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(batch.Transactions) != 1 || len(batch.Skipped) != 2 {
		t.Fatalf("expected 1 kept and 2 skipped, got %d and %d", len(batch.Transactions), len(batch.Skipped))
	}
	if batch.Skipped[0].Line != 2 || batch.Skipped[0].Column != ColResetTime {
		t.Fatalf("unexpected first row error: %+v", batch.Skipped[0])
	}
	if batch.Skipped[1].Column != ColAmount {
		t.Fatalf("unexpected second row error: %+v", batch.Skipped[1])
	}

	_, err = Parse(strings.NewReader(input), ParseOptions{Strict: true})
	if !errors.Is(err, ErrInvalidRow) {
		t.Fatalf("expected ErrInvalidRow in strict mode, got %v", err)
	}
}

func TestParse_CustomDelimiterAndAliases(t *testing.T) {
	input := strings.Join([]string{
		"sim swap time,sim swap msisdn,transaction time,transaction id,debit party,credit party,credit party name,transaction amount,event type",
		"2018-08-21T10:00:00Z,255700000001,2018-08-21T11:00:00Z,TX1,Juma,255799999999,Mule,5000,SIM SWAP",
	}, "\n")

	batch, err := Parse(strings.NewReader(input), ParseOptions{Delimiter: ','})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(batch.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(batch.Transactions))
	}
	if batch.Transactions[0].EventKind != domain.EventSIMSwap {
		t.Fatalf("expected sim_swap event kind, got %s", batch.Transactions[0].EventKind)
	}
}

func TestBatch_ResetEventsKeepsLatestPerSubscriber(t *testing.T) {
	early := time.Date(2018, time.August, 21, 10, 0, 0, 0, time.UTC)
	late := early.Add(24 * time.Hour)
	batch := &Batch{Transactions: []domain.Transaction{
		{ResetMSISDN: "255700000002", ResetAt: early, DebitParty: "Asha"},
		{ResetMSISDN: "255700000001", ResetAt: early, DebitParty: "Juma"},
		{ResetMSISDN: "255700000001", ResetAt: late, DebitParty: "Juma", EventKind: domain.EventSIMSwap},
	}}

	events := batch.ResetEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].MSISDN != "255700000002" || events[1].MSISDN != "255700000001" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if !events[1].OccurredAt.Equal(late) || events[1].Kind != domain.EventSIMSwap {
		t.Fatalf("expected latest reset to win, got %+v", events[1])
	}
	if events[1].ID != ResetEventID("255700000001", late) {
		t.Fatal("expected stable reset event id")
	}
}

func TestParse_RowErrorsReportPhysicalLines(t *testing.T) {
	input := strings.Join([]string{
		header,
		"x;x;x;x;2018-08-21 10:00:00;255700000001;2018-08-20 09:00:00;TX1;P2P;\"Juma",
		"Mwita\";255711111111;Neema;100;TZS",
		"x;x;x;x;2018-08-21 10:00:00;255700000001;2018-08-22 09:00:00;TX2;P2P;Juma;255711111111;Neema;abc;TZS",
	}, "\n")

	batch, err := Parse(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(batch.Transactions) != 1 || batch.Transactions[0].DebitParty != "Juma\nMwita" {
		t.Fatalf("expected the multi-line row to load, got %+v", batch.Transactions)
	}
	if len(batch.Skipped) != 1 || batch.Skipped[0].Line != 4 {
		t.Fatalf("expected the bad amount on line 4, got %+v", batch.Skipped)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "1234", want: 123400},
		{input: "1,234.50", want: 123450},
		{input: " 0.1 ", want: 10},
		{input: "", wantErr: true},
		{input: "-5", wantErr: true},
		{input: "ten", wantErr: true},
		{input: "92233720368547758.08", wantErr: true},
		{input: "100000000000000000000", wantErr: true},
		{input: "1e30", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseTime_UsesLocation(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	got, err := ParseTime("2018-08-21 10:00", DefaultTimeLayouts, loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UTC().Hour() != 7 {
		t.Fatalf("expected 07:00 UTC, got %s", got.UTC())
	}
}
