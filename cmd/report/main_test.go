package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/transfa/analytics-service/internal/domain"
)

const extract = `PIN RESET TIME;PIN RESET MSISDN;TRANSACTION TIME;TRANSACTION ID;DEBIT PARTY;CREDIT PARTY;CREDIT PARTY SHORTCODE/MSISDN;TRANSACTION AMOUNT
2018-08-21 12:00:00;255700000001;2018-08-19 12:00:00;a1;Juma;255711111111;Neema;1000
2018-08-21 12:00:00;255700000001;2018-08-21 13:00:00;a2;Juma;255799999999;Mule;5000
2018-08-21 12:00:00;255700000002;2018-08-18 12:00:00;b1;Asha;255711111111;Neema;400
2018-08-21 12:00:00;255700000002;2018-08-21 15:00:00;b2;Asha;255799999999;Mule;3000
2018-08-21 12:00:00;255700000002;not-a-date;b3;Asha;255711111111;Neema;400
`

func TestReportCommand_WritesHTMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "extract.csv")
	if err := os.WriteFile(input, []byte(extract), 0o644); err != nil {
		t.Fatal(err)
	}
	htmlPath := filepath.Join(dir, "graph.html")
	jsonPath := filepath.Join(dir, "report.json")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--input", input, "--output", htmlPath, "--json", jsonPath, "--timezone", "UTC"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("report command failed: %v\n%s", err, out.String())
	}

	page, err := os.ReadFile(htmlPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(page), "<svg") {
		t.Fatal("expected an svg graph in the html report")
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode json report: %v", err)
	}
	if report.Stats.Flagged != 2 || report.Stats.SkippedRows != 1 || len(report.MuleCandidates) != 1 {
		t.Fatalf("unexpected stats %+v, mules %+v", report.Stats, report.MuleCandidates)
	}

	summary := out.String()
	if !strings.Contains(summary, "2 flagged") || !strings.Contains(summary, "255700000001") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
}

func TestReportCommand_RequiresInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error without --input")
	}
}

func TestReportCommand_RejectsMultiCharacterDelimiter(t *testing.T) {
	err := runReport(&bytes.Buffer{}, reportFlags{input: "unused.csv", delimiter: ";;", timezone: "UTC"})
	if err == nil || !strings.Contains(err.Error(), "single character") {
		t.Fatalf("expected delimiter error, got %v", err)
	}
}
