package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/graph"
)

// Input is one batch of transactions to analyse.
type Input struct {
	Transactions []domain.Transaction
	SkippedRows  int
	Source       string
	Title        string
}

// Analyze classifies, assesses and maps a batch, and lays out its network graph.
func Analyze(in Input, opts Options) *domain.Report {
	opts = opts.normalized()

	classified := Classify(in.Transactions, opts)
	assessments := Assess(classified, opts)
	g := graph.Build(classified)
	graph.Layout(g, graph.DefaultLayoutOptions())
	mules, rings := MapNetwork(classified, g, opts)

	report := &domain.Report{
		ID:             uuid.New(),
		Source:         in.Source,
		GeneratedAt:    opts.Now().UTC(),
		Assessments:    assessments,
		MuleCandidates: mules,
		Rings:          rings,
		Graph:          g,
	}
	report.WindowStart, report.WindowEnd = resetWindow(in.Transactions)
	report.Title = strings.TrimSpace(in.Title)
	if report.Title == "" {
		report.Title = DefaultTitle(report.WindowStart, report.WindowEnd)
	}

	report.Stats = domain.ReportStats{
		Transactions:     len(classified),
		SkippedRows:      in.SkippedRows,
		ResetSubscribers: len(assessments),
	}
	for _, a := range assessments {
		switch a.Verdict {
		case domain.VerdictLikelyFraud:
			report.Stats.Flagged++
		case domain.VerdictReview:
			report.Stats.Review++
		}
	}
	for _, e := range g.Edges {
		if e.Unfamiliar() {
			report.Stats.UnfamiliarEdges++
		} else {
			report.Stats.FamiliarEdges++
		}
	}

	return report
}

// Flagged returns the assessments that should raise an alert.
func Flagged(assessments []domain.Assessment) []domain.Assessment {
	out := make([]domain.Assessment, 0)
	for _, a := range assessments {
		if a.Verdict.Flagged() {
			out = append(out, a)
		}
	}
	return out
}

// DefaultTitle names a report after the span of reset dates it covers.
func DefaultTitle(start, end time.Time) string {
	const base = "SIM Swaps & PIN Resets"
	switch {
	case start.IsZero():
		return base
	case start.Year() == end.Year() && start.YearDay() == end.YearDay():
		return fmt.Sprintf("%s %s", base, start.Format("2 January 2006"))
	case start.Year() == end.Year() && start.Month() == end.Month():
		return fmt.Sprintf("%s %d-%s", base, start.Day(), end.Format("2 January 2006"))
	default:
		return fmt.Sprintf("%s %s - %s", base, start.Format("2 January 2006"), end.Format("2 January 2006"))
	}
}

func resetWindow(txs []domain.Transaction) (time.Time, time.Time) {
	var start, end time.Time
	for _, tx := range txs {
		if start.IsZero() || tx.ResetAt.Before(start) {
			start = tx.ResetAt
		}
		if end.IsZero() || tx.ResetAt.After(end) {
			end = tx.ResetAt
		}
	}
	return start, end
}
