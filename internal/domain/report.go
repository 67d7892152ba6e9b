package domain

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the outcome of assessing one reset subscriber.
type Verdict string

const (
	VerdictLikelyFraud         Verdict = "likely_fraud"
	VerdictReview              Verdict = "review"
	VerdictClear               Verdict = "clear"
	VerdictNoPostEventActivity Verdict = "no_post_event_activity"
	VerdictNoBaseline          Verdict = "no_baseline"
)

// Flagged reports whether the verdict should raise a fraud alert.
func (v Verdict) Flagged() bool {
	return v == VerdictLikelyFraud
}

// Assessment summarises one reset subscriber's activity around the event.
type Assessment struct {
	MSISDN            string    `json:"msisdn"`
	SubscriberName    string    `json:"subscriber_name,omitempty"`
	EventKind         EventKind `json:"event_kind"`
	ResetAt           time.Time `json:"reset_at"`
	BeforeCount       int       `json:"before_count"`
	AfterCount        int       `json:"after_count"`
	FamiliarCount     int       `json:"familiar_count"`
	UnfamiliarCount   int       `json:"unfamiliar_count"`
	UnfamiliarAmount  int64     `json:"unfamiliar_amount"`
	UnfamiliarRatio   float64   `json:"unfamiliar_ratio"`
	Verdict           Verdict   `json:"verdict"`
	NewCounterparties []string  `json:"new_counterparties,omitempty"`
	AssessedAt        time.Time `json:"assessed_at"`
}

// MuleCandidate is a counterparty collecting unfamiliar money from several reset subscribers.
type MuleCandidate struct {
	MSISDN           string   `json:"msisdn"`
	Name             string   `json:"name,omitempty"`
	Sources          []string `json:"sources"`
	TotalAmount      int64    `json:"total_amount"`
	TransactionCount int      `json:"transaction_count"`
}

// Ring is a connected group of reset subscribers and counterparties linked by unfamiliar transfers.
type Ring struct {
	ID             int      `json:"id"`
	ResetMSISDNs   []string `json:"reset_msisdns"`
	Counterparties []string `json:"counterparties"`
	TotalAmount    int64    `json:"total_amount"`
}

// ReportStats holds batch-level counters.
type ReportStats struct {
	Transactions     int `json:"transactions"`
	SkippedRows      int `json:"skipped_rows"`
	ResetSubscribers int `json:"reset_subscribers"`
	Flagged          int `json:"flagged"`
	Review           int `json:"review"`
	UnfamiliarEdges  int `json:"unfamiliar_edges"`
	FamiliarEdges    int `json:"familiar_edges"`
}

// Report is the full result of analysing one batch of transactions.
type Report struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	Source         string          `json:"source"`
	GeneratedAt    time.Time       `json:"generated_at"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Assessments    []Assessment    `json:"assessments"`
	MuleCandidates []MuleCandidate `json:"mule_candidates"`
	Rings          []Ring          `json:"rings"`
	Graph          *Graph          `json:"graph,omitempty"`
	Stats          ReportStats     `json:"stats"`
}

// ReportSummary is the list view of a stored report.
type ReportSummary struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	Source      string      `json:"source"`
	GeneratedAt time.Time   `json:"generated_at"`
	Stats       ReportStats `json:"stats"`
}

// Summary returns the list view of r.
func (r *Report) Summary() ReportSummary {
	return ReportSummary{
		ID:          r.ID,
		Title:       r.Title,
		Source:      r.Source,
		GeneratedAt: r.GeneratedAt,
		Stats:       r.Stats,
	}
}
