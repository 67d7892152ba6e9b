/**
 * @description
 * This file contains the core business logic for the analytics-service. The `Service`
 * struct ties together extract parsing, familiarity analysis, persistence and fraud
 * alerting.
 *
 * Key features:
 * - Analyses analyst uploads into stored reports and alerts on likely fraud.
 * - Records SIM swap / PIN reset events and subscriber transactions from the event bus.
 * - Assesses each recorded reset once its observation window has elapsed.
 *
 * @dependencies
 * - golang.org/x/sync/errgroup: Bounded concurrency for scheduled assessments.
 * - internal/analysis, internal/ingest, internal/store: Analysis pipeline and data access.
 * - pkg/rabbitmq: Fraud alert publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/analysis"
	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/ingest"
	"github.com/transfa/analytics-service/internal/metrics"
	"github.com/transfa/analytics-service/internal/store"
	"github.com/transfa/analytics-service/pkg/rabbitmq"
	"golang.org/x/sync/errgroup"
)

const (
	UploadRateLimitScope = "analytics_upload"

	defaultListLimit   = 20
	maxListLimit       = 100
	defaultBatchSize   = 200
	defaultConcurrency = 4
)

var (
	ErrInvalidUpload = errors.New("invalid upload")
	ErrInvalidEvent  = errors.New("invalid event")
	ErrRateLimited   = errors.New("upload rate limit exceeded")
)

// RateLimitError is returned when an analyst exceeds the upload rate limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s; retry after %ds", ErrRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RateLimiter counts upload hits per analyst. *RedisRateLimiter implements it.
type RateLimiter interface {
	Consume(ctx context.Context, subject string) (RateLimitDecision, error)
}

// Settings carries the tunables the service needs from configuration.
type Settings struct {
	Analysis              analysis.Options
	Parse                 ingest.ParseOptions
	AssessmentBatchSize   int
	AssessmentConcurrency int
}

// AssessmentRun summarises one pass of AssessDueResets.
type AssessmentRun struct {
	Due      int `json:"due"`
	Assessed int `json:"assessed"`
	Flagged  int `json:"flagged"`
	Failed   int `json:"failed"`
}

// Service provides the core business logic for SIM swap and PIN reset analysis.
type Service struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	settings  Settings
	logger    *slog.Logger
}

// NewService creates a new analytics service instance. limiter may be nil to disable
// upload rate limiting.
func NewService(repo store.Repository, publisher rabbitmq.Publisher, limiter RateLimiter, settings Settings, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settings.AssessmentBatchSize <= 0 {
		settings.AssessmentBatchSize = defaultBatchSize
	}
	if settings.AssessmentConcurrency <= 0 {
		settings.AssessmentConcurrency = defaultConcurrency
	}
	if settings.Analysis.Now == nil {
		settings.Analysis.Now = time.Now
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		limiter:   limiter,
		settings:  settings,
		logger:    logger,
	}
}

// AnalyzeUpload parses an uploaded extract, analyses it, stores the report and alerts on
// every likely-fraud subscriber. The extract's events are then recorded for scheduled assessment.
func (s *Service) AnalyzeUpload(ctx context.Context, analystID string, r io.Reader, source string) (*domain.Report, error) {
	if err := s.checkUploadRate(ctx, analystID); err != nil {
		return nil, err
	}

	started := time.Now()
	batch, err := ingest.Parse(r, s.settings.Parse)
	if err != nil {
		metrics.IncAnalysis("rejected")
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	metrics.AddRowsSkipped(len(batch.Skipped))

	report := analysis.Analyze(analysis.Input{
		Transactions: batch.Transactions,
		SkippedRows:  len(batch.Skipped),
		Source:       strings.TrimSpace(source),
	}, s.settings.Analysis)

	if err := s.repo.SaveReport(ctx, report); err != nil {
		metrics.IncAnalysis("error")
		return nil, fmt.Errorf("save report: %w", err)
	}
	metrics.IncAnalysis("success")
	metrics.ObserveAnalysisDuration(time.Since(started))

	for _, a := range report.Assessments {
		metrics.IncAssessment("upload", string(a.Verdict))
	}
	for _, a := range analysis.Flagged(report.Assessments) {
		s.publishAlert(ctx, a, &report.ID)
	}
	s.recordUploadedEvents(ctx, batch)

	s.logger.Info("analysed upload",
		"report_id", report.ID,
		"analyst", analystID,
		"source", report.Source,
		"transactions", report.Stats.Transactions,
		"skipped_rows", report.Stats.SkippedRows,
		"flagged", report.Stats.Flagged,
	)
	return report, nil
}

// recordUploadedEvents stores an extract's transactions and resets so the scheduled job
// re-assesses each subscriber once its observation window has passed. The report is
// already saved, so failures are only logged.
func (s *Service) recordUploadedEvents(ctx context.Context, batch *ingest.Batch) {
	if _, err := s.RecordTransactions(ctx, batch.Transactions); err != nil {
		s.logger.Warn("failed to record uploaded transactions", "count", len(batch.Transactions), "error", err)
	}
	for _, event := range batch.ResetEvents() {
		if err := s.RecordResetEvent(ctx, event); err != nil {
			s.logger.Warn("failed to record uploaded reset", "msisdn", event.MSISDN, "error", err)
		}
	}
}

func (s *Service) checkUploadRate(ctx context.Context, analystID string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Consume(ctx, analystID)
	if err != nil {
		// Fail open while Redis is unavailable.
		s.logger.Warn("upload rate limiter unavailable", "analyst", analystID, "error", err)
		return nil
	}
	if !decision.Allowed() {
		metrics.IncRateLimited()
		return &RateLimitError{RetryAfterSeconds: decision.RetryAfterSeconds()}
	}
	return nil
}

// RecordResetEvent stores a SIM swap or PIN reset reported on the event bus.
func (s *Service) RecordResetEvent(ctx context.Context, event domain.ResetEvent) error {
	event.MSISDN = domain.NormalizeMSISDN(event.MSISDN)
	event.SubscriberName = strings.TrimSpace(event.SubscriberName)
	if event.MSISDN == "" {
		return fmt.Errorf("%w: missing msisdn", ErrInvalidEvent)
	}
	if event.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if event.Kind == "" {
		event.Kind = domain.EventPINReset
	}
	if event.ID == uuid.Nil {
		event.ID = ingest.ResetEventID(event.MSISDN, event.OccurredAt)
	}
	return s.repo.UpsertResetEvent(ctx, event)
}

// RecordTransactions stores subscriber transactions reported on the event bus and returns
// how many were new.
func (s *Service) RecordTransactions(ctx context.Context, txs []domain.Transaction) (int, error) {
	clean := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		tx.ID = strings.TrimSpace(tx.ID)
		tx.ResetMSISDN = domain.NormalizeMSISDN(tx.ResetMSISDN)
		tx.CreditParty = domain.NormalizeMSISDN(tx.CreditParty)
		switch {
		case tx.ID == "":
			return 0, fmt.Errorf("%w: missing transaction id", ErrInvalidEvent)
		case tx.ResetMSISDN == "" || tx.CreditParty == "":
			return 0, fmt.Errorf("%w: transaction %s is missing a party", ErrInvalidEvent, tx.ID)
		case tx.OccurredAt.IsZero():
			return 0, fmt.Errorf("%w: transaction %s is missing occurred_at", ErrInvalidEvent, tx.ID)
		case tx.Amount < 0:
			return 0, fmt.Errorf("%w: transaction %s has a negative amount", ErrInvalidEvent, tx.ID)
		}
		clean = append(clean, tx)
	}
	return s.repo.InsertTransactions(ctx, clean)
}

// AssessDueResets assesses every recorded reset whose observation window has elapsed.
// A failure on one subscriber is logged and counted without stopping the others.
func (s *Service) AssessDueResets(ctx context.Context) (AssessmentRun, error) {
	var run AssessmentRun
	now := s.settings.Analysis.Now()
	cutoff := now.Add(-s.settings.Analysis.ObservationWindow)

	events, err := s.repo.ListResetsDueForAssessment(ctx, cutoff, s.settings.AssessmentBatchSize)
	if err != nil {
		return run, fmt.Errorf("list due resets: %w", err)
	}
	run.Due = len(events)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.AssessmentConcurrency)
	for _, event := range events {
		g.Go(func() error {
			a, err := s.assessReset(gctx, event, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.Failed++
				s.logger.Error("failed to assess reset", "msisdn", event.MSISDN, "reset_event_id", event.ID, "error", err)
				return nil
			}
			run.Assessed++
			if a.Verdict.Flagged() {
				run.Flagged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return run, err
	}
	if err := ctx.Err(); err != nil {
		return run, err
	}

	if run.Due > 0 {
		s.logger.Info("assessed due resets", "due", run.Due, "assessed", run.Assessed, "flagged", run.Flagged, "failed", run.Failed)
	}
	return run, nil
}

func (s *Service) assessReset(ctx context.Context, event domain.ResetEvent, now time.Time) (domain.Assessment, error) {
	opts := s.settings.Analysis
	opts.Now = func() time.Time { return now }

	from := time.Unix(0, 0).UTC()
	if opts.LookbackWindow > 0 {
		from = event.OccurredAt.Add(-opts.LookbackWindow)
	}
	to := now
	if opts.ObservationWindow > 0 {
		to = event.OccurredAt.Add(opts.ObservationWindow)
	}

	txs, err := s.repo.ListTransactionsForReset(ctx, event.MSISDN, from, to)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("list transactions: %w", err)
	}
	for i := range txs {
		txs[i].ResetAt = event.OccurredAt
		txs[i].EventKind = event.Kind
		if event.SubscriberName != "" {
			txs[i].DebitParty = event.SubscriberName
		}
	}

	assessment := domain.Assessment{
		MSISDN:         event.MSISDN,
		SubscriberName: event.SubscriberName,
		EventKind:      event.Kind,
		ResetAt:        event.OccurredAt,
		Verdict:        domain.VerdictNoPostEventActivity,
		AssessedAt:     now,
	}
	if assessed := analysis.Assess(analysis.Classify(txs, opts), opts); len(assessed) > 0 {
		assessment = assessed[0]
	}

	if err := s.repo.SaveAssessment(ctx, event.ID, assessment); err != nil {
		return domain.Assessment{}, fmt.Errorf("save assessment: %w", err)
	}
	metrics.IncAssessment("scheduled", string(assessment.Verdict))
	if assessment.Verdict.Flagged() {
		s.publishAlert(ctx, assessment, nil)
	}
	return assessment, nil
}

func (s *Service) publishAlert(ctx context.Context, a domain.Assessment, reportID *uuid.UUID) {
	alert := rabbitmq.FraudAlert{
		MSISDN:            a.MSISDN,
		SubscriberName:    a.SubscriberName,
		EventKind:         string(a.EventKind),
		ResetAt:           a.ResetAt,
		Verdict:           string(a.Verdict),
		UnfamiliarCount:   a.UnfamiliarCount,
		UnfamiliarAmount:  a.UnfamiliarAmount,
		NewCounterparties: a.NewCounterparties,
		ReportID:          reportID,
		Timestamp:         s.settings.Analysis.Now().UTC(),
	}
	if err := s.publisher.PublishFraudAlert(ctx, alert); err != nil {
		metrics.IncAlert("error")
		s.logger.Error("failed to publish fraud alert", "msisdn", a.MSISDN, "error", err)
		return
	}
	metrics.IncAlert("success")
}

// GetReport returns a stored report.
func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	return s.repo.GetReport(ctx, id)
}

// ListReports returns stored report summaries, newest first.
func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListReports(ctx, limit, offset)
}

// GetAssessment returns the latest assessment of a subscriber.
func (s *Service) GetAssessment(ctx context.Context, msisdn string) (*domain.Assessment, error) {
	normalized := domain.NormalizeMSISDN(msisdn)
	if normalized == "" {
		return nil, store.ErrAssessmentNotFound
	}
	return s.repo.GetLatestAssessment(ctx, normalized)
}
