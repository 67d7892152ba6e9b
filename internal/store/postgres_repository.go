/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Reports and assessments are stored as JSONB documents next to the columns used for
 * lookups, so a stored report round-trips exactly as it was generated.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/analytics-service/internal/domain"
)

var (
	ErrReportNotFound     = errors.New("report not found")
	ErrAssessmentNotFound = errors.New("assessment not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// UpsertResetEvent records a SIM swap or PIN reset. Replaying the same event is a no-op
// apart from refreshing the subscriber name.
func (r *PostgresRepository) UpsertResetEvent(ctx context.Context, event domain.ResetEvent) error {
	query := `
		INSERT INTO reset_events (id, msisdn, subscriber_name, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (msisdn, occurred_at) DO UPDATE
		SET subscriber_name = COALESCE(NULLIF(EXCLUDED.subscriber_name, ''), reset_events.subscriber_name)
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.MSISDN, event.SubscriberName, string(event.Kind), event.OccurredAt)
	return err
}

// InsertTransactions stores transactions keyed by their id and returns how many were new.
func (r *PostgresRepository) InsertTransactions(ctx context.Context, txs []domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO subscriber_transactions (
			id, msisdn, debit_party, credit_party, credit_party_name, amount, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	inserted := 0
	for _, t := range txs {
		tag, err := tx.Exec(ctx, query,
			t.ID,
			t.ResetMSISDN,
			t.DebitParty,
			t.CreditParty,
			t.CreditPartyName,
			t.Amount,
			t.OccurredAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListTransactionsForReset returns a subscriber's transactions in [from, to], oldest first.
func (r *PostgresRepository) ListTransactionsForReset(ctx context.Context, msisdn string, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT id, msisdn, debit_party, credit_party, credit_party_name, amount, occurred_at
		FROM subscriber_transactions
		WHERE msisdn = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, msisdn, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID,
			&t.ResetMSISDN,
			&t.DebitParty,
			&t.CreditParty,
			&t.CreditPartyName,
			&t.Amount,
			&t.OccurredAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListResetsDueForAssessment returns unassessed reset events that happened at or before cutoff.
func (r *PostgresRepository) ListResetsDueForAssessment(ctx context.Context, cutoff time.Time, limit int) ([]domain.ResetEvent, error) {
	query := `
		SELECT id, msisdn, subscriber_name, kind, occurred_at
		FROM reset_events
		WHERE assessed_at IS NULL AND occurred_at <= $1
		ORDER BY occurred_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ResetEvent
	for rows.Next() {
		var (
			e    domain.ResetEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &e.MSISDN, &e.SubscriberName, &kind, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveAssessment stores the assessment of a reset event and marks the event as assessed.
func (r *PostgresRepository) SaveAssessment(ctx context.Context, resetEventID uuid.UUID, assessment domain.Assessment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertAssessment(ctx, tx, &resetEventID, nil, assessment); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE reset_events SET assessed_at = $2 WHERE id = $1`, resetEventID, assessment.AssessedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetLatestAssessment returns the most recent assessment of a subscriber from either source.
func (r *PostgresRepository) GetLatestAssessment(ctx context.Context, msisdn string) (*domain.Assessment, error) {
	var payload []byte
	query := `
		SELECT payload
		FROM assessments
		WHERE msisdn = $1
		ORDER BY assessed_at DESC, id DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, msisdn).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}

	var assessment domain.Assessment
	if err := json.Unmarshal(payload, &assessment); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &assessment, nil
}

// SaveReport stores a report and one assessment row per assessed subscriber in one transaction.
func (r *PostgresRepository) SaveReport(ctx context.Context, report *domain.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	stats, err := json.Marshal(report.Stats)
	if err != nil {
		return fmt.Errorf("encode report stats: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO reports (id, title, source, generated_at, stats, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query, report.ID, report.Title, report.Source, report.GeneratedAt, stats, payload); err != nil {
		return err
	}
	for _, a := range report.Assessments {
		if err := insertAssessment(ctx, tx, nil, &report.ID, a); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetReport loads a stored report by id.
func (r *PostgresRepository) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM reports WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// ListReports returns report summaries, newest first.
func (r *PostgresRepository) ListReports(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error) {
	query := `
		SELECT id, title, source, generated_at, stats
		FROM reports
		ORDER BY generated_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.ReportSummary, 0)
	for rows.Next() {
		var (
			s     domain.ReportSummary
			stats []byte
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Source, &s.GeneratedAt, &stats); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stats, &s.Stats); err != nil {
			return nil, fmt.Errorf("decode report stats: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func insertAssessment(ctx context.Context, tx pgx.Tx, resetEventID, reportID *uuid.UUID, a domain.Assessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	query := `
		INSERT INTO assessments (reset_event_id, report_id, msisdn, verdict, assessed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, query, resetEventID, reportID, a.MSISDN, string(a.Verdict), a.AssessedAt, payload)
	return err
}
