/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the analytics-service: the reset events and
 * transactions fed in from the event bus, the assessments produced for them, and the
 * reports generated from analyst uploads.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/analytics-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Event stream methods
	UpsertResetEvent(ctx context.Context, event domain.ResetEvent) error
	InsertTransactions(ctx context.Context, txs []domain.Transaction) (int, error)
	ListTransactionsForReset(ctx context.Context, msisdn string, from, to time.Time) ([]domain.Transaction, error)
	ListResetsDueForAssessment(ctx context.Context, cutoff time.Time, limit int) ([]domain.ResetEvent, error)

	// Assessment methods
	SaveAssessment(ctx context.Context, resetEventID uuid.UUID, assessment domain.Assessment) error
	GetLatestAssessment(ctx context.Context, msisdn string) (*domain.Assessment, error)

	// Report methods
	SaveReport(ctx context.Context, report *domain.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]domain.ReportSummary, error)
}
