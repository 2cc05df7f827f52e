// Package store persists certificate status history, employer attributions and
// question/answer sets.
//
// Two implementations share the Store contract: PostgresStore for production and
// InMemoryStore for unit tests and local runs. Each comes with a Tx runner so an apply
// (lock, read latest, write status, purge, write side records) is a single unit of work.
package store

import (
	"context"

	"smregister/internal/status/models"
)

// Store is the status persistence contract.
type Store interface {
	// LockCertificate serializes writers of one certificate until the unit of work ends.
	LockCertificate(ctx context.Context, certificateID string) error
	// LatestStatus returns sentinel.ErrNotFound when the certificate has no history.
	LatestStatus(ctx context.Context, certificateID string) (*models.StatusRecord, error)
	// HasStatus reports whether the identical (certificate, timestamp, kind) row is stored.
	HasStatus(ctx context.Context, ev models.StatusEvent) (bool, error)
	InsertStatus(ctx context.Context, ev models.StatusEvent) error
	ListStatuses(ctx context.Context, certificateID string) ([]models.StatusRecord, error)

	InsertAttribution(ctx context.Context, a models.EmployerAttribution) error
	// LatestAttribution returns sentinel.ErrNotFound when the certificate was never sent.
	LatestAttribution(ctx context.Context, certificateID string) (*models.EmployerAttribution, error)

	SaveQuestionAnswer(ctx context.Context, certificateID string, q models.Question) error
	DeleteAnswers(ctx context.Context, certificateID string) error
	ListAnswers(ctx context.Context, certificateID string) ([]models.Question, error)

	RegisterCertificate(ctx context.Context, c models.Certificate) error
	ListVisibleForPerson(ctx context.Context, personID string) ([]models.CertificateView, error)
	DeletePerson(ctx context.Context, personID string) (int, error)
}

// Tx runs fn as one atomic unit of work. The store and context handed to fn are bound to
// the unit of work; fn must use them rather than the outer ones.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
