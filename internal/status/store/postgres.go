package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"smregister/internal/status/models"
	"smregister/pkg/platform/sentinel"
	txcontext "smregister/pkg/platform/tx"
)

// PostgresStore persists status history and its side records in PostgreSQL.
// Methods join the transaction carried by ctx (see pkg/platform/tx) when there is one.
// This store is pure I/O: ordering and gating rules live in the state machine.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed status store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.Exec(ctx, s.db)
}

// LockCertificate serializes concurrent applies for one certificate until the enclosing
// transaction ends.
func (s *PostgresStore) LockCertificate(ctx context.Context, certificateID string) error {
	if _, ok := txcontext.From(ctx); !ok {
		return fmt.Errorf("lock certificate %s: no transaction in context", certificateID)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, certificateID); err != nil {
		return fmt.Errorf("lock certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestStatus(ctx context.Context, certificateID string) (*models.StatusRecord, error) {
	query := `
		SELECT certificate_id, event_timestamp, event, seq
		FROM status_events
		WHERE certificate_id = $1
		ORDER BY event_timestamp DESC, seq DESC
		LIMIT 1
	`
	record, err := scanStatus(s.exec(ctx).QueryRowContext(ctx, query, certificateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest status: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) HasStatus(ctx context.Context, ev models.StatusEvent) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM status_events
			WHERE certificate_id = $1 AND event_timestamp = $2 AND event = $3
		)
	`
	var exists bool
	if err := s.exec(ctx).QueryRowContext(ctx, query, ev.CertificateID, ev.Timestamp, string(ev.Kind)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check status exists: %w", err)
	}
	return exists, nil
}

// InsertStatus appends a history row. Re-inserting an identical (certificate, timestamp,
// kind) row is a no-op.
func (s *PostgresStore) InsertStatus(ctx context.Context, ev models.StatusEvent) error {
	query := `
		INSERT INTO status_events (certificate_id, event_timestamp, event)
		VALUES ($1, $2, $3)
		ON CONFLICT (certificate_id, event_timestamp, event) DO NOTHING
	`
	_, err := s.exec(ctx).ExecContext(ctx, query, ev.CertificateID, ev.Timestamp, string(ev.Kind))
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatuses(ctx context.Context, certificateID string) ([]models.StatusRecord, error) {
	query := `
		SELECT certificate_id, event_timestamp, event, seq
		FROM status_events
		WHERE certificate_id = $1
		ORDER BY event_timestamp ASC, seq ASC
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	var out []models.StatusRecord
	for rows.Next() {
		record, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertAttribution(ctx context.Context, a models.EmployerAttribution) error {
	query := `
		INSERT INTO employer_attributions (certificate_id, org_number, legal_org_number, org_name)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.exec(ctx).ExecContext(ctx, query, a.CertificateID, a.OrgNumber, a.LegalOrgNumber, a.OrgName)
	if err != nil {
		return fmt.Errorf("insert employer attribution: %w", err)
	}
	return nil
}

// LatestAttribution returns the most recently appended attribution.
func (s *PostgresStore) LatestAttribution(ctx context.Context, certificateID string) (*models.EmployerAttribution, error) {
	query := `
		SELECT certificate_id, org_number, legal_org_number, org_name
		FROM employer_attributions
		WHERE certificate_id = $1
		ORDER BY id DESC
		LIMIT 1
	`
	var (
		a     models.EmployerAttribution
		legal sql.NullString
	)
	err := s.exec(ctx).QueryRowContext(ctx, query, certificateID).Scan(&a.CertificateID, &a.OrgNumber, &legal, &a.OrgName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find employer attribution: %w", err)
	}
	if legal.Valid {
		a.LegalOrgNumber = &legal.String
	}
	return &a, nil
}

// SaveQuestionAnswer reuses the question row matching (short name, text) or creates it,
// then always appends the answer row for the certificate.
func (s *PostgresStore) SaveQuestionAnswer(ctx context.Context, certificateID string, q models.Question) error {
	var questionID int64
	upsert := `
		INSERT INTO questions (short_name, text)
		VALUES ($1, $2)
		ON CONFLICT (short_name, text) DO UPDATE SET
			short_name = EXCLUDED.short_name
		RETURNING id
	`
	if err := s.exec(ctx).QueryRowContext(ctx, upsert, string(q.ShortName), q.Text).Scan(&questionID); err != nil {
		return fmt.Errorf("find or create question: %w", err)
	}

	insert := `
		INSERT INTO answers (certificate_id, question_id, answer_type, answer)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.exec(ctx).ExecContext(ctx, insert, certificateID, questionID, string(q.Answer.Type), q.Answer.Value); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnswers(ctx context.Context, certificateID string) error {
	if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM answers WHERE certificate_id = $1`, certificateID); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	return nil
}

// ListAnswers returns the certificate's question/answer pairs in insertion order.
func (s *PostgresStore) ListAnswers(ctx context.Context, certificateID string) ([]models.Question, error) {
	query := `
		SELECT q.text, q.short_name, a.answer_type, a.answer
		FROM answers a
		INNER JOIN questions q ON q.id = a.question_id
		WHERE a.certificate_id = $1
		ORDER BY a.id ASC
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var (
			q          models.Question
			shortName  string
			answerType string
		)
		if err := rows.Scan(&q.Text, &shortName, &answerType, &q.Answer.Value); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		q.ShortName = models.ShortName(shortName)
		q.Answer.Type = models.AnswerType(answerType)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

// RegisterCertificate records the owner of a certificate. Re-registering is a no-op.
func (s *PostgresStore) RegisterCertificate(ctx context.Context, c models.Certificate) error {
	query := `
		INSERT INTO certificates (id, person_id, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.exec(ctx).ExecContext(ctx, query, c.ID, c.PersonID, c.ReceivedAt); err != nil {
		return fmt.Errorf("register certificate: %w", err)
	}
	return nil
}

// ListVisibleForPerson returns the person's certificates with their latest status,
// leaving out certificates whose latest status is DELETED and those with no status yet.
func (s *PostgresStore) ListVisibleForPerson(ctx context.Context, personID string) ([]models.CertificateView, error) {
	query := `
		SELECT c.id, c.person_id, c.received_at, s.event_timestamp, s.event, s.seq
		FROM certificates c
		INNER JOIN LATERAL (
			SELECT event_timestamp, event, seq
			FROM status_events
			WHERE certificate_id = c.id
			ORDER BY event_timestamp DESC, seq DESC
			LIMIT 1
		) s ON TRUE
		WHERE c.person_id = $1
		  AND s.event <> $2
		ORDER BY c.received_at DESC, c.id ASC
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, personID, string(models.KindDeleted))
	if err != nil {
		return nil, fmt.Errorf("query certificates for person: %w", err)
	}
	defer rows.Close()

	var out []models.CertificateView
	for rows.Next() {
		var (
			v    models.CertificateView
			kind string
		)
		if err := rows.Scan(&v.ID, &v.PersonID, &v.ReceivedAt, &v.Status.Timestamp, &kind, &v.Status.Seq); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		v.ReceivedAt = v.ReceivedAt.UTC()
		v.Status.CertificateID = v.ID
		v.Status.Timestamp = v.Status.Timestamp.UTC()
		v.Status.Kind = models.Kind(kind)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// DeletePerson physically removes every row belonging to the person's certificates and
// returns how many certificates were removed. Shared question rows are kept.
func (s *PostgresStore) DeletePerson(ctx context.Context, personID string) (int, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `SELECT id FROM certificates WHERE person_id = $1`, personID)
	if err != nil {
		return 0, fmt.Errorf("query person certificates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan certificate id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate person certificates: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, del := range []struct{ table, query string }{
		{"answers", `DELETE FROM answers WHERE certificate_id = ANY($1)`},
		{"employer_attributions", `DELETE FROM employer_attributions WHERE certificate_id = ANY($1)`},
		{"status_events", `DELETE FROM status_events WHERE certificate_id = ANY($1)`},
	} {
		if _, err := s.exec(ctx).ExecContext(ctx, del.query, pq.Array(ids)); err != nil {
			return 0, fmt.Errorf("delete from %s: %w", del.table, err)
		}
	}
	if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM certificates WHERE person_id = $1`, personID); err != nil {
		return 0, fmt.Errorf("delete certificates: %w", err)
	}
	return len(ids), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*models.StatusRecord, error) {
	var (
		record models.StatusRecord
		kind   string
		ts     time.Time
	)
	if err := row.Scan(&record.CertificateID, &ts, &kind, &record.Seq); err != nil {
		return nil, err
	}
	record.Timestamp = ts.UTC()
	record.Kind = models.Kind(kind)
	return &record, nil
}
