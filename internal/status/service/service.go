// Package service applies status events to the store and serves the status read API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"smregister/internal/status/machine"
	"smregister/internal/status/metrics"
	"smregister/internal/status/models"
	"smregister/internal/status/store"
	dErrors "smregister/pkg/domain-errors"
	"smregister/pkg/platform/sentinel"
)

// Publisher hands derived messages to downstream consumers. Errors are reported but never
// undo a stored transition.
type Publisher interface {
	Publish(ctx context.Context, emission models.Emission) error
}

// Environment names the deployment. Administrative resets only run in the environments
// listed in resetEnvironments.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDev        Environment = "dev"
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

var resetEnvironments = map[Environment]struct{}{
	EnvLocal:  {},
	EnvDev:    {},
	EnvTest:   {},
	"dev-fss": {},
	"dev-gcp": {},
}

// IsProduction reports whether destructive admin operations must be refused. Unknown and
// empty names count as production.
func (e Environment) IsProduction() bool {
	_, ok := resetEnvironments[Environment(strings.ToLower(strings.TrimSpace(string(e))))]
	return !ok
}

// Service orchestrates status applies and reads.
type Service struct {
	store     store.Store
	tx        store.Tx
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	env       Environment
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithEnvironment(env Environment) Option {
	return func(s *Service) {
		s.env = env
	}
}

// New constructs a Service. tx must run units of work over the same data as st.
func New(st store.Store, tx store.Tx, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("status store is required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	s := &Service{
		store:  st,
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("smregister/internal/status/service"),
		env:    EnvProduction,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Apply validates ev and, when valid, writes it and its gated side records in one unit of
// work. Derived messages are published after the unit of work commits.
//
// A rejected event returns the rejected decision and a CodeBadRequest error; callers treat
// it as permanent. Any other error means nothing was written and the event may be retried.
func (s *Service) Apply(ctx context.Context, ev models.Event) (machine.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "status.apply")
	defer span.End()
	start := s.now()

	if err := machine.Validate(ev); err != nil {
		s.metrics.IncRejected()
		span.SetStatus(codes.Error, "rejected")
		return machine.Decision{Outcome: machine.Rejected, Reason: err.Error(), Event: ev}, err
	}
	ev = models.Normalize(ev)
	st := ev.Status()
	span.SetAttributes(
		attribute.String("certificate.id", st.CertificateID),
		attribute.String("status.kind", st.Kind.String()),
	)

	var decision machine.Decision
	err := s.tx.RunInTx(ctx, func(ctx context.Context, txStore store.Store) error {
		if err := txStore.LockCertificate(ctx, st.CertificateID); err != nil {
			return err
		}
		latest, err := txStore.LatestStatus(ctx, st.CertificateID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		stored, err := txStore.HasStatus(ctx, st)
		if err != nil {
			return err
		}
		if stored {
			decision = machine.DecideDuplicate(latest, ev)
		} else {
			decision = machine.Decide(latest, ev)
		}
		if !decision.IsAccepted() {
			return dErrors.New(dErrors.CodeBadRequest, decision.Reason)
		}
		return s.write(ctx, txStore, decision)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		if dErrors.HasCode(err, dErrors.CodeBadRequest) {
			s.metrics.IncRejected()
			return decision, err
		}
		return machine.Decision{}, fmt.Errorf("apply %s status for certificate %s: %w", st.Kind, st.CertificateID, err)
	}

	s.metrics.IncApplied(st.Kind.String())
	s.metrics.ObserveApply(s.now().Sub(start))
	span.SetAttributes(
		attribute.Bool("status.newer", decision.Newer),
		attribute.Bool("status.duplicate", decision.Duplicate),
		attribute.String("status.latest", decision.Latest.Kind.String()),
		attribute.Int("status.emissions", len(decision.Emissions)),
	)
	s.logger.DebugContext(ctx, "status applied",
		"certificate_id", st.CertificateID,
		"kind", st.Kind,
		"latest", decision.Latest.Kind,
		"duplicate", decision.Duplicate,
		"emissions", len(decision.Emissions),
	)
	if decision.Reason != "" {
		s.metrics.IncSideRecordsDropped(st.Kind.String())
		s.logger.DebugContext(ctx, "side records dropped",
			"certificate_id", st.CertificateID,
			"kind", st.Kind,
			"reason", decision.Reason,
		)
	}

	s.emit(ctx, decision.Emissions)
	return decision, nil
}

func (s *Service) write(ctx context.Context, txStore store.Store, d machine.Decision) error {
	st := d.Event.Status()
	if err := txStore.InsertStatus(ctx, st); err != nil {
		return err
	}
	if d.Purge {
		if err := txStore.DeleteAnswers(ctx, st.CertificateID); err != nil {
			return err
		}
	}
	if d.Attribution != nil {
		if err := txStore.InsertAttribution(ctx, *d.Attribution); err != nil {
			return err
		}
	}
	for _, q := range d.Answers {
		if err := txStore.SaveQuestionAnswer(ctx, st.CertificateID, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, emissions []models.Emission) {
	if s.publisher == nil {
		return
	}
	for _, e := range emissions {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.metrics.IncEmissionFailure(string(e.Channel), "publish")
			s.logger.ErrorContext(ctx, "failed to publish status emission",
				"certificate_id", e.CertificateID,
				"channel", e.Channel,
				"type", e.Type,
				"error", err,
			)
			continue
		}
		s.metrics.IncEmission(string(e.Channel), string(e.Type))
	}
}

// GetStatus returns the certificate's status history in ascending order, or only the
// latest row when filter is FilterLatest.
func (s *Service) GetStatus(ctx context.Context, certificateID string, filter models.StatusFilter) ([]models.StatusRecord, error) {
	if certificateID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "certificate id is required")
	}
	switch filter {
	case models.FilterLatest:
		latest, err := s.store.LatestStatus(ctx, certificateID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return []models.StatusRecord{}, nil
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest status")
		}
		return []models.StatusRecord{*latest}, nil
	case models.FilterAll:
		rows, err := s.store.ListStatuses(ctx, certificateID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load status history")
		}
		if rows == nil {
			rows = []models.StatusRecord{}
		}
		return rows, nil
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown status filter "+string(filter))
	}
}

// GetCertificatesForPerson lists the person's certificates that are not deleted, each with
// its latest status, current employer and current answers.
func (s *Service) GetCertificatesForPerson(ctx context.Context, personID string) ([]models.CertificateView, error) {
	if personID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "person id is required")
	}
	views, err := s.store.ListVisibleForPerson(ctx, personID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	for i := range views {
		employer, err := s.store.LatestAttribution(ctx, views[i].ID)
		switch {
		case err == nil:
			views[i].Employer = employer
		case !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load employer")
		}
		answers, err := s.store.ListAnswers(ctx, views[i].ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load answers")
		}
		views[i].Answers = answers
	}
	if views == nil {
		views = []models.CertificateView{}
	}
	return views, nil
}

// GetAnswers returns the certificate's current question/answer set.
func (s *Service) GetAnswers(ctx context.Context, certificateID string) ([]models.Question, error) {
	answers, err := s.store.ListAnswers(ctx, certificateID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load answers")
	}
	return answers, nil
}

// RegisterCertificate records a certificate's owner. Re-registering is a no-op.
func (s *Service) RegisterCertificate(ctx context.Context, c models.Certificate) error {
	if c.ID == "" || c.PersonID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "certificate id and person id are required")
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = s.now()
	}
	c.ReceivedAt = models.NormalizeTime(c.ReceivedAt)
	if err := s.store.RegisterCertificate(ctx, c); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register certificate")
	}
	return nil
}

// ResetPerson removes every row of the person's certificates and reports how many
// certificates were removed. In production it does nothing and reports zero.
func (s *Service) ResetPerson(ctx context.Context, personID string) (int, error) {
	if personID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "person id is required")
	}
	if s.env.IsProduction() {
		s.logger.WarnContext(ctx, "person reset ignored in production", "environment", s.env)
		return 0, nil
	}

	var removed int
	err := s.tx.RunInTx(ctx, func(ctx context.Context, txStore store.Store) error {
		n, err := txStore.DeletePerson(ctx, personID)
		removed = n
		return err
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset person")
	}
	s.metrics.IncPersonsReset()
	s.logger.InfoContext(ctx, "person reset", "certificates_removed", removed)
	return removed, nil
}
