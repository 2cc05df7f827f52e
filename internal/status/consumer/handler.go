// Package consumer turns inbound Kafka status records into service applies.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smregister/internal/platform/kafka/consumer"
	"smregister/internal/status/machine"
	"smregister/internal/status/metrics"
	"smregister/internal/status/models"
	dErrors "smregister/pkg/domain-errors"
)

// SourceHeader names the record header carrying the origin of a mirrored record.
const SourceHeader = "source"

// Applier applies one status event.
type Applier interface {
	Apply(ctx context.Context, ev models.Event) (machine.Decision, error)
}

// StatusHandler handles records from one status source.
//
// Records that cannot be decoded, or that the service rejects as invalid, are logged and
// skipped (nil) so they are committed and never redelivered. Only a failed apply returns an
// error, which aborts the batch.
type StatusHandler struct {
	service      Applier
	logger       *slog.Logger
	metrics      *metrics.Metrics
	source       string
	ignoreOrigin string
}

type Option func(*StatusHandler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *StatusHandler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *StatusHandler) {
		h.metrics = m
	}
}

// WithSource names the source in logs.
func WithSource(name string) Option {
	return func(h *StatusHandler) {
		h.source = name
	}
}

// WithIgnoredOrigin skips records whose declared origin equals origin. The mirror source
// uses it to drop records already consumed from the primary source.
func WithIgnoredOrigin(origin string) Option {
	return func(h *StatusHandler) {
		h.ignoreOrigin = origin
	}
}

func NewStatusHandler(service Applier, opts ...Option) (*StatusHandler, error) {
	if service == nil {
		return nil, errors.New("status service is required")
	}
	h := &StatusHandler{service: service, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle decodes and applies one record.
func (h *StatusHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	ev, origin, err := decodeStatus(msg.Value)
	if header := msg.Header(SourceHeader); header != "" {
		origin = header
	}
	if h.ignoreOrigin != "" && origin == h.ignoreOrigin {
		h.metrics.IncSkipped("ignored_origin")
		h.logger.DebugContext(ctx, "skipping record from ignored origin",
			"source", h.source,
			"origin", origin,
			"key", string(msg.Key),
		)
		return nil
	}
	if err != nil {
		h.metrics.IncSkipped("undecodable")
		h.logger.ErrorContext(ctx, "failed to decode status record, skipping",
			"source", h.source,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}

	st := ev.Status()
	decision, err := h.service.Apply(ctx, ev)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeBadRequest) {
			h.metrics.IncSkipped("rejected")
			h.logger.WarnContext(ctx, "status event rejected, skipping",
				"source", h.source,
				"certificate_id", st.CertificateID,
				"kind", st.Kind,
				"error", err,
			)
			return nil
		}
		h.logger.ErrorContext(ctx, "failed to apply status event",
			"source", h.source,
			"certificate_id", st.CertificateID,
			"kind", st.Kind,
			"error", err,
		)
		return fmt.Errorf("apply status event: %w", err)
	}

	h.logger.DebugContext(ctx, "applied status event",
		"source", h.source,
		"certificate_id", st.CertificateID,
		"kind", st.Kind,
		"newer", decision.Newer,
	)
	return nil
}
