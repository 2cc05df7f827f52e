// Package publisher re-publishes accepted SENT/CONFIRMED transitions to downstream topics
// and tombstones the channel a certificate has left.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"smregister/internal/status/metrics"
	"smregister/internal/status/models"
	"smregister/pkg/platform/circuit"
	"smregister/pkg/platform/sentinel"
)

const (
	defaultDedupeTTL = 24 * time.Hour
	dedupeKeyPrefix  = "smregister:emission:"
	// OriginHeader marks every produced record with the producing service.
	OriginHeader = "source"
	origin       = "smregister"
)

// Producer writes one keyed record; a nil value is a tombstone.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Topics maps channels to downstream topic names.
type Topics struct {
	Sent      string
	Confirmed string
}

func (t Topics) forChannel(ch models.Channel) (string, bool) {
	switch ch {
	case models.ChannelSent:
		return t.Sent, t.Sent != ""
	case models.ChannelConfirmed:
		return t.Confirmed, t.Confirmed != ""
	}
	return "", false
}

// Gateway publishes emissions. It is best-effort: while the producer keeps failing the
// circuit opens and emissions are dropped until a trial publish succeeds.
type Gateway struct {
	producer  Producer
	topics    Topics
	breaker   *circuit.Breaker
	redis     redis.Cmdable
	dedupeTTL time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Gateway) {
		g.breaker = b
	}
}

// WithDeduplication suppresses re-publishing an emission whose key was already produced
// within ttl. A nil client disables it.
func WithDeduplication(client redis.Cmdable, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.redis = client
		if ttl > 0 {
			g.dedupeTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func New(producer Producer, topics Topics, opts ...Option) (*Gateway, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topics.Sent == "" || topics.Confirmed == "" {
		return nil, errors.New("sent and confirmed topics are required")
	}
	g := &Gateway{
		producer:  producer,
		topics:    topics,
		breaker:   circuit.New("status-producer"),
		dedupeTTL: defaultDedupeTTL,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Publish produces one emission keyed by certificate ID.
func (g *Gateway) Publish(ctx context.Context, e models.Emission) error {
	topic, ok := g.topics.forChannel(e.Channel)
	if !ok {
		return fmt.Errorf("no topic for channel %q", e.Channel)
	}

	if !g.breaker.Allow() {
		g.metrics.IncEmissionFailure(string(e.Channel), "circuit_open")
		return fmt.Errorf("publish %s %s: %w", e.Type, e.CertificateID, sentinel.ErrCircuitOpen)
	}

	value, err := g.encode(e)
	if err != nil {
		return fmt.Errorf("encode %s emission: %w", e.Type, err)
	}

	claimed, err := g.claim(ctx, e)
	if err != nil {
		g.logger.WarnContext(ctx, "emission dedupe unavailable, publishing anyway",
			"certificate_id", e.CertificateID,
			"error", err,
		)
	} else if !claimed {
		g.logger.DebugContext(ctx, "emission already published",
			"certificate_id", e.CertificateID,
			"channel", e.Channel,
			"type", e.Type,
		)
		return nil
	}

	headers := map[string]string{OriginHeader: origin}
	if err := g.producer.Produce(ctx, topic, []byte(e.CertificateID), value, headers); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.ErrorContext(ctx, "status producer circuit opened", "breaker", g.breaker.Name())
		}
		g.release(ctx, e)
		return fmt.Errorf("publish %s %s: %w", e.Type, e.CertificateID, err)
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "status producer circuit closed", "breaker", g.breaker.Name())
	}
	return nil
}

func (g *Gateway) encode(e models.Emission) ([]byte, error) {
	if e.Type == models.EmissionTombstone {
		return nil, nil
	}
	if e.Event == nil {
		return nil, errors.New("notification without event")
	}
	msg := outboundMessage{
		Metadata: outboundMetadata{
			MessageID:     g.newID(),
			CertificateID: e.CertificateID,
			Timestamp:     g.now().UTC(),
			Type:          string(e.Type),
		},
		Event: toOutboundEvent(e.Event),
	}
	return json.Marshal(msg)
}

func (g *Gateway) claim(ctx context.Context, e models.Emission) (bool, error) {
	if g.redis == nil {
		return true, nil
	}
	return g.redis.SetNX(ctx, dedupeKeyPrefix+e.Key(), 1, g.dedupeTTL).Result()
}

func (g *Gateway) release(ctx context.Context, e models.Emission) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Del(ctx, dedupeKeyPrefix+e.Key()).Err(); err != nil {
		g.logger.WarnContext(ctx, "failed to release emission dedupe key",
			"certificate_id", e.CertificateID,
			"error", err,
		)
	}
}
