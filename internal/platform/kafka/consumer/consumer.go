// Package consumer reads Kafka records in manually committed batches.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"smregister/pkg/platform/sentinel"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	record *kgo.Record
}

// Header returns the named header value, or "" when absent.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// Config configures one consumer-group subscription.
type Config struct {
	Name           string
	Brokers        []string
	GroupID        string
	ClientID       string
	Topics         []string
	MaxPollRecords int
	PollTimeout    time.Duration
}

// Consumer is a consumer-group member with manual offset commits. Rebalances are blocked
// while a polled batch is in flight so a commit never races a partition revoke.
//
// Unsubscribe closes the underlying client; the next Subscribe joins the group again and
// resumes from the last committed offsets.
type Consumer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *kgo.Client
}

// New validates cfg. No connection is made until Subscribe.
func New(cfg Config, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer: at least one topic is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Topics[0]
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 100
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger}, nil
}

func (c *Consumer) Name() string {
	return c.cfg.Name
}

func (c *Consumer) Subscribe(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ConsumerGroup(c.cfg.GroupID),
		kgo.ConsumeTopics(c.cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if c.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("create kafka client for %s: %w", c.cfg.Name, err)
	}
	c.client = client
	c.logger.Info("kafka consumer subscribed", "source", c.cfg.Name, "topics", c.cfg.Topics, "group", c.cfg.GroupID)
	return nil
}

// Poll returns up to MaxPollRecords records, waiting at most PollTimeout. An empty batch
// is not an error.
func (c *Consumer) Poll(ctx context.Context) ([]*Message, error) {
	client := c.current()
	if client == nil {
		return nil, fmt.Errorf("poll %s: %w", c.cfg.Name, sentinel.ErrClosed)
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	fetches := client.PollRecords(pollCtx, c.cfg.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, fmt.Errorf("poll %s: %w", c.cfg.Name, sentinel.ErrClosed)
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		client.AllowRebalance()
		return nil, fmt.Errorf("poll %s topic %s partition %d: %w", c.cfg.Name, fe.Topic, fe.Partition, fe.Err)
	}

	records := fetches.Records()
	if len(records) == 0 {
		client.AllowRebalance()
		return nil, nil
	}

	out := make([]*Message, 0, len(records))
	for _, r := range records {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Commit synchronously commits the offsets of msgs and releases the rebalance block.
func (c *Consumer) Commit(ctx context.Context, msgs []*Message) error {
	client := c.current()
	if client == nil {
		return fmt.Errorf("commit %s: %w", c.cfg.Name, sentinel.ErrClosed)
	}
	defer client.AllowRebalance()

	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		if m.record != nil {
			records = append(records, m.record)
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("commit %s offsets: %w", c.cfg.Name, err)
	}
	return nil
}

// Unsubscribe leaves the group and closes the client. Uncommitted records are redelivered
// after the next Subscribe.
func (c *Consumer) Unsubscribe() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return
	}
	client.AllowRebalance()
	client.Close()
	c.logger.Info("kafka consumer unsubscribed", "source", c.cfg.Name)
}

func (c *Consumer) current() *kgo.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func fromRecord(r *kgo.Record) *Message {
	m := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
		record:    r,
	}
	if len(r.Headers) > 0 {
		m.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}
