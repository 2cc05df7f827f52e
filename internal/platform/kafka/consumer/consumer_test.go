package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"smregister/pkg/platform/sentinel"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing brokers", cfg: Config{GroupID: "g", Topics: []string{"t"}}, want: "brokers"},
		{name: "missing group", cfg: Config{Brokers: []string{"b"}, Topics: []string{"t"}}, want: "group id"},
		{name: "missing topics", cfg: Config{Brokers: []string{"b"}, GroupID: "g"}, want: "topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		c, err := New(Config{Brokers: []string{"b"}, GroupID: "g", Topics: []string{"status"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, "status", c.Name())
		assert.Equal(t, 100, c.cfg.MaxPollRecords)
		assert.Equal(t, time.Second, c.cfg.PollTimeout)
	})
}

func TestPollBeforeSubscribe(t *testing.T) {
	c, err := New(Config{Brokers: []string{"b"}, GroupID: "g", Topics: []string{"status"}}, nil)
	require.NoError(t, err)

	_, err = c.Poll(context.Background())
	assert.ErrorIs(t, err, sentinel.ErrClosed)
	assert.ErrorIs(t, c.Commit(context.Background(), nil), sentinel.ErrClosed)
	c.Unsubscribe()
}

func TestFromRecord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := fromRecord(&kgo.Record{
		Topic:     "status",
		Partition: 2,
		Offset:    42,
		Key:       []byte("cert-1"),
		Value:     []byte(`{}`),
		Timestamp: ts,
		Headers:   []kgo.RecordHeader{{Key: "source", Value: []byte("primary")}},
	})

	assert.Equal(t, "status", m.Topic)
	assert.Equal(t, int64(42), m.Offset)
	assert.Equal(t, "primary", m.Header("source"))
	assert.Empty(t, (&Message{}).Header("source"))
}
