package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 3, 1, 13, 0, 0, 123456789, oslo)

	t.Run("truncates to microseconds in UTC", func(t *testing.T) {
		got := NormalizeTime(ts)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 123456000, got.Nanosecond())
		assert.True(t, got.Equal(ts.Truncate(time.Microsecond)))
	})

	t.Run("keeps the variant", func(t *testing.T) {
		ev := Normalize(SendEvent{CertificateID: "c", Timestamp: ts})
		send, ok := ev.(SendEvent)
		assert.True(t, ok)
		assert.Equal(t, 123456000, send.Timestamp.Nanosecond())
	})
}

func TestStatusRecordSupersedes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := StatusRecord{Timestamp: ts, Seq: 5}
	newer := StatusRecord{Timestamp: ts.Add(time.Second), Seq: 1}
	sameTimeLaterWrite := StatusRecord{Timestamp: ts, Seq: 6}

	assert.True(t, newer.Supersedes(older))
	assert.False(t, older.Supersedes(newer))
	assert.True(t, sameTimeLaterWrite.Supersedes(older))
}

func TestEmissionKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Emission{Type: EmissionSent, Channel: ChannelSent, CertificateID: "c", Timestamp: ts}
	b := Emission{Type: EmissionTombstone, Channel: ChannelSent, CertificateID: "c", Timestamp: ts}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), Emission{Type: EmissionSent, Channel: ChannelSent, CertificateID: "c", Timestamp: ts.In(time.FixedZone("X", 7200))}.Key())
}
