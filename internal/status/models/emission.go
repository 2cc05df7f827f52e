package models

import "time"

// EmissionType is the kind of derived message requested from the gateway.
type EmissionType string

const (
	EmissionSent      EmissionType = "sent"
	EmissionConfirmed EmissionType = "confirmed"
	EmissionTombstone EmissionType = "tombstone"
)

// Channel names a downstream topic family.
type Channel string

const (
	ChannelSent      Channel = "sent"
	ChannelConfirmed Channel = "confirmed"
)

// ChannelFor returns the downstream channel that mirrors a kind, if any.
func ChannelFor(kind Kind) (Channel, bool) {
	switch kind {
	case KindSent:
		return ChannelSent, true
	case KindConfirmed:
		return ChannelConfirmed, true
	}
	return "", false
}

// Emission asks the gateway for one derived message after a transition has been stored.
type Emission struct {
	Type          EmissionType
	Channel       Channel
	CertificateID string
	Timestamp     time.Time
	// Event is the accepted event for notifications; nil for tombstones.
	Event Event
}

// Key identifies the emission for duplicate suppression.
func (e Emission) Key() string {
	return string(e.Channel) + ":" + string(e.Type) + ":" + e.CertificateID + ":" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}
