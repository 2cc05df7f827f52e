// Package models holds the status lifecycle domain types shared by the state machine,
// stores, the Kafka handler and the re-publication gateway.
package models

import "time"

// Kind is the workflow state a status event moves a certificate into.
type Kind string

const (
	KindOpen      Kind = "OPEN"
	KindConfirmed Kind = "CONFIRMED"
	KindSent      Kind = "SENT"
	KindCancelled Kind = "CANCELLED"
	KindExpired   Kind = "EXPIRED"
	KindDeleted   Kind = "DELETED"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindOpen, KindConfirmed, KindSent, KindCancelled, KindExpired, KindDeleted:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Event is a status event variant: StatusEvent, SendEvent or ConfirmEvent.
// The set is closed; consumers dispatch with a type switch.
type Event interface {
	Status() StatusEvent
	isEvent()
}

// StatusEvent is a timestamped fact about a certificate. It is also the plain variant used
// for kinds that carry no payload (OPEN, CANCELLED, EXPIRED, DELETED).
type StatusEvent struct {
	CertificateID string
	Timestamp     time.Time
	Kind          Kind
}

func (e StatusEvent) Status() StatusEvent { return e }
func (StatusEvent) isEvent() {}

// SendEvent moves a certificate to SENT under an employer, answering one question.
type SendEvent struct {
	CertificateID string
	Timestamp     time.Time
	Employer      EmployerAttribution
	Question      Question
}

func (e SendEvent) Status() StatusEvent {
	return StatusEvent{CertificateID: e.CertificateID, Timestamp: e.Timestamp, Kind: KindSent}
}
func (SendEvent) isEvent() {}

// ConfirmEvent moves a certificate to CONFIRMED with the holder's answers.
type ConfirmEvent struct {
	CertificateID string
	Timestamp     time.Time
	Questions     []Question
}

func (e ConfirmEvent) Status() StatusEvent {
	return StatusEvent{CertificateID: e.CertificateID, Timestamp: e.Timestamp, Kind: KindConfirmed}
}
func (ConfirmEvent) isEvent() {}

// NewStatusEvent builds the payload-free variant.
func NewStatusEvent(certificateID string, ts time.Time, kind Kind) StatusEvent {
	return StatusEvent{CertificateID: certificateID, Timestamp: ts, Kind: kind}
}

// EmployerAttribution is the employer a certificate was sent to.
type EmployerAttribution struct {
	CertificateID  string
	OrgNumber      string
	LegalOrgNumber *string
	OrgName        string
}

// StatusRecord is one stored status history row. Seq is the store's write order and breaks
// ties between rows sharing a timestamp.
type StatusRecord struct {
	CertificateID string
	Timestamp     time.Time
	Kind          Kind
	Seq           int64
}

// Supersedes reports whether r is the later of the two under the latest-status ordering:
// greater timestamp, then greater write sequence.
func (r StatusRecord) Supersedes(other StatusRecord) bool {
	if !r.Timestamp.Equal(other.Timestamp) {
		return r.Timestamp.After(other.Timestamp)
	}
	return r.Seq > other.Seq
}

// NormalizeTime truncates t to the microsecond precision the store keeps and moves it to
// UTC, so an event compares equal to its stored row.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Normalize returns ev with its timestamp normalized.
func Normalize(ev Event) Event {
	switch e := ev.(type) {
	case StatusEvent:
		e.Timestamp = NormalizeTime(e.Timestamp)
		return e
	case SendEvent:
		e.Timestamp = NormalizeTime(e.Timestamp)
		return e
	case ConfirmEvent:
		e.Timestamp = NormalizeTime(e.Timestamp)
		return e
	}
	return ev
}
