// Package machine decides how a status event applies to a certificate's stored state.
//
// Decide is pure: it takes the latest stored status (nil when the certificate has none)
// and the incoming event, and returns everything the caller must write, purge and emit.
// The service executes the decision inside one transaction.
//
// Rules:
//   - every valid event is accepted and written to history; exact repeats are idempotent
//   - side records (attribution, questions/answers) are written only when the event is
//     strictly newer than the stored latest status
//   - OPEN always purges stored answers; any strictly newer event replaces them
//   - SENT/CONFIRMED that become (or already are) the latest status are re-published; a
//     strictly newer event that moves away from SENT/CONFIRMED tombstones the superseded
//     channel
//   - a redelivered event whose history row already exists changes nothing; it is only
//     re-published when that row is still the latest status
package machine

import (
	"smregister/internal/status/models"
	dErrors "smregister/pkg/domain-errors"
)

// Outcome is the verdict on one event.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
)

// Decision is the full plan for one event.
type Decision struct {
	Outcome Outcome
	// Reason explains a rejection, or why side records were dropped.
	Reason string
	Event  models.Event
	// Newer is true when the event is strictly after the stored latest status.
	Newer bool
	// Duplicate is true when an identical history row was already stored.
	Duplicate bool
	// Purge deletes the certificate's stored answers before new ones are written.
	Purge       bool
	Attribution *models.EmployerAttribution
	Answers     []models.Question
	Emissions   []models.Emission
	// Latest is the status that is latest once the decision is applied.
	Latest models.StatusRecord
}

// IsAccepted reports whether the event is written.
func (d Decision) IsAccepted() bool {
	return d.Outcome == Accepted
}

// Validate checks that an event is well-formed enough to be applied.
// A failure is permanent: the event is a poison message and must not be retried.
func Validate(ev models.Event) error {
	if ev == nil {
		return dErrors.New(dErrors.CodeBadRequest, "event is required")
	}
	st := ev.Status()
	if st.CertificateID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "missing certificate id")
	}
	if st.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "missing event timestamp")
	}
	if !st.Kind.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown status kind "+string(st.Kind))
	}

	switch e := ev.(type) {
	case models.StatusEvent:
		if e.Kind == models.KindSent || e.Kind == models.KindConfirmed {
			return dErrors.New(dErrors.CodeBadRequest, string(e.Kind)+" event without payload")
		}
	case models.SendEvent:
		if e.Employer.OrgNumber == "" {
			return dErrors.New(dErrors.CodeBadRequest, "send event missing employer org number")
		}
		if err := validateQuestion(e.Question); err != nil {
			return err
		}
	case models.ConfirmEvent:
		for _, q := range e.Questions {
			if err := validateQuestion(q); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateQuestion(q models.Question) error {
	if !q.ShortName.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown question short name "+string(q.ShortName))
	}
	if !q.Answer.Type.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "unknown answer type "+string(q.Answer.Type))
	}
	return nil
}

// Decide plans the application of ev on top of latest, for an event not yet in the
// certificate's history.
func Decide(latest *models.StatusRecord, ev models.Event) Decision {
	return decide(latest, ev, false)
}

// DecideDuplicate plans a redelivery of ev whose history row is already stored. The row
// keeps its original write order, so the event is the latest status only when latest is
// that very row.
func DecideDuplicate(latest *models.StatusRecord, ev models.Event) Decision {
	return decide(latest, ev, true)
}

func decide(latest *models.StatusRecord, ev models.Event, duplicate bool) Decision {
	if err := Validate(ev); err != nil {
		return Decision{Outcome: Rejected, Reason: err.Error(), Event: ev}
	}

	st := ev.Status()
	var newer, current bool
	if duplicate {
		current = latest != nil && latest.Kind == st.Kind && latest.Timestamp.Equal(st.Timestamp)
	} else {
		newer = latest == nil || st.Timestamp.After(latest.Timestamp)
		// ties go to the newest write, so a new row at the stored timestamp becomes latest
		current = newer || st.Timestamp.Equal(latest.Timestamp)
	}

	d := Decision{
		Outcome:   Accepted,
		Event:     ev,
		Newer:     newer,
		Duplicate: duplicate,
		Purge:     !duplicate && (st.Kind == models.KindOpen || newer),
	}

	switch {
	case current && !duplicate:
		d.Latest = models.StatusRecord{CertificateID: st.CertificateID, Timestamp: st.Timestamp, Kind: st.Kind}
	case latest != nil:
		d.Latest = *latest
	}

	switch e := ev.(type) {
	case models.SendEvent:
		if newer {
			employer := e.Employer
			employer.CertificateID = e.CertificateID
			d.Attribution = &employer
			d.Answers = []models.Question{e.Question}
		} else if !duplicate {
			d.Reason = "send payload older than latest status, dropped"
		}
	case models.ConfirmEvent:
		if newer {
			d.Answers = append([]models.Question(nil), e.Questions...)
		} else if !duplicate && len(e.Questions) > 0 {
			d.Reason = "confirm answers older than latest status, dropped"
		}
	}

	d.Emissions = emissions(latest, ev, newer, current)
	return d
}

func emissions(latest *models.StatusRecord, ev models.Event, newer, current bool) []models.Emission {
	st := ev.Status()
	var out []models.Emission

	if newer && latest != nil && latest.Kind != st.Kind {
		if ch, ok := models.ChannelFor(latest.Kind); ok {
			out = append(out, models.Emission{
				Type:          models.EmissionTombstone,
				Channel:       ch,
				CertificateID: st.CertificateID,
				Timestamp:     st.Timestamp,
			})
		}
	}

	if current {
		if ch, ok := models.ChannelFor(st.Kind); ok {
			typ := models.EmissionSent
			if ch == models.ChannelConfirmed {
				typ = models.EmissionConfirmed
			}
			out = append(out, models.Emission{
				Type:          typ,
				Channel:       ch,
				CertificateID: st.CertificateID,
				Timestamp:     st.Timestamp,
				Event:         ev,
			})
		}
	}
	return out
}

// Visible reports whether a certificate whose latest status is latest may be listed to
// its owner.
func Visible(latest models.StatusRecord) bool {
	return latest.Kind != models.KindDeleted
}
