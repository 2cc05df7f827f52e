package publisher

import (
	"time"

	"smregister/internal/status/models"
)

type outboundMessage struct {
	Metadata outboundMetadata `json:"metadata"`
	Event    outboundEvent    `json:"event"`
}

type outboundMetadata struct {
	MessageID     string    `json:"messageId"`
	CertificateID string    `json:"certificateId"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
}

type outboundEvent struct {
	CertificateID string             `json:"certificateId"`
	Timestamp     time.Time          `json:"timestamp"`
	StatusEvent   string             `json:"statusEvent"`
	Employer      *outboundEmployer  `json:"employer,omitempty"`
	Questions     []outboundQuestion `json:"questions,omitempty"`
}

type outboundEmployer struct {
	OrgNumber      string  `json:"orgNumber"`
	LegalOrgNumber *string `json:"legalOrgNumber,omitempty"`
	OrgName        string  `json:"orgName"`
}

type outboundQuestion struct {
	Text       string `json:"text"`
	ShortName  string `json:"shortName"`
	AnswerType string `json:"answerType"`
	Answer     string `json:"answer"`
}

func toOutboundEvent(ev models.Event) outboundEvent {
	st := ev.Status()
	out := outboundEvent{
		CertificateID: st.CertificateID,
		Timestamp:     st.Timestamp.UTC(),
		StatusEvent:   st.Kind.String(),
	}
	switch e := ev.(type) {
	case models.SendEvent:
		out.Employer = &outboundEmployer{
			OrgNumber:      e.Employer.OrgNumber,
			LegalOrgNumber: e.Employer.LegalOrgNumber,
			OrgName:        e.Employer.OrgName,
		}
		out.Questions = []outboundQuestion{toOutboundQuestion(e.Question)}
	case models.ConfirmEvent:
		for _, q := range e.Questions {
			out.Questions = append(out.Questions, toOutboundQuestion(q))
		}
	}
	return out
}

func toOutboundQuestion(q models.Question) outboundQuestion {
	return outboundQuestion{
		Text:       q.Text,
		ShortName:  string(q.ShortName),
		AnswerType: string(q.Answer.Type),
		Answer:     q.Answer.Value,
	}
}
