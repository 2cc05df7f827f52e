package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smregister/internal/status/models"
)

var errMalformed = errors.New("malformed status record")

// envelope is the wrapped form {"kafkaMetadata": {...}, "event": {...}}. Bare events are
// accepted too.
type envelope struct {
	KafkaMetadata *struct {
		Source string `json:"source"`
	} `json:"kafkaMetadata"`
	Event json.RawMessage `json:"event"`
}

type statusPayload struct {
	CertificateID   string            `json:"certificateId"`
	LegacyID        string            `json:"sykmeldingId"`
	Timestamp       string            `json:"timestamp"`
	StatusEvent     string            `json:"statusEvent"`
	Source          string            `json:"source"`
	Employer        *employerPayload  `json:"employer"`
	LegacyEmployer  *employerPayload  `json:"arbeidsgiver"`
	Questions       []questionPayload `json:"questions"`
	LegacyQuestions []questionPayload `json:"sporsmals"`
}

type employerPayload struct {
	OrgNumber            string  `json:"orgNumber"`
	LegacyOrgNumber      string  `json:"orgnummer"`
	LegalOrgNumber       *string `json:"legalOrgNumber"`
	LegacyLegalOrgNumber *string `json:"juridiskOrgnummer"`
	OrgName              string  `json:"orgName"`
	LegacyOrgName        string  `json:"orgNavn"`
}

type questionPayload struct {
	Text             string `json:"text"`
	LegacyText       string `json:"tekst"`
	ShortName        string `json:"shortName"`
	AnswerType       string `json:"answerType"`
	LegacyAnswerType string `json:"svartype"`
	Answer           string `json:"answer"`
	LegacyAnswer     string `json:"svar"`
}

var kindAliases = map[string]models.Kind{
	"OPEN":      models.KindOpen,
	"APEN":      models.KindOpen,
	"CONFIRMED": models.KindConfirmed,
	"BEKREFTET": models.KindConfirmed,
	"SENT":      models.KindSent,
	"SENDT":     models.KindSent,
	"CANCELLED": models.KindCancelled,
	"AVBRUTT":   models.KindCancelled,
	"EXPIRED":   models.KindExpired,
	"UTGATT":    models.KindExpired,
	"DELETED":   models.KindDeleted,
	"SLETTET":   models.KindDeleted,
}

var shortNameAliases = map[string]models.ShortName{
	"WORK_SITUATION":     models.ShortNameWorkSituation,
	"ARBEIDSSITUASJON":   models.ShortNameWorkSituation,
	"NEW_CLOSEST_LEADER": models.ShortNameNewClosestLeader,
	"NY_NARMESTE_LEDER":  models.ShortNameNewClosestLeader,
	"ABSENCE":            models.ShortNameAbsence,
	"FRAVAER":            models.ShortNameAbsence,
	"PERIOD":             models.ShortNamePeriod,
	"PERIODE":            models.ShortNamePeriod,
	"INSURANCE":          models.ShortNameInsurance,
	"FORSIKRING":         models.ShortNameInsurance,
}

var answerTypeAliases = map[string]models.AnswerType{
	"WORK_SITUATION":   models.AnswerTypeWorkSituation,
	"ARBEIDSSITUASJON": models.AnswerTypeWorkSituation,
	"PERIOD":           models.AnswerTypePeriod,
	"PERIODER":         models.AnswerTypePeriod,
	"YES_NO":           models.AnswerTypeYesNo,
	"JA_NEI":           models.AnswerTypeYesNo,
}

// localTimestamp is an offset-less timestamp, read as UTC.
const localTimestamp = "2006-01-02T15:04:05.999999999"

// decodeStatus parses one inbound record into an event and the origin it declares.
// Unknown fields are ignored. Every failure wraps errMalformed.
func decodeStatus(value []byte) (models.Event, string, error) {
	if len(value) == 0 {
		return nil, "", fmt.Errorf("%w: empty value", errMalformed)
	}

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	raw := value
	origin := ""
	if len(env.Event) > 0 && string(env.Event) != "null" {
		raw = env.Event
	}
	if env.KafkaMetadata != nil {
		origin = env.KafkaMetadata.Source
	}

	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	if origin == "" {
		origin = p.Source
	}

	ev, err := p.toEvent()
	if err != nil {
		return nil, origin, err
	}
	return ev, origin, nil
}

func (p statusPayload) toEvent() (models.Event, error) {
	id := firstNonEmpty(p.CertificateID, p.LegacyID)
	if id == "" {
		return nil, fmt.Errorf("%w: missing certificate id", errMalformed)
	}
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}
	kind, ok := kindAliases[strings.ToUpper(strings.TrimSpace(p.StatusEvent))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", errMalformed, p.StatusEvent)
	}

	questions, err := mapQuestions(append(p.Questions, p.LegacyQuestions...))
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.KindSent:
		employer := p.Employer
		if employer == nil {
			employer = p.LegacyEmployer
		}
		if employer == nil {
			return nil, fmt.Errorf("%w: sent status without employer", errMalformed)
		}
		if len(questions) == 0 {
			return nil, fmt.Errorf("%w: sent status without question", errMalformed)
		}
		return models.SendEvent{
			CertificateID: id,
			Timestamp:     ts,
			Employer: models.EmployerAttribution{
				CertificateID:  id,
				OrgNumber:      firstNonEmpty(employer.OrgNumber, employer.LegacyOrgNumber),
				LegalOrgNumber: firstNonNil(employer.LegalOrgNumber, employer.LegacyLegalOrgNumber),
				OrgName:        firstNonEmpty(employer.OrgName, employer.LegacyOrgName),
			},
			Question: questions[0],
		}, nil
	case models.KindConfirmed:
		return models.ConfirmEvent{CertificateID: id, Timestamp: ts, Questions: questions}, nil
	default:
		return models.NewStatusEvent(id, ts, kind), nil
	}
}

func mapQuestions(in []questionPayload) ([]models.Question, error) {
	var out []models.Question
	for _, q := range in {
		short, ok := shortNameAliases[strings.ToUpper(q.ShortName)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question short name %q", errMalformed, q.ShortName)
		}
		rawType := firstNonEmpty(q.AnswerType, q.LegacyAnswerType)
		answerType, ok := answerTypeAliases[strings.ToUpper(rawType)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown answer type %q", errMalformed, rawType)
		}
		out = append(out, models.Question{
			Text:      firstNonEmpty(q.Text, q.LegacyText),
			ShortName: short,
			Answer:    models.Answer{Type: answerType, Value: firstNonEmpty(q.Answer, q.LegacyAnswer)},
		})
	}
	return out, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", errMalformed)
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation(localTimestamp, raw, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", errMalformed, raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
