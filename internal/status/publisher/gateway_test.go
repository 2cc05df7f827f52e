package publisher

//go:generate mockgen -source=gateway.go -destination=mocks/mocks.go -package=mocks Producer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"smregister/internal/status/models"
	"smregister/internal/status/publisher/mocks"
	"smregister/pkg/platform/circuit"
	"smregister/pkg/platform/sentinel"
)

type GatewaySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	producer *mocks.MockProducer
	gateway  *Gateway
	clock    time.Time
	ts       time.Time
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.producer = mocks.NewMockProducer(s.ctrl)
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ts = time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

	g, err := New(s.producer, Topics{Sent: "sent-topic", Confirmed: "confirmed-topic"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.clock }),
		WithBreaker(circuit.New("test-producer", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return s.clock }))),
	)
	s.Require().NoError(err)
	g.newID = func() string { return "message-1" }
	s.gateway = g
}

func (s *GatewaySuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GatewaySuite) sendEmission() models.Emission {
	legal := "987654321"
	ev := models.SendEvent{
		CertificateID: "cert-1",
		Timestamp:     s.ts,
		Employer:      models.EmployerAttribution{OrgNumber: "123456789", LegalOrgNumber: &legal, OrgName: "Butikken"},
		Question: models.Question{
			Text:      "Jeg er sykmeldt fra",
			ShortName: models.ShortNameWorkSituation,
			Answer:    models.Answer{Type: models.AnswerTypeWorkSituation, Value: "EMPLOYEE"},
		},
	}
	return models.Emission{Type: models.EmissionSent, Channel: models.ChannelSent, CertificateID: "cert-1", Timestamp: s.ts, Event: ev}
}

func (s *GatewaySuite) TestNew() {
	_, err := New(nil, Topics{Sent: "a", Confirmed: "b"})
	s.Require().Error(err)

	_, err = New(s.producer, Topics{Sent: "a"})
	s.Require().Error(err)
}

func (s *GatewaySuite) TestPublishNotification() {
	s.producer.EXPECT().Produce(gomock.Any(), "sent-topic", []byte("cert-1"), gomock.Any(), map[string]string{OriginHeader: "smregister"}).
		DoAndReturn(func(_ context.Context, _ string, _, value []byte, _ map[string]string) error {
			var msg map[string]any
			s.Require().NoError(json.Unmarshal(value, &msg))

			metadata := msg["metadata"].(map[string]any)
			s.Equal("message-1", metadata["messageId"])
			s.Equal("cert-1", metadata["certificateId"])
			s.Equal("sent", metadata["type"])
			s.Equal("2026-03-01T12:00:00Z", metadata["timestamp"])

			event := msg["event"].(map[string]any)
			s.Equal("SENT", event["statusEvent"])
			s.Equal("2026-03-01T10:05:00Z", event["timestamp"])
			employer := event["employer"].(map[string]any)
			s.Equal("123456789", employer["orgNumber"])
			s.Equal("987654321", employer["legalOrgNumber"])
			s.Len(event["questions"], 1)
			return nil
		})

	s.NoError(s.gateway.Publish(context.Background(), s.sendEmission()))
}

func (s *GatewaySuite) TestPublishTombstone() {
	s.producer.EXPECT().Produce(gomock.Any(), "confirmed-topic", []byte("cert-1"), gomock.Nil(), gomock.Any()).Return(nil)

	err := s.gateway.Publish(context.Background(), models.Emission{
		Type: models.EmissionTombstone, Channel: models.ChannelConfirmed, CertificateID: "cert-1", Timestamp: s.ts,
	})
	s.NoError(err)
}

func (s *GatewaySuite) TestInvalidEmissions() {
	s.producer.EXPECT().Produce(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	s.Error(s.gateway.Publish(context.Background(), models.Emission{Type: models.EmissionSent, Channel: "archive", CertificateID: "cert-1"}))
	s.Error(s.gateway.Publish(context.Background(), models.Emission{Type: models.EmissionSent, Channel: models.ChannelSent, CertificateID: "cert-1"}))
}

func (s *GatewaySuite) TestCircuitOpensAndRecovers() {
	brokerDown := errors.New("broker down")
	s.producer.EXPECT().Produce(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(brokerDown).Times(2)

	for range 2 {
		err := s.gateway.Publish(context.Background(), s.sendEmission())
		s.Require().ErrorIs(err, brokerDown)
	}

	s.Run("open circuit drops without producing", func() {
		err := s.gateway.Publish(context.Background(), s.sendEmission())
		s.ErrorIs(err, sentinel.ErrCircuitOpen)
	})

	s.Run("trial publish after cooldown reaches the producer", func() {
		s.clock = s.clock.Add(2 * time.Minute)
		s.producer.EXPECT().Produce(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.NoError(s.gateway.Publish(context.Background(), s.sendEmission()))
	})

	s.Run("only one trial publish per cooldown window", func() {
		err := s.gateway.Publish(context.Background(), s.sendEmission())
		s.ErrorIs(err, sentinel.ErrCircuitOpen)
	})
}

func (s *GatewaySuite) TestFailedTrialPublishKeepsCircuitOpen() {
	brokerDown := errors.New("broker down")
	s.producer.EXPECT().Produce(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(brokerDown).Times(3)

	for range 2 {
		s.Require().ErrorIs(s.gateway.Publish(context.Background(), s.sendEmission()), brokerDown)
	}

	s.clock = s.clock.Add(2 * time.Minute)
	s.Require().ErrorIs(s.gateway.Publish(context.Background(), s.sendEmission()), brokerDown)

	s.clock = s.clock.Add(30 * time.Second)
	s.ErrorIs(s.gateway.Publish(context.Background(), s.sendEmission()), sentinel.ErrCircuitOpen,
		"a failed trial restarts the cooldown window")
}
