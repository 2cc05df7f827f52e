package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"smregister/internal/status/handler/mocks"
	"smregister/internal/status/models"
	dErrors "smregister/pkg/domain-errors"
	"smregister/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type AdminHandlerSuite struct {
	suite.Suite
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func newTestRouter(t *testing.T) (http.Handler, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)

	h := New(mockService, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	return r, mockService
}

type resetBody struct {
	PersonID            string `json:"personId"`
	CertificatesRemoved int    `json:"certificatesRemoved"`
}

type statusBody struct {
	CertificateID string `json:"certificateId"`
	Timestamp     string `json:"timestamp"`
	StatusEvent   string `json:"statusEvent"`
}

func (s *AdminHandlerSuite) TestReset() {
	s.Run("removes person data", func() {
		router, svc := newTestRouter(s.T())
		svc.EXPECT().ResetPerson(gomock.Any(), "12345678910").Return(2, nil)

		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodDelete, "/internal/reset/12345678910"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[resetBody](s.T(), rr)
		assert.Equal(s.T(), "12345678910", resp.PersonID)
		assert.Equal(s.T(), 2, resp.CertificatesRemoved)
	})

	s.Run("internal failure hides details", func() {
		router, svc := newTestRouter(s.T())
		svc.EXPECT().ResetPerson(gomock.Any(), "p1").Return(0, dErrors.New(dErrors.CodeInternal, "failed to reset person"))

		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodDelete, "/internal/reset/p1"))

		testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
		assert.NotContains(s.T(), rr.Body.String(), "failed to reset")
	})

	s.Run("wrong method is rejected", func() {
		router, _ := newTestRouter(s.T())
		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/internal/reset/p1"))
		testutil.AssertStatus(s.T(), rr, http.StatusMethodNotAllowed)
	})
}

func (s *AdminHandlerSuite) TestStatus() {
	s.Run("latest status", func() {
		router, svc := newTestRouter(s.T())
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		svc.EXPECT().GetStatus(gomock.Any(), "cert-1", models.FilterLatest).
			Return([]models.StatusRecord{{CertificateID: "cert-1", Timestamp: ts, Kind: models.KindConfirmed}}, nil)

		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/internal/certificates/cert-1/status?filter=LATEST"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := *testutil.UnmarshalResponse[[]statusBody](s.T(), rr)
		require.Len(s.T(), resp, 1)
		assert.Equal(s.T(), "CONFIRMED", resp[0].StatusEvent)
		assert.Equal(s.T(), "2026-03-01T10:00:00Z", resp[0].Timestamp)
	})

	s.Run("unknown filter", func() {
		router, svc := newTestRouter(s.T())
		svc.EXPECT().GetStatus(gomock.Any(), "cert-1", models.StatusFilter("BOGUS")).
			Return(nil, dErrors.New(dErrors.CodeBadRequest, "unknown status filter"))

		rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/internal/certificates/cert-1/status?filter=BOGUS"))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}
