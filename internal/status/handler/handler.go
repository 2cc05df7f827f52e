// Package handler exposes the internal status administration endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"smregister/internal/status/models"
	"smregister/pkg/platform/httputil"
)

// Service is the part of the status service the admin endpoints use.
type Service interface {
	ResetPerson(ctx context.Context, personID string) (int, error)
	GetStatus(ctx context.Context, certificateID string, filter models.StatusFilter) ([]models.StatusRecord, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the internal routes on r.
func (h *Handler) Register(r chi.Router) {
	internal := chi.NewRouter()
	internal.Use(chimiddleware.RequestID)
	internal.Use(chimiddleware.Recoverer)
	internal.Use(chimiddleware.Timeout(30 * time.Second))
	internal.Delete("/reset/{personID}", h.handleReset)
	internal.Get("/certificates/{certificateID}/status", h.handleStatus)

	r.Mount("/internal", internal)
}

type resetResponse struct {
	PersonID            string `json:"personId"`
	CertificatesRemoved int    `json:"certificatesRemoved"`
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	personID := chi.URLParam(r, "personID")

	removed, err := h.service.ResetPerson(ctx, personID)
	if err != nil {
		h.logger.ErrorContext(ctx, "person reset failed",
			"request_id", chimiddleware.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resetResponse{PersonID: personID, CertificatesRemoved: removed})
}

type statusResponse struct {
	CertificateID string    `json:"certificateId"`
	Timestamp     time.Time `json:"timestamp"`
	StatusEvent   string    `json:"statusEvent"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certificateID := chi.URLParam(r, "certificateID")
	filter := models.StatusFilter(r.URL.Query().Get("filter"))

	rows, err := h.service.GetStatus(ctx, certificateID, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]statusResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, statusResponse{CertificateID: row.CertificateID, Timestamp: row.Timestamp, StatusEvent: row.Kind.String()})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
