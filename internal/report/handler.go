package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"mocktest/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error)
	ResultsByTest(ctx context.Context, testID int64) ([]ResultRow, error)
	ExportResultsExcel(ctx context.Context, testID int64) ([]byte, error)
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseTestID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.SummaryByTest(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "report summary")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseTestID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ResultsByTest(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "report results")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseTestID(w, r)
	if !ok {
		return
	}
	body, err := h.svc.ExportResultsExcel(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "report export")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="test-%d-results.xlsx"`, testID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrTestNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("op", op).Msg("report request failed")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseTestID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return 0, false
	}
	return id, true
}
