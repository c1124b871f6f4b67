package exam

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mocktest/internal/app/apiresp"
	"mocktest/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	svc examService
}

type examService interface {
	StartSubmission(ctx context.Context, testID, userID int64) (*Submission, error)
	GetSubmission(ctx context.Context, submissionID int64) (*Submission, error)
	SaveResponse(ctx context.Context, in SaveResponseInput) (*Response, error)
	ListResponses(ctx context.Context, submissionID int64) ([]Response, error)
	SubmitSubmission(ctx context.Context, submissionID int64) (*Submission, error)
	GetAnalysis(ctx context.Context, submissionID int64) (*Analysis, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startSubmissionRequest struct {
	TestID int64 `json:"testId" validate:"required,gt=0"`
	UserID int64 `json:"userId" validate:"omitempty,gt=0"`
}

type submitRequest struct {
	SubmissionID int64 `json:"submissionId" validate:"required,gt=0"`
}

type saveResponseRequest struct {
	SubmissionID   int64   `json:"submissionId" validate:"required,gt=0"`
	QuestionID     int64   `json:"questionId" validate:"required,gt=0"`
	SelectedAnswer *string `json:"selectedAnswer" validate:"omitempty,max=16"`
	TimeSpent      int64   `json:"timeSpent" validate:"gte=0"`
	Status         string  `json:"status" validate:"required,oneof=not_visited not_answered answered"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSubmissionRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	userID := req.UserID
	if userID <= 0 {
		id, ok := auth.CurrentUserID(r.Context())
		if !ok {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "userId is required"})
			return
		}
		userID = id
	}

	sub, err := h.svc.StartSubmission(r.Context(), req.TestID, userID)
	if err != nil {
		h.writeServiceError(w, r, err, "start submission")
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: sub})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.svc.GetSubmission(r.Context(), submissionID)
	if err != nil {
		h.writeServiceError(w, r, err, "get submission")
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

// Submit completes the attempt named in the body.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}
	h.submit(w, r, req.SubmissionID)
}

// SubmitByID completes the attempt named in the path.
func (h *Handler) SubmitByID(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	h.submit(w, r, submissionID)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, submissionID int64) {
	sub, err := h.svc.SubmitSubmission(r.Context(), submissionID)
	if err != nil {
		h.writeServiceError(w, r, err, "submit submission")
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sub})
}

func (h *Handler) SaveResponse(w http.ResponseWriter, r *http.Request) {
	var req saveResponseRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	out, err := h.svc.SaveResponse(r.Context(), SaveResponseInput{
		SubmissionID:   req.SubmissionID,
		QuestionID:     req.QuestionID,
		SelectedAnswer: req.SelectedAnswer,
		TimeSpent:      req.TimeSpent,
		Status:         req.Status,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "save response")
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

// ListResponses accepts the attempt id from the path or ?submissionId=.
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "submissionID")
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("submissionId"))
	}
	submissionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || submissionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid submission id"})
		return
	}

	items, err := h.svc.ListResponses(r.Context(), submissionID)
	if err != nil {
		h.writeServiceError(w, r, err, "list responses")
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Analysis(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	out, err := h.svc.GetAnalysis(r.Context(), submissionID)
	if err != nil {
		h.writeServiceError(w, r, err, "get analysis")
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: out})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrSubmissionNotFound), errors.Is(err, ErrTestNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSubmissionNotEditable):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionNotInTest), errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("exam request failed")
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid submission id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
