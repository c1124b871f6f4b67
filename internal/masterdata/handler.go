package masterdata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"mocktest/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	svc masterdataService
}

type masterdataService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)
	GetTest(ctx context.Context, id int64) (*Test, error)
	ListTests(ctx context.Context) ([]TestListItem, error)
	UpdateTest(ctx context.Context, id int64, in UpdateTestInput) (*Test, error)
	DeleteTest(ctx context.Context, id int64) error
	ReplacePercentileMappings(ctx context.Context, testID int64, in []MappingInput) ([]PercentileMapping, error)
	ListPercentileMappings(ctx context.Context, testID int64) ([]PercentileMapping, error)
	ImportPercentileCSV(ctx context.Context, testID int64, r io.Reader) (*ImportPercentileReport, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createTestRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Duration     int     `json:"duration" validate:"gte=0,lte=1440"`
	Instructions string  `json:"instructions" validate:"max=10000"`
	TotalMarks   float64 `json:"totalMarks" validate:"gte=0"`
}

type updateTestRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Duration     int    `json:"duration" validate:"gte=0,lte=1440"`
	Instructions string `json:"instructions" validate:"max=10000"`
	IsPublished  bool   `json:"isPublished"`
}

type mappingRequest struct {
	MarksThreshold float64 `json:"marksThreshold"`
	Percentile     float64 `json:"percentile" validate:"gte=0,lte=100"`
}

type replaceMappingsRequest struct {
	TestID   int64            `json:"testId" validate:"required,gt=0"`
	Mappings []mappingRequest `json:"mappings" validate:"dive"`
}

func NewHandler(svc masterdataService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	test, err := h.svc.CreateTest(r.Context(), CreateTestInput{
		Name:            req.Name,
		DurationMinutes: req.Duration,
		Instructions:    req.Instructions,
		TotalMarks:      req.TotalMarks,
	})
	if err != nil {
		writeServiceError(w, r, err, "create test")
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: test})
}

func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTests(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list tests")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetTest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	test, err := h.svc.GetTest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get test")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: test})
}

func (h *Handler) UpdateTest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	var req updateTestRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	test, err := h.svc.UpdateTest(r.Context(), id, UpdateTestInput{
		Name:            req.Name,
		DurationMinutes: req.Duration,
		Instructions:    req.Instructions,
		IsPublished:     req.IsPublished,
	})
	if err != nil {
		writeServiceError(w, r, err, "update test")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: test})
}

func (h *Handler) DeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTest(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "delete test")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]bool{"deleted": true}})
}

func (h *Handler) ReplacePercentileMappings(w http.ResponseWriter, r *http.Request) {
	var req replaceMappingsRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	in := make([]MappingInput, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		in = append(in, MappingInput{MarksThreshold: m.MarksThreshold, Percentile: m.Percentile})
	}
	items, err := h.svc.ReplacePercentileMappings(r.Context(), req.TestID, in)
	if err != nil {
		writeServiceError(w, r, err, "replace percentile mappings")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ListPercentileMappings(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseIDParam(w, r, "testID")
	if !ok {
		return
	}
	items, err := h.svc.ListPercentileMappings(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "list percentile mappings")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

// ImportPercentileCSV takes a multipart "file" field. A report with
// applied=false means nothing was written.
func (h *Handler) ImportPercentileCSV(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseIDParam(w, r, "testID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportPercentileCSV(r.Context(), testID, file)
	if err != nil {
		writeServiceError(w, r, err, "import percentile csv")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrTestNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("masterdata request failed")
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid test id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
