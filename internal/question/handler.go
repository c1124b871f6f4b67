package question

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mocktest/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc questionService
}

type questionService interface {
	CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error)
	GetQuestion(ctx context.Context, id int64) (*Question, error)
	ListByTest(ctx context.Context, testID int64) ([]Question, error)
	UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
	ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*ImportReport, error)
	ExportQuestionsExcel(ctx context.Context, testID int64) ([]byte, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type questionRequest struct {
	TestID        int64   `json:"testId"`
	CropID        *int64  `json:"cropId" validate:"omitempty,gt=0"`
	Subject       string  `json:"subject" validate:"required,max=100"`
	QuestionType  string  `json:"questionType" validate:"omitempty,oneof=mcq MCQ"`
	OptionA       string  `json:"optionA"`
	OptionB       string  `json:"optionB"`
	OptionC       string  `json:"optionC"`
	OptionD       string  `json:"optionD"`
	CorrectAnswer string  `json:"correctAnswer" validate:"required,oneof=A B C D a b c d"`
	Marks         float64 `json:"marks" validate:"gte=0"`
	NegativeMarks float64 `json:"negativeMarks" validate:"gte=0"`
	Difficulty    string  `json:"difficulty" validate:"max=32"`
	Solution      string  `json:"solution"`
}

func (r questionRequest) toInput() QuestionInput {
	return QuestionInput{
		TestID:        r.TestID,
		CropID:        r.CropID,
		Subject:       r.Subject,
		QuestionType:  r.QuestionType,
		OptionA:       r.OptionA,
		OptionB:       r.OptionB,
		OptionC:       r.OptionC,
		OptionD:       r.OptionD,
		CorrectAnswer: r.CorrectAnswer,
		Marks:         r.Marks,
		NegativeMarks: r.NegativeMarks,
		Difficulty:    r.Difficulty,
		Solution:      r.Solution,
	}
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}
	if req.TestID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "testId is required"})
		return
	}

	q, err := h.svc.CreateQuestion(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, r, err, "create question")
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: q})
}

// ListByTest accepts the test id from the path or ?testId=.
func (h *Handler) ListByTest(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "testID")
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("testId"))
	}
	testID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || testID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid test id"})
		return
	}

	items, err := h.svc.ListByTest(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "list questions")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	q, err := h.svc.GetQuestion(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get question")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: q})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	var req questionRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	q, err := h.svc.UpdateQuestion(r.Context(), id, req.toInput())
	if err != nil {
		writeServiceError(w, r, err, "update question")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: q})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "delete question")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]bool{"deleted": true}})
}

func (h *Handler) ImportExcel(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseIDParam(w, r, "testID")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportQuestionsExcel(r.Context(), testID, file)
	if err != nil {
		writeServiceError(w, r, err, "import questions")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	testID, ok := parseIDParam(w, r, "testID")
	if !ok {
		return
	}
	body, err := h.svc.ExportQuestionsExcel(r.Context(), testID)
	if err != nil {
		writeServiceError(w, r, err, "export questions")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="test-%d-questions.xlsx"`, testID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrTestNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionLocked):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrCropNotFound):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("question request failed")
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		msg := "invalid question id"
		if key == "testID" {
			msg = "invalid test id"
		}
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: msg})
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
