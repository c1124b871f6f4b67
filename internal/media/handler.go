package media

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"mocktest/internal/app/apiresp"
	"mocktest/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	svc            mediaService
	blobs          storage.BlobStore
	maxUploadBytes int64
}

type mediaService interface {
	UploadPDF(ctx context.Context, in UploadPDFInput) (*PDF, error)
	ListPDFs(ctx context.Context) ([]PDF, error)
	GetPDF(ctx context.Context, id int64) (*PDF, error)
	UploadCrop(ctx context.Context, in UploadCropInput) (*Crop, error)
	ListCrops(ctx context.Context, pdfID int64) ([]Crop, error)
	GetCrop(ctx context.Context, id int64) (*Crop, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type cropDataRequest struct {
	X      float64 `json:"x" validate:"gte=0"`
	Y      float64 `json:"y" validate:"gte=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

type uploadCropRequest struct {
	ImageData  string          `json:"imageData" validate:"required"`
	PDFID      int64           `json:"pdfId" validate:"required,gt=0"`
	PageNumber int             `json:"pageNumber" validate:"required,gte=1"`
	CropData   cropDataRequest `json:"cropData"`
}

// NewHandler limits request bodies of upload endpoints to maxUploadBytes.
func NewHandler(svc mediaService, blobs storage.BlobStore, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{svc: svc, blobs: blobs, maxUploadBytes: maxUploadBytes}
}

// UploadPDF expects a multipart form with a "pdf" file and optional pageCount.
func (h *Handler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "file too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "file too large"})
			return
		}
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("pdf")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "no file uploaded"})
		return
	}
	defer file.Close()

	pageCount := 0
	if raw := strings.TrimSpace(r.FormValue("pageCount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "pageCount must be a non-negative integer"})
			return
		}
		pageCount = n
	}

	pdf, err := h.svc.UploadPDF(r.Context(), UploadPDFInput{
		OriginalName: hdr.Filename,
		PageCount:    pageCount,
		Body:         file,
	})
	if err != nil {
		writeServiceError(w, r, err, "upload pdf")
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: pdf})
}

func (h *Handler) ListPDFs(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListPDFs(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list pdfs")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	pdf, err := h.svc.GetPDF(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get pdf")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: pdf})
}

func (h *Handler) UploadCrop(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "image too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	var req uploadCropRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		if isTooLarge(err) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "image too large"})
			return
		}
		apiresp.WriteBadRequest(w, r, err)
		return
	}

	crop, err := h.svc.UploadCrop(r.Context(), UploadCropInput{
		PDFID:      req.PDFID,
		PageNumber: req.PageNumber,
		Rect: CropRect{
			X:      req.CropData.X,
			Y:      req.CropData.Y,
			Width:  req.CropData.Width,
			Height: req.CropData.Height,
		},
		ImageData: req.ImageData,
	})
	if err != nil {
		writeServiceError(w, r, err, "upload crop")
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: crop})
}

// ListCrops accepts the pdf id from the path or ?pdfId=.
func (h *Handler) ListCrops(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "pdfID")
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("pdfId"))
	}
	pdfID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pdfID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid pdf id"})
		return
	}
	items, err := h.svc.ListCrops(r.Context(), pdfID)
	if err != nil {
		writeServiceError(w, r, err, "list crops")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetCrop(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}
	crop, err := h.svc.GetCrop(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "get crop")
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: crop})
}

// ServeBlob streams whatever follows the mount point, e.g. /uploads/crops/x.png.
func (h *Handler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	rc, err := h.blobs.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrEmptyKey) || errors.Is(err, storage.ErrInvalidKey) {
			writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: "file not found"})
			return
		}
		log.Error().Err(err).Str("key", key).Msg("read blob failed")
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = io.Copy(w, rc)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrPDFNotFound), errors.Is(err, ErrCropNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNotPDF):
		writeJSON(w, r, http.StatusUnsupportedMediaType, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidImage), errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case isTooLarge(err):
		writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "file too large"})
	default:
		log.Error().Err(err).Str("op", op).Msg("media request failed")
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid id"})
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
