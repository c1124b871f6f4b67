package media

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"mocktest/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotPDF       = errors.New("only PDF files are allowed")
	ErrInvalidImage = errors.New("imageData must be a base64 PNG data URL")
	ErrPDFNotFound  = errors.New("pdf not found")
	ErrCropNotFound = errors.New("crop not found")
)

const pngDataURLPrefix = "data:image/png;base64,"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Service records uploaded question papers and the question images cropped
// out of them. Bytes go to the blob store, metadata to the database.
type Service struct {
	db    *sql.DB
	blobs storage.BlobStore
	now   func() time.Time
	newID func() string
}

type PDF struct {
	ID           int64     `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	FileSize     int64     `json:"file_size"`
	PageCount    int       `json:"page_count"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
}

type Crop struct {
	ID         int64     `json:"id"`
	PDFID      int64     `json:"pdf_id"`
	PageNumber int       `json:"page_number"`
	CropX      float64   `json:"crop_x"`
	CropY      float64   `json:"crop_y"`
	CropWidth  float64   `json:"crop_width"`
	CropHeight float64   `json:"crop_height"`
	ImagePath  string    `json:"image_path"`
	CreatedAt  time.Time `json:"created_at"`
}

type UploadPDFInput struct {
	OriginalName string
	PageCount    int
	Body         io.Reader
}

type CropRect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

type UploadCropInput struct {
	PDFID      int64
	PageNumber int
	Rect       CropRect
	ImageData  string
}

func NewService(db *sql.DB, blobs storage.BlobStore) *Service {
	return &Service{db: db, blobs: blobs, now: time.Now, newID: uuid.NewString}
}

func (s *Service) UploadPDF(ctx context.Context, in UploadPDFInput) (*PDF, error) {
	name := strings.TrimSpace(filepath.Base(in.OriginalName))
	if name == "" || name == "." || in.PageCount < 0 || in.Body == nil {
		return nil, ErrInvalidInput
	}

	br := bufio.NewReader(in.Body)
	head, _ := br.Peek(512)
	if http.DetectContentType(head) != "application/pdf" {
		return nil, ErrNotPDF
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".pdf" {
		ext = ".pdf"
	}
	stored := s.newID() + ext
	obj, err := s.blobs.Put("pdfs/"+stored, br)
	if err != nil {
		return nil, fmt.Errorf("store pdf: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO pdfs (original_name, stored_name, file_size, page_count, file_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, name, stored, obj.Size, in.PageCount, s.blobs.URL(obj.Key), s.now().UTC()).Scan(&id)
	if err != nil {
		s.discardBlob(obj.Key)
		return nil, fmt.Errorf("insert pdf: %w", err)
	}
	return s.GetPDF(ctx, id)
}

// ListPDFs returns newest first.
func (s *Service) ListPDFs(ctx context.Context) ([]PDF, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_name, file_size, page_count, file_path, created_at
		FROM pdfs
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pdfs: %w", err)
	}
	defer rows.Close()

	items := make([]PDF, 0)
	for rows.Next() {
		var p PDF
		if err := rows.Scan(&p.ID, &p.OriginalName, &p.StoredName, &p.FileSize, &p.PageCount, &p.FilePath, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pdf: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pdfs: %w", err)
	}
	return items, nil
}

func (s *Service) GetPDF(ctx context.Context, id int64) (*PDF, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var p PDF
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_name, file_size, page_count, file_path, created_at
		FROM pdfs
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OriginalName, &p.StoredName, &p.FileSize, &p.PageCount, &p.FilePath, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPDFNotFound
		}
		return nil, fmt.Errorf("get pdf: %w", err)
	}
	return &p, nil
}

func (s *Service) UploadCrop(ctx context.Context, in UploadCropInput) (*Crop, error) {
	if in.PDFID <= 0 || in.PageNumber < 1 || !validRect(in.Rect) {
		return nil, ErrInvalidInput
	}
	img, err := decodePNGDataURL(in.ImageData)
	if err != nil {
		return nil, err
	}

	pdf, err := s.GetPDF(ctx, in.PDFID)
	if err != nil {
		return nil, err
	}
	if pdf.PageCount > 0 && in.PageNumber > pdf.PageCount {
		return nil, fmt.Errorf("%w: page %d beyond page count %d", ErrInvalidInput, in.PageNumber, pdf.PageCount)
	}

	obj, err := s.blobs.Put("crops/"+s.newID()+".png", bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("store crop: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO crops (pdf_id, page_number, crop_x, crop_y, crop_width, crop_height, image_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, in.PDFID, in.PageNumber, in.Rect.X, in.Rect.Y, in.Rect.Width, in.Rect.Height,
		s.blobs.URL(obj.Key), s.now().UTC()).Scan(&id)
	if err != nil {
		s.discardBlob(obj.Key)
		return nil, fmt.Errorf("insert crop: %w", err)
	}
	return s.GetCrop(ctx, id)
}

// ListCrops returns the crops of a PDF in upload order.
func (s *Service) ListCrops(ctx context.Context, pdfID int64) ([]Crop, error) {
	if pdfID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.queryCrops(ctx, `WHERE pdf_id = $1 ORDER BY created_at ASC, id ASC`, pdfID)
}

func (s *Service) GetCrop(ctx context.Context, id int64) (*Crop, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	items, err := s.queryCrops(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrCropNotFound
	}
	return &items[0], nil
}

func (s *Service) queryCrops(ctx context.Context, tail string, args ...interface{}) ([]Crop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pdf_id, page_number, crop_x, crop_y, crop_width, crop_height, image_path, created_at
		FROM crops
		`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query crops: %w", err)
	}
	defer rows.Close()

	items := make([]Crop, 0)
	for rows.Next() {
		var c Crop
		if err := rows.Scan(&c.ID, &c.PDFID, &c.PageNumber, &c.CropX, &c.CropY, &c.CropWidth, &c.CropHeight,
			&c.ImagePath, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan crop: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crops: %w", err)
	}
	return items, nil
}

func (s *Service) discardBlob(key string) {
	if err := s.blobs.Delete(key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to remove orphan blob")
	}
}

func decodePNGDataURL(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, pngDataURLPrefix) {
		return nil, ErrInvalidImage
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, pngDataURLPrefix))
	if err != nil || !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrInvalidImage
	}
	return img, nil
}

func validRect(r CropRect) bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0
}
