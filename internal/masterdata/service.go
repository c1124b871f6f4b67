package masterdata

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTestNotFound = errors.New("test not found")
)

// Service owns the test catalogue and the per-test percentile tables.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Test struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	Instructions    string    `json:"instructions"`
	TotalMarks      float64   `json:"total_marks"`
	IsPublished     bool      `json:"is_published"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TestListItem reports total_marks as the sum of the test's question marks.
type TestListItem struct {
	Test
	QuestionCount int `json:"question_count"`
}

type CreateTestInput struct {
	Name            string
	DurationMinutes int
	Instructions    string
	TotalMarks      float64
}

type UpdateTestInput struct {
	Name            string
	DurationMinutes int
	Instructions    string
	IsPublished     bool
}

type PercentileMapping struct {
	ID             int64   `json:"id"`
	TestID         int64   `json:"test_id"`
	MarksThreshold float64 `json:"marks_threshold"`
	Percentile     float64 `json:"percentile"`
}

type MappingInput struct {
	MarksThreshold float64
	Percentile     float64
}

type ImportPercentileReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Applied     bool             `json:"applied"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.DurationMinutes < 0 || in.TotalMarks < 0 {
		return nil, ErrInvalidInput
	}

	now := s.now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tests (name, duration_minutes, instructions, total_marks, is_published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $5)
		RETURNING id
	`, name, in.DurationMinutes, strings.TrimSpace(in.Instructions), in.TotalMarks, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}
	return s.GetTest(ctx, id)
}

func (s *Service) GetTest(ctx context.Context, id int64) (*Test, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var out Test
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, duration_minutes, instructions, total_marks, is_published, created_at, updated_at
		FROM tests
		WHERE id = $1
	`, id).Scan(&out.ID, &out.Name, &out.DurationMinutes, &out.Instructions, &out.TotalMarks,
		&out.IsPublished, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return &out, nil
}

// ListTests returns newest first.
func (s *Service) ListTests(ctx context.Context) ([]TestListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.duration_minutes, t.instructions, t.is_published, t.created_at, t.updated_at,
			COUNT(q.id) AS question_count,
			COALESCE(SUM(q.marks), 0) AS question_marks
		FROM tests t
		LEFT JOIN questions q ON q.test_id = t.id
		GROUP BY t.id, t.name, t.duration_minutes, t.instructions, t.is_published, t.created_at, t.updated_at
		ORDER BY t.created_at DESC, t.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	items := make([]TestListItem, 0)
	for rows.Next() {
		var it TestListItem
		if err := rows.Scan(&it.ID, &it.Name, &it.DurationMinutes, &it.Instructions, &it.IsPublished,
			&it.CreatedAt, &it.UpdatedAt, &it.QuestionCount, &it.TotalMarks); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return items, nil
}

func (s *Service) UpdateTest(ctx context.Context, id int64, in UpdateTestInput) (*Test, error) {
	name := strings.TrimSpace(in.Name)
	if id <= 0 || name == "" || in.DurationMinutes < 0 {
		return nil, ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tests
		SET name = $2,
			duration_minutes = $3,
			instructions = $4,
			is_published = $5,
			updated_at = $6
		WHERE id = $1
	`, id, name, in.DurationMinutes, strings.TrimSpace(in.Instructions), in.IsPublished, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrTestNotFound
	}
	return s.GetTest(ctx, id)
}

// DeleteTest removes the test; questions, mappings and submissions cascade.
func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrTestNotFound
	}
	return nil
}

// ReplacePercentileMappings swaps the whole table for a test in one transaction.
func (s *Service) ReplacePercentileMappings(ctx context.Context, testID int64, in []MappingInput) ([]PercentileMapping, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	seen := make(map[float64]struct{}, len(in))
	for _, m := range in {
		if math.IsNaN(m.MarksThreshold) || m.Percentile < 0 || m.Percentile > 100 {
			return nil, ErrInvalidInput
		}
		if _, dup := seen[m.MarksThreshold]; dup {
			return nil, fmt.Errorf("%w: duplicate threshold %v", ErrInvalidInput, m.MarksThreshold)
		}
		seen[m.MarksThreshold] = struct{}{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, testID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check test: %w", err)
	}
	if !exists {
		return nil, ErrTestNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM percentile_mappings WHERE test_id = $1`, testID); err != nil {
		return nil, fmt.Errorf("clear percentile mappings: %w", err)
	}
	for _, m := range in {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO percentile_mappings (test_id, marks_threshold, percentile)
			VALUES ($1, $2, $3)
		`, testID, m.MarksThreshold, m.Percentile); err != nil {
			return nil, fmt.Errorf("insert percentile mapping: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit percentile mappings: %w", err)
	}
	return s.ListPercentileMappings(ctx, testID)
}

// ListPercentileMappings returns rows by threshold, highest first.
func (s *Service) ListPercentileMappings(ctx context.Context, testID int64) ([]PercentileMapping, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, marks_threshold, percentile
		FROM percentile_mappings
		WHERE test_id = $1
		ORDER BY marks_threshold DESC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("list percentile mappings: %w", err)
	}
	defer rows.Close()

	items := make([]PercentileMapping, 0)
	for rows.Next() {
		var m PercentileMapping
		if err := rows.Scan(&m.ID, &m.TestID, &m.MarksThreshold, &m.Percentile); err != nil {
			return nil, fmt.Errorf("scan percentile mapping: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate percentile mappings: %w", err)
	}
	return items, nil
}

// ImportPercentileCSV reads "marks_threshold,percentile" rows. The table is
// replaced only when every row is valid.
func (s *Service) ImportPercentileCSV(ctx context.Context, testID int64, r io.Reader) (*ImportPercentileReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[normalizeHeader(h)] = i
	}
	for _, required := range []string{"marks_threshold", "percentile"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrInvalidInput, required)
		}
	}

	report := &ImportPercentileReport{Errors: make([]ImportRowError, 0)}
	mappings := make([]MappingInput, 0)
	seen := make(map[float64]int)
	rowNo := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNo++
		if err != nil {
			report.TotalRows++
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		report.TotalRows++

		m, err := parseMappingRow(rec, idx)
		if err == nil {
			if prev, dup := seen[m.MarksThreshold]; dup {
				err = fmt.Errorf("duplicate threshold (first seen on row %d)", prev)
			}
		}
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		seen[m.MarksThreshold] = rowNo
		mappings = append(mappings, m)
		report.SuccessRows++
	}

	if report.FailedRows > 0 {
		return report, nil
	}
	if _, err := s.ReplacePercentileMappings(ctx, testID, mappings); err != nil {
		return nil, err
	}
	report.Applied = true
	return report, nil
}

func parseMappingRow(rec []string, idx map[string]int) (MappingInput, error) {
	threshold, err := strconv.ParseFloat(cell(rec, idx, "marks_threshold"), 64)
	if err != nil {
		return MappingInput{}, errors.New("marks_threshold must be a number")
	}
	pct, err := strconv.ParseFloat(cell(rec, idx, "percentile"), 64)
	if err != nil {
		return MappingInput{}, errors.New("percentile must be a number")
	}
	if pct < 0 || pct > 100 {
		return MappingInput{}, errors.New("percentile must be between 0 and 100")
	}
	return MappingInput{MarksThreshold: threshold, Percentile: pct}, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.TrimSpace(strings.ToLower(h))
	return strings.ReplaceAll(h, " ", "_")
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
