package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTestNotFound = errors.New("test not found")
)

const completedStatus = "completed"

// Service reads completed submissions; it never writes.
type Service struct {
	db *sql.DB
}

type SubjectSummary struct {
	Subject         string  `json:"subject"`
	AverageScore    float64 `json:"average_score"`
	AverageAccuracy float64 `json:"average_accuracy"`
	AverageTime     float64 `json:"average_time"`
}

type TestSummary struct {
	TestID          int64            `json:"test_id"`
	TestName        string           `json:"test_name"`
	Participants    int              `json:"participants"`
	AverageScore    float64          `json:"average_score"`
	HighestScore    float64          `json:"highest_score"`
	LowestScore     float64          `json:"lowest_score"`
	AverageAccuracy float64          `json:"average_accuracy"`
	Subjects        []SubjectSummary `json:"subjects"`
}

type ResultRow struct {
	SubmissionID     int64      `json:"submission_id"`
	UserID           int64      `json:"user_id"`
	UserName         string     `json:"user_name"`
	TotalScore       float64    `json:"total_score"`
	CorrectCount     int        `json:"correct_count"`
	IncorrectCount   int        `json:"incorrect_count"`
	UnattemptedCount int        `json:"unattempted_count"`
	Accuracy         float64    `json:"accuracy"`
	Percentile       float64    `json:"percentile"`
	Rank             int        `json:"rank"`
	TotalTime        int64      `json:"total_time"`
	CompletedAt      *time.Time `json:"completed_at"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error) {
	name, err := s.testName(ctx, testID)
	if err != nil {
		return nil, err
	}
	out := &TestSummary{TestID: testID, TestName: name, Subjects: make([]SubjectSummary, 0)}

	var avg, high, low, acc sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(total_score), MAX(total_score), MIN(total_score), AVG(accuracy)
		FROM submissions
		WHERE test_id = $1 AND status = $2
	`, testID, completedStatus).Scan(&out.Participants, &avg, &high, &low, &acc)
	if err != nil {
		return nil, fmt.Errorf("summarize submissions: %w", err)
	}
	out.AverageScore = avg.Float64
	out.HighestScore = high.Float64
	out.LowestScore = low.Float64
	out.AverageAccuracy = acc.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT ar.subject, AVG(ar.score), AVG(ar.accuracy), AVG(ar.time_spent)
		FROM analysis_records ar
		JOIN submissions s ON s.id = ar.submission_id
		WHERE s.test_id = $1 AND s.status = $2
		GROUP BY ar.subject
		ORDER BY ar.subject ASC
	`, testID, completedStatus)
	if err != nil {
		return nil, fmt.Errorf("summarize subjects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SubjectSummary
		if err := rows.Scan(&it.Subject, &it.AverageScore, &it.AverageAccuracy, &it.AverageTime); err != nil {
			return nil, fmt.Errorf("scan subject summary: %w", err)
		}
		out.Subjects = append(out.Subjects, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject summary: %w", err)
	}
	return out, nil
}

// ResultsByTest lists completed submissions best first; earlier completion
// wins a tie.
func (s *Service) ResultsByTest(ctx context.Context, testID int64) ([]ResultRow, error) {
	if _, err := s.testName(ctx, testID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, COALESCE(u.name, ''), s.total_score, s.correct_count, s.incorrect_count,
			s.unattempted_count, s.accuracy, COALESCE(s.percentile, 0), s.rank, s.total_time, s.completed_at
		FROM submissions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.test_id = $1 AND s.status = $2
		ORDER BY s.total_score DESC, s.completed_at ASC, s.id ASC
	`, testID, completedStatus)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	items := make([]ResultRow, 0)
	for rows.Next() {
		var (
			it          ResultRow
			completedAt sql.NullTime
		)
		if err := rows.Scan(&it.SubmissionID, &it.UserID, &it.UserName, &it.TotalScore, &it.CorrectCount,
			&it.IncorrectCount, &it.UnattemptedCount, &it.Accuracy, &it.Percentile, &it.Rank, &it.TotalTime,
			&completedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			it.CompletedAt = &t
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return items, nil
}

func (s *Service) ExportResultsExcel(ctx context.Context, testID int64) ([]byte, error) {
	summary, err := s.SummaryByTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	items, err := s.ResultsByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headers := []string{"rank", "user", "total_score", "correct", "incorrect", "unattempted", "accuracy", "percentile", "total_time_sec", "completed_at"}
	writeRow(f, sheet, 1, toAny(headers))
	for i, it := range items {
		completed := ""
		if it.CompletedAt != nil {
			completed = it.CompletedAt.UTC().Format("2006-01-02 15:04:05")
		}
		user := it.UserName
		if user == "" {
			user = fmt.Sprintf("user #%d", it.UserID)
		}
		writeRow(f, sheet, i+2, []any{
			it.Rank, user, it.TotalScore, it.CorrectCount, it.IncorrectCount, it.UnattemptedCount,
			it.Accuracy, it.Percentile, it.TotalTime, completed,
		})
	}
	_ = f.SetColWidth(sheet, "A", "J", 16)

	subjects := "Subjects"
	if _, err := f.NewSheet(subjects); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	writeRow(f, subjects, 1, []any{"subject", "average_score", "average_accuracy", "average_time_sec"})
	for i, it := range summary.Subjects {
		writeRow(f, subjects, i+2, []any{it.Subject, it.AverageScore, it.AverageAccuracy, it.AverageTime})
	}
	_ = f.SetColWidth(subjects, "A", "D", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) testName(ctx context.Context, testID int64) (string, error) {
	if testID <= 0 {
		return "", ErrInvalidInput
	}
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM tests WHERE id = $1`, testID).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTestNotFound
		}
		return "", fmt.Errorf("get test: %w", err)
	}
	return name, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
