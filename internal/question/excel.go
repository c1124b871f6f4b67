package question

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var excelColumns = []string{
	"subject", "question_type", "option_a", "option_b", "option_c", "option_d",
	"correct_answer", "marks", "negative_marks", "difficulty", "solution", "crop_id",
}

type ImportRowError struct {
	Row     int    `json:"row"`
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	CreatedIDs  []int64          `json:"created_ids"`
	Errors      []ImportRowError `json:"errors"`
}

// ExportQuestionsExcel writes the bank of a test in the same column layout
// ImportQuestionsExcel accepts, so an exported sheet can be edited and
// re-imported into another test.
func (s *Service) ExportQuestionsExcel(ctx context.Context, testID int64) ([]byte, error) {
	if err := s.ensureExists(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, testID, ErrTestNotFound); err != nil {
		return nil, err
	}
	items, err := s.ListByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, h := range excelColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, q := range items {
		row := i + 2
		cropID := ""
		if q.CropID != nil {
			cropID = strconv.FormatInt(*q.CropID, 10)
		}
		values := []any{
			q.Subject, q.QuestionType, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
			q.CorrectAnswer, q.Marks, q.NegativeMarks, q.Difficulty, q.Solution, cropID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "L", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportQuestionsExcel creates one question per data row of the first sheet.
// Rows are independent: a bad row is reported and skipped.
func (s *Service) ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*ImportReport, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := s.ensureExists(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, testID, ErrTestNotFound); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"subject", "correct_answer", "marks"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{CreatedIDs: make([]int64, 0), Errors: make([]ImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		in, err := rowToInput(testID, get)
		if err == nil {
			var created *Question
			created, err = s.CreateQuestion(ctx, in)
			if err == nil {
				report.SuccessRows++
				report.CreatedIDs = append(report.CreatedIDs, created.ID)
				continue
			}
		}
		report.FailedRows++
		report.Errors = append(report.Errors, ImportRowError{
			Row:     rowNo,
			Subject: get("subject"),
			Error:   importErrorText(err),
		})
	}
	return report, nil
}

func rowToInput(testID int64, get func(string) string) (QuestionInput, error) {
	in := QuestionInput{
		TestID:        testID,
		Subject:       get("subject"),
		QuestionType:  get("question_type"),
		OptionA:       get("option_a"),
		OptionB:       get("option_b"),
		OptionC:       get("option_c"),
		OptionD:       get("option_d"),
		CorrectAnswer: get("correct_answer"),
		Difficulty:    get("difficulty"),
		Solution:      get("solution"),
	}

	marks, err := strconv.ParseFloat(get("marks"), 64)
	if err != nil {
		return in, fmt.Errorf("%w: marks must be a number", ErrInvalidInput)
	}
	in.Marks = marks

	if raw := get("negative_marks"); raw != "" {
		neg, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return in, fmt.Errorf("%w: negative_marks must be a number", ErrInvalidInput)
		}
		in.NegativeMarks = neg
	}
	if raw := get("crop_id"); raw != "" {
		cropID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || cropID <= 0 {
			return in, fmt.Errorf("%w: crop_id must be a positive integer", ErrInvalidInput)
		}
		in.CropID = &cropID
	}
	return in, nil
}

// importErrorText keeps validation detail but hides storage errors.
func importErrorText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
	case errors.Is(err, ErrCropNotFound):
		return err.Error()
	default:
		return "failed to save question"
	}
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
