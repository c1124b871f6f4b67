package exam

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	internaldb "mocktest/internal/db"
)

type seedQuestion struct {
	Subject       string
	CorrectAnswer string
	Marks         float64
	NegativeMarks float64
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbConn, err := internaldb.OpenMemory(ctx, fmt.Sprintf("exam_%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	return dbConn
}

// seedTest inserts a test with the given questions and returns their ids in
// insertion order.
func seedTest(t *testing.T, dbConn *sql.DB, name string, questions []seedQuestion) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	var testID int64
	if err := dbConn.QueryRowContext(ctx, `
		INSERT INTO tests (name, duration_minutes, instructions, total_marks, is_published, created_at, updated_at)
		VALUES ($1, 180, '', 0, TRUE, $2, $2)
		RETURNING id
	`, name, now).Scan(&testID); err != nil {
		t.Fatalf("insert test: %v", err)
	}

	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		var id int64
		if err := dbConn.QueryRowContext(ctx, `
			INSERT INTO questions (
				test_id, subject, question_type, correct_answer, marks, negative_marks, created_at, updated_at
			) VALUES ($1, $2, 'mcq', $3, $4, $5, $6, $6)
			RETURNING id
		`, testID, q.Subject, q.CorrectAnswer, q.Marks, q.NegativeMarks, now).Scan(&id); err != nil {
			t.Fatalf("insert question: %v", err)
		}
		ids = append(ids, id)
	}
	return testID, ids
}

func seedPercentiles(t *testing.T, dbConn *sql.DB, testID int64, rows []PercentileRow) {
	t.Helper()
	for _, r := range rows {
		if _, err := dbConn.ExecContext(context.Background(), `
			INSERT INTO percentile_mappings (test_id, marks_threshold, percentile)
			VALUES ($1, $2, $3)
		`, testID, r.MarksThreshold, r.Percentile); err != nil {
			t.Fatalf("insert percentile mapping: %v", err)
		}
	}
}

func answer(t *testing.T, svc *Service, submissionID, questionID int64, selected, status string, seconds int64) {
	t.Helper()
	in := SaveResponseInput{
		SubmissionID: submissionID,
		QuestionID:   questionID,
		TimeSpent:    seconds,
		Status:       status,
	}
	if selected != "" {
		in.SelectedAnswer = &selected
	}
	if _, err := svc.SaveResponse(context.Background(), in); err != nil {
		t.Fatalf("save response q=%d: %v", questionID, err)
	}
}
