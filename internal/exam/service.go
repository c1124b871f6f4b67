package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTestNotFound          = errors.New("test not found")
	ErrSubmissionNotFound    = errors.New("submission not found")
	ErrSubmissionNotEditable = errors.New("submission is not editable")
	ErrQuestionNotInTest     = errors.New("question not in test")
	ErrInvalidInput          = errors.New("invalid input")
)

const (
	SubmissionInProgress = "in_progress"
	SubmissionCompleted  = "completed"
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

// Submission is one attempt of a user at a test. The scoring fields stay nil
// until the attempt is completed and are then all set together.
type Submission struct {
	ID               int64      `json:"id"`
	TestID           int64      `json:"test_id"`
	UserID           int64      `json:"user_id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	TotalScore       *float64   `json:"total_score"`
	CorrectCount     *int       `json:"correct_count"`
	IncorrectCount   *int       `json:"incorrect_count"`
	UnattemptedCount *int       `json:"unattempted_count"`
	Accuracy         *float64   `json:"accuracy"`
	Percentile       *float64   `json:"percentile"`
	Rank             *int       `json:"rank"`
	TotalTime        *int64     `json:"total_time"`
	TestName         string     `json:"test_name,omitempty"`
	DurationMinutes  int        `json:"duration_minutes,omitempty"`
}

type Response struct {
	ID             int64     `json:"id"`
	SubmissionID   int64     `json:"submission_id"`
	QuestionID     int64     `json:"question_id"`
	SelectedAnswer *string   `json:"selected_answer"`
	TimeSpent      int64     `json:"time_spent"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SaveResponseInput struct {
	SubmissionID   int64
	QuestionID     int64
	SelectedAnswer *string
	TimeSpent      int64
	Status         string
}

type submissionRow struct {
	ID               int64
	TestID           int64
	UserID           int64
	Status           string
	StartedAt        time.Time
	CompletedAt      sql.NullTime
	TotalScore       sql.NullFloat64
	CorrectCount     sql.NullInt64
	IncorrectCount   sql.NullInt64
	UnattemptedCount sql.NullInt64
	Accuracy         sql.NullFloat64
	Percentile       sql.NullFloat64
	Rank             sql.NullInt64
	TotalTime        sql.NullInt64
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) StartSubmission(ctx context.Context, testID, userID int64) (*Submission, error) {
	if testID <= 0 || userID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM tests WHERE id = $1)
	`, testID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check test exists: %w", err)
	}
	if !exists {
		return nil, ErrTestNotFound
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (test_id, user_id, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, testID, userID, SubmissionInProgress, s.now().UTC()).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	return s.GetSubmission(ctx, id)
}

// GetSubmission returns the attempt together with its test name and duration.
func (s *Service) GetSubmission(ctx context.Context, submissionID int64) (*Submission, error) {
	row, err := loadSubmissionRow(ctx, s.db, submissionID)
	if err != nil {
		return nil, err
	}
	out := row.toSubmission()

	var duration sql.NullInt64
	var name sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT name, duration_minutes FROM tests WHERE id = $1
	`, row.TestID).Scan(&name, &duration); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load submission test: %w", err)
	}
	out.TestName = name.String
	out.DurationMinutes = int(duration.Int64)
	return out, nil
}

func (s *Service) SaveResponse(ctx context.Context, in SaveResponseInput) (*Response, error) {
	in.Status = strings.TrimSpace(in.Status)
	if in.SubmissionID <= 0 || in.QuestionID <= 0 || in.TimeSpent < 0 || !validResponseStatus(in.Status) {
		return nil, ErrInvalidInput
	}
	if in.SelectedAnswer != nil {
		v := strings.ToUpper(strings.TrimSpace(*in.SelectedAnswer))
		if v == "" {
			in.SelectedAnswer = nil
		} else {
			in.SelectedAnswer = &v
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save response tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The lock is held until commit, so a submit cannot complete the attempt
	// between the status check and the upsert.
	open, err := lockOpenSubmission(ctx, tx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	row, err := loadSubmissionRow(ctx, tx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrSubmissionNotEditable
	}

	var inTest bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1 AND test_id = $2)
	`, in.QuestionID, row.TestID).Scan(&inTest); err != nil {
		return nil, fmt.Errorf("validate question in test: %w", err)
	}
	if !inTest {
		return nil, ErrQuestionNotInTest
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO responses (
			submission_id,
			question_id,
			selected_answer,
			time_spent,
			status,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (submission_id, question_id)
		DO UPDATE SET
			selected_answer = EXCLUDED.selected_answer,
			time_spent = EXCLUDED.time_spent,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, in.SubmissionID, in.QuestionID, nullableString(in.SelectedAnswer), in.TimeSpent, in.Status, now); err != nil {
		return nil, fmt.Errorf("upsert response: %w", err)
	}

	items, err := queryResponses(ctx, tx, `
		SELECT id, submission_id, question_id, selected_answer, time_spent, status, created_at, updated_at
		FROM responses
		WHERE submission_id = $1 AND question_id = $2
	`, in.SubmissionID, in.QuestionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("reload response: %w", sql.ErrNoRows)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save response: %w", err)
	}
	return &items[0], nil
}

func (s *Service) ListResponses(ctx context.Context, submissionID int64) ([]Response, error) {
	if _, err := loadSubmissionRow(ctx, s.db, submissionID); err != nil {
		return nil, err
	}
	return listResponses(ctx, s.db, submissionID)
}

// SubmitSubmission scores the attempt and completes it in one transaction.
// Submitting an attempt that is already completed returns the stored result.
func (s *Service) SubmitSubmission(ctx context.Context, submissionID int64) (*Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	open, err := lockOpenSubmission(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if !open {
		// Missing, or completed by an earlier call.
		_ = tx.Rollback()
		return s.GetSubmission(ctx, submissionID)
	}
	row, err := loadSubmissionRow(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}

	keys, err := loadAnswerKeys(ctx, tx, row.TestID)
	if err != nil {
		return nil, err
	}
	stored, err := listResponses(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}
	table, err := loadPercentileTable(ctx, tx, row.TestID)
	if err != nil {
		return nil, err
	}
	prior, err := loadPriorScores(ctx, tx, row.TestID, row.ID)
	if err != nil {
		return nil, err
	}

	result := Score(keys, toResponseInputs(stored), table, prior)
	now := s.now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE submissions
		SET status = $2,
			completed_at = $3,
			total_score = $4,
			correct_count = $5,
			incorrect_count = $6,
			unattempted_count = $7,
			accuracy = $8,
			percentile = $9,
			rank = $10,
			total_time = $11
		WHERE id = $1 AND status = $12
	`, row.ID, SubmissionCompleted, now, result.TotalScore, result.CorrectCount, result.IncorrectCount,
		result.UnattemptedCount, result.Accuracy, result.Percentile, result.Rank, result.TotalTime, SubmissionInProgress)
	if err != nil {
		return nil, fmt.Errorf("complete submission: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("complete submission rows: %w", err)
	}
	if affected == 0 {
		// Another caller completed it first.
		_ = tx.Rollback()
		return s.GetSubmission(ctx, submissionID)
	}

	for _, sub := range result.Subjects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_records (
				submission_id,
				subject,
				score,
				correct_count,
				incorrect_count,
				unattempted_count,
				time_spent,
				accuracy,
				created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, row.ID, sub.Subject, sub.Score, sub.CorrectCount, sub.IncorrectCount, sub.UnattemptedCount,
			sub.TimeSpent, sub.Accuracy, now); err != nil {
			return nil, fmt.Errorf("insert analysis record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}
	return s.GetSubmission(ctx, submissionID)
}

// lockOpenSubmission takes the row lock of an in_progress attempt with a
// no-op update; Postgres holds it until the transaction ends and SQLite
// takes the database write lock. It reports false when the attempt is
// missing or already completed.
func lockOpenSubmission(ctx context.Context, tx *sql.Tx, submissionID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE submissions SET status = status
		WHERE id = $1 AND status = $2
	`, submissionID, SubmissionInProgress)
	if err != nil {
		return false, fmt.Errorf("lock submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock submission rows: %w", err)
	}
	return n > 0, nil
}

func loadSubmissionRow(ctx context.Context, q queryable, submissionID int64) (*submissionRow, error) {
	row := &submissionRow{}
	err := q.QueryRowContext(ctx, `
		SELECT
			id,
			test_id,
			user_id,
			status,
			started_at,
			completed_at,
			total_score,
			correct_count,
			incorrect_count,
			unattempted_count,
			accuracy,
			percentile,
			rank,
			total_time
		FROM submissions
		WHERE id = $1
	`, submissionID).Scan(
		&row.ID,
		&row.TestID,
		&row.UserID,
		&row.Status,
		&row.StartedAt,
		&row.CompletedAt,
		&row.TotalScore,
		&row.CorrectCount,
		&row.IncorrectCount,
		&row.UnattemptedCount,
		&row.Accuracy,
		&row.Percentile,
		&row.Rank,
		&row.TotalTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return row, nil
}

func loadAnswerKeys(ctx context.Context, q queryable, testID int64) ([]AnswerKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, subject, correct_answer, marks, negative_marks
		FROM questions
		WHERE test_id = $1
		ORDER BY id ASC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query answer keys: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerKey, 0)
	for rows.Next() {
		var k AnswerKey
		if err := rows.Scan(&k.QuestionID, &k.Subject, &k.CorrectAnswer, &k.Marks, &k.NegativeMarks); err != nil {
			return nil, fmt.Errorf("scan answer key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer keys: %w", err)
	}
	return out, nil
}

func listResponses(ctx context.Context, q queryable, submissionID int64) ([]Response, error) {
	return queryResponses(ctx, q, `
		SELECT id, submission_id, question_id, selected_answer, time_spent, status, created_at, updated_at
		FROM responses
		WHERE submission_id = $1
		ORDER BY question_id ASC
	`, submissionID)
}

func queryResponses(ctx context.Context, q queryable, query string, args ...interface{}) ([]Response, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0)
	for rows.Next() {
		var (
			r        Response
			selected sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.QuestionID, &selected, &r.TimeSpent, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if selected.Valid {
			v := selected.String
			r.SelectedAnswer = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

func loadPercentileTable(ctx context.Context, q queryable, testID int64) ([]PercentileRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT marks_threshold, percentile
		FROM percentile_mappings
		WHERE test_id = $1
		ORDER BY marks_threshold DESC
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query percentile table: %w", err)
	}
	defer rows.Close()

	out := make([]PercentileRow, 0)
	for rows.Next() {
		var p PercentileRow
		if err := rows.Scan(&p.MarksThreshold, &p.Percentile); err != nil {
			return nil, fmt.Errorf("scan percentile row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate percentile table: %w", err)
	}
	return out, nil
}

func loadPriorScores(ctx context.Context, q queryable, testID, submissionID int64) ([]float64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT total_score
		FROM submissions
		WHERE test_id = $1
		  AND id <> $2
		  AND status = $3
		  AND total_score IS NOT NULL
	`, testID, submissionID, SubmissionCompleted)
	if err != nil {
		return nil, fmt.Errorf("query prior scores: %w", err)
	}
	defer rows.Close()

	out := make([]float64, 0)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan prior score: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prior scores: %w", err)
	}
	return out, nil
}

func (r *submissionRow) toSubmission() *Submission {
	out := &Submission{
		ID:        r.ID,
		TestID:    r.TestID,
		UserID:    r.UserID,
		Status:    r.Status,
		StartedAt: r.StartedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		out.CompletedAt = &t
	}
	if r.TotalScore.Valid {
		v := r.TotalScore.Float64
		out.TotalScore = &v
	}
	if r.CorrectCount.Valid {
		v := int(r.CorrectCount.Int64)
		out.CorrectCount = &v
	}
	if r.IncorrectCount.Valid {
		v := int(r.IncorrectCount.Int64)
		out.IncorrectCount = &v
	}
	if r.UnattemptedCount.Valid {
		v := int(r.UnattemptedCount.Int64)
		out.UnattemptedCount = &v
	}
	if r.Accuracy.Valid {
		v := r.Accuracy.Float64
		out.Accuracy = &v
	}
	if r.Percentile.Valid {
		v := r.Percentile.Float64
		out.Percentile = &v
	}
	if r.Rank.Valid {
		v := int(r.Rank.Int64)
		out.Rank = &v
	}
	if r.TotalTime.Valid {
		v := r.TotalTime.Int64
		out.TotalTime = &v
	}
	return out
}

func toResponseInputs(in []Response) []ResponseInput {
	out := make([]ResponseInput, 0, len(in))
	for _, r := range in {
		ri := ResponseInput{
			QuestionID: r.QuestionID,
			TimeSpent:  r.TimeSpent,
			Status:     r.Status,
		}
		if r.SelectedAnswer != nil {
			ri.SelectedAnswer = *r.SelectedAnswer
		}
		out = append(out, ri)
	}
	return out
}

func validResponseStatus(v string) bool {
	switch v {
	case StatusNotVisited, StatusNotAnswered, StatusAnswered:
		return true
	default:
		return false
	}
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
