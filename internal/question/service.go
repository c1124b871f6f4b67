package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrTestNotFound     = errors.New("test not found")
	ErrCropNotFound     = errors.New("crop not found")
	ErrQuestionLocked   = errors.New("question already has responses")
)

const (
	TypeMCQ = "mcq"
)

var answerKeys = []string{"A", "B", "C", "D"}

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Question struct {
	ID            int64     `json:"id"`
	TestID        int64     `json:"test_id"`
	CropID        *int64    `json:"crop_id"`
	Subject       string    `json:"subject"`
	QuestionType  string    `json:"question_type"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	CorrectAnswer string    `json:"correct_answer"`
	Marks         float64   `json:"marks"`
	NegativeMarks float64   `json:"negative_marks"`
	Difficulty    string    `json:"difficulty"`
	Solution      string    `json:"solution"`
	ImagePath     *string   `json:"image_path"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// QuestionInput is shared by create and update; TestID and CropID are
// ignored on update.
type QuestionInput struct {
	TestID        int64
	CropID        *int64
	Subject       string
	QuestionType  string
	OptionA       string
	OptionB       string
	OptionC       string
	OptionD       string
	CorrectAnswer string
	Marks         float64
	NegativeMarks float64
	Difficulty    string
	Solution      string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func normalizeQuestionType(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return TypeMCQ
	}
	return v
}

func normalizeInput(in QuestionInput) (QuestionInput, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.QuestionType = normalizeQuestionType(in.QuestionType)
	in.CorrectAnswer = strings.ToUpper(strings.TrimSpace(in.CorrectAnswer))
	in.Difficulty = strings.TrimSpace(strings.ToLower(in.Difficulty))
	in.Solution = strings.TrimSpace(in.Solution)

	if in.Subject == "" {
		return in, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if in.QuestionType != TypeMCQ {
		return in, fmt.Errorf("%w: unsupported question_type '%s'", ErrInvalidInput, in.QuestionType)
	}
	if !validAnswerKey(in.CorrectAnswer) {
		return in, fmt.Errorf("%w: correct_answer must be one of A, B, C, D", ErrInvalidInput)
	}
	if !validMarks(in.Marks) || !validMarks(in.NegativeMarks) {
		return in, fmt.Errorf("%w: marks and negative_marks must be non-negative numbers", ErrInvalidInput)
	}
	return in, nil
}

func validAnswerKey(v string) bool {
	for _, k := range answerKeys {
		if v == k {
			return true
		}
	}
	return false
}

func validMarks(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func (s *Service) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	if in.TestID <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}

	if err := s.ensureExists(ctx, `SELECT EXISTS(SELECT 1 FROM tests WHERE id = $1)`, in.TestID, ErrTestNotFound); err != nil {
		return nil, err
	}
	if in.CropID != nil {
		if err := s.ensureExists(ctx, `SELECT EXISTS(SELECT 1 FROM crops WHERE id = $1)`, *in.CropID, ErrCropNotFound); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			test_id, crop_id, subject, question_type, option_a, option_b, option_c, option_d,
			correct_answer, marks, negative_marks, difficulty, solution, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id
	`, in.TestID, nullInt64Ptr(in.CropID), in.Subject, in.QuestionType,
		in.OptionA, in.OptionB, in.OptionC, in.OptionD,
		in.CorrectAnswer, in.Marks, in.NegativeMarks, in.Difficulty, in.Solution, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return s.GetQuestion(ctx, id)
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	items, err := s.queryQuestions(ctx, `WHERE q.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrQuestionNotFound
	}
	return &items[0], nil
}

// ListByTest returns the question bank of a test in id order, each joined
// with its crop image.
func (s *Service) ListByTest(ctx context.Context, testID int64) ([]Question, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.queryQuestions(ctx, `WHERE q.test_id = $1`, testID)
}

// UpdateQuestion rewrites content and answer key. Questions that already
// carry responses are frozen.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET subject = $2,
			question_type = $3,
			option_a = $4,
			option_b = $5,
			option_c = $6,
			option_d = $7,
			correct_answer = $8,
			marks = $9,
			negative_marks = $10,
			difficulty = $11,
			solution = $12,
			updated_at = $13
		WHERE id = $1
			AND NOT EXISTS (SELECT 1 FROM responses r WHERE r.question_id = $1)
	`, id, in.Subject, in.QuestionType, in.OptionA, in.OptionB, in.OptionC, in.OptionD,
		in.CorrectAnswer, in.Marks, in.NegativeMarks, in.Difficulty, in.Solution, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.missingOrLocked(ctx, id)
	}
	return s.GetQuestion(ctx, id)
}

func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM questions
		WHERE id = $1
			AND NOT EXISTS (SELECT 1 FROM responses r WHERE r.question_id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.missingOrLocked(ctx, id)
	}
	return nil
}

func (s *Service) missingOrLocked(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check question exists: %w", err)
	}
	if !exists {
		return ErrQuestionNotFound
	}
	return ErrQuestionLocked
}

func (s *Service) ensureExists(ctx context.Context, query string, id int64, notFound error) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if !exists {
		return notFound
	}
	return nil
}

func (s *Service) queryQuestions(ctx context.Context, where string, args ...interface{}) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.test_id, q.crop_id, q.subject, q.question_type,
			q.option_a, q.option_b, q.option_c, q.option_d,
			q.correct_answer, q.marks, q.negative_marks, q.difficulty, q.solution,
			c.image_path, q.created_at, q.updated_at
		FROM questions q
		LEFT JOIN crops c ON c.id = q.crop_id
		`+where+`
		ORDER BY q.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var (
			q         Question
			cropID    sql.NullInt64
			imagePath sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.TestID, &cropID, &q.Subject, &q.QuestionType,
			&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD,
			&q.CorrectAnswer, &q.Marks, &q.NegativeMarks, &q.Difficulty, &q.Solution,
			&imagePath, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if cropID.Valid {
			v := cropID.Int64
			q.CropID = &v
		}
		if imagePath.Valid {
			v := imagePath.String
			q.ImagePath = &v
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
