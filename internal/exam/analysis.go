package exam

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SubjectAnalysis struct {
	ID               int64     `json:"id"`
	SubmissionID     int64     `json:"submission_id"`
	Subject          string    `json:"subject"`
	Score            float64   `json:"score"`
	CorrectCount     int       `json:"correct_count"`
	IncorrectCount   int       `json:"incorrect_count"`
	UnattemptedCount int       `json:"unattempted_count"`
	TimeSpent        int64     `json:"time_spent"`
	Accuracy         float64   `json:"accuracy"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReviewQuestion is a question of the test joined with this attempt's
// response and the cropped image, graded for review screens.
type ReviewQuestion struct {
	ID             int64   `json:"id"`
	TestID         int64   `json:"test_id"`
	CropID         *int64  `json:"crop_id"`
	Subject        string  `json:"subject"`
	QuestionType   string  `json:"question_type"`
	OptionA        string  `json:"option_a"`
	OptionB        string  `json:"option_b"`
	OptionC        string  `json:"option_c"`
	OptionD        string  `json:"option_d"`
	CorrectAnswer  string  `json:"correct_answer"`
	Marks          float64 `json:"marks"`
	NegativeMarks  float64 `json:"negative_marks"`
	Difficulty     string  `json:"difficulty"`
	Solution       string  `json:"solution"`
	SelectedAnswer *string `json:"selected_answer"`
	TimeSpent      *int64  `json:"time_spent"`
	ResponseStatus *string `json:"response_status"`
	ImagePath      *string `json:"image_path"`
	Outcome        string  `json:"outcome"`
	EarnedScore    float64 `json:"earned_score"`
}

type Analysis struct {
	Submission      Submission        `json:"submission"`
	SubjectAnalysis []SubjectAnalysis `json:"subjectAnalysis"`
	Questions       []ReviewQuestion  `json:"questions"`
}

func (s *Service) GetAnalysis(ctx context.Context, submissionID int64) (*Analysis, error) {
	sub, err := s.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	subjects, err := s.listSubjectAnalysis(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.listReviewQuestions(ctx, submissionID, sub.TestID)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Submission:      *sub,
		SubjectAnalysis: subjects,
		Questions:       questions,
	}, nil
}

func (s *Service) listSubjectAnalysis(ctx context.Context, submissionID int64) ([]SubjectAnalysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, subject, score, correct_count, incorrect_count, unattempted_count,
			time_spent, accuracy, created_at
		FROM analysis_records
		WHERE submission_id = $1
		ORDER BY id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query analysis records: %w", err)
	}
	defer rows.Close()

	out := make([]SubjectAnalysis, 0)
	for rows.Next() {
		var a SubjectAnalysis
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.Subject, &a.Score, &a.CorrectCount, &a.IncorrectCount,
			&a.UnattemptedCount, &a.TimeSpent, &a.Accuracy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis record: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis records: %w", err)
	}
	return out, nil
}

func (s *Service) listReviewQuestions(ctx context.Context, submissionID, testID int64) ([]ReviewQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			q.id,
			q.test_id,
			q.crop_id,
			q.subject,
			q.question_type,
			q.option_a,
			q.option_b,
			q.option_c,
			q.option_d,
			q.correct_answer,
			q.marks,
			q.negative_marks,
			q.difficulty,
			q.solution,
			r.selected_answer,
			r.time_spent,
			r.status,
			c.image_path
		FROM questions q
		LEFT JOIN responses r ON r.question_id = q.id AND r.submission_id = $1
		LEFT JOIN crops c ON c.id = q.crop_id
		WHERE q.test_id = $2
		ORDER BY q.id ASC
	`, submissionID, testID)
	if err != nil {
		return nil, fmt.Errorf("query review questions: %w", err)
	}
	defer rows.Close()

	out := make([]ReviewQuestion, 0)
	for rows.Next() {
		var (
			q         ReviewQuestion
			cropID    sql.NullInt64
			selected  sql.NullString
			timeSpent sql.NullInt64
			status    sql.NullString
			imagePath sql.NullString
		)
		if err := rows.Scan(
			&q.ID,
			&q.TestID,
			&cropID,
			&q.Subject,
			&q.QuestionType,
			&q.OptionA,
			&q.OptionB,
			&q.OptionC,
			&q.OptionD,
			&q.CorrectAnswer,
			&q.Marks,
			&q.NegativeMarks,
			&q.Difficulty,
			&q.Solution,
			&selected,
			&timeSpent,
			&status,
			&imagePath,
		); err != nil {
			return nil, fmt.Errorf("scan review question: %w", err)
		}
		if cropID.Valid {
			v := cropID.Int64
			q.CropID = &v
		}
		if selected.Valid {
			v := selected.String
			q.SelectedAnswer = &v
		}
		if timeSpent.Valid {
			v := timeSpent.Int64
			q.TimeSpent = &v
		}
		if status.Valid {
			v := status.String
			q.ResponseStatus = &v
		}
		if imagePath.Valid {
			v := imagePath.String
			q.ImagePath = &v
		}

		outcome := ScoreQuestion(AnswerKey{
			QuestionID:    q.ID,
			Subject:       q.Subject,
			CorrectAnswer: q.CorrectAnswer,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
		}, ResponseInput{
			QuestionID:     q.ID,
			SelectedAnswer: selected.String,
			TimeSpent:      timeSpent.Int64,
			Status:         status.String,
		}, status.Valid)
		q.Outcome = outcome.Outcome
		q.EarnedScore = outcome.EarnedScore

		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review questions: %w", err)
	}
	return out, nil
}
