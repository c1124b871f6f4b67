package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	internaldb "mocktest/internal/db"
)

func TestSubmitSubmission_ScoresAndCompletes(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Physics Mock 1", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{Subject: "Physics", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	})

	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sub.Status != SubmissionInProgress || sub.TotalScore != nil || sub.CompletedAt != nil {
		t.Fatalf("unexpected fresh submission: %+v", sub)
	}
	if sub.TestName != "Physics Mock 1" || sub.DurationMinutes != 180 {
		t.Fatalf("expected test name and duration, got %q %d", sub.TestName, sub.DurationMinutes)
	}

	answer(t, svc, sub.ID, qIDs[0], "A", StatusAnswered, 20)
	answer(t, svc, sub.ID, qIDs[1], "C", StatusAnswered, 25)

	done, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != SubmissionCompleted || done.CompletedAt == nil {
		t.Fatalf("expected completed submission, got %+v", done)
	}
	if *done.TotalScore != 3 || *done.CorrectCount != 1 || *done.IncorrectCount != 1 || *done.UnattemptedCount != 0 {
		t.Fatalf("unexpected scoring fields: score=%v c=%d i=%d u=%d", *done.TotalScore, *done.CorrectCount, *done.IncorrectCount, *done.UnattemptedCount)
	}
	if *done.Accuracy != 50 || *done.TotalTime != 45 || *done.Rank != 1 || *done.Percentile != 0 {
		t.Fatalf("unexpected derived fields: acc=%v time=%d rank=%d pct=%v", *done.Accuracy, *done.TotalTime, *done.Rank, *done.Percentile)
	}

	var records int
	if err := dbConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records WHERE submission_id = $1`, sub.ID).Scan(&records); err != nil {
		t.Fatalf("count analysis records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected 1 analysis record, got %d", records)
	}
}

func TestSubmitSubmission_NoResponses(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, _ := seedTest(t, dbConn, "Empty Attempt", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
		{Subject: "Maths", CorrectAnswer: "C", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *done.TotalScore != 0 || *done.UnattemptedCount != 3 || *done.Accuracy != 0 || *done.Percentile != 0 {
		t.Fatalf("unexpected result: %+v", done)
	}

	analysis, err := svc.GetAnalysis(ctx, sub.ID)
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if len(analysis.SubjectAnalysis) != 3 {
		t.Fatalf("expected 3 subject rows, got %d", len(analysis.SubjectAnalysis))
	}
	for _, q := range analysis.Questions {
		if q.Outcome != OutcomeUnattempted || q.SelectedAnswer != nil || q.ResponseStatus != nil {
			t.Fatalf("unexpected review question: %+v", q)
		}
	}
}

func TestSubmitSubmission_RepeatIsNoop(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Repeat", []seedQuestion{
		{Subject: "Maths", CorrectAnswer: "D", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answer(t, svc, sub.ID, qIDs[0], "D", StatusAnswered, 10)

	first, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if *first.TotalScore != *second.TotalScore || *first.Rank != *second.Rank {
		t.Fatalf("result changed across submits")
	}
	if !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Fatalf("completed_at changed: %v vs %v", first.CompletedAt, second.CompletedAt)
	}

	var records int
	if err := dbConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records WHERE submission_id = $1`, sub.ID).Scan(&records); err != nil {
		t.Fatalf("count analysis records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected analysis written once, got %d rows", records)
	}
}

func TestSubmitSubmission_Concurrent(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Concurrent", []seedQuestion{
		{Subject: "Maths", CorrectAnswer: "B", Marks: 2, NegativeMarks: 0},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answer(t, svc, sub.ID, qIDs[0], "B", StatusAnswered, 5)

	type submitRes struct {
		sub *Submission
		err error
	}
	results := make([]submitRes, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i].sub, results[i].err = svc.SubmitSubmission(ctx, sub.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range results {
		if results[i].err != nil {
			t.Fatalf("submit call %d failed: %v", i+1, results[i].err)
		}
		if results[i].sub.Status != SubmissionCompleted || *results[i].sub.TotalScore != 2 {
			t.Fatalf("submit call %d unexpected: %+v", i+1, results[i].sub)
		}
	}

	var records int
	if err := dbConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records WHERE submission_id = $1`, sub.ID).Scan(&records); err != nil {
		t.Fatalf("count analysis records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected exactly 1 analysis record, got %d", records)
	}
}

func TestSubmitSubmission_RankAndPercentile(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Ranked", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	})
	seedPercentiles(t, dbConn, testID, []PercentileRow{
		{MarksThreshold: 8, Percentile: 99},
		{MarksThreshold: 4, Percentile: 75},
		{MarksThreshold: 0, Percentile: 10},
	})

	submit := func(userID int64, a1, a2 string) *Submission {
		t.Helper()
		sub, err := svc.StartSubmission(ctx, testID, userID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		answer(t, svc, sub.ID, qIDs[0], a1, StatusAnswered, 10)
		answer(t, svc, sub.ID, qIDs[1], a2, StatusAnswered, 10)
		done, err := svc.SubmitSubmission(ctx, sub.ID)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		return done
	}

	top := submit(1, "A", "B")
	mid := submit(2, "A", "C")
	tie := submit(3, "A", "B")

	if *top.TotalScore != 8 || *top.Rank != 1 || *top.Percentile != 99 {
		t.Fatalf("top: score=%v rank=%d pct=%v", *top.TotalScore, *top.Rank, *top.Percentile)
	}
	if *mid.TotalScore != 3 || *mid.Rank != 2 || *mid.Percentile != 10 {
		t.Fatalf("mid: score=%v rank=%d pct=%v", *mid.TotalScore, *mid.Rank, *mid.Percentile)
	}
	if *tie.Rank != 1 {
		t.Fatalf("tie should share rank 1, got %d", *tie.Rank)
	}
}

func TestSaveResponse_Rules(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Rules", []seedQuestion{
		{Subject: "Maths", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
	})
	_, otherIDs := seedTest(t, dbConn, "Other", []seedQuestion{
		{Subject: "Maths", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	answer(t, svc, sub.ID, qIDs[0], "B", StatusAnswered, 10)
	answer(t, svc, sub.ID, qIDs[0], "A", StatusAnswered, 30)

	items, err := svc.ListResponses(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || *items[0].SelectedAnswer != "A" || items[0].TimeSpent != 30 {
		t.Fatalf("expected single overwritten response, got %+v", items)
	}

	sel := "A"
	_, err = svc.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: otherIDs[0], SelectedAnswer: &sel, Status: StatusAnswered})
	if !errors.Is(err, ErrQuestionNotInTest) {
		t.Fatalf("expected ErrQuestionNotInTest, got %v", err)
	}

	_, err = svc.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: qIDs[0], Status: "skipped"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = svc.SaveResponse(ctx, SaveResponseInput{SubmissionID: 9999, QuestionID: qIDs[0], Status: StatusAnswered})
	if !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}

	if _, err := svc.SubmitSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = svc.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: qIDs[0], SelectedAnswer: &sel, Status: StatusAnswered})
	if !errors.Is(err, ErrSubmissionNotEditable) {
		t.Fatalf("expected ErrSubmissionNotEditable, got %v", err)
	}
}

func TestNotFoundPaths(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	if _, err := svc.StartSubmission(ctx, 4242, 1); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
	if _, err := svc.SubmitSubmission(ctx, 4242); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	if _, err := svc.GetAnalysis(ctx, 4242); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	if _, err := svc.ListResponses(ctx, 4242); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func TestGetAnalysis_ReviewQuestions(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Review", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
		{Subject: "Physics", CorrectAnswer: "C", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answer(t, svc, sub.ID, qIDs[0], "A", StatusAnswered, 10)
	answer(t, svc, sub.ID, qIDs[1], "D", StatusAnswered, 20)
	answer(t, svc, sub.ID, qIDs[2], "", StatusNotAnswered, 30)
	if _, err := svc.SubmitSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	a, err := svc.GetAnalysis(ctx, sub.ID)
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if a.Submission.TestName != "Review" {
		t.Fatalf("expected test name on submission, got %q", a.Submission.TestName)
	}
	if len(a.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(a.Questions))
	}
	want := []string{OutcomeCorrect, OutcomeIncorrect, OutcomeUnattempted}
	for i, q := range a.Questions {
		if q.Outcome != want[i] {
			t.Fatalf("question %d outcome=%s want %s", i, q.Outcome, want[i])
		}
	}
	if len(a.SubjectAnalysis) != 2 || a.SubjectAnalysis[0].Subject != "Physics" {
		t.Fatalf("unexpected subject analysis: %+v", a.SubjectAnalysis)
	}
	phys := a.SubjectAnalysis[0]
	if phys.Score != 4 || phys.CorrectCount != 1 || phys.UnattemptedCount != 1 || phys.TimeSpent != 40 {
		t.Fatalf("unexpected physics analysis: %+v", phys)
	}
}

func TestSaveResponse_NormalizesSelectedAnswer(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Normalize", []seedQuestion{
		{Subject: "Maths", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	sel := " b "
	got, err := svc.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: qIDs[0], SelectedAnswer: &sel, TimeSpent: 8, Status: StatusAnswered})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.SelectedAnswer == nil || *got.SelectedAnswer != "B" {
		t.Fatalf("expected stored answer B, got %v", got.SelectedAnswer)
	}

	done, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *done.TotalScore != 4 || *done.CorrectCount != 1 {
		t.Fatalf("expected normalized answer to score as correct, got %+v", done)
	}
}

func TestSubmitSubmission_FailureLeavesNoPartialState(t *testing.T) {
	dbConn := openMemoryDB(t)
	svc := NewService(dbConn)
	ctx := context.Background()

	testID, qIDs := seedTest(t, dbConn, "Atomic", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	})
	sub, err := svc.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answer(t, svc, sub.ID, qIDs[0], "A", StatusAnswered, 20)
	answer(t, svc, sub.ID, qIDs[1], "C", StatusAnswered, 25)

	if _, err := dbConn.ExecContext(ctx, `
		CREATE TRIGGER fail_analysis_insert BEFORE INSERT ON analysis_records
		BEGIN
			SELECT RAISE(ABORT, 'analysis store unavailable');
		END
	`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if _, err := svc.SubmitSubmission(ctx, sub.ID); err == nil {
		t.Fatalf("expected submit to fail")
	}

	got, err := svc.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.Status != SubmissionInProgress || got.CompletedAt != nil {
		t.Fatalf("expected attempt to stay in_progress, got %+v", got)
	}
	if got.TotalScore != nil || got.CorrectCount != nil || got.IncorrectCount != nil || got.UnattemptedCount != nil ||
		got.Accuracy != nil || got.Percentile != nil || got.Rank != nil || got.TotalTime != nil {
		t.Fatalf("expected every scoring field to stay NULL, got %+v", got)
	}

	var records int
	if err := dbConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records WHERE submission_id = $1`, sub.ID).Scan(&records); err != nil {
		t.Fatalf("count analysis records: %v", err)
	}
	if records != 0 {
		t.Fatalf("expected no analysis records, got %d", records)
	}

	// The attempt is still submittable once storage recovers.
	if _, err := dbConn.ExecContext(ctx, `DROP TRIGGER fail_analysis_insert`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	done, err := svc.SubmitSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if done.Status != SubmissionCompleted || *done.TotalScore != 3 {
		t.Fatalf("unexpected retry result: %+v", done)
	}
}

// openFileDB opens a WAL sqlite file with several connections so two
// services can run transactions side by side.
func openFileDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
		filepath.Join(t.TempDir(), "exam.db"))
	dbConn, err := internaldb.OpenWithConfig(ctx, internaldb.DriverSQLite, dsn, internaldb.PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open file db: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	if err := internaldb.EnsureSchema(ctx, dbConn, internaldb.DriverSQLite); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return dbConn
}

func TestSaveResponse_SubmitDuringSaveWaitsForIt(t *testing.T) {
	dbConn := openFileDB(t)
	ctx := context.Background()
	saver := NewService(dbConn)
	submitter := NewService(dbConn)

	testID, qIDs := seedTest(t, dbConn, "Race", []seedQuestion{
		{Subject: "Physics", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	})
	sub, err := submitter.StartSubmission(ctx, testID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answer(t, submitter, sub.ID, qIDs[0], "A", StatusAnswered, 10)

	var (
		submitDone    = make(chan struct{})
		submitted     *Submission
		submitErr     error
		finishedEarly bool
		once          sync.Once
	)
	// now runs after the attempt is checked and before the upsert; a submit
	// started here must not complete until the save is committed.
	saver.now = func() time.Time {
		once.Do(func() {
			go func() {
				defer close(submitDone)
				submitted, submitErr = submitter.SubmitSubmission(ctx, sub.ID)
			}()
			select {
			case <-submitDone:
				finishedEarly = true
			case <-time.After(300 * time.Millisecond):
			}
		})
		return time.Now()
	}

	sel := "B"
	if _, err := saver.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: qIDs[0], SelectedAnswer: &sel, TimeSpent: 99, Status: StatusAnswered}); err != nil {
		t.Fatalf("save: %v", err)
	}
	<-submitDone

	if finishedEarly {
		t.Fatalf("submit completed while the response was being saved")
	}
	if submitErr != nil {
		t.Fatalf("submit: %v", submitErr)
	}

	items, err := submitter.ListResponses(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	if len(items) != 1 || *items[0].SelectedAnswer != "B" || items[0].TimeSpent != 99 {
		t.Fatalf("unexpected stored responses: %+v", items)
	}
	if submitted.Status != SubmissionCompleted || *submitted.TotalScore != 4 || *submitted.TotalTime != 99 {
		t.Fatalf("score must match the stored response, got %+v", submitted)
	}

	if _, err := saver.SaveResponse(ctx, SaveResponseInput{SubmissionID: sub.ID, QuestionID: qIDs[0], SelectedAnswer: &sel, Status: StatusAnswered}); !errors.Is(err, ErrSubmissionNotEditable) {
		t.Fatalf("expected ErrSubmissionNotEditable after submit, got %v", err)
	}
}
