package exam

import (
	"math"
	"testing"
)

func twoQuestionKeys() []AnswerKey {
	return []AnswerKey{
		{QuestionID: 1, Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{QuestionID: 2, Subject: "Physics", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
	}
}

func TestScoreQuestion(t *testing.T) {
	key := AnswerKey{QuestionID: 7, Subject: "Maths", CorrectAnswer: "C", Marks: 4, NegativeMarks: 1}
	tests := []struct {
		name    string
		resp    ResponseInput
		hasResp bool
		outcome string
		earned  float64
		time    int64
	}{
		{name: "missing response", hasResp: false, outcome: OutcomeUnattempted, earned: 0, time: 0},
		{name: "not visited keeps time", resp: ResponseInput{QuestionID: 7, Status: StatusNotVisited, TimeSpent: 5}, hasResp: true, outcome: OutcomeUnattempted, earned: 0, time: 5},
		{name: "not answered with stale selection", resp: ResponseInput{QuestionID: 7, SelectedAnswer: "C", Status: StatusNotAnswered, TimeSpent: 12}, hasResp: true, outcome: OutcomeUnattempted, earned: 0, time: 12},
		{name: "answered without selection", resp: ResponseInput{QuestionID: 7, SelectedAnswer: " ", Status: StatusAnswered, TimeSpent: 3}, hasResp: true, outcome: OutcomeUnattempted, earned: 0, time: 3},
		{name: "correct", resp: ResponseInput{QuestionID: 7, SelectedAnswer: "C", Status: StatusAnswered, TimeSpent: 30}, hasResp: true, outcome: OutcomeCorrect, earned: 4, time: 30},
		{name: "lower case is a different answer", resp: ResponseInput{QuestionID: 7, SelectedAnswer: "c", Status: StatusAnswered, TimeSpent: 30}, hasResp: true, outcome: OutcomeIncorrect, earned: -1, time: 30},
		{name: "incorrect", resp: ResponseInput{QuestionID: 7, SelectedAnswer: "D", Status: StatusAnswered, TimeSpent: 40}, hasResp: true, outcome: OutcomeIncorrect, earned: -1, time: 40},
		{name: "negative time clamps", resp: ResponseInput{QuestionID: 7, SelectedAnswer: "D", Status: StatusAnswered, TimeSpent: -9}, hasResp: true, outcome: OutcomeIncorrect, earned: -1, time: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreQuestion(key, tc.resp, tc.hasResp)
			if got.Outcome != tc.outcome {
				t.Fatalf("outcome=%q want %q", got.Outcome, tc.outcome)
			}
			if got.EarnedScore != tc.earned {
				t.Fatalf("earned=%v want %v", got.EarnedScore, tc.earned)
			}
			if got.TimeSpent != tc.time {
				t.Fatalf("time=%d want %d", got.TimeSpent, tc.time)
			}
			if got.Correct != "C" {
				t.Fatalf("correct=%q want C", got.Correct)
			}
		})
	}
}

func TestScore_OneCorrectOneIncorrect(t *testing.T) {
	got := Score(twoQuestionKeys(), []ResponseInput{
		{QuestionID: 1, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 20},
		{QuestionID: 2, SelectedAnswer: "C", Status: StatusAnswered, TimeSpent: 25},
	}, nil, nil)

	if got.TotalScore != 3 {
		t.Fatalf("total=%v want 3", got.TotalScore)
	}
	if got.CorrectCount != 1 || got.IncorrectCount != 1 || got.UnattemptedCount != 0 {
		t.Fatalf("counts=%d/%d/%d want 1/1/0", got.CorrectCount, got.IncorrectCount, got.UnattemptedCount)
	}
	if got.Accuracy != 50 {
		t.Fatalf("accuracy=%v want 50", got.Accuracy)
	}
	if got.TotalTime != 45 {
		t.Fatalf("total time=%d want 45", got.TotalTime)
	}
	if got.Rank != 1 {
		t.Fatalf("rank=%d want 1", got.Rank)
	}
}

func TestScore_NoResponses(t *testing.T) {
	keys := []AnswerKey{
		{QuestionID: 1, Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{QuestionID: 2, Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
		{QuestionID: 3, Subject: "Maths", CorrectAnswer: "C", Marks: 4, NegativeMarks: 1},
	}
	table := []PercentileRow{{MarksThreshold: 10, Percentile: 60}}

	got := Score(keys, nil, table, nil)
	if got.TotalScore != 0 || got.UnattemptedCount != 3 || got.Accuracy != 0 || got.Percentile != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(got.Subjects) != 3 {
		t.Fatalf("subjects=%d want 3", len(got.Subjects))
	}
	for _, s := range got.Subjects {
		if s.UnattemptedCount != 1 || s.Accuracy != 0 {
			t.Fatalf("subject %s: %+v", s.Subject, s)
		}
	}

	empty := Score(keys, nil, nil, nil)
	if empty.Percentile != 0 {
		t.Fatalf("empty table percentile=%v want 0", empty.Percentile)
	}
}

func TestScore_EmptyQuestionBank(t *testing.T) {
	got := Score(nil, []ResponseInput{{QuestionID: 99, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 10}}, nil, []float64{5})
	if got.TotalScore != 0 || got.CorrectCount+got.IncorrectCount+got.UnattemptedCount != 0 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if got.TotalTime != 0 {
		t.Fatalf("orphan response time counted: %d", got.TotalTime)
	}
	if got.Rank != 2 {
		t.Fatalf("rank=%d want 2", got.Rank)
	}
	if got.Subjects == nil || got.Items == nil {
		t.Fatalf("expected non-nil slices")
	}
}

func TestScore_Invariants(t *testing.T) {
	keys := []AnswerKey{
		{QuestionID: 1, Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{QuestionID: 2, Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
		{QuestionID: 3, Subject: "Physics", CorrectAnswer: "C", Marks: 2.5, NegativeMarks: 0.5},
		{QuestionID: 4, Subject: "Maths", CorrectAnswer: "D", Marks: 4, NegativeMarks: 0},
		{QuestionID: 5, Subject: "Chemistry", CorrectAnswer: "A", Marks: 3, NegativeMarks: 1},
	}
	responseSets := [][]ResponseInput{
		nil,
		{
			{QuestionID: 1, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 10},
			{QuestionID: 2, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 11},
			{QuestionID: 3, SelectedAnswer: "B", Status: StatusAnswered, TimeSpent: 12},
			{QuestionID: 4, Status: StatusNotAnswered, TimeSpent: 13},
			{QuestionID: 5, Status: StatusNotVisited},
		},
		{
			{QuestionID: 1, SelectedAnswer: "B", Status: StatusAnswered, TimeSpent: 5},
			{QuestionID: 2, SelectedAnswer: "C", Status: StatusAnswered, TimeSpent: 5},
			{QuestionID: 3, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 5},
		},
		{
			{QuestionID: 1, SelectedAnswer: "A", Status: StatusAnswered},
			{QuestionID: 2, SelectedAnswer: "B", Status: StatusAnswered},
			{QuestionID: 3, SelectedAnswer: "C", Status: StatusAnswered},
			{QuestionID: 4, SelectedAnswer: "D", Status: StatusAnswered},
			{QuestionID: 5, SelectedAnswer: "A", Status: StatusAnswered},
		},
	}

	for i, responses := range responseSets {
		got := Score(keys, responses, nil, nil)

		if n := got.CorrectCount + got.IncorrectCount + got.UnattemptedCount; n != len(keys) {
			t.Fatalf("set %d: counts sum=%d want %d", i, n, len(keys))
		}
		if got.Accuracy < 0 || got.Accuracy > 100 {
			t.Fatalf("set %d: accuracy out of range: %v", i, got.Accuracy)
		}
		if got.CorrectCount+got.IncorrectCount == 0 && got.Accuracy != 0 {
			t.Fatalf("set %d: accuracy=%v want 0", i, got.Accuracy)
		}

		var itemSum, subjectSum float64
		var subjectTime int64
		for _, it := range got.Items {
			itemSum += it.EarnedScore
		}
		for _, s := range got.Subjects {
			subjectSum += s.Score
			subjectTime += s.TimeSpent
		}
		if math.Abs(itemSum-got.TotalScore) > 1e-9 {
			t.Fatalf("set %d: item sum=%v total=%v", i, itemSum, got.TotalScore)
		}
		if math.Abs(subjectSum-got.TotalScore) > 1e-9 {
			t.Fatalf("set %d: subject sum=%v total=%v", i, subjectSum, got.TotalScore)
		}
		if subjectTime != got.TotalTime {
			t.Fatalf("set %d: subject time=%d total=%d", i, subjectTime, got.TotalTime)
		}
	}
}

func TestScore_SingleChangeDelta(t *testing.T) {
	keys := twoQuestionKeys()
	base := []ResponseInput{
		{QuestionID: 1, SelectedAnswer: "A", Status: StatusAnswered},
		{QuestionID: 2, Status: StatusNotAnswered},
	}
	before := Score(keys, base, nil, nil).TotalScore

	tests := []struct {
		name  string
		resp  ResponseInput
		delta float64
	}{
		{name: "unattempted to correct", resp: ResponseInput{QuestionID: 2, SelectedAnswer: "B", Status: StatusAnswered}, delta: 4},
		{name: "unattempted to incorrect", resp: ResponseInput{QuestionID: 2, SelectedAnswer: "D", Status: StatusAnswered}, delta: -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			changed := []ResponseInput{base[0], tc.resp}
			after := Score(keys, changed, nil, nil).TotalScore
			if after-before != tc.delta {
				t.Fatalf("delta=%v want %v", after-before, tc.delta)
			}
		})
	}
}

func TestScore_SubjectOrderAndBreakdown(t *testing.T) {
	keys := []AnswerKey{
		{QuestionID: 1, Subject: "Physics", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1},
		{QuestionID: 2, Subject: "Chemistry", CorrectAnswer: "B", Marks: 4, NegativeMarks: 1},
		{QuestionID: 3, Subject: "Physics", CorrectAnswer: "C", Marks: 4, NegativeMarks: 1},
	}
	got := Score(keys, []ResponseInput{
		{QuestionID: 1, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 10},
		{QuestionID: 2, SelectedAnswer: "A", Status: StatusAnswered, TimeSpent: 20},
		{QuestionID: 3, SelectedAnswer: "D", Status: StatusAnswered, TimeSpent: 30},
	}, nil, nil)

	if len(got.Subjects) != 2 || got.Subjects[0].Subject != "Physics" || got.Subjects[1].Subject != "Chemistry" {
		t.Fatalf("unexpected subjects: %+v", got.Subjects)
	}
	phys := got.Subjects[0]
	if phys.Score != 3 || phys.CorrectCount != 1 || phys.IncorrectCount != 1 || phys.TimeSpent != 40 || phys.Accuracy != 50 {
		t.Fatalf("physics: %+v", phys)
	}
	chem := got.Subjects[1]
	if chem.Score != -1 || chem.IncorrectCount != 1 || chem.Accuracy != 0 || chem.TimeSpent != 20 {
		t.Fatalf("chemistry: %+v", chem)
	}
}

func TestLookupPercentile(t *testing.T) {
	table := []PercentileRow{
		{MarksThreshold: 50, Percentile: 80},
		{MarksThreshold: 90, Percentile: 99.9},
		{MarksThreshold: 75, Percentile: 95},
	}
	tests := []struct {
		score float64
		want  float64
	}{
		{score: 80, want: 95},
		{score: 90, want: 99.9},
		{score: 120, want: 99.9},
		{score: 75, want: 95},
		{score: 50, want: 80},
		{score: 49.5, want: 0},
		{score: -3, want: 0},
	}
	for _, tc := range tests {
		if got := LookupPercentile(table, tc.score); got != tc.want {
			t.Fatalf("score=%v percentile=%v want %v", tc.score, got, tc.want)
		}
	}
	if got := LookupPercentile(nil, 100); got != 0 {
		t.Fatalf("empty table percentile=%v want 0", got)
	}
}

func TestLookupPercentile_Monotonic(t *testing.T) {
	table := []PercentileRow{
		{MarksThreshold: 0, Percentile: 10},
		{MarksThreshold: 20, Percentile: 40},
		{MarksThreshold: 40, Percentile: 70},
		{MarksThreshold: 60, Percentile: 90},
	}
	prev := LookupPercentile(table, -10)
	for s := -9.5; s <= 100; s += 0.5 {
		cur := LookupPercentile(table, s)
		if cur < prev {
			t.Fatalf("percentile decreased at score %v: %v < %v", s, cur, prev)
		}
		prev = cur
	}
}

func TestScore_PercentileFromTable(t *testing.T) {
	keys := make([]AnswerKey, 0, 20)
	responses := make([]ResponseInput, 0, 20)
	for i := int64(1); i <= 20; i++ {
		keys = append(keys, AnswerKey{QuestionID: i, Subject: "Maths", CorrectAnswer: "A", Marks: 4, NegativeMarks: 1})
		responses = append(responses, ResponseInput{QuestionID: i, SelectedAnswer: "A", Status: StatusAnswered})
	}
	table := []PercentileRow{{MarksThreshold: 90, Percentile: 99.9}, {MarksThreshold: 75, Percentile: 95}, {MarksThreshold: 50, Percentile: 80}}

	got := Score(keys, responses, table, nil)
	if got.TotalScore != 80 {
		t.Fatalf("total=%v want 80", got.TotalScore)
	}
	if got.Percentile != 95 {
		t.Fatalf("percentile=%v want 95", got.Percentile)
	}
}

func TestRank(t *testing.T) {
	prior := []float64{90, 75, 75, 40}
	tests := []struct {
		score float64
		want  int
	}{
		{score: 100, want: 1},
		{score: 90, want: 1},
		{score: 80, want: 2},
		{score: 75, want: 2},
		{score: 60, want: 4},
		{score: 10, want: 5},
	}
	for _, tc := range tests {
		if got := Rank(tc.score, prior); got != tc.want {
			t.Fatalf("score=%v rank=%d want %d", tc.score, got, tc.want)
		}
	}
	if got := Rank(0, nil); got != 1 {
		t.Fatalf("first attempt rank=%d want 1", got)
	}
}
