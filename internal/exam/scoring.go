package exam

import "strings"

const (
	StatusNotVisited  = "not_visited"
	StatusNotAnswered = "not_answered"
	StatusAnswered    = "answered"
)

const (
	OutcomeCorrect     = "correct"
	OutcomeIncorrect   = "incorrect"
	OutcomeUnattempted = "unattempted"
)

// AnswerKey is the part of a question the scoring engine needs.
type AnswerKey struct {
	QuestionID    int64
	Subject       string
	CorrectAnswer string
	Marks         float64
	NegativeMarks float64
}

// ResponseInput is one stored response as seen by the scoring engine.
type ResponseInput struct {
	QuestionID     int64
	SelectedAnswer string
	TimeSpent      int64
	Status         string
}

type PercentileRow struct {
	MarksThreshold float64 `json:"marks_threshold"`
	Percentile     float64 `json:"percentile"`
}

type QuestionOutcome struct {
	QuestionID  int64   `json:"question_id"`
	Subject     string  `json:"subject"`
	Outcome     string  `json:"outcome"`
	Selected    string  `json:"selected,omitempty"`
	Correct     string  `json:"correct"`
	EarnedScore float64 `json:"earned_score"`
	TimeSpent   int64   `json:"time_spent"`
}

type SubjectScore struct {
	Subject          string  `json:"subject"`
	Score            float64 `json:"score"`
	CorrectCount     int     `json:"correct_count"`
	IncorrectCount   int     `json:"incorrect_count"`
	UnattemptedCount int     `json:"unattempted_count"`
	TimeSpent        int64   `json:"time_spent"`
	Accuracy         float64 `json:"accuracy"`
}

type ScoreResult struct {
	TotalScore       float64           `json:"total_score"`
	CorrectCount     int               `json:"correct_count"`
	IncorrectCount   int               `json:"incorrect_count"`
	UnattemptedCount int               `json:"unattempted_count"`
	Accuracy         float64           `json:"accuracy"`
	TotalTime        int64             `json:"total_time"`
	Percentile       float64           `json:"percentile"`
	Rank             int               `json:"rank"`
	Subjects         []SubjectScore    `json:"subjects"`
	Items            []QuestionOutcome `json:"items"`
}

// Score grades every question of a test against the attempt's responses.
// Questions without a response count as unattempted. priorScores holds the
// total scores of the other completed attempts on the same test.
func Score(questions []AnswerKey, responses []ResponseInput, table []PercentileRow, priorScores []float64) ScoreResult {
	byQuestion := make(map[int64]ResponseInput, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	res := ScoreResult{
		Subjects: make([]SubjectScore, 0),
		Items:    make([]QuestionOutcome, 0, len(questions)),
	}
	subjectIdx := map[string]int{}

	for _, q := range questions {
		resp, hasResp := byQuestion[q.QuestionID]
		item := ScoreQuestion(q, resp, hasResp)
		res.Items = append(res.Items, item)

		idx, ok := subjectIdx[q.Subject]
		if !ok {
			idx = len(res.Subjects)
			subjectIdx[q.Subject] = idx
			res.Subjects = append(res.Subjects, SubjectScore{Subject: q.Subject})
		}
		sub := &res.Subjects[idx]

		switch item.Outcome {
		case OutcomeCorrect:
			res.CorrectCount++
			sub.CorrectCount++
		case OutcomeIncorrect:
			res.IncorrectCount++
			sub.IncorrectCount++
		default:
			res.UnattemptedCount++
			sub.UnattemptedCount++
		}
		res.TotalScore += item.EarnedScore
		sub.Score += item.EarnedScore
		res.TotalTime += item.TimeSpent
		sub.TimeSpent += item.TimeSpent
	}

	res.Accuracy = accuracy(res.CorrectCount, res.IncorrectCount)
	for i := range res.Subjects {
		res.Subjects[i].Accuracy = accuracy(res.Subjects[i].CorrectCount, res.Subjects[i].IncorrectCount)
	}
	res.Percentile = LookupPercentile(table, res.TotalScore)
	res.Rank = Rank(res.TotalScore, priorScores)
	return res
}

// ScoreQuestion classifies a single question. hasResp is false when the
// attempt never stored a response for it.
func ScoreQuestion(q AnswerKey, resp ResponseInput, hasResp bool) QuestionOutcome {
	out := QuestionOutcome{
		QuestionID: q.QuestionID,
		Subject:    q.Subject,
		Outcome:    OutcomeUnattempted,
		Correct:    q.CorrectAnswer,
	}
	if !hasResp {
		return out
	}

	out.TimeSpent = resp.TimeSpent
	if out.TimeSpent < 0 {
		out.TimeSpent = 0
	}
	if !isAttempted(resp) {
		return out
	}

	out.Selected = strings.TrimSpace(resp.SelectedAnswer)
	if out.Selected == strings.TrimSpace(q.CorrectAnswer) {
		out.Outcome = OutcomeCorrect
		out.EarnedScore = q.Marks
		return out
	}
	out.Outcome = OutcomeIncorrect
	out.EarnedScore = -q.NegativeMarks
	return out
}

// isAttempted is the single answered predicate used for totals and subjects.
func isAttempted(r ResponseInput) bool {
	return r.Status == StatusAnswered && strings.TrimSpace(r.SelectedAnswer) != ""
}

func accuracy(correct, incorrect int) float64 {
	if correct+incorrect == 0 {
		return 0
	}
	return float64(correct) / float64(correct+incorrect) * 100
}
