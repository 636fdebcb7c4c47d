package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/interq/assessment-engine/internal/model"
)

func choiceQuestion(id uuid.UUID, correct string, points int) model.Question {
	return model.Question{
		ID:            id,
		QuestionType:  model.QuestionTypeSingleChoice,
		CorrectOption: correct,
		Points:        points,
	}
}

func TestScoreAllCorrect(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	questions := []model.Question{
		choiceQuestion(q1, "A", 10),
		choiceQuestion(q2, "C", 15),
	}
	assess := &model.Assessment{PassThreshold: 60}
	sess := &model.Session{
		ID: uuid.New(),
		Answers: map[uuid.UUID]model.Answer{
			q1: {Kind: model.AnswerKindChoice, Value: "A"},
			q2: {Kind: model.AnswerKindChoice, Value: "C"},
		},
	}

	res := Score(sess, assess, questions)

	if res.RawScore != 25 {
		t.Errorf("RawScore = %d, want 25", res.RawScore)
	}
	if res.TotalPoints != 25 {
		t.Errorf("TotalPoints = %d, want 25", res.TotalPoints)
	}
	if res.Percentage != 100 {
		t.Errorf("Percentage = %d, want 100", res.Percentage)
	}
	if !res.Passed {
		t.Error("expected Passed = true")
	}
	if len(res.Breakdown) != 2 {
		t.Fatalf("Breakdown length = %d, want 2", len(res.Breakdown))
	}
	for i, row := range res.Breakdown {
		if !row.Correct {
			t.Errorf("Breakdown[%d].Correct = false, want true", i)
		}
	}
}

func TestScoreMissingAnswersEarnZero(t *testing.T) {
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()
	questions := []model.Question{
		choiceQuestion(q1, "A", 10),
		choiceQuestion(q2, "B", 10),
		choiceQuestion(q3, "C", 10),
	}
	assess := &model.Assessment{PassThreshold: 50}
	sess := &model.Session{
		ID: uuid.New(),
		Answers: map[uuid.UUID]model.Answer{
			q1: {Kind: model.AnswerKindChoice, Value: "A"},
		},
	}

	res := Score(sess, assess, questions)

	if res.RawScore != 10 {
		t.Errorf("RawScore = %d, want 10", res.RawScore)
	}
	if res.Percentage != 33 {
		t.Errorf("Percentage = %d, want 33 (round of 33.33)", res.Percentage)
	}
	if res.Passed {
		t.Error("expected Passed = false below threshold")
	}
	if res.Breakdown[1].Answer != nil {
		t.Error("unanswered question should carry a nil answer")
	}
	if res.Breakdown[1].Correct || res.Breakdown[1].PointsEarned != 0 {
		t.Error("unanswered question must earn zero points")
	}
}

func TestScoreWrongChoiceEarnsZero(t *testing.T) {
	q1 := uuid.New()
	questions := []model.Question{choiceQuestion(q1, "B", 20)}
	assess := &model.Assessment{PassThreshold: 0}
	sess := &model.Session{
		ID:      uuid.New(),
		Answers: map[uuid.UUID]model.Answer{q1: {Kind: model.AnswerKindChoice, Value: "A"}},
	}

	res := Score(sess, assess, questions)

	if res.RawScore != 0 {
		t.Errorf("RawScore = %d, want 0", res.RawScore)
	}
	if !res.Passed {
		t.Error("threshold 0 passes even a zero score")
	}
	if res.Breakdown[0].Answer == nil {
		t.Error("answered question should carry its answer")
	}
}

func TestScoreCodeQuestionsPendingReview(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	questions := []model.Question{
		choiceQuestion(q1, "A", 10),
		{ID: q2, QuestionType: model.QuestionTypeCode, Points: 50},
	}
	assess := &model.Assessment{PassThreshold: 10}
	sess := &model.Session{
		ID: uuid.New(),
		Answers: map[uuid.UUID]model.Answer{
			q1: {Kind: model.AnswerKindChoice, Value: "A"},
			q2: {Kind: model.AnswerKindCode, Value: "func main() {}"},
		},
	}

	res := Score(sess, assess, questions)

	// CODE points count toward the denominator but never auto-grade.
	if res.TotalPoints != 60 {
		t.Errorf("TotalPoints = %d, want 60", res.TotalPoints)
	}
	if res.RawScore != 10 {
		t.Errorf("RawScore = %d, want 10", res.RawScore)
	}
	if res.Breakdown[1].Correct || res.Breakdown[1].PointsEarned != 0 {
		t.Error("code questions must be recorded with zero points")
	}
	if res.Breakdown[1].Answer == nil {
		t.Error("submitted code answer must appear in the breakdown")
	}
}

func TestScorePercentageRounding(t *testing.T) {
	cases := []struct {
		name    string
		correct int
		total   int
		want    int
	}{
		{"two thirds rounds up", 2, 3, 67},
		{"one third rounds down", 1, 3, 33},
		{"exact half", 1, 2, 50},
		{"five sixths", 5, 6, 83},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			questions := make([]model.Question, tc.total)
			answers := make(map[uuid.UUID]model.Answer)
			for i := 0; i < tc.total; i++ {
				id := uuid.New()
				questions[i] = choiceQuestion(id, "A", 1)
				if i < tc.correct {
					answers[id] = model.Answer{Kind: model.AnswerKindChoice, Value: "A"}
				}
			}
			res := Score(&model.Session{ID: uuid.New(), Answers: answers},
				&model.Assessment{}, questions)
			if res.Percentage != tc.want {
				t.Errorf("Percentage = %d, want %d", res.Percentage, tc.want)
			}
		})
	}
}

func TestScorePassThresholdBoundary(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	questions := []model.Question{
		choiceQuestion(q1, "A", 1),
		choiceQuestion(q2, "A", 1),
	}
	sess := &model.Session{
		ID:      uuid.New(),
		Answers: map[uuid.UUID]model.Answer{q1: {Kind: model.AnswerKindChoice, Value: "A"}},
	}

	// Exactly at threshold passes.
	res := Score(sess, &model.Assessment{PassThreshold: 50}, questions)
	if !res.Passed {
		t.Error("percentage equal to threshold must pass")
	}

	res = Score(sess, &model.Assessment{PassThreshold: 51}, questions)
	if res.Passed {
		t.Error("percentage below threshold must fail")
	}
}

func TestScoreEmptyQuestionBank(t *testing.T) {
	res := Score(&model.Session{ID: uuid.New()}, &model.Assessment{PassThreshold: 60}, nil)
	if res.TotalPoints != 0 || res.RawScore != 0 {
		t.Errorf("empty bank: raw=%d total=%d, want 0/0", res.RawScore, res.TotalPoints)
	}
	if res.Percentage != 0 {
		t.Errorf("Percentage = %d, want 0 with no points available", res.Percentage)
	}
	if res.Passed {
		t.Error("zero percentage must not pass a 60 threshold")
	}
}

func TestScoreDeterministic(t *testing.T) {
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()
	questions := []model.Question{
		choiceQuestion(q1, "A", 5),
		choiceQuestion(q2, "B", 5),
		{ID: q3, QuestionType: model.QuestionTypeCode, Points: 10},
	}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := &model.Session{
		ID:           uuid.New(),
		AssessmentID: uuid.New(),
		CandidateID:  7,
		Answers: map[uuid.UUID]model.Answer{
			q1: {Kind: model.AnswerKindChoice, Value: "A"},
			q3: {Kind: model.AnswerKindCode, Value: "x"},
		},
		TimeRemaining:  120,
		TabSwitchCount: 2,
		SubmittedAt:    &at,
	}
	assess := &model.Assessment{DurationMinutes: 10, PassThreshold: 25,
		Flags: model.ProctoringFlags{TimerEnabled: true}}

	first := Score(sess, assess, questions)
	second := Score(sess, assess, questions)

	if first.RawScore != second.RawScore || first.Percentage != second.Percentage ||
		first.Passed != second.Passed || first.TimeTakenSeconds != second.TimeTakenSeconds {
		t.Error("repeated scoring of the same session must be identical")
	}
	if len(first.Breakdown) != len(second.Breakdown) {
		t.Fatal("breakdown lengths differ between runs")
	}
	for i := range first.Breakdown {
		if first.Breakdown[i].QuestionID != second.Breakdown[i].QuestionID ||
			first.Breakdown[i].PointsEarned != second.Breakdown[i].PointsEarned {
			t.Errorf("breakdown row %d differs between runs", i)
		}
	}
}

func TestScoreTimeTakenFromCountdown(t *testing.T) {
	assess := &model.Assessment{DurationMinutes: 10,
		Flags: model.ProctoringFlags{TimerEnabled: true}}
	sess := &model.Session{ID: uuid.New(), TimeRemaining: 540}

	res := Score(sess, assess, nil)
	if res.TimeTakenSeconds != 60 {
		t.Errorf("TimeTakenSeconds = %d, want 60", res.TimeTakenSeconds)
	}
}

func TestScoreTimeTakenFromWallClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(7 * time.Minute)
	assess := &model.Assessment{DurationMinutes: 10} // timer off
	sess := &model.Session{ID: uuid.New(), CreatedAt: start, SubmittedAt: &end}

	res := Score(sess, assess, nil)
	if res.TimeTakenSeconds != 420 {
		t.Errorf("TimeTakenSeconds = %d, want 420", res.TimeTakenSeconds)
	}
}

func TestScoreCarriesIntegrity(t *testing.T) {
	sess := &model.Session{
		ID:             uuid.New(),
		TabSwitchCount: 4,
		ClipboardCount: 2,
		Violations: []model.Violation{
			{Type: model.ViolationTabSwitch},
			{Type: model.ViolationClipboard},
			{Type: model.ViolationClipboard},
		},
		KnockedOut: true,
	}

	res := Score(sess, &model.Assessment{}, nil)
	if res.Integrity.TabSwitchCount != 4 || res.Integrity.ClipboardCount != 2 {
		t.Errorf("integrity counters not carried: %+v", res.Integrity)
	}
	if res.Integrity.ViolationCount != 3 {
		t.Errorf("ViolationCount = %d, want 3", res.Integrity.ViolationCount)
	}
	if !res.Integrity.KnockedOut {
		t.Error("knockout flag not carried onto the result")
	}
}
