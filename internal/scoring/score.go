// Package scoring turns a frozen session and its question bank into a
// Result. It is pure: no clocks, no I/O, no mutation of its inputs, so a
// duplicate invocation on the same session yields an identical Result.
package scoring

import (
	"math"
	"time"

	"github.com/interq/assessment-engine/internal/model"
)

// Score grades every question of the assessment against the session's
// collected answers, in original question order. Missing answers are
// incorrect and earn zero points. CODE questions are recorded with zero
// points pending manual review; only SINGLE_CHOICE is auto-graded, by
// exact-match equality against the stored correct option.
//
// Persisting the Result is the caller's job.
func Score(sess *model.Session, assess *model.Assessment, questions []model.Question) *model.Result {
	breakdown := make([]model.QuestionResult, 0, len(questions))
	rawScore := 0
	totalPoints := 0

	for _, q := range questions {
		totalPoints += q.Points

		row := model.QuestionResult{
			QuestionID:   q.ID,
			QuestionType: q.QuestionType,
		}

		if ans, ok := sess.Answers[q.ID]; ok {
			a := ans
			row.Answer = &a

			if q.QuestionType == model.QuestionTypeSingleChoice &&
				ans.Kind == model.AnswerKindChoice &&
				ans.Value == q.CorrectOption {
				row.Correct = true
				row.PointsEarned = q.Points
				rawScore += q.Points
			}
		}

		breakdown = append(breakdown, row)
	}

	percentage := 0
	if totalPoints > 0 {
		percentage = int(math.Round(100 * float64(rawScore) / float64(totalPoints)))
	}

	completedAt := time.Time{}
	if sess.SubmittedAt != nil {
		completedAt = *sess.SubmittedAt
	}

	return &model.Result{
		SessionID:        sess.ID,
		AssessmentID:     sess.AssessmentID,
		CandidateID:      sess.CandidateID,
		RawScore:         rawScore,
		TotalPoints:      totalPoints,
		Percentage:       percentage,
		Passed:           percentage >= assess.PassThreshold,
		Breakdown:        breakdown,
		TimeTakenSeconds: timeTaken(sess, assess),
		CompletedAt:      completedAt,
		Integrity:        sess.Integrity(),
	}
}

// timeTaken derives attempt duration from the countdown when the timer was
// on, falling back to wall-clock timestamps otherwise.
func timeTaken(sess *model.Session, assess *model.Assessment) int {
	if assess.Flags.TimerEnabled {
		taken := assess.DurationSeconds() - sess.TimeRemaining
		if taken < 0 {
			return 0
		}
		return taken
	}
	if sess.SubmittedAt == nil || sess.CreatedAt.IsZero() {
		return 0
	}
	taken := int(sess.SubmittedAt.Sub(sess.CreatedAt).Seconds())
	if taken < 0 {
		return 0
	}
	return taken
}
