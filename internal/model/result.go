package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionResult is one row of the per-question breakdown, in original
// question order.
type QuestionResult struct {
	QuestionID   uuid.UUID    `json:"question_id"`
	QuestionType QuestionType `json:"question_type"`
	Answer       *Answer      `json:"answer,omitempty"`
	Correct      bool         `json:"correct"`
	PointsEarned int          `json:"points_earned"`
}

// Result is the immutable scored outcome of a completed session. Created
// exactly once per session (upsert keyed by session_id tolerates the
// timeout-vs-manual submission race; scoring is deterministic so a duplicate
// write is identical).
type Result struct {
	SessionID    uuid.UUID `json:"session_id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	CandidateID  int       `json:"candidate_id"`

	RawScore    int  `json:"raw_score"`
	TotalPoints int  `json:"total_points"`
	Percentage  int  `json:"percentage"`
	Passed      bool `json:"passed"`

	Breakdown []QuestionResult `json:"breakdown"`

	TimeTakenSeconds int              `json:"time_taken_seconds"`
	CompletedAt      time.Time        `json:"completed_at"`
	Integrity        IntegritySummary `json:"integrity"`
}
