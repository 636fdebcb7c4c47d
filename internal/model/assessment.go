package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus enumerates the possible states of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
	AssessmentStatusArchived  AssessmentStatus = "ARCHIVED"
)

// ProctoringFlags configure which proctoring signals are enforced for an
// assessment and how the countdown behaves.
type ProctoringFlags struct {
	TimerEnabled        bool `json:"timer_enabled"`
	AutoSubmitOnTimeout bool `json:"auto_submit_on_timeout"`
	TabSwitchDetection  bool `json:"tab_switch_detection"`
	MaxTabSwitches      int  `json:"max_tab_switches"`
	FaceDetection       bool `json:"face_detection_enabled"`
	GracePeriodSeconds  int  `json:"grace_period_seconds"`
}

// Assessment represents a proctored assessment definition. Immutable from the
// point of view of a running attempt.
type Assessment struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	AuthorID        int              `json:"author_id"`
	DurationMinutes int              `json:"duration_minutes"`
	PassThreshold   int              `json:"pass_threshold"`
	Flags           ProctoringFlags  `json:"flags"`
	QuestionCount   int              `json:"question_count"`
	Status          AssessmentStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// DurationSeconds returns the configured attempt duration in seconds, which
// is the unit the session engine counts in.
func (a *Assessment) DurationSeconds() int {
	return a.DurationMinutes * 60
}

// CreateAssessmentRequest is the payload for creating a new assessment.
type CreateAssessmentRequest struct {
	Title           string           `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes int              `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassThreshold   int              `json:"pass_threshold" binding:"min=0,max=100"`
	Flags           *ProctoringFlags `json:"flags" binding:"omitempty"`
}

// UpdateAssessmentRequest is the payload for updating an existing assessment.
type UpdateAssessmentRequest struct {
	Title           string           `json:"title" binding:"omitempty,min=3,max=255"`
	DurationMinutes int              `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassThreshold   *int             `json:"pass_threshold" binding:"omitempty,min=0,max=100"`
	Flags           *ProctoringFlags `json:"flags" binding:"omitempty"`
}

// AssessmentPaper is the candidate-facing payload: questions without any
// correct-answer data. Cached in Redis once the assessment is published.
type AssessmentPaper struct {
	AssessmentID    uuid.UUID              `json:"assessment_id"`
	Title           string                 `json:"title"`
	DurationMinutes int                    `json:"duration_minutes"`
	Flags           ProctoringFlags        `json:"flags"`
	Questions       []QuestionForCandidate `json:"questions"`
}
