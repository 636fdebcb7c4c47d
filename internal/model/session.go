package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates attempt session states. COMPLETED is one-way.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// ViolationType classifies integrity events recorded during an attempt.
type ViolationType string

const (
	ViolationTabSwitch     ViolationType = "TAB_SWITCH"
	ViolationClipboard     ViolationType = "CLIPBOARD"
	ViolationFaceAbsence   ViolationType = "FACE_ABSENCE"
	ViolationFaceKnockout  ViolationType = "FACE_KNOCKOUT"
	ViolationLimitExceeded ViolationType = "TAB_SWITCH_LIMIT"
)

// Violation is a single timestamped integrity log entry. Append-only while a
// session is active; frozen once the session completes.
type Violation struct {
	Type       ViolationType `json:"type"`
	Detail     string        `json:"detail"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// ViolationRecord is the queue payload handed to the violation worker and
// the live monitor channel: one violation with its session attribution.
type ViolationRecord struct {
	SessionID   uuid.UUID `json:"session_id"`
	CandidateID int       `json:"candidate_id"`
	Violation   Violation `json:"violation"`
}

// Session is the canonical snapshot of one candidate's attempt at one
// assessment: timer, position, collected answers and violation counters.
type Session struct {
	ID           uuid.UUID `json:"id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	CandidateID  int       `json:"candidate_id"`

	Status               SessionStatus `json:"status"`
	TimeRemaining        int           `json:"time_remaining"`
	CurrentQuestionIndex int           `json:"current_question_index"`

	Answers     map[uuid.UUID]Answer    `json:"answers"`
	ReviewMarks map[uuid.UUID]struct{}  `json:"review_marks"`

	TabSwitchCount     int         `json:"tab_switch_count"`
	ClipboardCount     int         `json:"clipboard_violation_count"`
	Violations         []Violation `json:"violations"`
	KnockedOut         bool        `json:"knocked_out"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
}

// Completed reports whether the session has reached its terminal state.
func (s *Session) Completed() bool {
	return s.Status == SessionStatusCompleted
}

// Progress is the derived, read-only view of answer completion. Always
// recomputed from the live maps, never cached.
type Progress struct {
	Answered   int `json:"answered_count"`
	Total      int `json:"total"`
	Unanswered int `json:"unanswered_count"`
	Review     int `json:"review_count"`
}

// ProgressFor computes completion against the assessment's question count.
func (s *Session) ProgressFor(totalQuestions int) Progress {
	answered := len(s.Answers)
	return Progress{
		Answered:   answered,
		Total:      totalQuestions,
		Unanswered: totalQuestions - answered,
		Review:     len(s.ReviewMarks),
	}
}

// IntegritySummary carries the violation counters onto the Result.
type IntegritySummary struct {
	TabSwitchCount int  `json:"tab_switch_count"`
	ClipboardCount int  `json:"clipboard_violation_count"`
	ViolationCount int  `json:"violation_count"`
	KnockedOut     bool `json:"knocked_out"`
}

// Integrity summarizes the session's violation state.
func (s *Session) Integrity() IntegritySummary {
	return IntegritySummary{
		TabSwitchCount: s.TabSwitchCount,
		ClipboardCount: s.ClipboardCount,
		ViolationCount: len(s.Violations),
		KnockedOut:     s.KnockedOut,
	}
}

// Clone returns a deep copy of the session, safe to hand to persistence or
// scoring without holding the runtime lock.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Answers = make(map[uuid.UUID]Answer, len(s.Answers))
	for k, v := range s.Answers {
		cp.Answers[k] = v
	}
	cp.ReviewMarks = make(map[uuid.UUID]struct{}, len(s.ReviewMarks))
	for k := range s.ReviewMarks {
		cp.ReviewMarks[k] = struct{}{}
	}
	cp.Violations = append([]Violation(nil), s.Violations...)
	if s.SubmittedAt != nil {
		at := *s.SubmittedAt
		cp.SubmittedAt = &at
	}
	return &cp
}

// SessionSnapshot is the durable autosave shape flushed by the runtime. It
// overwrites the previous snapshot for the session — not append-only.
type SessionSnapshot struct {
	SessionID            uuid.UUID              `json:"session_id"`
	AssessmentID         uuid.UUID              `json:"assessment_id"`
	CandidateID          int                    `json:"candidate_id"`
	TimeRemaining        int                    `json:"time_remaining"`
	CurrentQuestionIndex int                    `json:"current_question_index"`
	Answers              map[uuid.UUID]Answer   `json:"answers"`
	ReviewMarks          []uuid.UUID            `json:"review_marks"`
	TabSwitchCount       int                    `json:"tab_switch_count"`
	ClipboardCount       int                    `json:"clipboard_violation_count"`
	Violations           []Violation            `json:"violations"`
	KnockedOut           bool                   `json:"knocked_out"`
	LastActivityAt       time.Time              `json:"last_activity_at"`
}

// Snapshot derives the autosave payload from the session.
func (s *Session) Snapshot() SessionSnapshot {
	marks := make([]uuid.UUID, 0, len(s.ReviewMarks))
	for id := range s.ReviewMarks {
		marks = append(marks, id)
	}
	answers := make(map[uuid.UUID]Answer, len(s.Answers))
	for k, v := range s.Answers {
		answers[k] = v
	}
	return SessionSnapshot{
		SessionID:            s.ID,
		AssessmentID:         s.AssessmentID,
		CandidateID:          s.CandidateID,
		TimeRemaining:        s.TimeRemaining,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		Answers:              answers,
		ReviewMarks:          marks,
		TabSwitchCount:       s.TabSwitchCount,
		ClipboardCount:       s.ClipboardCount,
		Violations:           append([]Violation(nil), s.Violations...),
		KnockedOut:           s.KnockedOut,
		LastActivityAt:       s.LastActivityAt,
	}
}

// ApplySnapshot seeds in-memory state from the last persisted snapshot.
// Time is deliberately not re-derived from wall clock elapsed-since-start:
// a candidate resumes with the time_remaining that was last flushed.
func (s *Session) ApplySnapshot(snap *SessionSnapshot) {
	s.TimeRemaining = snap.TimeRemaining
	s.CurrentQuestionIndex = snap.CurrentQuestionIndex
	s.Answers = make(map[uuid.UUID]Answer, len(snap.Answers))
	for k, v := range snap.Answers {
		s.Answers[k] = v
	}
	s.ReviewMarks = make(map[uuid.UUID]struct{}, len(snap.ReviewMarks))
	for _, id := range snap.ReviewMarks {
		s.ReviewMarks[id] = struct{}{}
	}
	s.TabSwitchCount = snap.TabSwitchCount
	s.ClipboardCount = snap.ClipboardCount
	s.Violations = append([]Violation(nil), snap.Violations...)
	s.KnockedOut = snap.KnockedOut
	if !snap.LastActivityAt.IsZero() {
		s.LastActivityAt = snap.LastActivityAt
	}
}
