package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interq/assessment-engine/internal/model"
)

// SessionRepository handles attempt session data access. The session row per
// id is the only shared mutable resource between the live runtime and the
// persistence layer; snapshot writes overwrite, they never append.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, assessment_id, candidate_id, status, time_remaining,
	current_question_index, answers, review_marks, tab_switch_count,
	clipboard_count, violations, knocked_out, created_at, last_activity_at,
	submitted_at`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	s := &model.Session{}
	var answers, marks, violations []byte

	err := row.Scan(
		&s.ID, &s.AssessmentID, &s.CandidateID, &s.Status, &s.TimeRemaining,
		&s.CurrentQuestionIndex, &answers, &marks, &s.TabSwitchCount,
		&s.ClipboardCount, &violations, &s.KnockedOut, &s.CreatedAt,
		&s.LastActivityAt, &s.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Answers = make(map[uuid.UUID]model.Answer)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}

	var markList []uuid.UUID
	if len(marks) > 0 {
		if err := json.Unmarshal(marks, &markList); err != nil {
			return nil, fmt.Errorf("decode review marks: %w", err)
		}
	}
	s.ReviewMarks = make(map[uuid.UUID]struct{}, len(markList))
	for _, id := range markList {
		s.ReviewMarks[id] = struct{}{}
	}

	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &s.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
	}

	return s, nil
}

// GetActive retrieves the single active session for an
// (assessment, candidate) pair, if any. Resume-by-pair rather than by id
// enforces the one-active-session invariant when the client holds no id yet.
func (r *SessionRepository) GetActive(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE assessment_id = $1 AND candidate_id = $2 AND status = $3`,
		assessmentID, candidateID, model.SessionStatusActive,
	)
	return scanSession(row)
}

// GetByID retrieves a session by its id, regardless of status.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE id = $1`, sessionID,
	)
	return scanSession(row)
}

// GetLatestByPair retrieves the most recent session for a pair, active or
// completed. Used by the candidate result path.
func (r *SessionRepository) GetLatestByPair(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE assessment_id = $1 AND candidate_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		assessmentID, candidateID,
	)
	return scanSession(row)
}

// Create inserts a new active session. The partial unique index on
// (assessment_id, candidate_id) WHERE status = 'ACTIVE' makes a concurrent
// create surface as pgx.ErrNoRows here, which callers resolve by re-fetching
// the winner.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessment_sessions
			(assessment_id, candidate_id, status, time_remaining, current_question_index)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (assessment_id, candidate_id) WHERE status = 'ACTIVE' DO NOTHING
		 RETURNING id, created_at, last_activity_at`,
		s.AssessmentID, s.CandidateID, model.SessionStatusActive, s.TimeRemaining,
	).Scan(&s.ID, &s.CreatedAt, &s.LastActivityAt)
}

// UpsertSnapshot overwrites the persisted snapshot for an active session.
// A snapshot arriving after completion is a deliberate no-op so a stale
// queued autosave can never thaw a terminal session.
func (r *SessionRepository) UpsertSnapshot(ctx context.Context, snap *model.SessionSnapshot) error {
	answers, err := json.Marshal(snap.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	marks, err := json.Marshal(snap.ReviewMarks)
	if err != nil {
		return fmt.Errorf("encode review marks: %w", err)
	}
	violations, err := json.Marshal(snap.Violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET time_remaining = $2,
		     current_question_index = $3,
		     answers = $4,
		     review_marks = $5,
		     tab_switch_count = $6,
		     clipboard_count = $7,
		     violations = $8,
		     knocked_out = $9,
		     last_activity_at = $10
		 WHERE id = $1 AND status = 'ACTIVE'`,
		snap.SessionID, snap.TimeRemaining, snap.CurrentQuestionIndex,
		answers, marks, snap.TabSwitchCount, snap.ClipboardCount,
		violations, snap.KnockedOut, snap.LastActivityAt,
	)
	return err
}

// MarkCompleted flips the lifecycle flag. One-way: a completed session never
// goes back to active.
func (r *SessionRepository) MarkCompleted(ctx context.Context, sessionID uuid.UUID, submittedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $2, submitted_at = $3
		 WHERE id = $1 AND status = 'ACTIVE'`,
		sessionID, model.SessionStatusCompleted, submittedAt,
	)
	return err
}

// SessionResultRow combines candidate data with attempt outcome for the
// recruiter results listing.
type SessionResultRow struct {
	SessionID      uuid.UUID           `json:"session_id"`
	CandidateID    int                 `json:"candidate_id"`
	CandidateName  string              `json:"candidate_name"`
	CandidateEmail string              `json:"candidate_email"`
	Status         model.SessionStatus `json:"status"`
	Percentage     *int                `json:"percentage"`
	Passed         *bool               `json:"passed"`
	TabSwitchCount int                 `json:"tab_switch_count"`
	ClipboardCount int                 `json:"clipboard_violation_count"`
	KnockedOut     bool                `json:"knocked_out"`
	StartedAt      time.Time           `json:"started_at"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
}

// ListByAssessment retrieves paginated attempt outcomes for an assessment.
func (r *SessionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID, page, perPage int) ([]SessionResultRow, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assessment_sessions WHERE assessment_id = $1`,
		assessmentID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.candidate_id, c.name, c.email, s.status,
		        r.percentage, r.passed,
		        s.tab_switch_count, s.clipboard_count, s.knocked_out,
		        s.created_at, s.submitted_at
		 FROM assessment_sessions s
		 JOIN candidates c ON s.candidate_id = c.id
		 LEFT JOIN results r ON r.session_id = s.id
		 WHERE s.assessment_id = $1
		 ORDER BY c.name ASC, s.created_at DESC
		 LIMIT $2 OFFSET $3`,
		assessmentID, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []SessionResultRow
	for rows.Next() {
		var row SessionResultRow
		if err := rows.Scan(
			&row.SessionID, &row.CandidateID, &row.CandidateName, &row.CandidateEmail,
			&row.Status, &row.Percentage, &row.Passed,
			&row.TabSwitchCount, &row.ClipboardCount, &row.KnockedOut,
			&row.StartedAt, &row.SubmittedAt,
		); err != nil {
			return nil, 0, err
		}
		results = append(results, row)
	}

	return results, total, rows.Err()
}
