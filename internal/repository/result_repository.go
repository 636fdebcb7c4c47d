package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interq/assessment-engine/internal/model"
)

// ResultRepository handles scored outcome persistence. The write is an
// upsert keyed by session id: the timeout-forced submission racing a manual
// one recomputes the same deterministic Result, so the duplicate write is
// harmless by construction.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Upsert writes the result, overwriting an identical prior write.
func (r *ResultRepository) Upsert(ctx context.Context, res *model.Result) error {
	breakdown, err := json.Marshal(res.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO results
			(session_id, assessment_id, candidate_id, raw_score, total_points,
			 percentage, passed, breakdown, time_taken_seconds, completed_at,
			 tab_switch_count, clipboard_count, violation_count, knocked_out)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (session_id) DO UPDATE
		 SET raw_score = EXCLUDED.raw_score,
		     total_points = EXCLUDED.total_points,
		     percentage = EXCLUDED.percentage,
		     passed = EXCLUDED.passed,
		     breakdown = EXCLUDED.breakdown,
		     time_taken_seconds = EXCLUDED.time_taken_seconds,
		     completed_at = EXCLUDED.completed_at,
		     tab_switch_count = EXCLUDED.tab_switch_count,
		     clipboard_count = EXCLUDED.clipboard_count,
		     violation_count = EXCLUDED.violation_count,
		     knocked_out = EXCLUDED.knocked_out`,
		res.SessionID, res.AssessmentID, res.CandidateID, res.RawScore, res.TotalPoints,
		res.Percentage, res.Passed, breakdown, res.TimeTakenSeconds, res.CompletedAt,
		res.Integrity.TabSwitchCount, res.Integrity.ClipboardCount,
		res.Integrity.ViolationCount, res.Integrity.KnockedOut,
	)
	return err
}

// GetBySessionID retrieves the result for a session.
func (r *ResultRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	res := &model.Result{}
	var breakdown []byte

	err := r.pool.QueryRow(ctx,
		`SELECT session_id, assessment_id, candidate_id, raw_score, total_points,
		        percentage, passed, breakdown, time_taken_seconds, completed_at,
		        tab_switch_count, clipboard_count, violation_count, knocked_out
		 FROM results
		 WHERE session_id = $1`, sessionID,
	).Scan(
		&res.SessionID, &res.AssessmentID, &res.CandidateID, &res.RawScore, &res.TotalPoints,
		&res.Percentage, &res.Passed, &breakdown, &res.TimeTakenSeconds, &res.CompletedAt,
		&res.Integrity.TabSwitchCount, &res.Integrity.ClipboardCount,
		&res.Integrity.ViolationCount, &res.Integrity.KnockedOut,
	)
	if err != nil {
		return nil, err
	}

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &res.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return res, nil
}
