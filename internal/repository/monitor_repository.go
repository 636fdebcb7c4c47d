package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MonitorRepository serves the live proctoring dashboard: per-candidate
// answer progress and violation tallies across an assessment.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetAnsweredCounts returns candidate_id → answered question count for every
// session of the assessment, derived from the latest persisted snapshots.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, assessmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT candidate_id,
		        (SELECT COUNT(*) FROM jsonb_object_keys(answers)) AS answered
		 FROM assessment_sessions
		 WHERE assessment_id = $1`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var candidateID int
		var answered int64
		if err := rows.Scan(&candidateID, &answered); err != nil {
			return nil, err
		}
		counts[candidateID] = answered
	}
	return counts, rows.Err()
}

// GetViolationCounts returns candidate_id → recorded violation count for an
// assessment, from the append-only violation log.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, assessmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.candidate_id, COUNT(*)
		 FROM session_violations v
		 JOIN assessment_sessions s ON v.session_id = s.id
		 WHERE s.assessment_id = $1
		 GROUP BY v.candidate_id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var candidateID int
		var count int64
		if err := rows.Scan(&candidateID, &count); err != nil {
			return nil, err
		}
		counts[candidateID] = count
	}
	return counts, rows.Err()
}
