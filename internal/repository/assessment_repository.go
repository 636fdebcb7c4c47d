package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interq/assessment-engine/internal/model"
)

// AssessmentRepository handles assessment data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

const assessmentColumns = `id, title, author_id, duration_minutes, pass_threshold,
	flags, question_count, status, created_at, updated_at`

func scanAssessment(row interface{ Scan(...any) error }) (*model.Assessment, error) {
	a := &model.Assessment{}
	var flags []byte

	err := row.Scan(
		&a.ID, &a.Title, &a.AuthorID, &a.DurationMinutes, &a.PassThreshold,
		&flags, &a.QuestionCount, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &a.Flags); err != nil {
			return nil, fmt.Errorf("decode flags: %w", err)
		}
	}
	return a, nil
}

// GetByID retrieves an assessment by id.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id)
	return scanAssessment(row)
}

// Create inserts a new draft assessment.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (title, author_id, duration_minutes, pass_threshold, flags, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.AuthorID, a.DurationMinutes, a.PassThreshold, flags, model.AssessmentStatusDraft,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// Update persists edits to an existing assessment.
func (r *AssessmentRepository) Update(ctx context.Context, a *model.Assessment) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE assessments
		 SET title = $2, duration_minutes = $3, pass_threshold = $4, flags = $5, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.Title, a.DurationMinutes, a.PassThreshold, flags,
	)
	return err
}

// UpdateStatus transitions the assessment lifecycle (publish, archive).
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AssessmentStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessments SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	return err
}

// Delete removes a draft assessment and its questions.
func (r *AssessmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM assessments WHERE id = $1`, id)
	return err
}

// List retrieves paginated assessments, newest first.
func (r *AssessmentRepository) List(ctx context.Context, page, perPage int) ([]model.Assessment, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assessments`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+`
		 FROM assessments
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, perPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *a)
	}
	return list, total, rows.Err()
}

// ListPublished retrieves every assessment candidates may currently attempt.
func (r *AssessmentRepository) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+`
		 FROM assessments
		 WHERE status = $1
		 ORDER BY created_at DESC`, model.AssessmentStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}
