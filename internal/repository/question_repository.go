package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interq/assessment-engine/internal/model"
)

// QuestionRepository handles question-bank data access. Only trusted paths
// (scoring, admin) read the full rows; the candidate path goes through the
// sanitized assessment paper.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByAssessment retrieves the full question bank in order, including
// correct options and point values.
func (r *QuestionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, question_text, question_type, options, correct_option, points, order_num
		 FROM questions
		 WHERE assessment_id = $1
		 ORDER BY order_num ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(
			&q.ID, &q.AssessmentID, &q.QuestionText, &q.QuestionType,
			&q.Options, &q.CorrectOption, &q.Points, &q.OrderNum,
		); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ReplaceAll swaps the question set for an assessment in one transaction and
// refreshes the cached question count.
func (r *QuestionRepository) ReplaceAll(ctx context.Context, assessmentID uuid.UUID, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM questions WHERE assessment_id = $1`, assessmentID); err != nil {
		return fmt.Errorf("delete old questions: %w", err)
	}

	if len(questions) > 0 {
		rows := make([][]interface{}, 0, len(questions))
		for i := range questions {
			q := &questions[i]
			rows = append(rows, []interface{}{
				assessmentID, q.QuestionText, q.QuestionType,
				q.Options, q.CorrectOption, q.Points, q.OrderNum,
			})
		}

		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"questions"},
			[]string{"assessment_id", "question_text", "question_type", "options", "correct_option", "points", "order_num"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assessments SET question_count = $2, updated_at = NOW() WHERE id = $1`,
		assessmentID, len(questions)); err != nil {
		return fmt.Errorf("update question count: %w", err)
	}

	return tx.Commit(ctx)
}
