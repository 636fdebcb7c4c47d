package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/response"
)

// Domain errors.
var (
	ErrNotAssessmentAuthor    = errors.New("not the author of this assessment")
	ErrNoQuestions            = errors.New("assessment has no questions, cannot publish")
	ErrAssessmentNotDraft     = errors.New("assessment status is not DRAFT")
	ErrAssessmentNotPublished = errors.New("assessment status is not PUBLISHED")
)

// AssessmentService handles assessment authoring and the Redis paper cache.
// The cached paper is the only question shape the candidate path ever sees:
// correct options stay server-side with the scoring pipeline.
type AssessmentService struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetByID retrieves an assessment by its UUID.
func (s *AssessmentService) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return s.assessmentRepo.GetByID(ctx, id)
}

// List retrieves paginated assessments for the recruiter dashboard.
func (s *AssessmentService) List(ctx context.Context, page, perPage int) ([]model.Assessment, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	list, total, err := s.assessmentRepo.List(ctx, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []model.Assessment{}
	}

	totalPages := (int(total) + perPage - 1) / perPage
	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	}

	return list, pagination, nil
}

// ListPublished retrieves assessments candidates may attempt.
func (s *AssessmentService) ListPublished(ctx context.Context) ([]model.Assessment, error) {
	return s.assessmentRepo.ListPublished(ctx)
}

// Create inserts a new assessment as DRAFT.
func (s *AssessmentService) Create(ctx context.Context, a *model.Assessment) error {
	a.Status = model.AssessmentStatusDraft
	return s.assessmentRepo.Create(ctx, a)
}

// Update persists edits. Only the author may edit, and only drafts.
func (s *AssessmentService) Update(ctx context.Context, authorID int, a *model.Assessment) error {
	existing, err := s.assessmentRepo.GetByID(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if existing.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if existing.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}
	return s.assessmentRepo.Update(ctx, a)
}

// Delete removes a draft assessment.
func (s *AssessmentService) Delete(ctx context.Context, id uuid.UUID, authorID int) error {
	existing, err := s.assessmentRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if existing.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if existing.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}
	return s.assessmentRepo.Delete(ctx, id)
}

// ReplaceQuestions swaps the question set of a draft assessment.
func (s *AssessmentService) ReplaceQuestions(ctx context.Context, assessmentID uuid.UUID, authorID int, questions []model.Question) error {
	existing, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if existing.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if existing.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}
	return s.questionRepo.ReplaceAll(ctx, assessmentID, questions)
}

// GetQuestionBank retrieves the full graded question bank. Trusted callers
// only (scoring pipeline, recruiter review).
func (s *AssessmentService) GetQuestionBank(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	return s.questionRepo.ListByAssessment(ctx, assessmentID)
}

// Publish transitions DRAFT → PUBLISHED and prewarms the paper cache so the
// first candidate in never hits a cold path.
func (s *AssessmentService) Publish(ctx context.Context, assessmentID uuid.UUID, authorID int) error {
	a, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if a.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if a.Status != model.AssessmentStatusDraft {
		return ErrAssessmentNotDraft
	}

	if err := s.warmPaperCache(ctx, a); err != nil {
		return err
	}

	if err := s.assessmentRepo.UpdateStatus(ctx, assessmentID, model.AssessmentStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("assessment_id", assessmentID.String()).Msg("Assessment published")
	return nil
}

// Archive retires a published assessment from the candidate listing.
func (s *AssessmentService) Archive(ctx context.Context, assessmentID uuid.UUID, authorID int) error {
	a, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("get assessment: %w", err)
	}
	if a.AuthorID != authorID {
		return ErrNotAssessmentAuthor
	}
	if a.Status != model.AssessmentStatusPublished {
		return ErrAssessmentNotPublished
	}
	return s.assessmentRepo.UpdateStatus(ctx, assessmentID, model.AssessmentStatusArchived)
}

// warmPaperCache builds the sanitized candidate paper and caches it.
func (s *AssessmentService) warmPaperCache(ctx context.Context, a *model.Assessment) error {
	questions, err := s.questionRepo.ListByAssessment(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	paper := model.AssessmentPaper{
		AssessmentID:    a.ID,
		Title:           a.Title,
		DurationMinutes: a.DurationMinutes,
		Flags:           a.Flags,
		Questions:       make([]model.QuestionForCandidate, 0, len(questions)),
	}
	for i := range questions {
		paper.Questions = append(paper.Questions, questions[i].ForCandidate())
	}

	data, err := json.Marshal(&paper)
	if err != nil {
		return fmt.Errorf("encode paper: %w", err)
	}

	key := config.CacheKey.AssessmentPaperKey(a.ID.String())
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("cache paper: %w", err)
	}
	return nil
}

// PrewarmAllCaches loads every published assessment's paper into Redis.
// Called before the server accepts traffic so lazy loading never races a
// thundering herd.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	published, err := s.assessmentRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}

	for i := range published {
		if err := s.warmPaperCache(ctx, &published[i]); err != nil {
			s.log.Warn().Err(err).
				Str("assessment_id", published[i].ID.String()).
				Msg("Paper prewarm failed")
			continue
		}
	}

	s.log.Info().Int("count", len(published)).Msg("Paper caches prewarmed")
	return nil
}

// GetPaper returns the candidate-facing paper, preferring the Redis cache
// and self-healing from PostgreSQL on a miss.
func (s *AssessmentService) GetPaper(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentPaper, error) {
	key := config.CacheKey.AssessmentPaperKey(assessmentID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var paper model.AssessmentPaper
		if err := json.Unmarshal(data, &paper); err == nil {
			return &paper, nil
		}
		// Corrupt cache entry: fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get paper cache: %w", err)
	}

	a, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if a.Status != model.AssessmentStatusPublished {
		return nil, ErrAssessmentNotPublished
	}

	if err := s.warmPaperCache(ctx, a); err != nil {
		return nil, err
	}

	data, err = s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("reload paper cache: %w", err)
	}
	var paper model.AssessmentPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil, fmt.Errorf("decode paper: %w", err)
	}
	return &paper, nil
}
