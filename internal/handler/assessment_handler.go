package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/response"
	"github.com/interq/assessment-engine/internal/service"
	"github.com/interq/assessment-engine/internal/validator"
)

// AssessmentHandler handles the recruiter-facing assessment endpoints.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
	sessionService    *service.SessionService
	sessionRepo       *repository.SessionRepository
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(
	assessmentService *service.AssessmentService,
	sessionService *service.SessionService,
	sessionRepo *repository.SessionRepository,
) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		sessionService:    sessionService,
		sessionRepo:       sessionRepo,
	}
}

// List godoc
// GET /api/v1/recruiter/assessments
func (h *AssessmentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	assessments, pagination, err := h.assessmentService.List(c.Request.Context(), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"assessments": assessments}, pagination)
}

// Get godoc
// GET /api/v1/recruiter/assessments/:assessment_id
func (h *AssessmentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// Create godoc
// POST /api/v1/recruiter/assessments
func (h *AssessmentHandler) Create(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment := &model.Assessment{
		ID:              uuid.New(),
		Title:           req.Title,
		AuthorID:        claims.UserID,
		DurationMinutes: req.DurationMinutes,
		PassThreshold:   req.PassThreshold,
	}
	if req.Flags != nil {
		assessment.Flags = *req.Flags
	}

	if err := h.assessmentService.Create(c.Request.Context(), assessment); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assessment": assessment})
}

// Update godoc
// PUT /api/v1/recruiter/assessments/:assessment_id
func (h *AssessmentHandler) Update(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpdateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	if req.Title != "" {
		assessment.Title = req.Title
	}
	if req.DurationMinutes > 0 {
		assessment.DurationMinutes = req.DurationMinutes
	}
	if req.PassThreshold != nil {
		assessment.PassThreshold = *req.PassThreshold
	}
	if req.Flags != nil {
		assessment.Flags = *req.Flags
	}

	if err := h.assessmentService.Update(c.Request.Context(), claims.UserID, assessment); err != nil {
		failAssessmentError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": assessment})
}

// Delete godoc
// DELETE /api/v1/recruiter/assessments/:assessment_id
func (h *AssessmentHandler) Delete(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.assessmentService.Delete(c.Request.Context(), id, claims.UserID); err != nil {
		failAssessmentError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// Publish godoc
// POST /api/v1/recruiter/assessments/:assessment_id/publish
func (h *AssessmentHandler) Publish(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.assessmentService.Publish(c.Request.Context(), id, claims.UserID); err != nil {
		failAssessmentError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "published"})
}

// Archive godoc
// POST /api/v1/recruiter/assessments/:assessment_id/archive
func (h *AssessmentHandler) Archive(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.assessmentService.Archive(c.Request.Context(), id, claims.UserID); err != nil {
		failAssessmentError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "archived"})
}

// GetQuestions godoc
// GET /api/v1/recruiter/assessments/:assessment_id/questions
// Returns the full question bank including grading keys.
func (h *AssessmentHandler) GetQuestions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	questions, err := h.assessmentService.GetQuestionBank(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// ReplaceQuestions godoc
// PUT /api/v1/recruiter/assessments/:assessment_id/questions
// Replaces the entire question set of a draft assessment.
func (h *AssessmentHandler) ReplaceQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions := make([]model.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		questions = append(questions, model.Question{
			ID:            uuid.New(),
			AssessmentID:  id,
			QuestionText:  q.QuestionText,
			QuestionType:  model.QuestionType(q.QuestionType),
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
			Points:        q.Points,
			OrderNum:      i,
		})
	}

	if err := h.assessmentService.ReplaceQuestions(c.Request.Context(), id, claims.UserID, questions); err != nil {
		failAssessmentError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_count": len(questions)})
}

// ListResults godoc
// GET /api/v1/recruiter/assessments/:assessment_id/results
// Lists every attempt on the assessment with scores and integrity counters.
func (h *AssessmentHandler) ListResults(c *gin.Context) {
	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "25"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	rows, total, err := h.sessionRepo.ListByAssessment(c.Request.Context(), id, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if rows == nil {
		rows = []repository.SessionResultRow{}
	}

	totalPages := (int(total) + perPage - 1) / perPage
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": rows}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// GetSessionResult godoc
// GET /api/v1/recruiter/sessions/:session_id/result
// Returns the full per-question breakdown for one attempt.
func (h *AssessmentHandler) GetSessionResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.GetOrComputeResult(c.Request.Context(), id)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// failAssessmentError maps assessment service errors to API error codes.
func failAssessmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotAssessmentAuthor):
		response.Fail(c, http.StatusForbidden, response.ErrNotAuthor)
	case errors.Is(err, service.ErrAssessmentNotDraft):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotDraftCode)
	case errors.Is(err, service.ErrAssessmentNotPublished):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotPub)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusConflict, response.ErrNoQuestionsCode)
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// failSessionError maps session service errors to API error codes.
func failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrResultNotReady):
		response.Fail(c, http.StatusConflict, response.ErrResultNotReady)
	case errors.Is(err, service.ErrAssessmentNotPublished):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotPub)
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
