package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/response"
	"github.com/interq/assessment-engine/internal/service"
)

// CandidatePortalHandler handles the candidate-facing assessment endpoints.
type CandidatePortalHandler struct {
	assessmentService *service.AssessmentService
	sessionService    *service.SessionService
}

// NewCandidatePortalHandler creates a new CandidatePortalHandler.
func NewCandidatePortalHandler(
	assessmentService *service.AssessmentService,
	sessionService *service.SessionService,
) *CandidatePortalHandler {
	return &CandidatePortalHandler{
		assessmentService: assessmentService,
		sessionService:    sessionService,
	}
}

// ListAssessments godoc
// GET /api/v1/candidate/assessments
// Lists published assessments the candidate may attempt.
func (h *CandidatePortalHandler) ListAssessments(c *gin.Context) {
	assessments, err := h.assessmentService.ListPublished(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if assessments == nil {
		assessments = []model.Assessment{}
	}

	// Candidates see the listing, not authoring metadata.
	listing := make([]gin.H, 0, len(assessments))
	for i := range assessments {
		a := &assessments[i]
		listing = append(listing, gin.H{
			"id":               a.ID,
			"title":            a.Title,
			"duration_minutes": a.DurationMinutes,
			"question_count":   a.QuestionCount,
			"flags":            a.Flags,
		})
	}

	response.Success(c, http.StatusOK, gin.H{"assessments": listing})
}

// GetPaper godoc
// GET /api/v1/candidate/assessments/:assessment_id/paper
// Returns the sanitized question paper. Requires an active session.
func (h *CandidatePortalHandler) GetPaper(c *gin.Context) {
	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.assessmentService.GetPaper(c.Request.Context(), id)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// StartOrResumeSession godoc
// POST /api/v1/candidate/assessments/:assessment_id/session
// Returns the candidate's live session for the assessment, creating one when
// none is active. Calling it twice never produces two sessions.
func (h *CandidatePortalHandler) StartOrResumeSession(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.CreateOrResume(c.Request.Context(), id, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	status := http.StatusOK
	if !state.Resumed {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"session": state})
}

// GetSessionState godoc
// GET /api/v1/candidate/sessions/:session_id
// Returns the current state of the candidate's own session.
func (h *CandidatePortalHandler) GetSessionState(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), id, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// GetResult godoc
// GET /api/v1/candidate/sessions/:session_id/result
// Returns the candidate's own scored outcome once the session completed.
func (h *CandidatePortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)

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
	if result.CandidateID != claims.UserID {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	// Candidates get the outcome, not the per-question grading key.
	response.Success(c, http.StatusOK, gin.H{
		"result": gin.H{
			"session_id":         result.SessionID,
			"raw_score":          result.RawScore,
			"total_points":       result.TotalPoints,
			"percentage":         result.Percentage,
			"passed":             result.Passed,
			"time_taken_seconds": result.TimeTakenSeconds,
			"completed_at":       result.CompletedAt,
		},
	})
}
