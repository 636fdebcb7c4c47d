package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/response"
	"github.com/interq/assessment-engine/internal/service"
	"github.com/interq/assessment-engine/internal/validator"
)

// CandidateManagementHandler handles the recruiter's candidate CRUD.
type CandidateManagementHandler struct {
	candidateService *service.CandidateService
	authService      *service.AuthService
}

// NewCandidateManagementHandler creates a new CandidateManagementHandler.
func NewCandidateManagementHandler(
	candidateService *service.CandidateService,
	authService *service.AuthService,
) *CandidateManagementHandler {
	return &CandidateManagementHandler{
		candidateService: candidateService,
		authService:      authService,
	}
}

// List godoc
// GET /api/v1/recruiter/candidates
func (h *CandidateManagementHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	candidates, pagination, err := h.candidateService.List(c.Request.Context(), page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"candidates": candidates}, pagination)
}

// Create godoc
// POST /api/v1/recruiter/candidates
func (h *CandidateManagementHandler) Create(c *gin.Context) {
	var req model.CreateCandidateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	candidate := &model.Candidate{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: req.Password, // hashed by the service
	}
	if err := h.candidateService.Create(c.Request.Context(), candidate); err != nil {
		response.Fail(c, http.StatusConflict, response.ErrConflict)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"candidate": candidate})
}

// Update godoc
// PUT /api/v1/recruiter/candidates/:candidate_id
func (h *CandidateManagementHandler) Update(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("candidate_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpdateCandidateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	candidate, err := h.candidateService.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	if req.Name != "" {
		candidate.Name = req.Name
	}
	if req.Email != "" {
		candidate.Email = req.Email
	}
	updatePassword := req.Password != ""
	if updatePassword {
		candidate.PasswordHash = req.Password
	}

	if err := h.candidateService.Update(c.Request.Context(), candidate, updatePassword); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"candidate": candidate})
}

// Delete godoc
// DELETE /api/v1/recruiter/candidates/:candidate_id
func (h *CandidateManagementHandler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("candidate_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.candidateService.Delete(c.Request.Context(), id); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetLogin godoc
// POST /api/v1/recruiter/candidates/:candidate_id/reset-login
// Clears the single-device login lock so the candidate can sign in again.
func (h *CandidateManagementHandler) ResetLogin(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("candidate_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetCandidateLogin(c.Request.Context(), id); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
