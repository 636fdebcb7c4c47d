package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/response"
)

// CandidateService handles candidate account management.
type CandidateService struct {
	candidateRepo *repository.CandidateRepository
	bcryptCost    int
}

// NewCandidateService creates a new CandidateService.
func NewCandidateService(candidateRepo *repository.CandidateRepository, bcryptCost int) *CandidateService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &CandidateService{candidateRepo: candidateRepo, bcryptCost: bcryptCost}
}

// GetByEmail retrieves a candidate by their email.
func (s *CandidateService) GetByEmail(ctx context.Context, email string) (*model.Candidate, error) {
	return s.candidateRepo.GetByEmail(ctx, email)
}

// GetByID retrieves a candidate by ID.
func (s *CandidateService) GetByID(ctx context.Context, id int) (*model.Candidate, error) {
	return s.candidateRepo.GetByID(ctx, id)
}

// List retrieves candidates with pagination.
func (s *CandidateService) List(ctx context.Context, page, perPage int) ([]model.Candidate, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	candidates, total, err := s.candidateRepo.List(ctx, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	if candidates == nil {
		candidates = []model.Candidate{}
	}

	totalPages := (int(total) + perPage - 1) / perPage
	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	}

	return candidates, pagination, nil
}

// Create inserts a new candidate with a hashed password.
func (s *CandidateService) Create(ctx context.Context, candidate *model.Candidate) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(candidate.PasswordHash), s.bcryptCost)
	if err != nil {
		return err
	}
	candidate.PasswordHash = string(hashed)
	return s.candidateRepo.Create(ctx, candidate)
}

// Update modifies a candidate's details. Rehashes the password if provided.
func (s *CandidateService) Update(ctx context.Context, candidate *model.Candidate, updatePassword bool) error {
	if updatePassword && candidate.PasswordHash != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(candidate.PasswordHash), s.bcryptCost)
		if err != nil {
			return err
		}
		candidate.PasswordHash = string(hashed)
	}
	return s.candidateRepo.Update(ctx, candidate)
}

// Delete removes a candidate by ID.
func (s *CandidateService) Delete(ctx context.Context, id int) error {
	return s.candidateRepo.Delete(ctx, id)
}
