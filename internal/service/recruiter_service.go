package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
)

// RecruiterService handles recruiter account lookups. Recruiter accounts are
// provisioned from the CLI, so there is no HTTP create path.
type RecruiterService struct {
	recruiterRepo *repository.RecruiterRepository
	bcryptCost    int
}

// NewRecruiterService creates a new RecruiterService.
func NewRecruiterService(recruiterRepo *repository.RecruiterRepository, bcryptCost int) *RecruiterService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &RecruiterService{recruiterRepo: recruiterRepo, bcryptCost: bcryptCost}
}

// GetByEmail retrieves a recruiter by their email.
func (s *RecruiterService) GetByEmail(ctx context.Context, email string) (*model.Recruiter, error) {
	return s.recruiterRepo.GetByEmail(ctx, email)
}

// GetByID retrieves a recruiter by ID.
func (s *RecruiterService) GetByID(ctx context.Context, id int) (*model.Recruiter, error) {
	return s.recruiterRepo.GetByID(ctx, id)
}

// Create inserts a new recruiter with a hashed password.
func (s *RecruiterService) Create(ctx context.Context, rec *model.Recruiter) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(rec.PasswordHash), s.bcryptCost)
	if err != nil {
		return err
	}
	rec.PasswordHash = string(hashed)
	return s.recruiterRepo.Create(ctx, rec)
}
