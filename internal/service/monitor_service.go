package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/interq/assessment-engine/internal/repository"
)

// MonitorService orchestrates the recruiter's live proctoring view.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// CandidateProgressSnapshot holds the answered count and violation count for
// every candidate with an active session on the assessment.
type CandidateProgressSnapshot struct {
	AnsweredCounts  map[int]int64 // candidate_id → answered_count
	ViolationCounts map[int]int64 // candidate_id → violation_count
	TotalViolations int64
}

// GetCandidateProgress returns answered counts and violation counts. The two
// fetches are independent and run in parallel.
func (s *MonitorService) GetCandidateProgress(ctx context.Context, assessmentID uuid.UUID) (*CandidateProgressSnapshot, error) {
	snapshot := &CandidateProgressSnapshot{
		AnsweredCounts:  make(map[int]int64),
		ViolationCounts: make(map[int]int64),
	}

	var (
		answeredCounts  map[int]int64
		violationCounts map[int]int64
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, assessmentID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.monitorRepo.GetViolationCounts(ctx, assessmentID)
	}()

	wg.Wait()

	// Answered counts are critical; violation counts are best-effort.
	if answeredErr != nil {
		return nil, answeredErr
	}

	if answeredCounts != nil {
		snapshot.AnsweredCounts = answeredCounts
	}

	if violationErr == nil && violationCounts != nil {
		snapshot.ViolationCounts = violationCounts
		for _, count := range violationCounts {
			snapshot.TotalViolations += count
		}
	}

	return snapshot, nil
}
