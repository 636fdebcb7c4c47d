package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/response"
	"github.com/interq/assessment-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams the recruiter's live proctoring view over SSE:
// an initial roster snapshot, violation events as they happen (via Redis
// Pub/Sub) and periodic progress refreshes.
type MonitorHandler struct {
	rdb               *redis.Client
	assessmentService *service.AssessmentService
	monitorService    *service.MonitorService
	sessionRepo       *repository.SessionRepository
	log               zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	rdb *redis.Client,
	assessmentService *service.AssessmentService,
	monitorService *service.MonitorService,
	sessionRepo *repository.SessionRepository,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:               rdb,
		assessmentService: assessmentService,
		monitorService:    monitorService,
		sessionRepo:       sessionRepo,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/recruiter/assessments/:assessment_id/monitor
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	assessment, err := h.assessmentService.GetByID(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendInitialSnapshot(c, reqCtx, assessment.ID, assessment.Title, assessment.QuestionCount)

	// Live violation events, published by the runtimes' violation sink.
	channelName := config.CacheKey.AssessmentMonitorChannel(assessmentID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Recruiter attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Recruiter disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendRefresh(c, reqCtx, assessmentID, assessment.QuestionCount)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendInitialSnapshot gathers the roster and writes the first SSE event.
func (h *MonitorHandler) sendInitialSnapshot(
	c *gin.Context,
	ctx context.Context,
	assessmentID uuid.UUID,
	title string,
	totalQuestions int,
) {
	rows, _, err := h.sessionRepo.ListByAssessment(ctx, assessmentID, 1, 1000)
	if err != nil {
		h.log.Warn().Err(err).Msg("Initial roster fetch failed")
	}

	totalJoined := len(rows)
	totalActive := 0
	totalCompleted := 0

	candidates := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		switch row.Status {
		case "ACTIVE":
			totalActive++
		case "COMPLETED":
			totalCompleted++
		}

		candidates = append(candidates, map[string]interface{}{
			"candidate_id":    row.CandidateID,
			"name":            row.CandidateName,
			"status":          row.Status,
			"percentage":      row.Percentage,
			"knocked_out":     row.KnockedOut,
			"started_at":      row.StartedAt,
			"answered_count":  int64(0),
			"violation_count": int64(0),
			"total_questions": totalQuestions,
		})
	}

	var totalViolations int64
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	if progress, err := h.monitorService.GetCandidateProgress(fetchCtx, assessmentID); err == nil {
		totalViolations = progress.TotalViolations
		for i, s := range candidates {
			cid, ok := s["candidate_id"].(int)
			if !ok {
				continue
			}
			if count, found := progress.AnsweredCounts[cid]; found {
				candidates[i]["answered_count"] = count
			}
			if count, found := progress.ViolationCounts[cid]; found {
				candidates[i]["violation_count"] = count
			}
		}
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"assessment": map[string]interface{}{
				"id":              assessmentID.String(),
				"title":           title,
				"total_questions": totalQuestions,
			},
			"stats": map[string]interface{}{
				"total_joined":     totalJoined,
				"total_active":     totalActive,
				"total_completed":  totalCompleted,
				"total_violations": totalViolations,
			},
			"candidates": candidates,
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assessmentID uuid.UUID, totalQuestions int) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetCandidateProgress(ctx, assessmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch candidate progress for refresh")
		return
	}

	progressData := make([]map[string]interface{}, 0, len(progress.AnsweredCounts)+len(progress.ViolationCounts))

	for cid, answered := range progress.AnsweredCounts {
		progressData = append(progressData, map[string]interface{}{
			"candidate_id":    cid,
			"answered_count":  answered,
			"violation_count": progress.ViolationCounts[cid], // 0 if missing
		})
		delete(progress.ViolationCounts, cid) // mark as handled
	}

	// Remaining violation-only candidates (already submitted, not active).
	for cid, violations := range progress.ViolationCounts {
		progressData = append(progressData, map[string]interface{}{
			"candidate_id":    cid,
			"answered_count":  int64(0),
			"violation_count": violations,
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type":             "refresh",
		"total_questions":  totalQuestions,
		"total_violations": progress.TotalViolations,
		"candidates":       progressData,
	})
	c.Writer.Flush()
}
