package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/model"
)

// PersistenceService is the Redis side of the write path: snapshots land in
// the resume cache and on the durable-persist queue, violations go to their
// queue plus the live monitor channel, and failed result writes are parked
// for the result worker. PostgreSQL writes happen in the workers, off the
// hot path.
type PersistenceService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPersistenceService creates a new PersistenceService.
func NewPersistenceService(rdb *redis.Client, log zerolog.Logger) *PersistenceService {
	return &PersistenceService{
		rdb: rdb,
		log: log.With().Str("component", "persistence_service").Logger(),
	}
}

// SaveSnapshot writes the resume cache entry and enqueues durable
// persistence. Cache first: a resume read must never see an older snapshot
// than the queue is carrying.
func (p *PersistenceService) SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	key := config.CacheKey.SessionSnapshotKey(snap.SessionID.String())
	if err := p.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	if err := p.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, data).Err(); err != nil {
		return fmt.Errorf("enqueue snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the resume cache. Returns (nil, nil) on a cache miss;
// callers fall back to the durable row.
func (p *PersistenceService) LoadSnapshot(ctx context.Context, sessionID uuid.UUID) (*model.SessionSnapshot, error) {
	key := config.CacheKey.SessionSnapshotKey(sessionID.String())
	data, err := p.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot cache: %w", err)
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entry: drop it and report a miss.
		p.rdb.Del(ctx, key)
		return nil, nil
	}
	return &snap, nil
}

// DropSnapshot removes the resume cache entry of a finished session.
func (p *PersistenceService) DropSnapshot(ctx context.Context, sessionID uuid.UUID) error {
	key := config.CacheKey.SessionSnapshotKey(sessionID.String())
	return p.rdb.Del(ctx, key).Err()
}

// EnqueueResult parks a scored result for the result worker.
func (p *PersistenceService) EnqueueResult(ctx context.Context, res *model.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return p.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, data).Err()
}

// ViolationSink returns the sink wired into each runtime's monitor. Each
// violation is enqueued for durable persistence and published on the
// assessment's monitor channel for recruiter live views.
func (p *PersistenceService) ViolationSink() engine.ViolationSink {
	return func(assessmentID uuid.UUID, rec model.ViolationRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		data, err := json.Marshal(&rec)
		if err != nil {
			p.log.Error().Err(err).Msg("Violation encode failed")
			return
		}

		if err := p.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
			p.log.Error().Err(err).
				Str("session_id", rec.SessionID.String()).
				Msg("Violation enqueue failed")
		}

		// Best effort. A missed live event is still durably queued above.
		channel := config.CacheKey.AssessmentMonitorChannel(assessmentID.String())
		if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
			p.log.Debug().Err(err).Msg("Monitor publish failed")
		}
	}
}

// Compile-time interface checks.
var (
	_ engine.SnapshotSink = (*PersistenceService)(nil)
	_ SnapshotCache       = (*PersistenceService)(nil)
	_ ResultQueue         = (*PersistenceService)(nil)
)
