package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
)

const resultPollTimeout = 1 * time.Second

// ResultWorker consumes persist_results_queue: results whose synchronous
// write failed during submission. It re-marks the session completed and
// upserts the result. Scoring is deterministic, so replaying a payload that
// partially landed is harmless.
type ResultWorker struct {
	sessions *repository.SessionRepository
	results  *repository.ResultRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(
	sessions *repository.SessionRepository,
	results *repository.ResultRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ResultWorker {
	return &ResultWorker{
		sessions: sessions,
		results:  results,
		rdb:      rdb,
		log:      log.With().Str("component", "result_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ResultWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, resultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var res model.Result
	if err := json.Unmarshal([]byte(result[1]), &res); err != nil {
		w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
		return
	}

	if err := w.persist(ctx, &res); err != nil {
		w.log.Error().Err(err).
			Str("session_id", res.SessionID.String()).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ResultWorker) persist(ctx context.Context, res *model.Result) error {
	// The completion mark may already be in place; MarkCompleted only
	// touches ACTIVE rows, so replaying it is safe.
	if err := w.sessions.MarkCompleted(ctx, res.SessionID, res.CompletedAt); err != nil {
		return err
	}
	return w.results.Upsert(ctx, res)
}
