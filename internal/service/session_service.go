package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/scoring"
)

// Domain errors.
var (
	ErrSessionNotFound   = errors.New("no session found")
	ErrSessionNotRunning = errors.New("session is not running on this node")
	ErrResultNotReady    = errors.New("result is not ready")
)

// SessionStore is the subset of SessionRepository the service layer needs.
// Narrow interfaces keep the submission pipeline testable with in-memory
// fakes.
type SessionStore interface {
	GetActive(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*model.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	UpsertSnapshot(ctx context.Context, snap *model.SessionSnapshot) error
	MarkCompleted(ctx context.Context, sessionID uuid.UUID, submittedAt time.Time) error
}

// ResultStore persists and reads scored outcomes.
type ResultStore interface {
	Upsert(ctx context.Context, res *model.Result) error
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
}

// AssessmentStore reads assessment definitions for the session path.
type AssessmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
}

// QuestionStore reads the graded question bank for scoring.
type QuestionStore interface {
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error)
}

// SnapshotCache is the fast resume path: latest snapshot per session, with
// the durable store as fallback.
type SnapshotCache interface {
	engine.SnapshotSink
	LoadSnapshot(ctx context.Context, sessionID uuid.UUID) (*model.SessionSnapshot, error)
	DropSnapshot(ctx context.Context, sessionID uuid.UUID) error
}

// ResultQueue hands a result to the background worker when the synchronous
// write keeps failing.
type ResultQueue interface {
	EnqueueResult(ctx context.Context, res *model.Result) error
}

// SessionService owns session lifecycle: create-or-resume, live state reads,
// submission and the scoring pipeline behind it.
type SessionService struct {
	sessions    SessionStore
	results     ResultStore
	assessments AssessmentStore
	questions   QuestionStore

	cache       SnapshotCache
	resultQueue ResultQueue
	violations  engine.ViolationSink

	registry *engine.Registry

	autosaveInterval time.Duration
	retryAttempts    int

	log zerolog.Logger
}

// SessionServiceOptions wires a SessionService.
type SessionServiceOptions struct {
	Sessions    SessionStore
	Results     ResultStore
	Assessments AssessmentStore
	Questions   QuestionStore

	Cache       SnapshotCache
	ResultQueue ResultQueue
	Violations  engine.ViolationSink

	Registry *engine.Registry

	AutosaveInterval time.Duration
	RetryAttempts    int
	Log              zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(o SessionServiceOptions) *SessionService {
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = 30 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 5
	}
	return &SessionService{
		sessions:         o.Sessions,
		results:          o.Results,
		assessments:      o.Assessments,
		questions:        o.Questions,
		cache:            o.Cache,
		resultQueue:      o.ResultQueue,
		violations:       o.Violations,
		registry:         o.Registry,
		autosaveInterval: o.AutosaveInterval,
		retryAttempts:    o.RetryAttempts,
		log:              o.Log.With().Str("component", "session_service").Logger(),
	}
}

// SessionState is the client-facing view of a live session, used both as
// the create-or-resume response and the state poll response.
type SessionState struct {
	SessionID            uuid.UUID               `json:"session_id"`
	AssessmentID         uuid.UUID               `json:"assessment_id"`
	Status               model.SessionStatus     `json:"status"`
	Resumed              bool                    `json:"resumed"`
	TimeRemaining        int                     `json:"time_remaining"`
	CurrentQuestionIndex int                     `json:"current_question_index"`
	Answers              map[uuid.UUID]model.Answer `json:"answers"`
	ReviewMarks          []uuid.UUID             `json:"review_marks"`
	Progress             model.Progress          `json:"progress"`
	Integrity            model.IntegritySummary  `json:"integrity"`
}

func stateFromSession(s *model.Session, totalQuestions int, resumed bool) *SessionState {
	marks := make([]uuid.UUID, 0, len(s.ReviewMarks))
	for id := range s.ReviewMarks {
		marks = append(marks, id)
	}
	return &SessionState{
		SessionID:            s.ID,
		AssessmentID:         s.AssessmentID,
		Status:               s.Status,
		Resumed:              resumed,
		TimeRemaining:        s.TimeRemaining,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		Answers:              s.Answers,
		ReviewMarks:          marks,
		Progress:             s.ProgressFor(totalQuestions),
		Integrity:            s.Integrity(),
	}
}

// CreateOrResume returns the candidate's live session for an assessment,
// creating one when none is active. Exactly one ACTIVE session per
// (assessment, candidate) pair exists at any time; a concurrent create from
// a second device resolves to the same row.
func (s *SessionService) CreateOrResume(ctx context.Context, assessmentID uuid.UUID, candidateID int) (*SessionState, error) {
	assess, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if assess.Status != model.AssessmentStatusPublished {
		return nil, ErrAssessmentNotPublished
	}

	questions, err := s.questions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	qids := make([]uuid.UUID, 0, len(questions))
	for i := range questions {
		qids = append(qids, questions[i].ID)
	}

	sess, err := s.sessions.GetActive(ctx, assessmentID, candidateID)
	resumed := true
	switch {
	case err == nil:
		s.seedFromCache(ctx, sess)
	case errors.Is(err, pgx.ErrNoRows):
		sess, resumed, err = s.createSession(ctx, assess, candidateID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("get active session: %w", err)
	}

	rt, existed := s.registry.GetOrPut(sess.ID, func() *engine.Runtime {
		return engine.NewRuntime(engine.Options{
			Session:          sess,
			Assessment:       assess,
			QuestionIDs:      qids,
			Snapshots:        s.cache,
			Violations:       s.violations,
			Finish:           s.finalizer(assess, questions),
			AutosaveInterval: s.autosaveInterval,
			Log:              s.log,
		})
	})
	if !existed {
		rt.Start(context.Background())
	}

	state := stateFromSession(rt.Session(), len(qids), resumed || existed)
	return state, nil
}

func (s *SessionService) createSession(ctx context.Context, assess *model.Assessment, candidateID int) (*model.Session, bool, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:             uuid.New(),
		AssessmentID:   assess.ID,
		CandidateID:    candidateID,
		Status:         model.SessionStatusActive,
		TimeRemaining:  assess.DurationSeconds(),
		Answers:        make(map[uuid.UUID]model.Answer),
		ReviewMarks:    make(map[uuid.UUID]struct{}),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	err := s.sessions.Create(ctx, sess)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	// Lost the insert race to a concurrent create. Load the winner.
	existing, err := s.sessions.GetActive(ctx, assess.ID, candidateID)
	if err != nil {
		return nil, false, fmt.Errorf("get session after create race: %w", err)
	}
	s.seedFromCache(ctx, existing)
	return existing, true, nil
}

// seedFromCache overlays the freshest snapshot onto a session loaded from
// the durable store. The cache can be ahead of PostgreSQL by up to one
// worker cycle; the durable row is never ahead of the cache.
func (s *SessionService) seedFromCache(ctx context.Context, sess *model.Session) {
	snap, err := s.cache.LoadSnapshot(ctx, sess.ID)
	if err != nil || snap == nil {
		return
	}
	sess.ApplySnapshot(snap)
}

// GetState returns the live state of a session, preferring the in-process
// runtime and falling back to the latest persisted snapshot.
func (s *SessionService) GetState(ctx context.Context, sessionID uuid.UUID, candidateID int) (*SessionState, error) {
	if rt := s.registry.Get(sessionID); rt != nil {
		sess := rt.Session()
		if sess.CandidateID != candidateID {
			return nil, ErrSessionNotFound
		}
		assess, err := s.assessments.GetByID(ctx, sess.AssessmentID)
		if err != nil {
			return nil, fmt.Errorf("get assessment: %w", err)
		}
		return stateFromSession(sess, assess.QuestionCount, true), nil
	}

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.CandidateID != candidateID {
		return nil, ErrSessionNotFound
	}
	if sess.Status == model.SessionStatusActive {
		s.seedFromCache(ctx, sess)
	}

	assess, err := s.assessments.GetByID(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return stateFromSession(sess, assess.QuestionCount, true), nil
}

// Runtime returns the in-process runtime for a session owned by the
// candidate, or ErrSessionNotRunning.
func (s *SessionService) Runtime(sessionID uuid.UUID, candidateID int) (*engine.Runtime, error) {
	rt := s.registry.Get(sessionID)
	if rt == nil {
		return nil, ErrSessionNotRunning
	}
	if rt.Session().CandidateID != candidateID {
		return nil, ErrSessionNotFound
	}
	return rt, nil
}

// finalizer builds the Finisher for a runtime: the submission pipeline that
// freezes, persists, scores and records the outcome. The frozen session copy
// is final; the runtime has already stopped accepting input.
func (s *SessionService) finalizer(assess *model.Assessment, questions []model.Question) engine.Finisher {
	return func(reason engine.SubmitReason, frozen *model.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log := s.log.With().
			Str("session_id", frozen.ID.String()).
			Str("reason", string(reason)).
			Logger()

		// Final answers go down before the completion mark so the recovery
		// path always re-scores the full answer set.
		snap := frozen.Snapshot()
		if err := retry(ctx, s.retryAttempts, func() error {
			return s.sessions.UpsertSnapshot(ctx, &snap)
		}); err != nil {
			log.Error().Err(err).Msg("Final snapshot write failed")
		}

		submittedAt := time.Now().UTC()
		if frozen.SubmittedAt != nil {
			submittedAt = *frozen.SubmittedAt
		}

		// The completion mark gates the result write: a Result row must
		// never exist for a session still recorded ACTIVE. When the mark
		// cannot be made durable here, the scored result goes to the
		// worker instead, which replays the mark before writing it.
		res := scoring.Score(frozen, assess, questions)
		if err := retry(ctx, s.retryAttempts, func() error {
			return s.sessions.MarkCompleted(ctx, frozen.ID, submittedAt)
		}); err != nil {
			log.Error().Err(err).Msg("Completion mark failed, deferring result to worker")
			if qerr := s.resultQueue.EnqueueResult(ctx, res); qerr != nil {
				log.Error().Err(qerr).Msg("Result enqueue failed, recovery will re-score")
			}
		} else if err := retry(ctx, s.retryAttempts, func() error {
			return s.results.Upsert(ctx, res)
		}); err != nil {
			log.Error().Err(err).Msg("Result write failed, enqueueing for worker")
			if qerr := s.resultQueue.EnqueueResult(ctx, res); qerr != nil {
				log.Error().Err(qerr).Msg("Result enqueue failed, recovery will re-score")
			}
		}

		if err := s.cache.DropSnapshot(ctx, frozen.ID); err != nil {
			log.Warn().Err(err).Msg("Snapshot cache cleanup failed")
		}
		s.registry.Remove(frozen.ID)

		log.Info().
			Int("raw_score", res.RawScore).
			Int("percentage", res.Percentage).
			Bool("passed", res.Passed).
			Msg("Session finalized")
	}
}

// Submit drives a candidate-initiated submit through the review gate.
func (s *SessionService) Submit(ctx context.Context, sessionID uuid.UUID, candidateID int) (engine.SubmitOutcome, error) {
	rt, err := s.Runtime(sessionID, candidateID)
	if err != nil {
		return engine.SubmitOutcome{}, err
	}
	return rt.Submit()
}

// GetOrComputeResult returns the scored outcome for a completed session.
// When the session completed but the result write never landed (crash midway
// through the pipeline), it re-scores from the persisted final snapshot.
// Scoring is deterministic, so recomputation always matches what the lost
// write would have recorded.
func (s *SessionService) GetOrComputeResult(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	res, err := s.results.GetBySessionID(ctx, sessionID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get result: %w", err)
	}

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.Completed() {
		return nil, ErrResultNotReady
	}

	assess, err := s.assessments.GetByID(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	questions, err := s.questions.ListByAssessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	res = scoring.Score(sess, assess, questions)
	if err := s.results.Upsert(ctx, res); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Msg("Recovered result write failed, serving computed copy")
	}
	return res, nil
}

// retry runs fn up to attempts times with doubling backoff starting at
// 100ms. Returns the last error.
func retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	delay := 100 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Compile-time checks that the pgx repositories satisfy the store interfaces.
var (
	_ SessionStore    = (*repository.SessionRepository)(nil)
	_ ResultStore     = (*repository.ResultRepository)(nil)
	_ AssessmentStore = (*repository.AssessmentRepository)(nil)
	_ QuestionStore   = (*repository.QuestionRepository)(nil)
)
