package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/model"
)

// ─── In-memory fakes ────────────────────────────────────────────────────────

type fakeSessionStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*model.Session
	createErr error
	// activeMisses forces that many GetActive calls to miss, simulating the
	// window where a concurrent create has not landed yet.
	activeMisses int
	completeErr  error
	snaps        []model.SessionSnapshot
	completed    []uuid.UUID
	order        *callOrder
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: map[uuid.UUID]*model.Session{}}
}

func (f *fakeSessionStore) GetActive(_ context.Context, assessmentID uuid.UUID, candidateID int) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeMisses > 0 {
		f.activeMisses--
		return nil, pgx.ErrNoRows
	}
	for _, s := range f.byID {
		if s.AssessmentID == assessmentID && s.CandidateID == candidateID && s.Status == model.SessionStatusActive {
			return s.Clone(), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionStore) GetByID(_ context.Context, sessionID uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.Clone(), nil
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.byID[s.ID] = s.Clone()
	return nil
}

func (f *fakeSessionStore) UpsertSnapshot(_ context.Context, snap *model.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, *snap)
	f.order.record("snapshot")
	return nil
}

func (f *fakeSessionStore) MarkCompleted(_ context.Context, sessionID uuid.UUID, submittedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	if s, ok := f.byID[sessionID]; ok && s.Status == model.SessionStatusActive {
		s.Status = model.SessionStatusCompleted
		s.SubmittedAt = &submittedAt
	}
	f.completed = append(f.completed, sessionID)
	f.order.record("complete")
	return nil
}

func (f *fakeSessionStore) put(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
}

type fakeResultStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*model.Result
	upsertErr error
	order     *callOrder
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{byID: map[uuid.UUID]*model.Result{}}
}

func (f *fakeResultStore) Upsert(_ context.Context, res *model.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	cp := *res
	f.byID[res.SessionID] = &cp
	f.order.record("result")
	return nil
}

func (f *fakeResultStore) GetBySessionID(_ context.Context, sessionID uuid.UUID) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.byID[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *res
	return &cp, nil
}

type fakeAssessmentStore struct {
	byID map[uuid.UUID]*model.Assessment
}

func (f *fakeAssessmentStore) GetByID(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

type fakeQuestionStore struct {
	byAssessment map[uuid.UUID][]model.Question
}

func (f *fakeQuestionStore) ListByAssessment(_ context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	return f.byAssessment[assessmentID], nil
}

type fakeCache struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*model.SessionSnapshot
	dropped []uuid.UUID
	order   *callOrder
}

func newFakeCache() *fakeCache {
	return &fakeCache{byID: map[uuid.UUID]*model.SessionSnapshot{}}
}

func (f *fakeCache) SaveSnapshot(_ context.Context, snap model.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := snap
	f.byID[snap.SessionID] = &cp
	return nil
}

func (f *fakeCache) LoadSnapshot(_ context.Context, sessionID uuid.UUID) (*model.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.byID[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (f *fakeCache) DropSnapshot(_ context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, sessionID)
	f.dropped = append(f.dropped, sessionID)
	f.order.record("drop")
	return nil
}

type fakeResultQueue struct {
	mu       sync.Mutex
	enqueued []*model.Result
}

func (f *fakeResultQueue) EnqueueResult(_ context.Context, res *model.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, res)
	return nil
}

// callOrder records the sequence of pipeline side effects across fakes.
type callOrder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callOrder) record(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *callOrder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ─── Harness ────────────────────────────────────────────────────────────────

type serviceFixture struct {
	svc      *SessionService
	sessions *fakeSessionStore
	results  *fakeResultStore
	cache    *fakeCache
	queue    *fakeResultQueue
	registry *engine.Registry
	order    *callOrder

	assessment *model.Assessment
	questions  []model.Question
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	assessID := uuid.New()
	q1, q2 := uuid.New(), uuid.New()
	assessment := &model.Assessment{
		ID:              assessID,
		Title:           "Backend Screen",
		DurationMinutes: 10,
		PassThreshold:   50,
		QuestionCount:   2,
		Status:          model.AssessmentStatusPublished,
		Flags:           model.ProctoringFlags{TimerEnabled: true, AutoSubmitOnTimeout: true},
	}
	questions := []model.Question{
		{ID: q1, AssessmentID: assessID, QuestionType: model.QuestionTypeSingleChoice, CorrectOption: "A", Points: 10, OrderNum: 0},
		{ID: q2, AssessmentID: assessID, QuestionType: model.QuestionTypeSingleChoice, CorrectOption: "B", Points: 10, OrderNum: 1},
	}

	order := &callOrder{}
	sessions := newFakeSessionStore()
	sessions.order = order
	results := newFakeResultStore()
	results.order = order
	cache := newFakeCache()
	cache.order = order
	queue := &fakeResultQueue{}
	registry := engine.NewRegistry()

	svc := NewSessionService(SessionServiceOptions{
		Sessions:    sessions,
		Results:     results,
		Assessments: &fakeAssessmentStore{byID: map[uuid.UUID]*model.Assessment{assessID: assessment}},
		Questions:   &fakeQuestionStore{byAssessment: map[uuid.UUID][]model.Question{assessID: questions}},
		Cache:       cache,
		ResultQueue: queue,
		Registry:    registry,
		Log:         zerolog.Nop(),
	})

	t.Cleanup(registry.StopAll)

	return &serviceFixture{
		svc:        svc,
		sessions:   sessions,
		results:    results,
		cache:      cache,
		queue:      queue,
		registry:   registry,
		order:      order,
		assessment: assessment,
		questions:  questions,
	}
}

func (f *serviceFixture) waitFinalized(t *testing.T, sessionID uuid.UUID) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for f.registry.Get(sessionID) != nil {
		select {
		case <-deadline:
			t.Fatal("finalizer did not remove the runtime")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestCreateOrResumeCreatesFreshSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}
	if state.Resumed {
		t.Error("fresh session reported as resumed")
	}
	if state.TimeRemaining != 600 {
		t.Errorf("TimeRemaining = %d, want 600", state.TimeRemaining)
	}
	if state.Progress.Total != 2 || state.Progress.Answered != 0 {
		t.Errorf("progress = %+v, want 0/2", state.Progress)
	}
	if f.registry.Get(state.SessionID) == nil {
		t.Error("no runtime registered for the fresh session")
	}
}

func TestCreateOrResumeRejectsUnpublished(t *testing.T) {
	f := newServiceFixture(t)
	f.assessment.Status = model.AssessmentStatusDraft

	_, err := f.svc.CreateOrResume(context.Background(), f.assessment.ID, 1)
	if !errors.Is(err, ErrAssessmentNotPublished) {
		t.Errorf("err = %v, want ErrAssessmentNotPublished", err)
	}
}

func TestCreateOrResumeReturnsSameSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("first CreateOrResume: %v", err)
	}
	second, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("second CreateOrResume: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Error("second call created a new session instead of resuming")
	}
	if !second.Resumed {
		t.Error("second call not reported as resumed")
	}
}

func TestCreateOrResumeSeedsFromCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// An active durable row with a fresher cached snapshot, as left behind by
	// a crashed node.
	q1 := f.questions[0].ID
	sess := &model.Session{
		ID:            uuid.New(),
		AssessmentID:  f.assessment.ID,
		CandidateID:   1,
		Status:        model.SessionStatusActive,
		TimeRemaining: 600,
		Answers:       map[uuid.UUID]model.Answer{},
		ReviewMarks:   map[uuid.UUID]struct{}{},
	}
	f.sessions.put(sess)
	_ = f.cache.SaveSnapshot(ctx, model.SessionSnapshot{
		SessionID:            sess.ID,
		TimeRemaining:        431,
		CurrentQuestionIndex: 1,
		Answers:              map[uuid.UUID]model.Answer{q1: {Kind: model.AnswerKindChoice, Value: "A"}},
	})

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}
	if state.SessionID != sess.ID {
		t.Fatal("resume did not return the active session")
	}
	if !state.Resumed {
		t.Error("resume not flagged")
	}
	if state.TimeRemaining != 431 {
		t.Errorf("TimeRemaining = %d, want 431 from the cache overlay", state.TimeRemaining)
	}
	if state.CurrentQuestionIndex != 1 || state.Progress.Answered != 1 {
		t.Errorf("state = idx %d answered %d, want idx 1 answered 1",
			state.CurrentQuestionIndex, state.Progress.Answered)
	}
}

func TestCreateOrResumeResolvesCreateRace(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// The winner's row lands between our GetActive miss and our insert, so the
	// insert loses with ErrNoRows from the conflict-swallowed RETURNING and
	// the post-race re-read finds the winner.
	winner := &model.Session{
		ID:            uuid.New(),
		AssessmentID:  f.assessment.ID,
		CandidateID:   1,
		Status:        model.SessionStatusActive,
		TimeRemaining: 555,
		Answers:       map[uuid.UUID]model.Answer{},
		ReviewMarks:   map[uuid.UUID]struct{}{},
	}
	f.sessions.put(winner)
	f.sessions.activeMisses = 1
	f.sessions.createErr = pgx.ErrNoRows

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}
	if state.SessionID != winner.ID {
		t.Error("race loser did not adopt the winner's session")
	}
	if !state.Resumed {
		t.Error("race resolution not reported as a resume")
	}
	if state.TimeRemaining != 555 {
		t.Errorf("TimeRemaining = %d, want the winner's 555", state.TimeRemaining)
	}
}

func TestSubmitPipelineOrdering(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}

	rt, err := f.svc.Runtime(state.SessionID, 1)
	if err != nil {
		t.Fatalf("Runtime: %v", err)
	}
	for _, q := range f.questions {
		if err := rt.SetAnswer(q.ID, model.Answer{Kind: model.AnswerKindChoice, Value: q.CorrectOption}); err != nil {
			t.Fatalf("SetAnswer: %v", err)
		}
	}

	outcome, err := f.svc.Submit(ctx, state.SessionID, 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.State != engine.GateSubmitting {
		t.Fatalf("gate = %q, want submitting", outcome.State)
	}
	f.waitFinalized(t, state.SessionID)

	// Final snapshot before the completion mark, result after both, cache
	// cleanup last.
	calls := f.order.snapshot()
	want := []string{"snapshot", "complete", "result", "drop"}
	if len(calls) != len(want) {
		t.Fatalf("pipeline calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("pipeline calls = %v, want %v", calls, want)
		}
	}

	res, err := f.results.GetBySessionID(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("result not persisted: %v", err)
	}
	if res.RawScore != 20 || res.Percentage != 100 || !res.Passed {
		t.Errorf("result = %d/%d passed=%v, want 20 pts 100%% passed", res.RawScore, res.Percentage, res.Passed)
	}

	// The durable row is completed and the cache entry is gone.
	sess, err := f.sessions.GetByID(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !sess.Completed() {
		t.Error("durable session not marked completed")
	}
	if snap, _ := f.cache.LoadSnapshot(ctx, state.SessionID); snap != nil {
		t.Error("snapshot cache not cleaned up")
	}
}

func TestSubmitFallsBackToResultQueue(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.retryAttempts = 1
	f.results.upsertErr = errors.New("postgres down")
	ctx := context.Background()

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}
	rt, _ := f.svc.Runtime(state.SessionID, 1)
	for _, q := range f.questions {
		_ = rt.SetAnswer(q.ID, model.Answer{Kind: model.AnswerKindChoice, Value: "A"})
	}

	if _, err := f.svc.Submit(ctx, state.SessionID, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitFinalized(t, state.SessionID)

	f.queue.mu.Lock()
	defer f.queue.mu.Unlock()
	if len(f.queue.enqueued) != 1 {
		t.Fatalf("enqueued %d results, want 1", len(f.queue.enqueued))
	}
	if f.queue.enqueued[0].SessionID != state.SessionID {
		t.Error("queued result carries the wrong session id")
	}
}

func TestSubmitDefersResultWhenCompletionMarkFails(t *testing.T) {
	f := newServiceFixture(t)
	f.svc.retryAttempts = 1
	f.sessions.completeErr = errors.New("postgres down")
	ctx := context.Background()

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}
	rt, _ := f.svc.Runtime(state.SessionID, 1)
	for _, q := range f.questions {
		_ = rt.SetAnswer(q.ID, model.Answer{Kind: model.AnswerKindChoice, Value: q.CorrectOption})
	}

	if _, err := f.svc.Submit(ctx, state.SessionID, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.waitFinalized(t, state.SessionID)

	// No direct result write while the row is still ACTIVE: the worker
	// replays the completion mark before writing the queued result.
	if _, err := f.results.GetBySessionID(ctx, state.SessionID); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("result written despite failed completion mark, err = %v", err)
	}

	f.queue.mu.Lock()
	enqueued := append([]*model.Result(nil), f.queue.enqueued...)
	f.queue.mu.Unlock()
	if len(enqueued) != 1 {
		t.Fatalf("enqueued %d results, want 1", len(enqueued))
	}
	if enqueued[0].SessionID != state.SessionID {
		t.Error("queued result carries the wrong session id")
	}
	if enqueued[0].RawScore != 20 || !enqueued[0].Passed {
		t.Errorf("queued result = %d pts passed=%v, want 20 pts passed", enqueued[0].RawScore, enqueued[0].Passed)
	}
	if enqueued[0].CompletedAt.IsZero() {
		t.Error("queued result has no completion timestamp for the mark replay")
	}
}

func TestGetStateChecksOwnership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	state, err := f.svc.CreateOrResume(ctx, f.assessment.ID, 1)
	if err != nil {
		t.Fatalf("CreateOrResume: %v", err)
	}

	if _, err := f.svc.GetState(ctx, state.SessionID, 2); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("foreign candidate GetState = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.Runtime(state.SessionID, 2); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("foreign candidate Runtime = %v, want ErrSessionNotFound", err)
	}
}

func TestGetStateFallsBackToStore(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// No runtime on this node: state comes from the durable row plus cache.
	sess := &model.Session{
		ID:            uuid.New(),
		AssessmentID:  f.assessment.ID,
		CandidateID:   1,
		Status:        model.SessionStatusActive,
		TimeRemaining: 600,
		Answers:       map[uuid.UUID]model.Answer{},
		ReviewMarks:   map[uuid.UUID]struct{}{},
	}
	f.sessions.put(sess)
	_ = f.cache.SaveSnapshot(ctx, model.SessionSnapshot{
		SessionID:     sess.ID,
		TimeRemaining: 42,
	})

	state, err := f.svc.GetState(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.TimeRemaining != 42 {
		t.Errorf("TimeRemaining = %d, want 42 from the cache overlay", state.TimeRemaining)
	}

	if _, err := f.svc.GetState(ctx, uuid.New(), 1); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session GetState = %v, want ErrSessionNotFound", err)
	}
}

func TestGetOrComputeResultRecovery(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// A completed session whose result write was lost mid-pipeline.
	submittedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := &model.Session{
		ID:            uuid.New(),
		AssessmentID:  f.assessment.ID,
		CandidateID:   1,
		Status:        model.SessionStatusCompleted,
		TimeRemaining: 100,
		Answers: map[uuid.UUID]model.Answer{
			f.questions[0].ID: {Kind: model.AnswerKindChoice, Value: "A"},
		},
		ReviewMarks: map[uuid.UUID]struct{}{},
		SubmittedAt: &submittedAt,
	}
	f.sessions.put(sess)

	res, err := f.svc.GetOrComputeResult(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOrComputeResult: %v", err)
	}
	if res.RawScore != 10 || res.Percentage != 50 || !res.Passed {
		t.Errorf("recovered result = %d pts %d%%, want 10 pts 50%%", res.RawScore, res.Percentage)
	}

	// The recomputed result is persisted for the next read.
	if _, err := f.results.GetBySessionID(ctx, sess.ID); err != nil {
		t.Errorf("recovered result not persisted: %v", err)
	}
}

func TestGetOrComputeResultNotReady(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sess := &model.Session{
		ID:           uuid.New(),
		AssessmentID: f.assessment.ID,
		CandidateID:  1,
		Status:       model.SessionStatusActive,
		Answers:      map[uuid.UUID]model.Answer{},
		ReviewMarks:  map[uuid.UUID]struct{}{},
	}
	f.sessions.put(sess)

	if _, err := f.svc.GetOrComputeResult(ctx, sess.ID); !errors.Is(err, ErrResultNotReady) {
		t.Errorf("active session result = %v, want ErrResultNotReady", err)
	}
	if _, err := f.svc.GetOrComputeResult(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session result = %v, want ErrSessionNotFound", err)
	}
}
