package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/model"
)

// memorySink records flushed snapshots and can be told to fail.
type memorySink struct {
	mu    sync.Mutex
	snaps []model.SessionSnapshot
	err   error
}

func (s *memorySink) SaveSnapshot(_ context.Context, snap model.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func (s *memorySink) last() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}

// finishRecorder captures the submission pipeline invocation.
type finishRecorder struct {
	mu     sync.Mutex
	calls  int
	reason SubmitReason
	frozen *model.Session
	done   chan struct{}
}

func newFinishRecorder() *finishRecorder {
	return &finishRecorder{done: make(chan struct{}, 4)}
}

func (f *finishRecorder) finish(reason SubmitReason, frozen *model.Session) {
	f.mu.Lock()
	f.calls++
	f.reason = reason
	f.frozen = frozen
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *finishRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("finisher was not invoked")
	}
}

func (f *finishRecorder) snapshot() (int, SubmitReason, *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.reason, f.frozen
}

type runtimeFixture struct {
	rt     *Runtime
	sink   *memorySink
	finish *finishRecorder
	qids   []uuid.UUID
}

func newFixture(t *testing.T, flags model.ProctoringFlags, questions int, seconds int) *runtimeFixture {
	t.Helper()

	qids := make([]uuid.UUID, questions)
	for i := range qids {
		qids[i] = uuid.New()
	}

	sink := &memorySink{}
	finish := newFinishRecorder()

	rt := NewRuntime(Options{
		Session: &model.Session{
			ID:            uuid.New(),
			AssessmentID:  uuid.New(),
			CandidateID:   1,
			Status:        model.SessionStatusActive,
			TimeRemaining: seconds,
		},
		Assessment: &model.Assessment{
			DurationMinutes: (seconds + 59) / 60,
			Flags:           flags,
		},
		QuestionIDs: qids,
		Snapshots:   sink,
		Finish:      finish.finish,
		Log:         zerolog.Nop(),
	})

	return &runtimeFixture{rt: rt, sink: sink, finish: finish, qids: qids}
}

func TestTickDecrementsCountdown(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 2, 100)

	f.rt.Tick()
	f.rt.Tick()
	f.rt.Tick()

	if got := f.rt.TimeRemaining(); got != 97 {
		t.Errorf("TimeRemaining = %d, want 97", got)
	}
}

func TestTickWithoutTimerIsNoop(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 2, 100)

	f.rt.Tick()

	if got := f.rt.TimeRemaining(); got != 100 {
		t.Errorf("TimeRemaining = %d, want 100 with the timer off", got)
	}
}

func TestTickWhilePausedIsNoop(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 2, 100)

	f.rt.Pause()
	f.rt.Tick()
	if got := f.rt.TimeRemaining(); got != 100 {
		t.Errorf("TimeRemaining = %d, want 100 while paused", got)
	}

	f.rt.Resume()
	f.rt.Tick()
	if got := f.rt.TimeRemaining(); got != 99 {
		t.Errorf("TimeRemaining = %d, want 99 after resume", got)
	}
}

func TestTimeoutAutoSubmits(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true, AutoSubmitOnTimeout: true}, 1, 2)

	f.rt.Tick()
	f.rt.Tick()
	f.finish.wait(t)

	calls, reason, frozen := f.finish.snapshot()
	if calls != 1 {
		t.Fatalf("finisher calls = %d, want 1", calls)
	}
	if reason != SubmitReasonTimeout {
		t.Errorf("reason = %q, want timeout", reason)
	}
	if !frozen.Completed() || frozen.SubmittedAt == nil {
		t.Error("frozen copy must be completed with a submission timestamp")
	}

	// A later answer is rejected, the session is terminal.
	if err := f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("SetAnswer after timeout = %v, want ErrSessionCompleted", err)
	}
}

func TestTimeoutWithoutAutoSubmitFreezes(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 1, 1)

	f.rt.Tick()

	select {
	case ev := <-f.rt.Events():
		if ev.Type != EventFrozen {
			t.Errorf("event type = %q, want frozen", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no frozen event emitted")
	}

	if err := f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); !errors.Is(err, ErrInputFrozen) {
		t.Errorf("SetAnswer = %v, want ErrInputFrozen", err)
	}

	// A frozen session still submits manually.
	outcome, err := f.rt.Submit()
	if err != nil {
		t.Fatalf("Submit on frozen session: %v", err)
	}
	// One unanswered question: the gate warns first.
	if outcome.State != GateWarned {
		t.Errorf("gate = %q, want warned", outcome.State)
	}
}

func TestFlushSkipsWhenClean(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 2, 100)
	ctx := context.Background()

	if err := f.rt.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.sink.count() != 0 {
		t.Fatalf("clean runtime flushed %d snapshots, want 0", f.sink.count())
	}

	if err := f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "B"}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if err := f.rt.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.sink.count() != 1 {
		t.Fatalf("dirty runtime flushed %d snapshots, want 1", f.sink.count())
	}

	// No further mutation: the next flush is a no-op again.
	if err := f.rt.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.sink.count() != 1 {
		t.Errorf("idle flush wrote a snapshot, count = %d", f.sink.count())
	}
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 1, 100)
	ctx := context.Background()

	if err := f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	f.sink.err = errors.New("redis down")
	if err := f.rt.Flush(ctx); err == nil {
		t.Fatal("Flush should surface the sink error")
	}

	f.sink.err = nil
	if err := f.rt.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if f.sink.count() != 1 {
		t.Fatalf("retry flushed %d snapshots, want 1", f.sink.count())
	}
	if got := f.sink.last(); len(got.Answers) != 1 {
		t.Errorf("snapshot carries %d answers, want 1", len(got.Answers))
	}
}

func TestSetAnswerIgnoresForeignQuestion(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 2, 100)

	if err := f.rt.SetAnswer(uuid.New(), model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); err != nil {
		t.Fatalf("foreign question id should be ignored without error, got %v", err)
	}
	if p := f.rt.Progress(); p.Answered != 0 {
		t.Errorf("Answered = %d, want 0 after ignored write", p.Answered)
	}
}

func TestSetAnswerOverwrites(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 2, 100)

	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"})
	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "C"})

	sess := f.rt.Session()
	if got := sess.Answers[f.qids[0]].Value; got != "C" {
		t.Errorf("answer value = %q, want C (last write wins)", got)
	}
	if p := f.rt.Progress(); p.Answered != 1 {
		t.Errorf("Answered = %d, want 1", p.Answered)
	}
}

func TestNavigateClampsToRange(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 3, 100)

	_ = f.rt.Navigate(-5)
	if got := f.rt.Session().CurrentQuestionIndex; got != 0 {
		t.Errorf("index = %d, want 0 after negative navigate", got)
	}

	_ = f.rt.Navigate(99)
	if got := f.rt.Session().CurrentQuestionIndex; got != 2 {
		t.Errorf("index = %d, want 2 after overshoot", got)
	}

	_ = f.rt.Navigate(1)
	if got := f.rt.Session().CurrentQuestionIndex; got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
}

func TestToggleReviewFlips(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 2, 100)

	_ = f.rt.ToggleReview(f.qids[1])
	if p := f.rt.Progress(); p.Review != 1 {
		t.Errorf("Review = %d, want 1", p.Review)
	}
	_ = f.rt.ToggleReview(f.qids[1])
	if p := f.rt.Progress(); p.Review != 0 {
		t.Errorf("Review = %d, want 0 after second toggle", p.Review)
	}
}

func TestSubmitGateWarnsOnceThenProceeds(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 3, 100)
	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"})

	outcome, err := f.rt.Submit()
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if outcome.State != GateWarned {
		t.Fatalf("gate = %q, want warned", outcome.State)
	}
	if len(outcome.Unanswered) != 2 {
		t.Errorf("unanswered = %d ids, want 2", len(outcome.Unanswered))
	}
	// Unanswered ids come back in original question order.
	if outcome.Unanswered[0] != f.qids[1] || outcome.Unanswered[1] != f.qids[2] {
		t.Error("unanswered ids not in question order")
	}

	// The warned state is sticky: answering in between does not reset it.
	_ = f.rt.SetAnswer(f.qids[1], model.Answer{Kind: model.AnswerKindChoice, Value: "B"})

	outcome, err = f.rt.Submit()
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if outcome.State != GateSubmitting {
		t.Fatalf("gate = %q, want submitting", outcome.State)
	}
	f.finish.wait(t)

	if _, err := f.rt.Submit(); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("third Submit = %v, want ErrSessionCompleted", err)
	}
}

func TestSubmitAllAnsweredSkipsGate(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 2, 100)
	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"})
	_ = f.rt.SetAnswer(f.qids[1], model.Answer{Kind: model.AnswerKindChoice, Value: "B"})

	outcome, err := f.rt.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome.State != GateSubmitting {
		t.Errorf("gate = %q, want submitting with a complete answer set", outcome.State)
	}
	f.finish.wait(t)

	calls, reason, _ := f.finish.snapshot()
	if calls != 1 || reason != SubmitReasonManual {
		t.Errorf("finisher calls=%d reason=%q, want 1 manual", calls, reason)
	}
}

func TestForceSubmitRacesManualOnce(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 1, 100)
	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.rt.ForceSubmit(SubmitReasonTimeout)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.rt.Submit()
	}()
	wg.Wait()
	f.finish.wait(t)

	// Tiny settle window for a hypothetical second dispatch.
	time.Sleep(50 * time.Millisecond)
	calls, _, _ := f.finish.snapshot()
	if calls != 1 {
		t.Fatalf("finisher ran %d times, want exactly 1", calls)
	}
}

func TestFrozenCopyIsIsolated(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{}, 1, 100)
	_ = f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"})

	f.rt.ForceSubmit(SubmitReasonKnockout)
	f.finish.wait(t)

	_, reason, frozen := f.finish.snapshot()
	if reason != SubmitReasonKnockout {
		t.Errorf("reason = %q, want knockout", reason)
	}

	// Mutating the frozen copy must not leak back into the runtime.
	frozen.Answers[f.qids[0]] = model.Answer{Kind: model.AnswerKindChoice, Value: "Z"}
	if got := f.rt.Session().Answers[f.qids[0]].Value; got != "A" {
		t.Errorf("runtime answer = %q, want A after tampering with the copy", got)
	}
}

func TestResumeSeedsFromSnapshot(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	sess := &model.Session{
		ID:            uuid.New(),
		Status:        model.SessionStatusActive,
		TimeRemaining: 600,
	}
	snap := &model.SessionSnapshot{
		TimeRemaining:        123,
		CurrentQuestionIndex: 1,
		Answers: map[uuid.UUID]model.Answer{
			q1: {Kind: model.AnswerKindChoice, Value: "A"},
		},
		ReviewMarks:    []uuid.UUID{q2},
		TabSwitchCount: 2,
	}
	sess.ApplySnapshot(snap)

	rt := NewRuntime(Options{
		Session:     sess,
		Assessment:  &model.Assessment{Flags: model.ProctoringFlags{TimerEnabled: true}},
		QuestionIDs: []uuid.UUID{q1, q2},
		Snapshots:   &memorySink{},
		Log:         zerolog.Nop(),
	})

	// The countdown continues from the flushed value, not the configured one.
	if got := rt.TimeRemaining(); got != 123 {
		t.Errorf("TimeRemaining = %d, want 123 from the snapshot", got)
	}
	p := rt.Progress()
	if p.Answered != 1 || p.Review != 1 {
		t.Errorf("progress = %+v, want 1 answered 1 review", p)
	}
	if got := rt.Session().TabSwitchCount; got != 2 {
		t.Errorf("TabSwitchCount = %d, want 2", got)
	}
}

func TestStartStopFlushesOnShutdown(t *testing.T) {
	f := newFixture(t, model.ProctoringFlags{TimerEnabled: true}, 1, 100)

	f.rt.Start(context.Background())
	if err := f.rt.SetAnswer(f.qids[0], model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	f.rt.Stop()

	deadline := time.After(2 * time.Second)
	for f.sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("shutdown did not flush the dirty session")
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := f.sink.last()
	if len(snap.Answers) != 1 {
		t.Errorf("final snapshot carries %d answers, want 1", len(snap.Answers))
	}
}
