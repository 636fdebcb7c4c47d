package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/model"
)

// sinkRecorder collects fanned-out violation records.
type sinkRecorder struct {
	mu   sync.Mutex
	recs []model.ViolationRecord
}

func (s *sinkRecorder) sink(_ uuid.UUID, rec model.ViolationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *sinkRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		got := len(s.recs)
		s.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("sink received %d records, want %d", got, n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newMonitorFixture(t *testing.T, flags model.ProctoringFlags) (*Runtime, *sinkRecorder, *finishRecorder) {
	t.Helper()
	sink := &sinkRecorder{}
	finish := newFinishRecorder()
	rt := NewRuntime(Options{
		Session: &model.Session{
			ID:            uuid.New(),
			AssessmentID:  uuid.New(),
			CandidateID:   1,
			Status:        model.SessionStatusActive,
			TimeRemaining: 300,
		},
		Assessment:  &model.Assessment{DurationMinutes: 5, Flags: flags},
		QuestionIDs: []uuid.UUID{uuid.New()},
		Snapshots:   &memorySink{},
		Violations:  sink.sink,
		Finish:      finish.finish,
		Log:         zerolog.Nop(),
	})
	return rt, sink, finish
}

func TestVisibilityDeduplicatesTransitions(t *testing.T) {
	rt, _, _ := newMonitorFixture(t, model.ProctoringFlags{
		TabSwitchDetection: true,
		MaxTabSwitches:     10,
	})
	m := rt.Monitor()

	// A burst of duplicate hidden events for one transition counts once.
	m.VisibilityChange(true)
	m.VisibilityChange(true)
	m.VisibilityChange(true)
	m.VisibilityChange(false)
	m.VisibilityChange(false)
	m.VisibilityChange(true)

	if got := rt.Session().TabSwitchCount; got != 2 {
		t.Errorf("TabSwitchCount = %d, want 2", got)
	}
}

func TestVisibilityIgnoredWhenDisabled(t *testing.T) {
	rt, _, _ := newMonitorFixture(t, model.ProctoringFlags{})
	rt.Monitor().VisibilityChange(true)

	if got := rt.Session().TabSwitchCount; got != 0 {
		t.Errorf("TabSwitchCount = %d, want 0 with detection off", got)
	}
}

func TestTabSwitchLimitRaisesBlockingWarningOnce(t *testing.T) {
	rt, sink, _ := newMonitorFixture(t, model.ProctoringFlags{
		TabSwitchDetection: true,
		MaxTabSwitches:     2,
	})
	m := rt.Monitor()
	qid := rt.order[0]

	m.VisibilityChange(true)
	m.VisibilityChange(false)

	// Second switch reaches the limit.
	m.VisibilityChange(true)

	select {
	case ev := <-rt.Events():
		if ev.Type != EventBlockingWarning {
			t.Fatalf("event type = %q, want blocking_warning", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no blocking warning emitted at the limit")
	}

	if err := rt.SetAnswer(qid, model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); err != ErrInputBlocked {
		t.Errorf("SetAnswer while blocked = %v, want ErrInputBlocked", err)
	}

	// Acknowledge unblocks input.
	m.Acknowledge()
	if err := rt.SetAnswer(qid, model.Answer{Kind: model.AnswerKindChoice, Value: "A"}); err != nil {
		t.Errorf("SetAnswer after ack: %v", err)
	}

	// Further switches keep counting but never re-raise the blocking warning.
	m.VisibilityChange(false)
	m.VisibilityChange(true)
	select {
	case ev := <-rt.Events():
		t.Fatalf("unexpected event %q after the warning was spent", ev.Type)
	default:
	}
	if got := rt.Session().TabSwitchCount; got != 3 {
		t.Errorf("TabSwitchCount = %d, want 3", got)
	}

	// Two tab-switch records, one limit record, one more tab-switch record.
	sink.waitFor(t, 4)
}

func TestClipboardCountsAndNotices(t *testing.T) {
	rt, sink, _ := newMonitorFixture(t, model.ProctoringFlags{})
	m := rt.Monitor()

	m.Clipboard(ClipboardCopy)
	m.Clipboard(ClipboardPaste)

	if got := rt.Session().ClipboardCount; got != 2 {
		t.Errorf("ClipboardCount = %d, want 2", got)
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-rt.Events():
			if ev.Type != EventNotice {
				t.Errorf("event type = %q, want notice", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("missing clipboard notice")
		}
	}

	sink.waitFor(t, 2)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, rec := range sink.recs {
		if rec.Violation.Type != model.ViolationClipboard {
			t.Errorf("violation type = %q, want CLIPBOARD", rec.Violation.Type)
		}
		if rec.SessionID != rt.sess.ID {
			t.Error("violation record carries the wrong session id")
		}
	}
}

func TestPresenceGraceWindow(t *testing.T) {
	rt, _, _ := newMonitorFixture(t, model.ProctoringFlags{
		FaceDetection:      true,
		GracePeriodSeconds: 10,
	})
	m := rt.Monitor()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Absence shorter than the grace window records nothing.
	m.PresenceSample(false, t0)
	m.PresenceSample(false, t0.Add(5*time.Second))
	m.PresenceSample(true, t0.Add(8*time.Second))

	if got := len(rt.Session().Violations); got != 0 {
		t.Fatalf("violations = %d, want 0 within the grace window", got)
	}

	// A full absence past the window records exactly one violation even when
	// more absent samples keep arriving.
	m.PresenceSample(false, t0.Add(20*time.Second))
	m.PresenceSample(false, t0.Add(31*time.Second))
	m.PresenceSample(false, t0.Add(32*time.Second))
	m.PresenceSample(false, t0.Add(33*time.Second))

	violations := rt.Session().Violations
	if len(violations) != 1 {
		t.Fatalf("violations = %d, want 1 after grace expiry", len(violations))
	}
	if violations[0].Type != model.ViolationFaceAbsence {
		t.Errorf("violation type = %q, want FACE_ABSENCE", violations[0].Type)
	}
}

func TestPresenceKnockoutForcesSubmit(t *testing.T) {
	rt, _, finish := newMonitorFixture(t, model.ProctoringFlags{
		FaceDetection:      true,
		GracePeriodSeconds: 5,
	})
	m := rt.Monitor()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Three separate grace violations, with returns in between.
	for i := 0; i < 3; i++ {
		base := t0.Add(time.Duration(i) * time.Minute)
		m.PresenceSample(false, base)
		m.PresenceSample(false, base.Add(6*time.Second))
		m.PresenceSample(true, base.Add(10*time.Second))
	}

	finish.wait(t)
	_, reason, frozen := finish.snapshot()
	if reason != SubmitReasonKnockout {
		t.Errorf("reason = %q, want knockout", reason)
	}
	if !frozen.KnockedOut {
		t.Error("frozen session must carry the knockout flag")
	}

	// Absence + knockout entries: 3 absences and 1 knockout.
	types := map[model.ViolationType]int{}
	for _, v := range frozen.Violations {
		types[v.Type]++
	}
	if types[model.ViolationFaceAbsence] != 3 || types[model.ViolationFaceKnockout] != 1 {
		t.Errorf("violation mix = %v, want 3 absences and 1 knockout", types)
	}
}

func TestPresenceIgnoredWhenDisabled(t *testing.T) {
	rt, _, _ := newMonitorFixture(t, model.ProctoringFlags{GracePeriodSeconds: 1})
	m := rt.Monitor()
	t0 := time.Now()

	m.PresenceSample(false, t0)
	m.PresenceSample(false, t0.Add(time.Hour))

	if got := len(rt.Session().Violations); got != 0 {
		t.Errorf("violations = %d, want 0 with face detection off", got)
	}
}

func TestMonitorIgnoresCompletedSession(t *testing.T) {
	rt, _, finish := newMonitorFixture(t, model.ProctoringFlags{
		TabSwitchDetection: true,
		MaxTabSwitches:     5,
	})
	m := rt.Monitor()

	rt.ForceSubmit(SubmitReasonManual)
	finish.wait(t)

	m.VisibilityChange(true)
	m.Clipboard(ClipboardCut)

	sess := rt.Session()
	if sess.TabSwitchCount != 0 || sess.ClipboardCount != 0 {
		t.Errorf("completed session mutated: switches=%d clipboard=%d",
			sess.TabSwitchCount, sess.ClipboardCount)
	}
}
