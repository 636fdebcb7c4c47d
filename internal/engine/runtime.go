// Package engine hosts the in-process session engine: one Runtime per live
// attempt, owning the countdown tick, the periodic autosave flush and every
// mutation of the in-memory session. All three periodic activities serialize
// on the Runtime mutex, so the session is never read or written torn.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/model"
)

// SnapshotSink receives periodic session snapshots. The production sink
// writes the Redis resume cache and enqueues durable persistence; tests use
// in-memory fakes.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap model.SessionSnapshot) error
}

// ViolationSink receives each violation as it is recorded. Delivery is
// fire-and-forget from the runtime's point of view.
type ViolationSink func(assessmentID uuid.UUID, rec model.ViolationRecord)

// SubmitReason says what pushed the session over the finish line.
type SubmitReason string

const (
	SubmitReasonManual   SubmitReason = "manual"
	SubmitReasonTimeout  SubmitReason = "timeout"
	SubmitReasonKnockout SubmitReason = "knockout"
)

// Finisher runs the submission pipeline (durable completion mark, scoring,
// result write) for a frozen session copy. Invoked at most once per runtime.
type Finisher func(reason SubmitReason, frozen *model.Session)

// GateState is the review-gate position: a submit with unanswered questions
// moves reviewing → warned; the next submit proceeds.
type GateState string

const (
	GateReviewing  GateState = "reviewing"
	GateWarned     GateState = "warned"
	GateSubmitting GateState = "submitting"
)

// EventType classifies runtime → client notifications.
type EventType string

const (
	// EventBlockingWarning requires explicit acknowledgment before input resumes.
	EventBlockingWarning EventType = "blocking_warning"
	// EventNotice is informational (clipboard interception and the like).
	EventNotice EventType = "notice"
	// EventFrozen fires when the timer hits zero without auto-submit.
	EventFrozen EventType = "frozen"
)

// Event is an outbound runtime notification.
type Event struct {
	Type          EventType `json:"type"`
	Message       string    `json:"message"`
	TimeRemaining int       `json:"time_remaining"`
}

// SubmitOutcome reports where a submit attempt landed.
type SubmitOutcome struct {
	State      GateState   `json:"state"`
	Unanswered []uuid.UUID `json:"unanswered,omitempty"`
}

var (
	// ErrSessionCompleted rejects input against a terminal session.
	ErrSessionCompleted = errors.New("session is already completed")
	// ErrInputBlocked rejects input while a blocking warning is unacknowledged.
	ErrInputBlocked = errors.New("input blocked pending warning acknowledgment")
	// ErrInputFrozen rejects input after the timer expired without auto-submit.
	ErrInputFrozen = errors.New("input frozen, time is up")
)

// Options configures a Runtime.
type Options struct {
	Session     *model.Session
	Assessment  *model.Assessment
	QuestionIDs []uuid.UUID // assessment question ids, original order

	Snapshots  SnapshotSink
	Violations ViolationSink
	Finish     Finisher

	AutosaveInterval time.Duration
	Log              zerolog.Logger
	Now              func() time.Time // defaults to time.Now
}

// Runtime drives one live session.
type Runtime struct {
	mu     sync.Mutex
	sess   *model.Session
	assess *model.Assessment

	order []uuid.UUID
	qset  map[uuid.UUID]struct{}

	gate      GateState
	blocked   bool
	frozen    bool
	paused    bool
	submitted bool

	// seq counts mutations; flushedSeq trails it. They differ exactly when
	// the in-memory session is dirty relative to the last successful flush.
	seq        uint64
	flushedSeq uint64

	snapshots     SnapshotSink
	finish        Finisher
	monitor       *Monitor
	autosaveEvery time.Duration
	now           func() time.Time

	flushInFlight atomic.Bool

	events   chan Event
	stopc    chan struct{}
	stopOnce sync.Once

	log zerolog.Logger
}

// NewRuntime builds a runtime around an active session. The session must
// already be seeded (fresh or from a resume snapshot).
func NewRuntime(o Options) *Runtime {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = 30 * time.Second
	}
	if o.Session.Answers == nil {
		o.Session.Answers = make(map[uuid.UUID]model.Answer)
	}
	if o.Session.ReviewMarks == nil {
		o.Session.ReviewMarks = make(map[uuid.UUID]struct{})
	}

	qset := make(map[uuid.UUID]struct{}, len(o.QuestionIDs))
	for _, id := range o.QuestionIDs {
		qset[id] = struct{}{}
	}

	r := &Runtime{
		sess:          o.Session,
		assess:        o.Assessment,
		order:         o.QuestionIDs,
		qset:          qset,
		gate:          GateReviewing,
		snapshots:     o.Snapshots,
		finish:        o.Finish,
		autosaveEvery: o.AutosaveInterval,
		now:           o.Now,
		events:        make(chan Event, 16),
		stopc:         make(chan struct{}),
		log: o.Log.With().
			Str("session_id", o.Session.ID.String()).
			Int("candidate_id", o.Session.CandidateID).
			Logger(),
	}
	r.monitor = newMonitor(r, o.Assessment.Flags, o.Violations)
	return r
}

// Monitor exposes the session's integrity monitor.
func (r *Runtime) Monitor() *Monitor { return r.monitor }

// Events is the outbound notification stream. Events are dropped when the
// buffer is full rather than stalling the tick.
func (r *Runtime) Events() <-chan Event { return r.events }

// Start launches the tick/autosave loop. Call Stop (or cancel ctx) to end it.
func (r *Runtime) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop ends the loop after a final best-effort flush.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopc) })
}

func (r *Runtime) run(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	save := time.NewTicker(r.autosaveEvery)
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			return
		case <-r.stopc:
			r.finalFlush()
			return
		case <-tick.C:
			r.Tick()
		case <-save.C:
			// The flush runs off the loop goroutine so a slow persistence
			// call can never stall the countdown. A failed flush keeps the
			// dirty marker set and is retried on the next interval.
			if !r.flushInFlight.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer r.flushInFlight.Store(false)
				if err := r.Flush(ctx); err != nil {
					r.log.Warn().Err(err).Msg("Autosave failed, retrying next interval")
				}
			}()
		}
	}
}

func (r *Runtime) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Final flush failed")
	}
}

// Tick decrements the countdown by one second. No-op when the session is
// completed, paused, frozen, or the assessment runs without a timer.
func (r *Runtime) Tick() {
	r.mu.Lock()

	if r.sess.Completed() || r.paused || r.frozen || !r.assess.Flags.TimerEnabled {
		r.mu.Unlock()
		return
	}

	if r.sess.TimeRemaining > 0 {
		r.sess.TimeRemaining--
		r.seq++
	}

	if r.sess.TimeRemaining > 0 {
		r.mu.Unlock()
		return
	}

	if r.assess.Flags.AutoSubmitOnTimeout {
		r.dispatchSubmitLocked(SubmitReasonTimeout)
		r.mu.Unlock()
		return
	}

	// No auto-submit: input freezes but the session stays resumable until
	// a manual submission arrives.
	r.frozen = true
	r.mu.Unlock()
	r.emit(Event{Type: EventFrozen, Message: "time is up", TimeRemaining: 0})
}

// Flush writes the current snapshot to the sink if anything changed since
// the last successful flush. Once the session has been handed to the
// finisher, flushing stands down: the submission pipeline owns the final
// write, and a late autosave must not resurrect the dropped resume cache.
func (r *Runtime) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.submitted || r.flushedSeq == r.seq {
		r.mu.Unlock()
		return nil
	}
	snap := r.sess.Snapshot()
	seqAt := r.seq
	r.mu.Unlock()

	if err := r.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return err
	}

	r.mu.Lock()
	if r.flushedSeq < seqAt {
		r.flushedSeq = seqAt
	}
	r.mu.Unlock()
	return nil
}

// Pause suspends the countdown. Kept for operational tooling only: the
// assessment contract shown to candidates is "cannot be paused once started"
// and no candidate route reaches this.
func (r *Runtime) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume lifts an operational pause.
func (r *Runtime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// TimeRemaining reports the current countdown value.
func (r *Runtime) TimeRemaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.TimeRemaining
}

// acceptingInput reports whether candidate mutations are currently allowed.
// Callers must hold r.mu.
func (r *Runtime) acceptingInputLocked() error {
	switch {
	case r.sess.Completed():
		return ErrSessionCompleted
	case r.blocked:
		return ErrInputBlocked
	case r.frozen:
		return ErrInputFrozen
	}
	return nil
}

// SetAnswer records a candidate answer, overwriting any prior value. An
// answer for a question outside the assessment is ignored without error —
// it must never corrupt the session.
func (r *Runtime) SetAnswer(questionID uuid.UUID, ans model.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.acceptingInputLocked(); err != nil {
		return err
	}
	if _, ok := r.qset[questionID]; !ok {
		return nil
	}
	if !ans.Kind.Valid() {
		ans.Kind = model.AnswerKindChoice
	}

	r.sess.Answers[questionID] = ans
	r.touchLocked()
	return nil
}

// ToggleReview flips the revisit flag for a question.
func (r *Runtime) ToggleReview(questionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.acceptingInputLocked(); err != nil {
		return err
	}
	if _, ok := r.qset[questionID]; !ok {
		return nil
	}

	if _, marked := r.sess.ReviewMarks[questionID]; marked {
		delete(r.sess.ReviewMarks, questionID)
	} else {
		r.sess.ReviewMarks[questionID] = struct{}{}
	}
	r.touchLocked()
	return nil
}

// Navigate moves the current question index, clamped to the question range.
func (r *Runtime) Navigate(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.acceptingInputLocked(); err != nil {
		return err
	}

	if index < 0 {
		index = 0
	}
	if max := len(r.order) - 1; index > max {
		index = max
	}
	if index < 0 { // assessment without questions
		index = 0
	}

	r.sess.CurrentQuestionIndex = index
	r.touchLocked()
	return nil
}

// Progress returns the derived completion view, recomputed from the live maps.
func (r *Runtime) Progress() model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.ProgressFor(len(r.order))
}

// Session returns a deep copy of the current session state.
func (r *Runtime) Session() *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Clone()
}

// Submit runs the review gate. The first attempt with unanswered questions
// returns a warned outcome; an identical second attempt proceeds. A session
// past its gate dispatches the submission pipeline exactly once.
func (r *Runtime) Submit() (SubmitOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess.Completed() || r.submitted {
		return SubmitOutcome{}, ErrSessionCompleted
	}

	progress := r.sess.ProgressFor(len(r.order))
	if progress.Unanswered > 0 && r.gate != GateWarned {
		r.gate = GateWarned
		return SubmitOutcome{State: GateWarned, Unanswered: r.unansweredLocked()}, nil
	}

	r.gate = GateSubmitting
	r.dispatchSubmitLocked(SubmitReasonManual)
	return SubmitOutcome{State: GateSubmitting}, nil
}

// ForceSubmit bypasses the review gate (timeout or integrity knockout).
func (r *Runtime) ForceSubmit(reason SubmitReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchSubmitLocked(reason)
}

// unansweredLocked lists unanswered question ids in original question order.
func (r *Runtime) unansweredLocked() []uuid.UUID {
	var missing []uuid.UUID
	for _, id := range r.order {
		if _, ok := r.sess.Answers[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// dispatchSubmitLocked freezes the session and hands a deep copy to the
// finisher. Idempotent: the timeout tick racing a manual submit results in a
// single pipeline run. Callers must hold r.mu.
func (r *Runtime) dispatchSubmitLocked(reason SubmitReason) {
	if r.submitted || r.sess.Completed() {
		return
	}
	r.submitted = true

	now := r.now()
	r.sess.Status = model.SessionStatusCompleted
	r.sess.SubmittedAt = &now
	r.seq++

	frozen := r.sess.Clone()
	r.log.Info().Str("reason", string(reason)).Msg("Session submitted")

	if r.finish != nil {
		go r.finish(reason, frozen)
	}
}

// touchLocked records activity and marks the runtime dirty. Callers must
// hold r.mu.
func (r *Runtime) touchLocked() {
	r.sess.LastActivityAt = r.now()
	r.seq++
}

// emit pushes an event without ever blocking a mutation path.
func (r *Runtime) emit(e Event) {
	select {
	case r.events <- e:
	default:
	}
}
