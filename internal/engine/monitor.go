package engine

import (
	"fmt"
	"time"

	"github.com/interq/assessment-engine/internal/model"
)

// knockoutAbsenceLimit is how many grace-window presence violations a
// face-proctored session tolerates before input is knocked out and the
// attempt is force-submitted.
const knockoutAbsenceLimit = 3

// ClipboardOp names an intercepted clipboard action.
type ClipboardOp string

const (
	ClipboardCopy  ClipboardOp = "copy"
	ClipboardCut   ClipboardOp = "cut"
	ClipboardPaste ClipboardOp = "paste"
)

// Monitor observes environment signals for one session: visibility
// transitions, clipboard interception reports and presence samples. It is
// scoped to its runtime and torn down with it, so listeners never leak
// across sessions. All state lives under the runtime mutex.
type Monitor struct {
	r     *Runtime
	flags model.ProctoringFlags
	sink  ViolationSink

	// lastHidden is the last observed visibility state. Duplicate events for
	// one transition compare equal against it and are not double-counted.
	lastHidden bool

	absentSince  *time.Time
	absenceCount int
	graceLogged  bool

	warningRaised bool
}

func newMonitor(r *Runtime, flags model.ProctoringFlags, sink ViolationSink) *Monitor {
	return &Monitor{r: r, flags: flags, sink: sink}
}

// VisibilityChange handles a page-visibility transition. hidden=true means
// the window lost foreground focus. Reaching the configured switch limit
// raises the blocking warning exactly once.
func (m *Monitor) VisibilityChange(hidden bool) {
	if !m.flags.TabSwitchDetection {
		return
	}

	m.r.mu.Lock()
	if m.r.sess.Completed() || hidden == m.lastHidden {
		m.r.mu.Unlock()
		return
	}
	m.lastHidden = hidden

	if !hidden {
		m.r.mu.Unlock()
		return
	}

	m.r.sess.TabSwitchCount++
	count := m.r.sess.TabSwitchCount
	m.recordLocked(model.ViolationTabSwitch, fmt.Sprintf("window lost focus (switch %d)", count))

	raise := false
	if count >= m.flags.MaxTabSwitches && m.flags.MaxTabSwitches > 0 && !m.warningRaised {
		m.warningRaised = true
		m.r.blocked = true
		raise = true
		m.recordLocked(model.ViolationLimitExceeded,
			fmt.Sprintf("tab switch limit reached (%d/%d)", count, m.flags.MaxTabSwitches))
	}
	remaining := m.r.sess.TimeRemaining
	m.r.mu.Unlock()

	if raise {
		m.r.emit(Event{
			Type:          EventBlockingWarning,
			Message:       "tab switch limit reached, acknowledge to continue",
			TimeRemaining: remaining,
		})
	}
}

// Acknowledge unblocks input after a blocking warning.
func (m *Monitor) Acknowledge() {
	m.r.mu.Lock()
	m.r.blocked = false
	m.r.mu.Unlock()
}

// Clipboard records an intercepted copy/cut/paste. The client already
// cancelled the default action; the server's job is the counter and the log
// entry plus a non-blocking notice.
func (m *Monitor) Clipboard(op ClipboardOp) {
	m.r.mu.Lock()
	if m.r.sess.Completed() {
		m.r.mu.Unlock()
		return
	}
	m.r.sess.ClipboardCount++
	m.recordLocked(model.ViolationClipboard, fmt.Sprintf("clipboard %s intercepted", op))
	remaining := m.r.sess.TimeRemaining
	m.r.mu.Unlock()

	m.r.emit(Event{
		Type:          EventNotice,
		Message:       "clipboard is disabled during the assessment",
		TimeRemaining: remaining,
	})
}

// ContextMenu handles a suppressed right-click. Suppression mirrors the
// clipboard treatment but deliberately does not increment a counter.
func (m *Monitor) ContextMenu() {
	m.r.log.Debug().Msg("Context menu suppressed")
}

// PresenceSample ingests a periodic "subject visible" boolean from the
// face-presence feed. An absence outlasting the grace window appends a
// violation; repeated grace violations knock the attempt out.
func (m *Monitor) PresenceSample(visible bool, at time.Time) {
	if !m.flags.FaceDetection {
		return
	}

	m.r.mu.Lock()
	if m.r.sess.Completed() {
		m.r.mu.Unlock()
		return
	}

	if visible {
		m.absentSince = nil
		m.graceLogged = false
		m.r.mu.Unlock()
		return
	}

	if m.absentSince == nil {
		t := at
		m.absentSince = &t
		m.r.mu.Unlock()
		return
	}

	grace := time.Duration(m.flags.GracePeriodSeconds) * time.Second
	if at.Sub(*m.absentSince) < grace || m.graceLogged {
		m.r.mu.Unlock()
		return
	}

	m.graceLogged = true
	m.absenceCount++
	m.recordLocked(model.ViolationFaceAbsence,
		fmt.Sprintf("no face detected for over %ds", m.flags.GracePeriodSeconds))

	knockout := m.absenceCount >= knockoutAbsenceLimit && !m.r.sess.KnockedOut
	if knockout {
		m.r.sess.KnockedOut = true
		m.recordLocked(model.ViolationFaceKnockout, "repeated face absence, attempt knocked out")
	}
	m.r.mu.Unlock()

	if knockout {
		m.r.ForceSubmit(SubmitReasonKnockout)
	}
}

// recordLocked appends a timestamped violation and fans it out to the sink.
// Callers must hold the runtime mutex.
func (m *Monitor) recordLocked(t model.ViolationType, detail string) {
	v := model.Violation{
		Type:       t,
		Detail:     detail,
		RecordedAt: m.r.now(),
	}
	m.r.sess.Violations = append(m.r.sess.Violations, v)
	m.r.touchLocked()

	if m.sink != nil {
		rec := model.ViolationRecord{
			SessionID:   m.r.sess.ID,
			CandidateID: m.r.sess.CandidateID,
			Violation:   v,
		}
		go m.sink(m.r.sess.AssessmentID, rec)
	}
}
