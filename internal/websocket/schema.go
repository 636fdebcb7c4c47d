package websocket

import "github.com/google/uuid"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionNavigate   Action = "navigate"
	ActionReview     Action = "review"
	ActionVisibility Action = "visibility"
	ActionClipboard  Action = "clipboard"
	ActionContext    Action = "context_menu"
	ActionPresence   Action = "presence"
	ActionAckWarning Action = "ack_warning"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records or replaces a single answer.
type AnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	Kind       string `json:"kind"`
	Value      string `json:"value"`
}

// NavigateRequest moves the candidate's current question pointer.
type NavigateRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index"`
}

// ReviewRequest toggles the mark-for-review flag on a question.
type ReviewRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
}

// VisibilityRequest reports a browser visibility transition.
type VisibilityRequest struct {
	Action Action `json:"action"`
	Hidden bool   `json:"hidden"`
}

// ClipboardRequest reports an intercepted copy/cut/paste attempt.
type ClipboardRequest struct {
	Action    Action `json:"action"`
	Operation string `json:"operation"`
}

// PresenceRequest carries one face-detection sample.
type PresenceRequest struct {
	Action  Action `json:"action"`
	Visible bool   `json:"visible"`
}

// AckWarningRequest acknowledges a blocking integrity warning.
type AckWarningRequest struct {
	Action Action `json:"action"`
}

// SubmitRequest drives the review gate toward final submission.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSaved    Event = "saved"
	EventTimeSync Event = "time_sync"
	EventWarning  Event = "warning"
	EventNotice   Event = "notice"
	EventFrozen   Event = "frozen"
	EventWarned   Event = "warned"
	EventGraded   Event = "graded"
	EventPong     Event = "pong"
)

// SavedResponse acknowledges a state-mutating action, carrying the
// recomputed progress so the client never counts answers itself.
type SavedResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"time_remaining"`
	Answered      int   `json:"answered_count"`
	Unanswered    int   `json:"unanswered_count"`
}

// TimeSyncResponse periodically re-anchors the client countdown.
type TimeSyncResponse struct {
	Event         Event `json:"event"`
	TimeRemaining int   `json:"time_remaining"`
}

// WarningResponse delivers an integrity warning. Blocking warnings halt
// input until acknowledged.
type WarningResponse struct {
	Event    Event  `json:"event"`
	Blocking bool   `json:"blocking"`
	Message  string `json:"message"`
}

// FrozenResponse tells the client the timer expired without auto-submit.
type FrozenResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// WarnedResponse lists unanswered questions after a first submit attempt.
type WarnedResponse struct {
	Event      Event       `json:"event"`
	Unanswered []uuid.UUID `json:"unanswered"`
}

// GradedResponse delivers the scored outcome after final submission.
type GradedResponse struct {
	Event      Event `json:"event"`
	RawScore   int   `json:"raw_score"`
	Percentage int   `json:"percentage"`
	Passed     bool  `json:"passed"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
