package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/service"
	ws "github.com/interq/assessment-engine/internal/websocket"
)

// readIdleTimeout drops connections that go silent. Clients send visibility
// and presence signals far more often than this.
const readIdleTimeout = 5 * time.Minute

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// safeConn serializes writes to a WebSocket connection. The event pump and
// the read loop both respond on the same connection.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteTyped(s.conn, v)
}

func (s *safeConn) writeError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteError(s.conn, msg)
}

// WSHandler drives a live session over a WebSocket: every candidate action
// lands on the in-process runtime, and runtime events flow back.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	idleTimeout    time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		idleTimeout:    readIdleTimeout,
	}
}

// SessionStream godoc
// WS /ws/v1/candidate/sessions/:session_id/stream
// Upgrades to WebSocket for real-time answer collection and proctoring.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	rt, err := h.sessionService.Runtime(sessionID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live session, start or resume it first"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &safeConn{conn: conn}

	wsLog := h.log.With().
		Int("candidate_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	pumpDone := make(chan struct{})
	defer close(pumpDone)
	go h.pumpEvents(rt, sc, pumpDone)

	conn.SetReadDeadline(time.Now().Add(h.idleTimeout))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.idleTimeout))

		h.dispatch(rt, sc, wsLog, raw)
	}
}

// pumpEvents forwards runtime events and periodic time syncs to the client.
func (h *WSHandler) pumpEvents(rt *engine.Runtime, sc *safeConn, done <-chan struct{}) {
	timeSync := time.NewTicker(15 * time.Second)
	defer timeSync.Stop()

	for {
		select {
		case <-done:
			return
		case <-timeSync.C:
			_ = sc.write(ws.TimeSyncResponse{
				Event:         ws.EventTimeSync,
				TimeRemaining: rt.TimeRemaining(),
			})
		case e, ok := <-rt.Events():
			if !ok {
				return
			}
			switch e.Type {
			case engine.EventBlockingWarning:
				_ = sc.write(ws.WarningResponse{Event: ws.EventWarning, Blocking: true, Message: e.Message})
			case engine.EventNotice:
				_ = sc.write(ws.WarningResponse{Event: ws.EventWarning, Blocking: false, Message: e.Message})
			case engine.EventFrozen:
				_ = sc.write(ws.FrozenResponse{Event: ws.EventFrozen, Message: e.Message})
			}
		}
	}
}

func (h *WSHandler) dispatch(rt *engine.Runtime, sc *safeConn, wsLog zerolog.Logger, raw []byte) {
	var envelope ws.RequestEnvelope
	if err := decode(raw, &envelope); err != nil {
		sc.writeError("malformed message")
		return
	}

	switch envelope.Action {
	case ws.ActionAnswer:
		h.handleAnswer(rt, sc, raw)
	case ws.ActionNavigate:
		h.handleNavigate(rt, sc, raw)
	case ws.ActionReview:
		h.handleReview(rt, sc, raw)
	case ws.ActionVisibility:
		var req ws.VisibilityRequest
		if err := decode(raw, &req); err != nil {
			sc.writeError("malformed message")
			return
		}
		rt.Monitor().VisibilityChange(req.Hidden)
	case ws.ActionClipboard:
		var req ws.ClipboardRequest
		if err := decode(raw, &req); err != nil {
			sc.writeError("malformed message")
			return
		}
		rt.Monitor().Clipboard(engine.ClipboardOp(req.Operation))
	case ws.ActionContext:
		rt.Monitor().ContextMenu()
	case ws.ActionPresence:
		var req ws.PresenceRequest
		if err := decode(raw, &req); err != nil {
			sc.writeError("malformed message")
			return
		}
		rt.Monitor().PresenceSample(req.Visible, time.Now())
	case ws.ActionAckWarning:
		rt.Monitor().Acknowledge()
		h.writeSaved(rt, sc)
	case ws.ActionSubmit:
		h.handleSubmit(rt, sc, wsLog)
	case ws.ActionPing:
		_ = sc.write(ws.PongResponse{Event: ws.EventPong})
	default:
		wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
		sc.writeError("unknown action: " + string(envelope.Action))
	}
}

func (h *WSHandler) handleAnswer(rt *engine.Runtime, sc *safeConn, raw []byte) {
	var req ws.AnswerRequest
	if err := decode(raw, &req); err != nil {
		sc.writeError("malformed message")
		return
	}

	qid, err := uuid.Parse(req.QuestionID)
	if err != nil {
		sc.writeError("invalid question_id format")
		return
	}

	ans := model.Answer{Kind: model.AnswerKind(req.Kind), Value: req.Value}
	if !ans.Kind.Valid() {
		sc.writeError("invalid answer kind")
		return
	}

	if err := rt.SetAnswer(qid, ans); err != nil {
		h.writeRuntimeError(sc, err)
		return
	}
	h.writeSaved(rt, sc)
}

func (h *WSHandler) handleNavigate(rt *engine.Runtime, sc *safeConn, raw []byte) {
	var req ws.NavigateRequest
	if err := decode(raw, &req); err != nil {
		sc.writeError("malformed message")
		return
	}

	if err := rt.Navigate(req.Index); err != nil {
		h.writeRuntimeError(sc, err)
		return
	}
	h.writeSaved(rt, sc)
}

func (h *WSHandler) handleReview(rt *engine.Runtime, sc *safeConn, raw []byte) {
	var req ws.ReviewRequest
	if err := decode(raw, &req); err != nil {
		sc.writeError("malformed message")
		return
	}

	qid, err := uuid.Parse(req.QuestionID)
	if err != nil {
		sc.writeError("invalid question_id format")
		return
	}

	if err := rt.ToggleReview(qid); err != nil {
		h.writeRuntimeError(sc, err)
		return
	}
	h.writeSaved(rt, sc)
}

func (h *WSHandler) handleSubmit(rt *engine.Runtime, sc *safeConn, wsLog zerolog.Logger) {
	sessionID := rt.Session().ID

	outcome, err := rt.Submit()
	if err != nil {
		h.writeRuntimeError(sc, err)
		return
	}

	switch outcome.State {
	case engine.GateWarned:
		_ = sc.write(ws.WarnedResponse{Event: ws.EventWarned, Unanswered: outcome.Unanswered})
	case engine.GateSubmitting:
		wsLog.Info().Msg("Session submitted")
		go h.deliverResult(sessionID, sc, wsLog)
	}
}

// deliverResult waits for the submission pipeline to land and pushes the
// graded event. The pipeline runs in its own goroutine, so this polls.
func (h *WSHandler) deliverResult(sessionID uuid.UUID, sc *safeConn, wsLog zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		result, err := h.sessionService.GetOrComputeResult(ctx, sessionID)
		if err == nil {
			_ = sc.write(ws.GradedResponse{
				Event:      ws.EventGraded,
				RawScore:   result.RawScore,
				Percentage: result.Percentage,
				Passed:     result.Passed,
			})
			return
		}
		if !errors.Is(err, service.ErrResultNotReady) {
			wsLog.Error().Err(err).Msg("Result delivery failed")
		}

		select {
		case <-ctx.Done():
			sc.writeError("grading is taking longer than expected, fetch the result later")
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (h *WSHandler) writeSaved(rt *engine.Runtime, sc *safeConn) {
	progress := rt.Progress()
	_ = sc.write(ws.SavedResponse{
		Event:         ws.EventSaved,
		TimeRemaining: rt.TimeRemaining(),
		Answered:      progress.Answered,
		Unanswered:    progress.Unanswered,
	})
}

func decode(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func (h *WSHandler) writeRuntimeError(sc *safeConn, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionCompleted):
		sc.writeError("session is already completed")
	case errors.Is(err, engine.ErrInputBlocked):
		sc.writeError("acknowledge the integrity warning first")
	case errors.Is(err, engine.ErrInputFrozen):
		sc.writeError("time is up, input is frozen")
	default:
		sc.writeError("action failed")
	}
}
