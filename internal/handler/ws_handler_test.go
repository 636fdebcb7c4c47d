package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/model"
	"github.com/interq/assessment-engine/internal/service"
)

type noopSnapshots struct{}

func (noopSnapshots) SaveSnapshot(context.Context, model.SessionSnapshot) error { return nil }

// newStreamServer registers a live runtime and serves the stream route with
// the given idle timeout. Claims are injected directly, standing in for the
// query-token middleware.
func newStreamServer(t *testing.T, idleTimeout time.Duration) (*httptest.Server, uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	assess := &model.Assessment{
		ID:              uuid.New(),
		DurationMinutes: 10,
		QuestionCount:   1,
		Status:          model.AssessmentStatusPublished,
	}
	sess := &model.Session{
		ID:            uuid.New(),
		AssessmentID:  assess.ID,
		CandidateID:   7,
		Status:        model.SessionStatusActive,
		TimeRemaining: 600,
	}

	rt := engine.NewRuntime(engine.Options{
		Session:     sess,
		Assessment:  assess,
		QuestionIDs: []uuid.UUID{uuid.New()},
		Snapshots:   noopSnapshots{},
		Violations:  func(uuid.UUID, model.ViolationRecord) {},
		Finish:      func(engine.SubmitReason, *model.Session) {},
		Log:         zerolog.Nop(),
	})

	registry := engine.NewRegistry()
	registry.GetOrPut(sess.ID, func() *engine.Runtime { return rt })
	t.Cleanup(registry.StopAll)

	svc := service.NewSessionService(service.SessionServiceOptions{
		Registry: registry,
		Log:      zerolog.Nop(),
	})

	h := NewWSHandler(svc, zerolog.Nop(), nil)
	h.idleTimeout = idleTimeout

	r := gin.New()
	r.GET("/ws/v1/candidate/sessions/:session_id/stream", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: 7})
	}, h.SessionStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sess.ID
}

func dialStream(t *testing.T, srv *httptest.Server, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/candidate/sessions/" + sessionID.String() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamDropsSilentConnection(t *testing.T) {
	srv, sessionID := newStreamServer(t, 150*time.Millisecond)
	conn := dialStream(t, srv, sessionID)

	// Send nothing. The read deadline applies before the first read, so a
	// client that never speaks is disconnected after the idle window.
	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("server kept a silent connection open")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connection survived %v, want drop after the idle window", elapsed)
	}
}

func TestStreamStaysOpenWhileClientTalks(t *testing.T) {
	srv, sessionID := newStreamServer(t, 300*time.Millisecond)
	conn := dialStream(t, srv, sessionID)

	// Pings inside the idle window keep refreshing the deadline, so the
	// connection outlives several windows.
	deadline := time.Now().Add(900 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
			t.Fatalf("write ping: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var resp struct {
			Event string `json:"event"`
		}
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read pong: %v", err)
		}
		if resp.Event != "pong" {
			t.Fatalf("event = %q, want pong", resp.Event)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
