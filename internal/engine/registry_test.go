package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/model"
)

func buildTestRuntime() *Runtime {
	return NewRuntime(Options{
		Session:    &model.Session{ID: uuid.New(), Status: model.SessionStatusActive},
		Assessment: &model.Assessment{},
		Snapshots:  &memorySink{},
		Log:        zerolog.Nop(),
	})
}

func TestRegistryGetOrPut(t *testing.T) {
	g := NewRegistry()
	id := uuid.New()

	built := 0
	rt1, existed := g.GetOrPut(id, func() *Runtime {
		built++
		return buildTestRuntime()
	})
	if existed {
		t.Error("first GetOrPut reported an existing runtime")
	}

	rt2, existed := g.GetOrPut(id, func() *Runtime {
		built++
		return buildTestRuntime()
	})
	if !existed {
		t.Error("second GetOrPut did not report the existing runtime")
	}
	if rt1 != rt2 {
		t.Error("GetOrPut returned different runtimes for one session")
	}
	if built != 1 {
		t.Errorf("factory ran %d times, want 1", built)
	}
}

func TestRegistryRemove(t *testing.T) {
	g := NewRegistry()
	id := uuid.New()

	g.GetOrPut(id, buildTestRuntime)
	g.Remove(id)
	if g.Get(id) != nil {
		t.Error("runtime still registered after Remove")
	}

	// Second remove is a no-op.
	g.Remove(id)
}

func TestRegistryStopAll(t *testing.T) {
	g := NewRegistry()
	a, b := uuid.New(), uuid.New()
	g.GetOrPut(a, buildTestRuntime)
	g.GetOrPut(b, buildTestRuntime)

	g.StopAll()
	if g.Get(a) != nil || g.Get(b) != nil {
		t.Error("runtimes still registered after StopAll")
	}
}
