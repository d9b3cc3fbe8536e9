package scan

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/repo-governor/pkg/models"
)

type staticWorkloads struct {
	list []models.Workload
}

func (s *staticWorkloads) All() []models.Workload { return s.list }

func TestSchedulerSweepsImmediatelyThenOnInterval(t *testing.T) {
	facts := &fakeFacts{byRepo: map[string]*models.RepositoryFacts{"acme/api": compliantFacts()}}
	st := &fakeStore{}
	orch := newTestOrchestrator(t, facts, st, 1)

	source := &staticWorkloads{list: []models.Workload{workload("api")}}
	sched := NewScheduler(orch, source, 30*time.Millisecond, orch.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	// One immediate sweep plus at least two ticks.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&facts.inCalls), int32(3))
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	facts := &fakeFacts{byRepo: map[string]*models.RepositoryFacts{"acme/api": compliantFacts()}}
	orch := newTestOrchestrator(t, facts, &fakeStore{}, 1)
	sched := NewScheduler(orch, &staticWorkloads{}, time.Hour, orch.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
