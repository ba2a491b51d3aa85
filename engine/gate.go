package engine

import (
	"context"
	"sync"

	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
)

// queuedGate sequences the two goroutines that publish the first
// lifecycle events of a job: the submitter (queued) and the worker that
// dequeues it (started). Submit arms the gate before the job is stored,
// so a worker that picks the job up right after the admission commit
// waits until the queued event has gone out before announcing started.
// Subscribers on the aggregate topics therefore always observe queued
// before started.
type queuedGate struct {
	mu sync.Mutex
	m  map[id.JobID]chan struct{}
}

func newQueuedGate() *queuedGate {
	return &queuedGate{m: make(map[id.JobID]chan struct{})}
}

// arm registers jobID. Every arm must be paired with an open.
func (g *queuedGate) arm(jobID id.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.m[jobID]; !ok {
		g.m[jobID] = make(chan struct{})
	}
}

// open releases all waiters for jobID and forgets it.
func (g *queuedGate) open(jobID id.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.m[jobID]; ok {
		close(ch)
		delete(g.m, jobID)
	}
}

// wait blocks until the gate for jobID is opened. Jobs that were never
// armed (e.g. restored by the recovery scanner) pass straight through.
func (g *queuedGate) wait(ctx context.Context, jobID id.JobID) {
	g.mu.Lock()
	ch, ok := g.m[jobID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}
