package cron

import (
	"context"
	"sync"
)

// DependencyQueue serializes tasks that declare the same dependency
// key. Tasks with different keys, or no key, run in parallel. Waiters
// are served in arrival order.
type DependencyQueue struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	state map[string]*depState
}

type depState struct {
	active string
	queued int
}

// NewDependencyQueue returns an empty queue.
func NewDependencyQueue() *DependencyQueue {
	return &DependencyQueue{
		slots: make(map[string]chan struct{}),
		state: make(map[string]*depState),
	}
}

// Acquire blocks until the dependency slot is free, then returns a
// release function. An empty dependency acquires nothing. The ctx
// cancels the wait.
func (q *DependencyQueue) Acquire(ctx context.Context, dependency, taskID string) (func(), error) {
	if dependency == "" {
		return func() {}, nil
	}
	q.mu.Lock()
	slot, ok := q.slots[dependency]
	if !ok {
		slot = make(chan struct{}, 1)
		q.slots[dependency] = slot
		q.state[dependency] = &depState{}
	}
	st := q.state[dependency]
	st.queued++
	q.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		q.mu.Lock()
		st.queued--
		q.mu.Unlock()
		return nil, ctx.Err()
	}

	q.mu.Lock()
	st.queued--
	st.active = taskID
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		st.active = ""
		q.mu.Unlock()
		<-slot
	}, nil
}

// Status reports the running task and queue depth for a dependency.
func (q *DependencyQueue) Status(dependency string) (active string, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.state[dependency]; ok {
		return st.active, st.queued
	}
	return "", 0
}
