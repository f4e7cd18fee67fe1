package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyQueueNoDependency(t *testing.T) {
	q := NewDependencyQueue()
	release, err := q.Acquire(context.Background(), "", "a")
	require.NoError(t, err)
	release()

	// Two empty-dependency tasks never contend.
	r1, err := q.Acquire(context.Background(), "", "a")
	require.NoError(t, err)
	r2, err := q.Acquire(context.Background(), "", "b")
	require.NoError(t, err)
	r1()
	r2()
}

func TestDependencyQueueSerializesSameKey(t *testing.T) {
	q := NewDependencyQueue()
	release, err := q.Acquire(context.Background(), "db", "first")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := q.Acquire(context.Background(), "db", "second")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while first holds the slot")
	case <-time.After(50 * time.Millisecond):
	}

	active, queued := q.Status("db")
	assert.Equal(t, "first", active)
	assert.Equal(t, 1, queued)

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestDependencyQueueDifferentKeysParallel(t *testing.T) {
	q := NewDependencyQueue()
	r1, err := q.Acquire(context.Background(), "db", "a")
	require.NoError(t, err)
	r2, err := q.Acquire(context.Background(), "net", "b")
	require.NoError(t, err)
	r1()
	r2()
}

func TestDependencyQueueCancelledWait(t *testing.T) {
	q := NewDependencyQueue()
	release, err := q.Acquire(context.Background(), "db", "holder")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Acquire(ctx, "db", "waiter")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}

	_, queued := q.Status("db")
	assert.Equal(t, 0, queued)
}
