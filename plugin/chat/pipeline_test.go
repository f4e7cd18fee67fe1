package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAbortMessage(t *testing.T) {
	assert.True(t, IsAbortMessage("/stop"))
	assert.True(t, IsAbortMessage("  /STOP  "))
	assert.True(t, IsAbortMessage("stop"))
	assert.True(t, IsAbortMessage("Abbrechen"))
	assert.True(t, IsAbortMessage("wait"))

	assert.False(t, IsAbortMessage("stop the world"))
	assert.False(t, IsAbortMessage("/stop now"))
	assert.False(t, IsAbortMessage("please"))
}

func TestIsQuickCommand(t *testing.T) {
	assert.True(t, IsQuickCommand("/status"))
	assert.True(t, IsQuickCommand("/model sonnet"))
	assert.True(t, IsQuickCommand("  /CRON  "))

	assert.False(t, IsQuickCommand("/new"))
	assert.False(t, IsQuickCommand("hello"))
	assert.False(t, IsQuickCommand(""))
}

func TestDedupeCache(t *testing.T) {
	c := NewDedupeCache(time.Minute, 3)

	assert.False(t, c.Check("a"))
	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
	assert.False(t, c.Check("c"))
	assert.Equal(t, 3, c.Size())

	// Capacity eviction drops the least recently seen key.
	assert.False(t, c.Check("d"))
	assert.Equal(t, 3, c.Size())
	assert.False(t, c.Check("a"))
}

func TestDedupeCacheTTLExpiry(t *testing.T) {
	c := NewDedupeCache(10*time.Millisecond, 10)
	assert.False(t, c.Check("k"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Check("k"))
}

func TestDedupeKey(t *testing.T) {
	assert.Equal(t, "42:7", DedupeKey(42, 7))
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	edits   map[int]string
	deleted []int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{edits: make(map[int]string)}
}

func (f *fakeTransport) Send(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeTransport) SendWithCancel(ctx context.Context, chatID int64, text, _ string, _ int) (int, error) {
	return f.Send(ctx, chatID, text)
}

func (f *fakeTransport) Edit(_ context.Context, _ int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = text
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func TestPipelineSequentialQueue(t *testing.T) {
	transport := newFakeTransport()
	p := NewPipeline(transport)
	ctx := context.Background()

	firstRunning := make(chan struct{})
	releaseFirst := make(chan struct{})
	var order []int

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 1, MessageID: 1, Text: "first"}, func(context.Context, Message) error {
			close(firstRunning)
			<-releaseFirst
			order = append(order, 1)
			return nil
		})
	}()

	<-firstRunning
	assert.True(t, p.IsBusy(1))

	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 1, MessageID: 2, Text: "second"}, func(context.Context, Message) error {
			order = append(order, 2)
			return nil
		})
	}()

	// The second message gets a visible queue indicator.
	require.Eventually(t, func() bool { return p.HasPending(1) }, time.Second, 5*time.Millisecond)
	transport.mu.Lock()
	sentCount := len(transport.sent)
	transport.mu.Unlock()
	assert.Equal(t, 1, sentCount)

	close(releaseFirst)
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
	assert.False(t, p.IsBusy(1))
	// Indicator deleted once the queued message ran.
	transport.mu.Lock()
	deleted := len(transport.deleted)
	transport.mu.Unlock()
	assert.Equal(t, 1, deleted)
}

func TestPipelineCancelQueuedEntry(t *testing.T) {
	transport := newFakeTransport()
	p := NewPipeline(transport)
	ctx := context.Background()

	firstRunning := make(chan struct{})
	releaseFirst := make(chan struct{})
	ran := false

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 5, MessageID: 1, Text: "busy"}, func(context.Context, Message) error {
			close(firstRunning)
			<-releaseFirst
			return nil
		})
	}()
	<-firstRunning

	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 5, MessageID: 2, Text: "queued"}, func(context.Context, Message) error {
			ran = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return p.HasPending(5) }, time.Second, 5*time.Millisecond)

	assert.True(t, p.CancelEntry(ctx, 5, 1))
	// Cancelling twice is a no-op.
	assert.False(t, p.CancelEntry(ctx, 5, 1))

	close(releaseFirst)
	wg.Wait()

	assert.False(t, ran, "cancelled entry must not reach the handler")
	transport.mu.Lock()
	edited := transport.edits[1]
	transport.mu.Unlock()
	assert.Equal(t, cancelledIndicator, edited)
}

func TestPipelineDedupeDropsRedelivery(t *testing.T) {
	p := NewPipeline(newFakeTransport())
	ctx := context.Background()
	calls := 0
	handler := func(context.Context, Message) error {
		calls++
		return nil
	}

	msg := Message{ChatID: 9, MessageID: 100, Text: "hi"}
	require.NoError(t, p.Handle(ctx, msg, handler))
	require.NoError(t, p.Handle(ctx, msg, handler))
	assert.Equal(t, 1, calls)
}

func TestPipelineAbortRunsBeforeLockAndDrains(t *testing.T) {
	transport := newFakeTransport()
	p := NewPipeline(transport)
	ctx := context.Background()

	aborted := 0
	p.SetAbortHandler(func(_ context.Context, msg Message) bool {
		aborted++
		return true
	})

	firstRunning := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 3, MessageID: 1, Text: "long task"}, func(context.Context, Message) error {
			close(firstRunning)
			<-releaseFirst
			return nil
		})
	}()
	<-firstRunning

	queuedRan := false
	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 3, MessageID: 2, Text: "queued"}, func(context.Context, Message) error {
			queuedRan = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return p.HasPending(3) }, time.Second, 5*time.Millisecond)

	// The abort is handled immediately despite the held lock.
	require.NoError(t, p.Handle(ctx, Message{ChatID: 3, MessageID: 3, Text: "stop"}, func(context.Context, Message) error {
		t.Fatal("abort must not reach the handler")
		return nil
	}))
	assert.Equal(t, 1, aborted)

	close(releaseFirst)
	wg.Wait()
	assert.False(t, queuedRan, "drained entry must not run")
}

func TestPipelineQuickCommandBypassesLock(t *testing.T) {
	p := NewPipeline(newFakeTransport())
	ctx := context.Background()

	quick := 0
	p.SetQuickCommandHandler(func(context.Context, Message) bool {
		quick++
		return true
	})

	firstRunning := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Handle(ctx, Message{ChatID: 4, MessageID: 1, Text: "work"}, func(context.Context, Message) error {
			close(firstRunning)
			<-releaseFirst
			return nil
		})
	}()
	<-firstRunning

	require.NoError(t, p.Handle(ctx, Message{ChatID: 4, MessageID: 2, Text: "/status"}, func(context.Context, Message) error {
		t.Fatal("quick command must not reach the handler")
		return nil
	}))
	assert.Equal(t, 1, quick)

	close(releaseFirst)
	wg.Wait()
}
