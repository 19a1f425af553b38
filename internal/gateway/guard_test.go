package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The opencensus stats worker is started by that package's init when the
	// genai SDK is linked in; it can never be stopped, so ignore it.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type recordingNotifier struct {
	mu   sync.Mutex
	keys []string
}

func (n *recordingNotifier) InferenceBusy(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.keys)
}

func TestGuardRunsImmediatelyWhenIdle(t *testing.T) {
	g := NewGuard(nil)
	done := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, <-done)
	assert.False(t, g.IsRunning("c1"))
	assert.False(t, g.IsQueued("c1"))
}

func TestGuardSerializesPerKey(t *testing.T) {
	g := NewGuard(nil)
	var concurrent, peak int32

	task := func(ctx context.Context) error {
		if n := atomic.AddInt32(&concurrent, 1); n > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}

	first := g.Enqueue(context.Background(), "c1", PriorityUser, task)
	second := g.Enqueue(context.Background(), "c1", PriorityUser, task)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "tasks on the same key must never overlap")
}

func TestGuardDifferentKeysRunConcurrently(t *testing.T) {
	g := NewGuard(nil)
	gate := make(chan struct{})
	var both sync.WaitGroup
	both.Add(2)

	task := func(ctx context.Context) error {
		both.Done()
		<-gate
		return nil
	}
	d1 := g.Enqueue(context.Background(), "a", PriorityUser, task)
	d2 := g.Enqueue(context.Background(), "b", PriorityUser, task)

	// Both tasks reach the gate simultaneously; a shared lane would deadlock.
	waitDone := make(chan struct{})
	go func() { both.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks on distinct keys did not run concurrently")
	}
	close(gate)
	require.NoError(t, <-d1)
	require.NoError(t, <-d2)
}

func TestGuardUserPreemptsQueuedBackground(t *testing.T) {
	g := NewGuard(nil)
	release := make(chan struct{})
	var ran []string
	var mu sync.Mutex
	record := func(name string) Task {
		return func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}
	}

	running := g.Enqueue(context.Background(), "c1", PriorityBackground, func(ctx context.Context) error {
		<-release
		return nil
	})
	queued := g.Enqueue(context.Background(), "c1", PriorityBackground, record("background"))
	user := g.Enqueue(context.Background(), "c1", PriorityUser, record("user"))

	// The queued background task is dropped before it ever runs.
	assert.ErrorIs(t, <-queued, ErrPreempted)

	close(release)
	require.NoError(t, <-running)
	require.NoError(t, <-user)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"user"}, ran)
}

func TestGuardRejectsWhenSlotTaken(t *testing.T) {
	n := &recordingNotifier{}
	g := NewGuard(n)
	release := make(chan struct{})

	running := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.True(t, g.IsRunning("c1"))

	queued := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error { return nil })
	assert.True(t, g.IsQueued("c1"))

	// Equal priority cannot displace the queued task.
	rejected := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, <-rejected, ErrBusy)

	close(release)
	require.NoError(t, <-running)
	require.NoError(t, <-queued)
	assert.Equal(t, 2, n.count(), "both contended enqueues notify busy")
}

func TestGuardQueuedTaskKeepsOwnContext(t *testing.T) {
	g := NewGuard(nil)
	release := make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	running := g.Enqueue(firstCtx, "c1", PriorityUser, func(ctx context.Context) error {
		<-release
		return nil
	})

	var queuedErr atomic.Value
	queued := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error {
		queuedErr.Store(ctx.Err() == nil)
		return nil
	})

	// The first enqueuer walks away; the queued task must not inherit
	// its dead context.
	cancelFirst()
	close(release)
	require.NoError(t, <-running)
	require.NoError(t, <-queued)
	alive, ok := queuedErr.Load().(bool)
	require.True(t, ok, "queued task never ran")
	assert.True(t, alive, "queued task ran against a cancelled predecessor context")
}

func TestGuardPropagatesErrors(t *testing.T) {
	g := NewGuard(nil)
	boom := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error {
		panic("handler bug")
	})
	err := <-boom
	var pe *PanicError
	require.ErrorAs(t, err, &pe)

	// The lane recovered and accepts new work.
	ok := g.Enqueue(context.Background(), "c1", PriorityUser, func(ctx context.Context) error { return nil })
	require.NoError(t, <-ok)
}
