package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var running atomic.Bool
	m.Start("poller", func(ctx context.Context) {
		running.Store(true)
		<-ctx.Done()
		running.Store(false)
	})

	require.Eventually(t, running.Load, time.Second, 5*time.Millisecond)
	require.Contains(t, m.Running(), "poller")

	require.True(t, m.Stop("poller"))
	require.False(t, running.Load())
	require.NotContains(t, m.Running(), "poller")

	require.False(t, m.Stop("poller"), "stopping a missing task reports false")
}

func TestManager_LastWriterWins(t *testing.T) {
	m := NewManager(context.Background(), nil)

	firstCancelled := make(chan struct{})
	m.Start("backfill", func(ctx context.Context) {
		<-ctx.Done()
		close(firstCancelled)
	})

	var secondRuns atomic.Bool
	m.Start("backfill", func(ctx context.Context) {
		secondRuns.Store(true)
		<-ctx.Done()
	})

	select {
	case <-firstCancelled:
	case <-time.After(time.Second):
		t.Fatal("starting under a running name must cancel the prior instance")
	}

	require.Eventually(t, secondRuns.Load, time.Second, 5*time.Millisecond)
	require.Len(t, m.Running(), 1)

	m.Shutdown(time.Second)
}

func TestManager_ConcurrentStartSameNameLeavesOneTask(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var live atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Start("backfill", func(ctx context.Context) {
				live.Add(1)
				<-ctx.Done()
				live.Add(-1)
			})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return live.Load() == 1 },
		time.Second, 5*time.Millisecond, "racing starts must converge on one instance")
	require.Len(t, m.Running(), 1)

	require.True(t, m.Stop("backfill"))
	require.Eventually(t, func() bool { return live.Load() == 0 },
		time.Second, 5*time.Millisecond)
	require.Empty(t, m.Running())
}

func TestManager_ShutdownWaitsForTasks(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var exited atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		m.Start(name, func(ctx context.Context) {
			<-ctx.Done()
			exited.Add(1)
		})
	}

	require.True(t, m.Shutdown(time.Second), "cooperative tasks acknowledge in time")
	require.Equal(t, int32(3), exited.Load())
}

func TestManager_ShutdownProceedsPastStuckTask(t *testing.T) {
	m := NewManager(context.Background(), nil)

	block := make(chan struct{})
	defer close(block)

	m.Start("stuck", func(ctx context.Context) {
		<-block // ignores cancellation
	})

	startedAt := time.Now()
	clean := m.Shutdown(100 * time.Millisecond)
	require.False(t, clean, "stuck task must be reported")
	require.Less(t, time.Since(startedAt), time.Second, "shutdown must not block indefinitely")
}

func TestManager_TaskRemovesItselfOnReturn(t *testing.T) {
	m := NewManager(context.Background(), nil)

	done := make(chan struct{})
	m.Start("oneshot", func(ctx context.Context) {
		close(done)
	})

	<-done
	require.Eventually(t, func() bool {
		return len(m.Running()) == 0
	}, time.Second, 5*time.Millisecond)
}
