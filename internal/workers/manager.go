// Package workers runs and tracks the long-lived background tasks: backfill
// execution and the incremental poller. Tasks are registered by name;
// starting a name that is already running replaces the prior instance.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskFunc is a long-lived task body. It must return promptly once ctx is
// cancelled.
type TaskFunc func(ctx context.Context)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks named cancellable tasks. Task identity is last-writer-wins:
// Start under a running name cancels the previous instance first.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*task
	log   logrus.FieldLogger

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewManager creates a Manager. All task contexts descend from ctx.
func NewManager(ctx context.Context, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	baseCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		tasks:   make(map[string]*task),
		log:     log.WithField("component", "worker_manager"),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// Start launches fn under name. A running task with the same name is
// cancelled and awaited before the new instance begins. Concurrent Start
// calls for one name converge on a single surviving instance.
func (m *Manager) Start(name string, fn TaskFunc) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	for {
		prior, ok := m.tasks[name]
		if !ok {
			break
		}
		m.mu.Unlock()

		m.log.WithField("task", name).Info("replacing running task")
		prior.cancel()
		<-prior.done

		m.mu.Lock()
		if m.tasks[name] == prior {
			delete(m.tasks, name)
		}
		// A concurrent Start may have installed a fresh task while we
		// waited; the loop replaces that one too.
	}
	m.tasks[name] = t
	m.mu.Unlock()

	m.log.WithField("task", name).Info("task started")

	go func() {
		defer func() {
			close(t.done)
			m.mu.Lock()
			// Only remove our own entry; a replacement may already be in.
			if m.tasks[name] == t {
				delete(m.tasks, name)
			}
			m.mu.Unlock()
			m.log.WithField("task", name).Info("task finished")
		}()
		fn(ctx)
	}()
}

// Stop cancels the named task if running and waits for it to exit. Reports
// whether a task was found.
func (m *Manager) Stop(name string) bool {
	m.mu.Lock()
	t := m.tasks[name]
	m.mu.Unlock()

	if t == nil {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// Running returns the names of currently tracked tasks.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		out = append(out, name)
	}
	return out
}

// Shutdown cancels every task and waits up to timeout for all of them to
// exit. Tasks still running at the deadline are logged as stuck; shutdown
// returns regardless. Reports whether all tasks acknowledged in time.
func (m *Manager) Shutdown(timeout time.Duration) bool {
	m.cancel()

	m.mu.Lock()
	pending := make(map[string]*task, len(m.tasks))
	for name, t := range m.tasks {
		pending[name] = t
	}
	m.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	clean := true
	for name, t := range pending {
		select {
		case <-t.done:
		case <-deadline.C:
			m.log.WithField("task", name).Error("task did not stop in time, proceeding with shutdown")
			clean = false
			// Drain the remaining tasks without waiting further.
			for n, rest := range pending {
				if n == name {
					continue
				}
				select {
				case <-rest.done:
				default:
					m.log.WithField("task", n).Error("task did not stop in time, proceeding with shutdown")
				}
			}
			return clean
		}
	}
	return clean
}
