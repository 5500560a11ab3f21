package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/watch"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("task: not found")
	ErrNotEnded = errors.New("task: still running")
)

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeStatus  ChangeKind = "status"
	ChangeRemoved ChangeKind = "removed"
)

// Change is a manager-level notification about one task.
type Change struct {
	Kind   ChangeKind
	TaskID string
	Status Status
}

// Manager owns the set of tasks shown to the user, in creation order.
type Manager struct {
	loop   *loop.Loop
	runner runner.Runner

	mu      sync.RWMutex
	tasks   []*Task
	byID    map[string]*Task
	onEnded []func(*Task)

	changes watch.Hub[Change]
}

func NewManager(l *loop.Loop, r runner.Runner) *Manager {
	return &Manager{
		loop:   l,
		runner: r,
		byID:   make(map[string]*Task),
	}
}

// OnEnded registers fn to run on the loop whenever a task ends.
func (m *Manager) OnEnded(fn func(*Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = append(m.onEnded, fn)
}

func (m *Manager) Subscribe(fn func(Change)) *watch.Subscription {
	return m.changes.Subscribe(fn)
}

// Create registers and starts a task running body.
func (m *Manager) Create(name, target string, body Body) *Task {
	t := New(m.loop, m.runner, name, target, body)

	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.byID[t.ID()] = t
	m.mu.Unlock()

	t.Subscribe(func(e Event) {
		if e.Kind != EventStatus {
			return
		}
		m.changes.Emit(Change{Kind: ChangeStatus, TaskID: t.ID(), Status: e.Status})
		if e.Status.Terminal() {
			m.ended(t)
		}
	})
	m.loop.Post(func() {
		m.changes.Emit(Change{Kind: ChangeAdded, TaskID: t.ID(), Status: StatusPending})
	})

	log.Info().Str("task", t.ID()).Str("name", name).Str("target", target).Msg("task.Manager.Create")
	t.Start()
	return t
}

// RunCommand creates a task that runs spec and streams its output.
func (m *Manager) RunCommand(name, target string, spec runner.CommandSpec) *Task {
	return m.Create(name, target, func(_ context.Context, h *Handle) error {
		h.SetDescription(spec.String())
		return h.Spawn(spec)
	})
}

func (m *Manager) ended(t *Task) {
	m.mu.RLock()
	hooks := slices.Clone(m.onEnded)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(t)
	}
}

func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	return t, ok
}

// List returns tasks in creation order.
func (m *Manager) List() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// Dismiss removes an ended task.
func (m *Manager) Dismiss(id string) error {
	m.mu.Lock()
	t, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !t.Status().Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotEnded, id)
	}
	m.removeLocked(id)
	m.mu.Unlock()

	m.notifyRemoved(t)
	return nil
}

// ClearEnded dismisses every ended task and reports how many were removed.
func (m *Manager) ClearEnded() int {
	m.mu.Lock()
	var removed []*Task
	for _, t := range m.tasks {
		if t.Status().Terminal() {
			removed = append(removed, t)
		}
	}
	for _, t := range removed {
		m.removeLocked(t.ID())
	}
	m.mu.Unlock()

	for _, t := range removed {
		m.notifyRemoved(t)
	}
	return len(removed)
}

func (m *Manager) removeLocked(id string) {
	delete(m.byID, id)
	for i, t := range m.tasks {
		if t.ID() == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

func (m *Manager) notifyRemoved(t *Task) {
	status := t.Status()
	m.loop.Post(func() {
		m.changes.Emit(Change{Kind: ChangeRemoved, TaskID: t.ID(), Status: status})
	})
}

// HasWarning reports whether any listed task failed.
func (m *Manager) HasWarning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.Status() == StatusFailed {
			return true
		}
	}
	return false
}
