// Package task tracks long-running external operations.
//
// Ownership boundary:
//   - A task's body runs on its own goroutine and reports through Handle.
//   - Status, log and description change only on the owning loop.Loop, so
//     subscribers observe transitions and output in production order.
//   - Tasks are never retried or evicted here; Manager callers dismiss them.
package task

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/observability"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/watch"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusExecuting  Status = "executing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusExecuting:
		return 1
	default:
		return 2
	}
}

// Body is the operation a task wraps. Returning nil ends the task Successful.
type Body func(ctx context.Context, h *Handle) error

type EventKind string

const (
	EventStatus      EventKind = "status"
	EventOutput      EventKind = "output"
	EventDescription EventKind = "description"
)

// Event is delivered to task subscribers on the loop goroutine.
type Event struct {
	Kind        EventKind
	Status      Status
	Chunk       runner.OutputChunk
	Description string
}

// Snapshot is a copy of a task's observable state.
type Snapshot struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Target      string               `json:"target"`
	Description string               `json:"description"`
	Status      Status               `json:"status"`
	Log         []runner.OutputChunk `json:"log"`
	Err         error                `json:"-"`
	CreatedAt   time.Time            `json:"created_at"`
	EndedAt     time.Time            `json:"ended_at,omitzero"`
}

func (s Snapshot) Ended() bool {
	return s.Status.Terminal()
}

type Task struct {
	id        string
	name      string
	target    string
	createdAt time.Time

	loop   *loop.Loop
	runner runner.Runner
	body   Body

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	cancelled atomic.Bool

	procMu sync.Mutex
	proc   runner.Process

	mu          sync.RWMutex
	description string
	status      Status
	log         []runner.OutputChunk
	err         error
	endedAt     time.Time

	events watch.Hub[Event]
	done   chan struct{}
}

// New creates a Pending task. The body does not run until Start.
func New(l *loop.Loop, r runner.Runner, name, target string, body Body) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	observability.RegisterMetrics()
	observability.RecordTaskTransition(string(StatusPending), false)
	return &Task{
		id:        uuid.NewString(),
		name:      name,
		target:    target,
		createdAt: time.Now(),
		loop:      l,
		runner:    r,
		body:      body,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		done:      make(chan struct{}),
	}
}

func (t *Task) ID() string     { return t.id }
func (t *Task) Name() string   { return t.name }
func (t *Task) Target() string { return t.target }

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Snapshot copies the current state. Safe from any goroutine.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.id,
		Name:        t.name,
		Target:      t.target,
		Description: t.description,
		Status:      t.status,
		Log:         slices.Clone(t.log),
		Err:         t.err,
		CreatedAt:   t.createdAt,
		EndedAt:     t.endedAt,
	}
}

func (t *Task) Subscribe(fn func(Event)) *watch.Subscription {
	return t.events.Subscribe(fn)
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-t.done:
		return t.Snapshot(), nil
	case <-ctx.Done():
		return t.Snapshot(), ctx.Err()
	}
}

// Start runs the body once. Later calls are ignored.
func (t *Task) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	log.Debug().Str("task", t.id).Str("name", t.name).Msg("task.Task.Start")
	go func() {
		err := t.invoke()
		t.loop.Post(func() { t.finish(err) })
	}()
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.id).Interface("panic", r).Msg("task.Task body panicked")
			err = errors.New("task: body panicked")
		}
	}()
	if t.cancelled.Load() {
		return runner.ErrCancelled
	}
	return t.body(t.ctx, &Handle{task: t})
}

// Cancel terminates the running process, if any, and ends the task Failed
// with runner.ErrCancelled. Cancelling an ended task does nothing.
func (t *Task) Cancel() {
	if t.Status().Terminal() {
		return
	}
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	log.Info().Str("task", t.id).Str("name", t.name).Msg("task.Task.Cancel")
	t.cancel()

	t.procMu.Lock()
	p := t.proc
	t.procMu.Unlock()
	if p != nil {
		if err := p.Kill(); err != nil {
			log.Warn().Err(err).Str("task", t.id).Msg("task.Task.Cancel kill failed")
		}
	}
	if !t.started.Load() {
		t.Start()
	}
}

func (t *Task) setProc(p runner.Process) {
	t.procMu.Lock()
	t.proc = p
	t.procMu.Unlock()
	if p != nil && t.cancelled.Load() {
		_ = p.Kill()
	}
}

// transition runs on the loop. Backward and post-terminal moves are ignored.
func (t *Task) transition(to Status, err error) bool {
	t.mu.Lock()
	from := t.status
	if from.Terminal() || to.rank() <= from.rank() {
		t.mu.Unlock()
		return false
	}
	t.status = to
	if to.Terminal() {
		t.err = err
		t.endedAt = time.Now()
	}
	t.mu.Unlock()

	observability.RecordTaskTransition(string(to), to.Terminal())
	event := log.Debug()
	if to == StatusFailed {
		event = log.Warn().Err(err)
	}
	event.Str("task", t.id).Str("name", t.name).Str("from", string(from)).Str("to", string(to)).Msg("task.Task.transition")

	t.events.Emit(Event{Kind: EventStatus, Status: to})
	return true
}

func (t *Task) appendChunk(chunk runner.OutputChunk) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.log = append(t.log, chunk)
	status := t.status
	t.mu.Unlock()
	t.events.Emit(Event{Kind: EventOutput, Status: status, Chunk: chunk})
}

func (t *Task) setDescription(desc string) {
	t.mu.Lock()
	t.description = desc
	status := t.status
	t.mu.Unlock()
	t.events.Emit(Event{Kind: EventDescription, Status: status, Description: desc})
}

// finish runs on the loop once the body has returned.
func (t *Task) finish(err error) {
	if t.cancelled.Load() {
		err = runner.ErrCancelled
	}
	// Every task passes through Executing, even when nothing was spawned.
	if t.Status() == StatusPending {
		t.transition(StatusExecuting, nil)
	}
	if err != nil {
		t.transition(StatusFailed, err)
	} else {
		t.transition(StatusSuccessful, nil)
	}
	t.cancel()
	close(t.done)
}
