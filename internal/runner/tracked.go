package runner

import (
	"context"
	"sync"
	"time"
)

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
	EventSpawned  EventKind = "spawned"
	EventExited   EventKind = "exited"
)

// Event is one entry in a Tracked runner's history.
type Event struct {
	Seq      int
	Kind     EventKind
	Spec     CommandSpec
	ExitCode int
	Err      error
	At       time.Time
}

// Tracked records every command that passes through Inner.
type Tracked struct {
	Inner Runner

	mu     sync.Mutex
	events []Event
}

func Track(inner Runner) *Tracked {
	return &Tracked{Inner: inner}
}

func (t *Tracked) record(kind EventKind, spec CommandSpec, code int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{
		Seq:      len(t.events) + 1,
		Kind:     kind,
		Spec:     spec.clone(),
		ExitCode: code,
		Err:      err,
		At:       time.Now(),
	})
}

// Events returns a copy of the recorded history.
func (t *Tracked) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

func (t *Tracked) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	t.record(EventStarted, spec, 0, nil)
	res, err := t.Inner.Run(ctx, spec)
	t.record(EventFinished, spec, res.ExitCode, err)
	return res, err
}

func (t *Tracked) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	p, err := t.Inner.Spawn(ctx, spec)
	t.record(EventSpawned, spec, 0, err)
	if err != nil {
		return p, err
	}
	return &trackedProcess{Process: p, tracker: t, spec: spec}, nil
}

// trackedProcess records EventExited the first time Wait returns.
type trackedProcess struct {
	Process
	tracker *Tracked
	spec    CommandSpec
	once    sync.Once
}

func (p *trackedProcess) Wait() (Result, error) {
	res, err := p.Process.Wait()
	p.once.Do(func() { p.tracker.record(EventExited, p.spec, res.ExitCode, err) })
	return res, err
}
