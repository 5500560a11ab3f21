package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response scripts what MockRunner returns for one command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Chunks overrides the live output of a spawned process. When nil the
	// lines of Stdout then Stderr are emitted.
	Chunks []OutputChunk
	// Err makes the command fail to spawn.
	Err error
	// Block holds the command open until it is closed or the command is
	// killed.
	Block <-chan struct{}
}

func (r Response) chunks() []OutputChunk {
	if r.Chunks != nil {
		return r.Chunks
	}
	var out []OutputChunk
	for _, line := range splitLines(r.Stdout) {
		out = append(out, OutputChunk{Stream: Stdout, Text: line})
	}
	for _, line := range splitLines(r.Stderr) {
		out = append(out, OutputChunk{Stream: Stderr, Text: line})
	}
	return out
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// MockRunner returns scripted responses keyed by argv and records every call.
// Unscripted commands get the fallback response.
type MockRunner struct {
	mu        sync.Mutex
	responses map[string]func(CommandSpec) Response
	fallback  Response
	calls     []CommandSpec
	running   int
	killed    int
}

func NewMock() *MockRunner {
	return &MockRunner{responses: make(map[string]func(CommandSpec) Response)}
}

func argvKey(argv []string) string {
	return strings.Join(argv, "\x00")
}

// On scripts the response for an exact argv.
func (m *MockRunner) On(argv []string, resp Response) *MockRunner {
	return m.OnFunc(argv, func(CommandSpec) Response { return resp })
}

// OnFunc computes the response for an exact argv at call time.
func (m *MockRunner) OnFunc(argv []string, fn func(CommandSpec) Response) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[argvKey(argv)] = fn
	return m
}

func (m *MockRunner) Fallback(resp Response) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
	return m
}

// Calls returns every spec passed to Run or Spawn, in call order.
func (m *MockRunner) Calls() []CommandSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommandSpec, len(m.calls))
	copy(out, m.calls)
	return out
}

// Running reports spawned processes that have not exited yet.
func (m *MockRunner) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Killed reports processes that ended because of Kill or cancellation.
func (m *MockRunner) Killed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

func (m *MockRunner) respond(spec CommandSpec) Response {
	m.mu.Lock()
	m.calls = append(m.calls, spec.clone())
	fn, ok := m.responses[argvKey(spec.Argv())]
	fallback := m.fallback
	m.mu.Unlock()

	if !ok {
		return fallback
	}
	return fn(spec)
}

func (m *MockRunner) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	if err := validate(spec); err != nil {
		return Result{ExitCode: spawnFailureExitCode}, err
	}
	resp := m.respond(spec)
	if resp.Err != nil {
		return Result{ExitCode: spawnFailureExitCode}, &SpawnError{Spec: spec, Err: resp.Err}
	}
	if resp.Block != nil {
		select {
		case <-resp.Block:
		case <-ctx.Done():
			m.mu.Lock()
			m.killed++
			m.mu.Unlock()
			return Result{ExitCode: -1}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
	return Result{
		ExitCode: resp.ExitCode,
		Stdout:   []byte(resp.Stdout),
		Stderr:   []byte(resp.Stderr),
	}, nil
}

func (m *MockRunner) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	resp := m.respond(spec)
	if resp.Err != nil {
		return nil, &SpawnError{Spec: spec, Err: resp.Err}
	}

	m.mu.Lock()
	m.running++
	m.mu.Unlock()

	p := &mockProcess{
		owner: m,
		out:   make(chan OutputChunk),
		kill:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { _ = p.Kill() })
	go p.run(resp, stop)
	return p, nil
}

type mockProcess struct {
	owner    *MockRunner
	out      chan OutputChunk
	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}

	result Result
	err    error
}

func (p *mockProcess) run(resp Response, stop func() bool) {
	killed := false
	for _, chunk := range resp.chunks() {
		select {
		case p.out <- chunk:
			continue
		case <-p.kill:
			killed = true
		}
		break
	}
	if !killed && resp.Block != nil {
		select {
		case <-resp.Block:
		case <-p.kill:
			killed = true
		}
	}
	close(p.out)
	stop()

	p.owner.mu.Lock()
	p.owner.running--
	if killed {
		p.owner.killed++
	}
	p.owner.mu.Unlock()

	if killed {
		p.result = Result{ExitCode: -1}
		p.err = ErrCancelled
	} else {
		p.result = Result{ExitCode: resp.ExitCode}
	}
	close(p.done)
}

func (p *mockProcess) Output() <-chan OutputChunk {
	return p.out
}

func (p *mockProcess) Wait() (Result, error) {
	<-p.done
	return p.result, p.err
}

func (p *mockProcess) Kill() error {
	p.killOnce.Do(func() { close(p.kill) })
	return nil
}
