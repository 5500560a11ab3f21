package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

func newLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New()
	t.Cleanup(l.Close)
	return l
}

func waitEnded(t *testing.T, tk *Task) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := tk.Wait(ctx)
	if err != nil {
		t.Fatalf("task %s did not end: %+v", tk.Name(), snap)
	}
	return snap
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recorder struct {
	statuses []Status
	output   []string
	events   []Event
}

func record(tk *Task) *recorder {
	r := &recorder{}
	tk.Subscribe(func(e Event) {
		r.events = append(r.events, e)
		switch e.Kind {
		case EventStatus:
			r.statuses = append(r.statuses, e.Status)
		case EventOutput:
			r.output = append(r.output, e.Chunk.Text)
		}
	})
	return r
}

func TestSuccessfulCommandTransitions(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	mock := runner.NewMock().On([]string{"distrobox", "upgrade", "box"}, runner.Response{Stdout: "pulling\ndone\n"})

	tk := New(l, mock, "Upgrade box", "box", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("distrobox", "upgrade", "box"))
	})
	if tk.Status() != StatusPending {
		t.Fatalf("expected pending before start, got %s", tk.Status())
	}
	rec := record(tk)
	tk.Start()
	snap := waitEnded(t, tk)

	if snap.Status != StatusSuccessful || snap.Err != nil {
		t.Fatalf("unexpected terminal snapshot %+v", snap)
	}
	if fmt.Sprint(rec.statuses) != "[executing successful]" {
		t.Fatalf("unexpected transitions %v", rec.statuses)
	}
	if len(snap.Log) != 2 || snap.Log[0].Text != "pulling" || snap.Log[1].Text != "done" {
		t.Fatalf("unexpected log %+v", snap.Log)
	}
	if snap.EndedAt.IsZero() || snap.ID == "" {
		t.Fatalf("expected id and end time, got %+v", snap)
	}
}

func TestNonZeroExitFails(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	mock := runner.NewMock().Fallback(runner.Response{Stderr: "no space left", ExitCode: 2})

	tk := New(l, mock, "Create", "box", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("distrobox", "create"))
	})
	tk.Start()
	snap := waitEnded(t, tk)

	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	var exitErr *runner.ExitError
	if !errors.As(snap.Err, &exitErr) || exitErr.Code != 2 || exitErr.Stderr != "no space left" {
		t.Fatalf("expected exit error with stderr, got %v", snap.Err)
	}
	if !errors.Is(snap.Err, runner.ErrNonZeroExit) {
		t.Fatalf("expected ErrNonZeroExit, got %v", snap.Err)
	}
}

func TestExitErrorKeepsStderrTail(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	var lines []string
	for i := range 12 {
		lines = append(lines, fmt.Sprintf("err-%02d", i))
	}
	mock := runner.NewMock().Fallback(runner.Response{
		Stdout:   "progress\n",
		Stderr:   strings.Join(lines, "\n") + "\n",
		ExitCode: 1,
	})

	tk := New(l, mock, "Noisy", "", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("noisy"))
	})
	tk.Start()
	snap := waitEnded(t, tk)

	var exitErr *runner.ExitError
	if !errors.As(snap.Err, &exitErr) {
		t.Fatalf("expected exit error, got %v", snap.Err)
	}
	if want := strings.Join(lines[len(lines)-stderrTail:], "\n"); exitErr.Stderr != want {
		t.Fatalf("expected stderr tail %q, got %q", want, exitErr.Stderr)
	}
}

func TestSpawnFailurePassesThroughExecuting(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	mock := runner.NewMock().Fallback(runner.Response{Err: errors.New("executable not found")})

	tk := New(l, mock, "Missing", "", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("nope"))
	})
	rec := record(tk)
	tk.Start()
	snap := waitEnded(t, tk)

	if !errors.Is(snap.Err, runner.ErrSpawn) {
		t.Fatalf("expected spawn error, got %v", snap.Err)
	}
	if fmt.Sprint(rec.statuses) != "[executing failed]" {
		t.Fatalf("expected executing then failed, got %v", rec.statuses)
	}
}

func TestLogIsAppendOnlyInProcessOrder(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	var chunks []runner.OutputChunk
	for i := range 200 {
		stream := runner.Stdout
		if i%7 == 0 {
			stream = runner.Stderr
		}
		chunks = append(chunks, runner.OutputChunk{Stream: stream, Text: fmt.Sprintf("line-%03d", i)})
	}
	mock := runner.NewMock().Fallback(runner.Response{Chunks: chunks})

	tk := New(l, mock, "Chatty", "", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("chatty"))
	})
	rec := record(tk)
	tk.Start()
	snap := waitEnded(t, tk)

	if len(snap.Log) != len(chunks) || len(rec.output) != len(chunks) {
		t.Fatalf("expected %d chunks, log=%d observed=%d", len(chunks), len(snap.Log), len(rec.output))
	}
	for i, chunk := range chunks {
		if snap.Log[i] != chunk || rec.output[i] != chunk.Text {
			t.Fatalf("chunk %d out of order: log=%+v observed=%s", i, snap.Log[i], rec.output[i])
		}
	}

	if rec.events[0].Kind != EventStatus || rec.events[0].Status != StatusExecuting {
		t.Fatalf("expected executing before output, got %+v", rec.events[0])
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != EventStatus || last.Status != StatusSuccessful {
		t.Fatalf("expected terminal status last, got %+v", last)
	}
}

func TestCancelKillsProcess(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	mock := runner.NewMock().Fallback(runner.Response{
		Chunks: []runner.OutputChunk{{Text: "starting"}},
		Block:  make(chan struct{}),
	})

	tk := New(l, mock, "Long", "box", func(_ context.Context, h *Handle) error {
		return h.Spawn(runner.Command("sleep", "infinity"))
	})
	rec := record(tk)
	tk.Start()
	eventually(t, "process running", func() bool { return mock.Running() == 1 && tk.Status() == StatusExecuting })

	tk.Cancel()
	snap := waitEnded(t, tk)

	if snap.Status != StatusFailed || !errors.Is(snap.Err, runner.ErrCancelled) {
		t.Fatalf("expected failed with ErrCancelled, got %s %v", snap.Status, snap.Err)
	}
	if mock.Running() != 0 || mock.Killed() != 1 {
		t.Fatalf("expected process released, running=%d killed=%d", mock.Running(), mock.Killed())
	}
	if fmt.Sprint(rec.statuses) != "[executing failed]" {
		t.Fatalf("unexpected transitions %v", rec.statuses)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	mock := runner.NewMock()
	called := false

	tk := New(l, mock, "Never", "", func(context.Context, *Handle) error {
		called = true
		return nil
	})
	rec := record(tk)
	tk.Cancel()
	snap := waitEnded(t, tk)

	if fmt.Sprint(rec.statuses) != "[executing failed]" {
		t.Fatalf("expected executing then failed, got %v", rec.statuses)
	}
	if called {
		t.Fatalf("body should not run after cancel")
	}
	if snap.Status != StatusFailed || !errors.Is(snap.Err, runner.ErrCancelled) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(mock.Calls()) != 0 {
		t.Fatalf("expected no process spawned")
	}
}

func TestBodyWithoutProcessPassesThroughExecuting(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)

	tk := New(l, runner.NewMock(), "Notes", "", func(_ context.Context, h *Handle) error {
		h.SetDescription("writing notes")
		h.Append(runner.Stdout, "first")
		h.Append(runner.Stderr, "second")
		return nil
	})
	rec := record(tk)
	tk.Start()
	snap := waitEnded(t, tk)

	if fmt.Sprint(rec.statuses) != "[executing successful]" {
		t.Fatalf("unexpected transitions %v", rec.statuses)
	}
	if snap.Description != "writing notes" || len(snap.Log) != 2 || snap.Log[1].Stream != runner.Stderr {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestTerminalTaskIgnoresCancelAndOutput(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	var handle *Handle

	tk := New(l, runner.NewMock(), "Quick", "", func(_ context.Context, h *Handle) error {
		handle = h
		return nil
	})
	tk.Start()
	waitEnded(t, tk)

	tk.Cancel()
	handle.Append(runner.Stdout, "late")
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap := tk.Snapshot()
	if snap.Status != StatusSuccessful || snap.Err != nil || len(snap.Log) != 0 {
		t.Fatalf("terminal task changed: %+v", snap)
	}
}

func TestBodyPanicFailsTask(t *testing.T) {
	testlog.Start(t)
	l := newLoop(t)
	tk := New(l, runner.NewMock(), "Panics", "", func(context.Context, *Handle) error {
		panic("boom")
	})
	tk.Start()
	snap := waitEnded(t, tk)
	if snap.Status != StatusFailed || snap.Err == nil {
		t.Fatalf("expected failed task, got %+v", snap)
	}
}
