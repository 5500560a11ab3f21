package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

func drain(p Process) []OutputChunk {
	var out []OutputChunk
	for chunk := range p.Output() {
		out = append(out, chunk)
	}
	return out
}

func TestMockRunReturnsScriptedResult(t *testing.T) {
	testlog.Start(t)
	m := NewMock().
		On([]string{"podman", "ps"}, Response{Stdout: "a|b\n", ExitCode: 0}).
		Fallback(Response{ExitCode: 9, Stderr: "unknown"})

	res, err := m.Run(context.Background(), Command("podman", "ps"))
	if err != nil || string(res.Stdout) != "a|b\n" {
		t.Fatalf("unexpected scripted result: %+v err=%v", res, err)
	}

	res, err = m.Run(context.Background(), Command("podman", "rm"))
	if err != nil || res.ExitCode != 9 {
		t.Fatalf("expected fallback exit 9, got %+v err=%v", res, err)
	}
	if len(m.Calls()) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(m.Calls()))
	}
}

func TestMockSpawnStreamsChunksInOrder(t *testing.T) {
	testlog.Start(t)
	m := NewMock().On([]string{"build"}, Response{
		Chunks: []OutputChunk{
			{Stream: Stdout, Text: "one"},
			{Stream: Stderr, Text: "warn"},
			{Stream: Stdout, Text: "two"},
		},
		ExitCode: 2,
	})

	p, err := m.Spawn(context.Background(), Command("build"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	chunks := drain(p)
	if len(chunks) != 3 || chunks[0].Text != "one" || chunks[1].Stream != Stderr || chunks[2].Text != "two" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	res, err := p.Wait()
	if err != nil || res.ExitCode != 2 {
		t.Fatalf("expected exit 2, got %+v err=%v", res, err)
	}
	if m.Running() != 0 {
		t.Fatalf("expected no running processes")
	}
}

func TestMockSpawnDerivesChunksFromOutput(t *testing.T) {
	testlog.Start(t)
	m := NewMock().Fallback(Response{Stdout: "a\nb\n", Stderr: "c"})
	p, err := m.Spawn(context.Background(), Command("x"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	chunks := drain(p)
	if len(chunks) != 3 || chunks[2].Stream != Stderr || chunks[2].Text != "c" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	_, _ = p.Wait()
}

func TestMockSpawnFailure(t *testing.T) {
	testlog.Start(t)
	m := NewMock().Fallback(Response{Err: errors.New("not found")})
	if _, err := m.Spawn(context.Background(), Command("nope")); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if m.Running() != 0 {
		t.Fatalf("failed spawn must not count as running")
	}
}

func TestMockKillReleasesBlockedProcess(t *testing.T) {
	testlog.Start(t)
	block := make(chan struct{})
	m := NewMock().Fallback(Response{Block: block})

	p, err := m.Spawn(context.Background(), Command("sleep", "100"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if m.Running() != 1 {
		t.Fatalf("expected one running process, got %d", m.Running())
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	drain(p)
	if _, err := p.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if m.Running() != 0 || m.Killed() != 1 {
		t.Fatalf("expected process reaped, running=%d killed=%d", m.Running(), m.Killed())
	}
}

func TestMockContextCancelKillsProcess(t *testing.T) {
	testlog.Start(t)
	m := NewMock().Fallback(Response{Block: make(chan struct{})})
	ctx, cancel := context.WithCancel(context.Background())

	p, err := m.Spawn(ctx, Command("sleep"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		drain(p)
		_, err := p.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not stop after context cancel")
	}
}

func TestMockRunBlockHonoursContext(t *testing.T) {
	testlog.Start(t)
	m := NewMock().Fallback(Response{Block: make(chan struct{})})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Run(ctx, Command("hang"))
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancelled deadline error, got %v", err)
	}
}
