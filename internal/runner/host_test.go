package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestHostRunCapturesOutputAndExitCode(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	res, err := HostRunner{}.Run(context.Background(), Command("sh", "-c", "echo out; echo err >&2; exit 4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 4 {
		t.Fatalf("expected exit 4, got %d", res.ExitCode)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" || strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestHostRunAppliesDirAndEnv(t *testing.T) {
	testlog.Start(t)
	requireShell(t)
	dir := t.TempDir()

	spec := Command("sh", "-c", `printf "%s|%s" "$PWD" "$BOXCTL_PROBE"`).WithDir(dir).WithEnv("BOXCTL_PROBE", "v1")
	res, err := HostRunner{}.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(string(res.Stdout), "|v1") || !strings.Contains(string(res.Stdout), dir) {
		t.Fatalf("unexpected output %q", res.Stdout)
	}
}

func TestHostRunMissingProgramIsSpawnError(t *testing.T) {
	testlog.Start(t)
	res, err := HostRunner{}.Run(context.Background(), Command("boxctl-definitely-missing-binary"))
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if res.ExitCode != spawnFailureExitCode {
		t.Fatalf("expected exit %d, got %d", spawnFailureExitCode, res.ExitCode)
	}
}

func TestHostSpawnStreamsLines(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	p, err := HostRunner{}.Spawn(context.Background(), Command("sh", "-c", "echo one; echo two; echo three"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	var lines []string
	for chunk := range p.Output() {
		if chunk.Stream == Stdout {
			lines = append(lines, chunk.Text)
		}
	}
	res, err := p.Wait()
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("unexpected wait result %+v err=%v", res, err)
	}
	if strings.Join(lines, ",") != "one,two,three" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestHostSpawnKill(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	p, err := HostRunner{KillGrace: 200 * time.Millisecond}.Spawn(context.Background(), Command("sh", "-c", "sleep 30"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		for range p.Output() {
		}
		_, err := p.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("killed process did not exit")
	}
}

func TestHostRunContextTimeout(t *testing.T) {
	testlog.Start(t)
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := HostRunner{KillGrace: 200 * time.Millisecond}.Run(ctx, Command("sh", "-c", "sleep 30"))
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancelled deadline error, got %v", err)
	}
}

func TestHostSpawnSplitsOverlongLines(t *testing.T) {
	testlog.Start(t)
	requireShell(t)

	const longLen = 2000000
	script := "head -c 2000000 /dev/zero | tr '\\0' a; echo; " +
		"i=0; while [ $i -lt 2000 ]; do echo line $i; i=$((i+1)); done; exit 3"
	p, err := HostRunner{}.Spawn(context.Background(), Command("sh", "-c", script))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	type counts struct{ long, short, oversized int }
	drained := make(chan counts, 1)
	go func() {
		var c counts
		for chunk := range p.Output() {
			if len(chunk.Text) > segmentSize {
				c.oversized++
			}
			if strings.HasPrefix(chunk.Text, "line ") {
				c.short++
			} else {
				c.long += len(chunk.Text)
			}
		}
		drained <- c
	}()

	var c counts
	select {
	case c = <-drained:
	case <-time.After(10 * time.Second):
		_ = p.Kill()
		t.Fatalf("output was never closed")
	}
	if c.long != longLen || c.short != 2000 || c.oversized != 0 {
		t.Fatalf("unexpected chunks %+v", c)
	}
	res, err := p.Wait()
	if err != nil || res.ExitCode != 3 {
		t.Fatalf("unexpected wait result %+v err=%v", res, err)
	}
}
