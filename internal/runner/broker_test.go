package runner

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/boxctl/internal/testutil/testlog"
)

func TestBrokerWrapDefault(t *testing.T) {
	testlog.Start(t)
	r := NewBrokerRunner(NewMock(), DefaultBroker())

	got := r.Wrap(Command("podman", "ps", "-a")).Argv()
	want := []string{"flatpak-spawn", "--host", "podman", "ps", "-a"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected wrap\nwant: %q\ngot:  %q", want, got)
	}
}

func TestBrokerWrapForwardsDirAndEnv(t *testing.T) {
	testlog.Start(t)
	r := NewBrokerRunner(NewMock(), DefaultBroker())
	spec := Command("make").WithDir("/src").WithEnv("B", "2").WithEnv("A", "1")

	wrapped := r.Wrap(spec)
	want := []string{"flatpak-spawn", "--host", "--directory=/src", "--env=A=1", "--env=B=2", "make"}
	if !slices.Equal(wrapped.Argv(), want) {
		t.Fatalf("unexpected wrap\nwant: %q\ngot:  %q", want, wrapped.Argv())
	}
	if wrapped.Dir != "" || wrapped.Env != nil {
		t.Fatalf("expected dir/env moved into flags, got %+v", wrapped)
	}
}

func TestBrokerWrapWithoutFlagsKeepsDirOnOuterCommand(t *testing.T) {
	testlog.Start(t)
	r := NewBrokerRunner(NewMock(), Broker{Program: "host-exec", Separator: "--"})
	wrapped := r.Wrap(Command("ls").WithDir("/var").WithEnv("X", "y"))

	if !slices.Equal(wrapped.Argv(), []string{"host-exec", "--", "ls"}) {
		t.Fatalf("unexpected argv: %q", wrapped.Argv())
	}
	if wrapped.Dir != "/var" || wrapped.Env["X"] != "y" {
		t.Fatalf("expected dir/env kept on outer spec, got %+v", wrapped)
	}
}

func TestBrokerRunnerDelegatesWrappedSpec(t *testing.T) {
	testlog.Start(t)
	mock := NewMock().On(
		[]string{"flatpak-spawn", "--host", "podman", "ps"},
		Response{Stdout: "ok\n"},
	)
	r := NewBrokerRunner(mock, DefaultBroker())

	res, err := r.Run(context.Background(), Command("podman", "ps"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Stdout) != "ok\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Program != "flatpak-spawn" {
		t.Fatalf("expected one wrapped call, got %+v", calls)
	}
}

func TestBrokerRunnerRejectsEmptyProgram(t *testing.T) {
	testlog.Start(t)
	mock := NewMock()
	r := NewBrokerRunner(mock, DefaultBroker())
	if _, err := r.Spawn(context.Background(), CommandSpec{}); !errors.Is(err, ErrEmptySpec) {
		t.Fatalf("expected ErrEmptySpec, got %v", err)
	}
	if len(mock.Calls()) != 0 {
		t.Fatalf("expected no delegated calls")
	}
}
