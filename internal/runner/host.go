package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultKillGrace = 3 * time.Second

// HostRunner executes commands directly on the local host.
//
// Each command runs in its own process group. Kill sends SIGTERM to the group
// and escalates to SIGKILL after KillGrace.
type HostRunner struct {
	KillGrace time.Duration
}

func (r HostRunner) killGrace() time.Duration {
	if r.KillGrace <= 0 {
		return defaultKillGrace
	}
	return r.KillGrace
}

func (r HostRunner) configure(cmd *exec.Cmd, spec CommandSpec) {
	cmd.Dir = spec.Dir
	if env := spec.EnvList(); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	setProcessGroup(cmd)
}

func validate(spec CommandSpec) error {
	if strings.TrimSpace(spec.Program) == "" {
		return &SpawnError{Spec: spec, Err: ErrEmptySpec}
	}
	return nil
}

func (r HostRunner) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	if err := validate(spec); err != nil {
		return Result{ExitCode: spawnFailureExitCode}, err
	}

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	r.configure(cmd, spec)
	cmd.Cancel = func() error { return terminateGroup(cmd.Process) }
	cmd.WaitDelay = r.killGrace()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", spec.String()).Str("dir", spec.Dir).Msg("runner.HostRunner.Run")
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) || cmd.Process == nil {
		res.ExitCode = spawnFailureExitCode
	}
	return res, &SpawnError{Spec: spec, Err: err}
}

func (r HostRunner) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	r.configure(cmd, spec)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	log.Debug().Str("command", spec.String()).Int("pid", cmd.Process.Pid).Msg("runner.HostRunner.Spawn")

	exited := make(chan struct{})
	wait := func() (int, error) {
		defer close(exited)
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	grace := r.killGrace()
	kill := func() error {
		if err := terminateGroup(cmd.Process); err != nil {
			return err
		}
		go func() {
			select {
			case <-exited:
			case <-time.After(grace):
				log.Warn().Int("pid", cmd.Process.Pid).Msg("runner.HostRunner kill grace expired")
				_ = killGroup(cmd.Process)
			}
		}()
		return nil
	}
	return startStreamProcess(ctx, stdout, stderr, wait, kill), nil
}
