package runner

import (
	"errors"
	"fmt"
)

var (
	ErrSpawn       = errors.New("runner: spawn failed")
	ErrNonZeroExit = errors.New("runner: non-zero exit")
	ErrCancelled   = errors.New("runner: cancelled")
	ErrEmptySpec   = errors.New("runner: empty program")

	ErrSSHHost    = errors.New("runner: ssh host is required")
	ErrSSHUser    = errors.New("runner: ssh user is required")
	ErrSSHKey     = errors.New("runner: ssh key path is required")
	ErrKnownHosts = errors.New("runner: ssh known hosts unavailable")
)

// Exit code reported when the program could not be found or executed.
const spawnFailureExitCode = 127

// SpawnError reports that a process could not be started.
type SpawnError struct {
	Spec CommandSpec
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("runner: spawn %q: %v", e.Spec.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// ExitError reports a process that ran and exited non-zero. Stderr may hold
// only the tail of the process's error output.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}

// ExitCode extracts the exit code carried by err, or -1.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, ErrSpawn) {
		return spawnFailureExitCode
	}
	return -1
}
