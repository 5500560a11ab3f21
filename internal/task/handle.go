package task

import (
	"context"
	"strings"

	"github.com/danmuck/boxctl/internal/runner"
)

// stderrTail is how many trailing stderr lines an ExitError keeps.
const stderrTail = 8

// Handle is the body's view of its task.
type Handle struct {
	task *Task
}

func (h *Handle) Context() context.Context {
	return h.task.ctx
}

// Spawn starts spec through the task's runner and streams it to completion.
// A non-zero exit is returned as *runner.ExitError.
func (h *Handle) Spawn(spec runner.CommandSpec) error {
	p, err := h.task.runner.Spawn(h.task.ctx, spec)
	if err != nil {
		return err
	}
	return h.Attach(p)
}

// Attach streams an already running process into the log, marks the task
// Executing, and waits for the process to exit.
func (h *Handle) Attach(p runner.Process) error {
	t := h.task
	t.setProc(p)
	defer t.setProc(nil)

	t.loop.Post(func() { t.transition(StatusExecuting, nil) })
	var stderr []string
	for chunk := range p.Output() {
		if chunk.Stream == runner.Stderr {
			if len(stderr) == stderrTail {
				stderr = stderr[1:]
			}
			stderr = append(stderr, chunk.Text)
		}
		t.loop.Post(func() { t.appendChunk(chunk) })
	}

	res, err := p.Wait()
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &runner.ExitError{Code: res.ExitCode, Stderr: strings.Join(stderr, "\n")}
	}
	return nil
}

// Append adds a line to the log without a process.
func (h *Handle) Append(stream runner.Stream, text string) {
	chunk := runner.OutputChunk{Stream: stream, Text: text}
	h.task.loop.Post(func() { h.task.appendChunk(chunk) })
}

func (h *Handle) SetDescription(desc string) {
	h.task.loop.Post(func() { h.task.setDescription(desc) })
}
