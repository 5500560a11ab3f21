package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/task"
	"github.com/spf13/cobra"
)

func newExecCommand(a *app) *cobra.Command {
	var name, target, dir string
	var env map[string]string
	var trace bool
	cmd := &cobra.Command{
		Use:   "exec [flags] -- program [args...]",
		Short: "Run a command as a tracked task and stream its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			var tracked *runner.Tracked
			var wraps []func(runner.Runner) runner.Runner
			if trace {
				wraps = append(wraps, func(r runner.Runner) runner.Runner {
					tracked = runner.Track(r)
					return tracked
				})
			}
			c, err := a.newCore(cfg, wraps...)
			if err != nil {
				return err
			}
			defer c.Close()

			spec := runner.Command(args[0], args[1:]...).WithDir(dir)
			for k, v := range env {
				spec = spec.WithEnv(k, v)
			}
			if name == "" {
				name = spec.String()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = runTask(ctx.Done(), c.tasks, name, target, spec, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if tracked != nil {
				writeTrace(cmd.ErrOrStderr(), tracked.Events())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name (defaults to the command line)")
	cmd.Flags().StringVar(&target, "target", "", "container the command acts on")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "extra environment KEY=VALUE")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the runner history to stderr when the task ends")
	return cmd
}

func writeTrace(w io.Writer, events []runner.Event) {
	for _, e := range events {
		line := fmt.Sprintf("trace %d %s %s", e.Seq, e.Kind, e.Spec)
		if e.Kind == runner.EventExited || e.Kind == runner.EventFinished {
			line += fmt.Sprintf(" exit=%d", e.ExitCode)
		}
		if e.Err != nil {
			line += fmt.Sprintf(" err=%q", e.Err.Error())
		}
		fmt.Fprintln(w, line)
	}
}

// runTask streams output of one task until it ends. interrupt cancels it.
func runTask(interrupt <-chan struct{}, m *task.Manager, name, target string, spec runner.CommandSpec, stdout, stderr io.Writer) error {
	// Added is emitted before the task can produce output, so subscribing
	// from its handler sees every chunk.
	sub := m.Subscribe(func(change task.Change) {
		if change.Kind != task.ChangeAdded {
			return
		}
		t, ok := m.Get(change.TaskID)
		if !ok {
			return
		}
		t.Subscribe(func(e task.Event) {
			if e.Kind != task.EventOutput {
				return
			}
			w := stdout
			if e.Chunk.Stream == runner.Stderr {
				w = stderr
			}
			fmt.Fprintln(w, e.Chunk.Text)
		})
	})
	defer sub.Cancel()

	t := m.RunCommand(name, target, spec)
	select {
	case <-t.Done():
	case <-interrupt:
		t.Cancel()
		<-t.Done()
	}

	snap := t.Snapshot()
	if snap.Status == task.StatusSuccessful {
		return nil
	}
	code := runner.ExitCode(snap.Err)
	switch {
	case errors.Is(snap.Err, runner.ErrCancelled):
		code = 130
	case code < 0:
		code = 1
	}
	return &exitCodeError{code: code, err: fmt.Errorf("%s: %w", name, snap.Err)}
}
