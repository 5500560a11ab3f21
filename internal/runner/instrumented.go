package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/boxctl/internal/observability"
)

// Instrumented counts command outcomes per runner name.
type Instrumented struct {
	Inner Runner
	Name  string
}

func Instrument(name string, inner Runner) *Instrumented {
	observability.RegisterMetrics()
	return &Instrumented{Inner: inner, Name: name}
}

func outcome(res Result, err error) string {
	switch {
	case errors.Is(err, ErrSpawn):
		return "spawn_error"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case err != nil:
		return "error"
	case res.ExitCode != 0:
		return "exit_nonzero"
	default:
		return "ok"
	}
}

func (r *Instrumented) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	res, err := r.Inner.Run(ctx, spec)
	observability.RecordCommand(r.Name, "run", outcome(res, err))
	return res, err
}

func (r *Instrumented) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	p, err := r.Inner.Spawn(ctx, spec)
	if err != nil {
		observability.RecordCommand(r.Name, "spawn", outcome(Result{}, err))
		return nil, err
	}
	return &instrumentedProcess{Process: p, name: r.Name}, nil
}

type instrumentedProcess struct {
	Process
	name string
	once sync.Once
}

func (p *instrumentedProcess) Wait() (Result, error) {
	res, err := p.Process.Wait()
	p.once.Do(func() {
		observability.RecordCommand(p.name, "spawn", outcome(res, err))
	})
	return res, err
}
