package runner

import (
	"context"
	"maps"
	"slices"
)

// Broker describes a host-escape program that runs its trailing arguments
// outside a sandbox.
type Broker struct {
	Program string
	Args    []string
	// Separator, when set, is placed between broker flags and the wrapped argv.
	Separator string
	// DirFlag and EnvFlag are prefixes for forwarding the working directory
	// and environment overrides. When empty, Dir and Env stay on the outer
	// command instead.
	DirFlag string
	EnvFlag string
}

// DefaultBroker is the flatpak host-escape helper.
func DefaultBroker() Broker {
	return Broker{
		Program: "flatpak-spawn",
		Args:    []string{"--host"},
		DirFlag: "--directory=",
		EnvFlag: "--env=",
	}
}

// BrokerRunner rewrites every command as an argument to the broker and
// delegates execution to Inner.
type BrokerRunner struct {
	Inner  Runner
	Broker Broker
}

func NewBrokerRunner(inner Runner, broker Broker) *BrokerRunner {
	return &BrokerRunner{Inner: inner, Broker: broker}
}

// Wrap returns the broker invocation for spec. Arguments are never shell
// concatenated.
func (r *BrokerRunner) Wrap(spec CommandSpec) CommandSpec {
	b := r.Broker
	args := slices.Clone(b.Args)
	out := CommandSpec{Program: b.Program}

	if spec.Dir != "" {
		if b.DirFlag != "" {
			args = append(args, b.DirFlag+spec.Dir)
		} else {
			out.Dir = spec.Dir
		}
	}
	if len(spec.Env) > 0 {
		if b.EnvFlag != "" {
			for _, kv := range spec.EnvList() {
				args = append(args, b.EnvFlag+kv)
			}
		} else {
			out.Env = maps.Clone(spec.Env)
		}
	}
	if b.Separator != "" {
		args = append(args, b.Separator)
	}
	args = append(args, spec.Program)
	out.Args = append(args, spec.Args...)
	return out
}

func (r *BrokerRunner) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	if err := validate(spec); err != nil {
		return Result{ExitCode: spawnFailureExitCode}, err
	}
	return r.Inner.Run(ctx, r.Wrap(spec))
}

func (r *BrokerRunner) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	return r.Inner.Spawn(ctx, r.Wrap(spec))
}
