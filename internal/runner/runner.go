package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrUnknownMode = errors.New("runner: unknown mode")

// Runner is the process execution capability.
type Runner interface {
	// Run executes spec to completion and captures its output.
	Run(ctx context.Context, spec CommandSpec) (Result, error)
	// Spawn starts spec and returns a live handle. Cancelling ctx kills it.
	Spawn(ctx context.Context, spec CommandSpec) (Process, error)
}

// Process is a live handle on a spawned command.
//
// Output must be drained until closed before Wait returns. Chunks of one
// stream arrive in the order the process wrote them. Result from Wait carries
// the exit code only; output is delivered through the channel.
type Process interface {
	Output() <-chan OutputChunk
	Wait() (Result, error)
	Kill() error
}

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeHost   Mode = "host"
	ModeBroker Mode = "broker"
	ModeSSH    Mode = "ssh"
)

// flatpakInfoPath exists inside every flatpak sandbox.
const flatpakInfoPath = "/.flatpak-info"

// Options selects and configures the runner built by New.
type Options struct {
	Mode   Mode
	Broker Broker
	SSH    SSHRunner
	Host   HostRunner
}

// Detect reports the mode the current process needs: broker when running
// inside a flatpak sandbox, host otherwise.
func Detect() Mode {
	return detect(os.Stat, os.Getenv)
}

func detect(stat func(string) (os.FileInfo, error), getenv func(string) string) Mode {
	if _, err := stat(flatpakInfoPath); err == nil {
		return ModeBroker
	}
	if strings.TrimSpace(getenv("FLATPAK_ID")) != "" {
		return ModeBroker
	}
	return ModeHost
}

// New builds the runner for opts.Mode; ModeAuto resolves through Detect.
// The result is instrumented with runner metrics.
func New(opts Options) (Runner, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(opts.Mode))))
	if mode == "" || mode == ModeAuto {
		mode = Detect()
	}

	var r Runner
	switch mode {
	case ModeHost:
		r = opts.Host
	case ModeBroker:
		broker := opts.Broker
		if strings.TrimSpace(broker.Program) == "" {
			broker = DefaultBroker()
		}
		r = NewBrokerRunner(opts.Host, broker)
	case ModeSSH:
		r = opts.SSH
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}
	return Instrument(string(mode), r), nil
}
