package runner

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// CommandSpec is an immutable description of one program invocation.
type CommandSpec struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
}

func Command(program string, args ...string) CommandSpec {
	return CommandSpec{Program: program, Args: slices.Clone(args)}
}

// WithArgs returns a copy with args appended.
func (c CommandSpec) WithArgs(args ...string) CommandSpec {
	out := c.clone()
	out.Args = append(out.Args, args...)
	return out
}

// WithDir returns a copy running in dir.
func (c CommandSpec) WithDir(dir string) CommandSpec {
	out := c.clone()
	out.Dir = dir
	return out
}

// WithEnv returns a copy with one environment override set.
func (c CommandSpec) WithEnv(key, value string) CommandSpec {
	out := c.clone()
	if out.Env == nil {
		out.Env = make(map[string]string, 1)
	}
	out.Env[key] = value
	return out
}

// Extend appends separator followed by other's program and args, each as its
// own argument.
func (c CommandSpec) Extend(separator string, other CommandSpec) CommandSpec {
	out := c.clone()
	if separator != "" {
		out.Args = append(out.Args, separator)
	}
	out.Args = append(out.Args, other.Program)
	out.Args = append(out.Args, other.Args...)
	return out
}

// Argv returns program followed by args.
func (c CommandSpec) Argv() []string {
	argv := make([]string, 0, 1+len(c.Args))
	argv = append(argv, c.Program)
	return append(argv, c.Args...)
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (c CommandSpec) EnvList() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(c.Env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

func (c CommandSpec) String() string {
	return strings.Join(c.Argv(), " ")
}

func (c CommandSpec) clone() CommandSpec {
	out := CommandSpec{
		Program: c.Program,
		Args:    slices.Clone(c.Args),
		Dir:     c.Dir,
	}
	if len(c.Env) > 0 {
		out.Env = maps.Clone(c.Env)
	}
	return out
}

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

func (s Stream) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stream) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stdout":
		*s = Stdout
	case "stderr":
		*s = Stderr
	default:
		return fmt.Errorf("runner: unknown stream %q", text)
	}
	return nil
}

// OutputChunk is one line of live output, without its trailing newline.
type OutputChunk struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Result is the terminal outcome of one invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Err reports a non-zero exit as *ExitError, nil otherwise.
func (r Result) Err() error {
	if r.ExitCode == 0 {
		return nil
	}
	return &ExitError{Code: r.ExitCode, Stderr: strings.TrimSpace(string(r.Stderr))}
}
