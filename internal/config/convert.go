package config

import (
	"github.com/danmuck/boxctl/internal/query"
	"github.com/danmuck/boxctl/internal/runner"
)

func (c Config) RunnerOptions() runner.Options {
	return runner.Options{
		Mode:   c.Runner.Mode,
		Broker: c.Runner.Broker,
		SSH:    c.Runner.SSH,
		Host:   runner.HostRunner{KillGrace: c.Runner.KillGrace},
	}
}

// QueryOptions maps the [query] and [containers] sections to query options.
func (c Config) QueryOptions() []query.Option {
	opts := []query.Option{
		query.WithTimeout(c.Query.Timeout),
		query.WithRefetchInterval(c.Containers.RefetchInterval),
	}
	if c.Query.RetryAttempts > 1 {
		opts = append(opts, query.WithRetry(query.Exponential(c.Query.Backoff, c.Query.RetryAttempts)))
	}
	if c.Query.RetrySpawnErrors {
		opts = append(opts, query.WithRetrySpawnErrors())
	}
	return opts
}

func (c Config) ListSpec() runner.CommandSpec {
	return runner.Command(c.Containers.ListCommand[0], c.Containers.ListCommand[1:]...)
}
