package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func durationString(d time.Duration) string {
	return d.String()
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		Runner: fileRunner{
			Mode:      string(cfg.Runner.Mode),
			KillGrace: durationString(cfg.Runner.KillGrace),
			Broker: fileBroker{
				Program:   cfg.Runner.Broker.Program,
				Args:      slices.Clone(cfg.Runner.Broker.Args),
				Separator: cfg.Runner.Broker.Separator,
				DirFlag:   cfg.Runner.Broker.DirFlag,
				EnvFlag:   cfg.Runner.Broker.EnvFlag,
			},
			SSH: fileSSH{
				Host:           cfg.Runner.SSH.Host,
				Port:           cfg.Runner.SSH.Port,
				User:           cfg.Runner.SSH.User,
				KeyPath:        cfg.Runner.SSH.KeyPath,
				KnownHostsPath: cfg.Runner.SSH.KnownHostsPath,
				Insecure:       cfg.Runner.SSH.InsecureSkipHostKeyChecking,
				Timeout:        durationString(cfg.Runner.SSH.Timeout),
			},
		},
		Query: fileQuery{
			Timeout:          durationString(cfg.Query.Timeout),
			RetryAttempts:    cfg.Query.RetryAttempts,
			RetrySpawnErrors: cfg.Query.RetrySpawnErrors,
			Backoff: fileBackoff{
				InitialDelay: durationString(cfg.Query.Backoff.InitialDelay),
				Multiplier:   cfg.Query.Backoff.Multiplier,
				MaxDelay:     durationString(cfg.Query.Backoff.MaxDelay),
				Jitter:       cfg.Query.Backoff.Jitter,
			},
		},
		Containers: fileContainers{
			ListCommand:     slices.Clone(cfg.Containers.ListCommand),
			RefetchInterval: durationString(cfg.Containers.RefetchInterval),
			WatchPaths:      slices.Clone(cfg.Containers.WatchPaths),
		},
		Server: fileServer{
			ListenAddr:  cfg.Server.ListenAddr,
			CorsOrigins: slices.Clone(cfg.Server.CorsOrigins),
			Token:       cfg.Server.Token,
			TLSCertFile: cfg.Server.TLSCertFile,
			TLSKeyFile:  cfg.Server.TLSKeyFile,
		},
	}
}

// Render encodes cfg in the config.toml layout.
func Render(cfg Config) (string, error) {
	data, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render boxctl config: %w", err)
	}
	return string(data), nil
}

// Template is the default configuration rendered as TOML.
func Template() (string, error) {
	return Render(Default())
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
