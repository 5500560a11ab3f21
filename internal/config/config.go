package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/boxctl/internal/query"
	"github.com/danmuck/boxctl/internal/runner"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	Runner     RunnerConfig
	Query      QueryConfig
	Containers ContainersConfig
	Server     ServerConfig
}

type RunnerConfig struct {
	Mode      runner.Mode
	KillGrace time.Duration
	Broker    runner.Broker
	SSH       runner.SSHRunner
}

type QueryConfig struct {
	Timeout          time.Duration
	RetryAttempts    int
	RetrySpawnErrors bool
	Backoff          query.Backoff
}

type ContainersConfig struct {
	ListCommand     []string
	RefetchInterval time.Duration
	WatchPaths      []string
}

// ServerConfig configures the status API. An empty Token leaves mutating
// routes open.
type ServerConfig struct {
	ListenAddr  string
	CorsOrigins []string
	Token       string
	TLSCertFile string
	TLSKeyFile  string
}

func Default() Config {
	return Config{
		Runner: RunnerConfig{
			Mode:      runner.ModeAuto,
			KillGrace: 3 * time.Second,
			Broker:    runner.DefaultBroker(),
			SSH:       runner.SSHRunner{Timeout: 10 * time.Second},
		},
		Query: QueryConfig{
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			Backoff:       query.DefaultBackoff(),
		},
		Containers: ContainersConfig{
			ListCommand: []string{"distrobox", "ls", "--no-color"},
		},
		Server: ServerConfig{
			ListenAddr:  "127.0.0.1:7878",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// boxctl config.toml layout. Durations are Go duration strings.
type fileConfig struct {
	Runner     fileRunner     `toml:"runner"`
	Query      fileQuery      `toml:"query"`
	Containers fileContainers `toml:"containers"`
	Server     fileServer     `toml:"server"`
}

type fileRunner struct {
	Mode      string     `toml:"mode"`
	KillGrace string     `toml:"kill_grace"`
	Broker    fileBroker `toml:"broker"`
	SSH       fileSSH    `toml:"ssh"`
}

type fileBroker struct {
	Program   string   `toml:"program"`
	Args      []string `toml:"args"`
	Separator string   `toml:"separator"`
	DirFlag   string   `toml:"dir_flag"`
	EnvFlag   string   `toml:"env_flag"`
}

type fileSSH struct {
	Host           string `toml:"host"`
	Port           string `toml:"port"`
	User           string `toml:"user"`
	KeyPath        string `toml:"key_path"`
	KnownHostsPath string `toml:"known_hosts_path"`
	Insecure       bool   `toml:"insecure_skip_host_key_checking"`
	Timeout        string `toml:"timeout"`
}

type fileQuery struct {
	Timeout          string      `toml:"timeout"`
	RetryAttempts    int         `toml:"retry_attempts"`
	RetrySpawnErrors bool        `toml:"retry_spawn_errors"`
	Backoff          fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileContainers struct {
	ListCommand     []string `toml:"list_command"`
	RefetchInterval string   `toml:"refetch_interval"`
	WatchPaths      []string `toml:"watch_paths"`
}

type fileServer struct {
	ListenAddr  string   `toml:"listen_addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
	TLSCertFile string   `toml:"tls_cert_file"`
	TLSKeyFile  string   `toml:"tls_key_file"`
}

// Load reads path over Default. An empty path returns validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, Validate(cfg)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load boxctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	if err := overlay(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	var errs []error
	duration := func(dst *time.Duration, value string, key ...string) {
		if !meta.IsDefined(key...) {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(key, "."), err))
			return
		}
		*dst = d
	}
	str := func(dst *string, value string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(value)
		}
	}

	if meta.IsDefined("runner", "mode") {
		cfg.Runner.Mode = runner.Mode(strings.ToLower(strings.TrimSpace(raw.Runner.Mode)))
	}
	duration(&cfg.Runner.KillGrace, raw.Runner.KillGrace, "runner", "kill_grace")
	str(&cfg.Runner.Broker.Program, raw.Runner.Broker.Program, "runner", "broker", "program")
	if meta.IsDefined("runner", "broker", "args") {
		cfg.Runner.Broker.Args = slices.Clone(raw.Runner.Broker.Args)
	}
	str(&cfg.Runner.Broker.Separator, raw.Runner.Broker.Separator, "runner", "broker", "separator")
	str(&cfg.Runner.Broker.DirFlag, raw.Runner.Broker.DirFlag, "runner", "broker", "dir_flag")
	str(&cfg.Runner.Broker.EnvFlag, raw.Runner.Broker.EnvFlag, "runner", "broker", "env_flag")

	str(&cfg.Runner.SSH.Host, raw.Runner.SSH.Host, "runner", "ssh", "host")
	str(&cfg.Runner.SSH.Port, raw.Runner.SSH.Port, "runner", "ssh", "port")
	str(&cfg.Runner.SSH.User, raw.Runner.SSH.User, "runner", "ssh", "user")
	str(&cfg.Runner.SSH.KeyPath, raw.Runner.SSH.KeyPath, "runner", "ssh", "key_path")
	str(&cfg.Runner.SSH.KnownHostsPath, raw.Runner.SSH.KnownHostsPath, "runner", "ssh", "known_hosts_path")
	if meta.IsDefined("runner", "ssh", "insecure_skip_host_key_checking") {
		cfg.Runner.SSH.InsecureSkipHostKeyChecking = raw.Runner.SSH.Insecure
	}
	duration(&cfg.Runner.SSH.Timeout, raw.Runner.SSH.Timeout, "runner", "ssh", "timeout")

	duration(&cfg.Query.Timeout, raw.Query.Timeout, "query", "timeout")
	if meta.IsDefined("query", "retry_attempts") {
		cfg.Query.RetryAttempts = raw.Query.RetryAttempts
	}
	if meta.IsDefined("query", "retry_spawn_errors") {
		cfg.Query.RetrySpawnErrors = raw.Query.RetrySpawnErrors
	}
	duration(&cfg.Query.Backoff.InitialDelay, raw.Query.Backoff.InitialDelay, "query", "backoff", "initial_delay")
	duration(&cfg.Query.Backoff.MaxDelay, raw.Query.Backoff.MaxDelay, "query", "backoff", "max_delay")
	if meta.IsDefined("query", "backoff", "multiplier") {
		cfg.Query.Backoff.Multiplier = raw.Query.Backoff.Multiplier
	}
	if meta.IsDefined("query", "backoff", "jitter") {
		cfg.Query.Backoff.Jitter = raw.Query.Backoff.Jitter
	}

	if meta.IsDefined("containers", "list_command") {
		cfg.Containers.ListCommand = slices.Clone(raw.Containers.ListCommand)
	}
	duration(&cfg.Containers.RefetchInterval, raw.Containers.RefetchInterval, "containers", "refetch_interval")
	if meta.IsDefined("containers", "watch_paths") {
		cfg.Containers.WatchPaths = slices.Clone(raw.Containers.WatchPaths)
	}

	str(&cfg.Server.ListenAddr, raw.Server.ListenAddr, "server", "listen_addr")
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = slices.Clone(raw.Server.CorsOrigins)
	}
	str(&cfg.Server.Token, raw.Server.Token, "server", "token")
	str(&cfg.Server.TLSCertFile, raw.Server.TLSCertFile, "server", "tls_cert_file")
	str(&cfg.Server.TLSKeyFile, raw.Server.TLSKeyFile, "server", "tls_key_file")
	return errors.Join(errs...)
}

// Environment overrides applied after the file.
const (
	EnvRunnerMode = "BOXCTL_RUNNER_MODE"
	EnvListenAddr = "BOXCTL_LISTEN_ADDR"
	EnvSSHHost    = "BOXCTL_SSH_HOST"
	EnvSSHUser    = "BOXCTL_SSH_USER"
	EnvSSHKeyPath = "BOXCTL_SSH_KEY_PATH"
	EnvAPIToken   = "BOXCTL_API_TOKEN"
)

// ApplyEnv overlays BOXCTL_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvRunnerMode)); v != "" {
		c.Runner.Mode = runner.Mode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(getenv(EnvListenAddr)); v != "" {
		c.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvSSHHost)); v != "" {
		c.Runner.SSH.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvSSHUser)); v != "" {
		c.Runner.SSH.User = v
	}
	if v := strings.TrimSpace(getenv(EnvSSHKeyPath)); v != "" {
		c.Runner.SSH.KeyPath = v
	}
	if v := strings.TrimSpace(getenv(EnvAPIToken)); v != "" {
		c.Server.Token = v
	}
}

func Validate(cfg Config) error {
	switch cfg.Runner.Mode {
	case runner.ModeAuto, runner.ModeHost, runner.ModeBroker:
	case runner.ModeSSH:
		if strings.TrimSpace(cfg.Runner.SSH.Host) == "" || strings.TrimSpace(cfg.Runner.SSH.User) == "" {
			return fmt.Errorf("%w: runner.ssh host and user are required in ssh mode", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: runner.mode %q (expected auto, host, broker or ssh)", ErrInvalid, cfg.Runner.Mode)
	}
	if cfg.Runner.Mode == runner.ModeBroker && strings.TrimSpace(cfg.Runner.Broker.Program) == "" {
		return fmt.Errorf("%w: runner.broker.program is required in broker mode", ErrInvalid)
	}
	if cfg.Query.Timeout < 0 {
		return fmt.Errorf("%w: query.timeout must not be negative", ErrInvalid)
	}
	if cfg.Query.RetryAttempts < 1 {
		return fmt.Errorf("%w: query.retry_attempts must be at least 1", ErrInvalid)
	}
	if len(cfg.Containers.ListCommand) == 0 || strings.TrimSpace(cfg.Containers.ListCommand[0]) == "" {
		return fmt.Errorf("%w: containers.list_command is required", ErrInvalid)
	}
	if cfg.Containers.RefetchInterval < 0 {
		return fmt.Errorf("%w: containers.refetch_interval must not be negative", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalid)
	}
	if (cfg.Server.TLSCertFile == "") != (cfg.Server.TLSKeyFile == "") {
		return fmt.Errorf("%w: server.tls_cert_file and server.tls_key_file must be set together", ErrInvalid)
	}
	return nil
}
