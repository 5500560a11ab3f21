package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/boxctl/internal/boxes"
	"github.com/danmuck/boxctl/internal/config"
	"github.com/danmuck/boxctl/internal/logging"
	"github.com/danmuck/boxctl/internal/loop"
	"github.com/danmuck/boxctl/internal/query"
	"github.com/danmuck/boxctl/internal/runner"
	"github.com/danmuck/boxctl/internal/task"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const envConfigPath = "BOXCTL_CONFIG"

type app struct {
	configPath string
	envFile    string

	newRunner func(runner.Options) (runner.Runner, error)
	getenv    func(string) string
}

func newApp() *app {
	return &app{
		newRunner: runner.New,
		getenv:    os.Getenv,
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "boxctl",
		Short:         "Manage development containers from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadEnv(); err != nil {
				return err
			}
			logging.ConfigureRuntime()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to boxctl.toml (env "+envConfigPath+")")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before the config (default .env when present)")

	root.AddCommand(
		newListCommand(a),
		newExecCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)
	return root
}

func (a *app) loadEnv() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	_ = godotenv.Load()
	return nil
}

func (a *app) loadConfig() (config.Config, error) {
	path := a.configPath
	if path == "" {
		path = strings.TrimSpace(a.getenv(envConfigPath))
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(a.getenv)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type queryState = query.State[[]boxes.Container]

// core is the wired loop, task manager and container store.
type core struct {
	cfg   config.Config
	loop  *loop.Loop
	tasks *task.Manager
	store *boxes.Store
}

// newCore wires the runner into a loop, task manager and store. wrapTasks
// decorate the runner seen by tasks only.
func (a *app) newCore(cfg config.Config, wrapTasks ...func(runner.Runner) runner.Runner) (*core, error) {
	r, err := a.newRunner(cfg.RunnerOptions())
	if err != nil {
		return nil, err
	}
	taskRunner := r
	for _, wrap := range wrapTasks {
		taskRunner = wrap(taskRunner)
	}
	l := loop.New()
	tasks := task.NewManager(l, taskRunner)
	store := boxes.NewStore(l, r, cfg.ListSpec(), cfg.QueryOptions()...)
	log.Debug().Str("mode", string(cfg.Runner.Mode)).Str("list", cfg.ListSpec().String()).Msg("boxctl.core ready")
	return &core{cfg: cfg, loop: l, tasks: tasks, store: store}, nil
}

// listContainers refreshes the store and waits for that refresh to settle.
func (c *core) listContainers(ctx context.Context) ([]boxes.Container, error) {
	settled := make(chan error, 1)
	sub := c.store.Query().Subscribe(func(s queryState) {
		if s.IsLoading || s.Generation == 0 {
			return
		}
		select {
		case settled <- s.Err:
		default:
		}
	})
	defer sub.Cancel()

	c.store.Refresh()
	select {
	case err := <-settled:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := c.loop.Flush(ctx); err != nil {
		return nil, err
	}
	return c.store.Containers(), nil
}

func (c *core) Close() {
	c.store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.loop.Flush(ctx)
	c.loop.Close()
}
