package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/boxctl/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task and container status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			c, err := a.newCore(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.store.RefreshAfterTasks(c.tasks)
			if paths := cfg.Containers.WatchPaths; len(paths) > 0 {
				if err := c.store.Watch(ctx, paths); err != nil {
					log.Warn().Err(err).Strs("paths", paths).Msg("boxctl serve: file watch disabled")
				}
			}
			c.store.Refresh()

			return server.New(cfg.Server, c.tasks, c.store).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}
