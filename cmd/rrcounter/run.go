package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rrcounter/internal/app"
	"rrcounter/internal/config"
)

const stopTimeout = 10 * time.Second

type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "path to a JSON or YAML config file (empty: environment only)")
	cmd.Flags().StringVar(&f.envFile, "env", "", "dotenv file to load before reading the environment (default: ./.env if present)")
}

func (f *configFlags) manager() (*config.Manager, error) {
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return nil, err
	}
	return config.NewManager(f.path), nil
}

func newRunCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgm, err := flags.manager()
			if err != nil {
				return err
			}
			a, err := app.New(cfgm)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}

			reason := app.StopAppStop
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			case <-ctx.Done():
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
	flags.register(cmd)
	return cmd
}
