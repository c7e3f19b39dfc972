package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"workshopdl/internal/api"
	"workshopdl/internal/queue"
	"workshopdl/internal/workshop"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept download requests over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveListen, "listen", ":8087", "Address to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	hist, err := env.openHistory(ctx)
	if err != nil {
		return err
	}
	defer hist.Close()

	q := queue.New()
	mgr, err := env.manager(q, env.provisioner(nil), hist)
	if err != nil {
		return err
	}

	srv := api.New(api.Config{
		Listen: serveListen,
		Ready:  env.requireConfigured,
	}, workshop.NewResolver(env.cfg.Game.AppID, env.logger), q, env.logger)

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", serveListen)
	env.logger.Info("serve started", zap.String("listen", serveListen), zap.Int("concurrency", env.cfg.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
