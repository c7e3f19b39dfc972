package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"workshopdl/internal/pipeline"
	"workshopdl/internal/queue"
	"workshopdl/internal/tui"
	"workshopdl/internal/workshop"
)

var (
	getNoProgress bool
	getVerbose    bool
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url|id>...",
		Short: "Download workshop items and install them into the game's mods folder",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().BoolVar(&getNoProgress, "no-progress", false, "Disable interactive progress output")
	cmd.Flags().BoolVarP(&getVerbose, "verbose", "v", false, "Print SteamCMD output in plain mode")

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	if err := env.requireConfigured(); err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	mode := tui.DetectMode(stdout, getNoProgress, outputJSON)

	resolver := workshop.NewResolver(env.cfg.Game.AppID, env.logger)
	var (
		items    []queue.Item
		rejected int
	)
	for _, ref := range args {
		item, err := resolver.Resolve(ctx, ref)
		if err != nil {
			rejected++
			env.logger.Warn("reference rejected", zap.String("reference", ref), zap.Error(err))
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return errors.New("no valid workshop references")
	}

	hist, err := env.openHistory(ctx)
	if err != nil {
		return err
	}
	defer hist.Close()

	var notify func(string)
	if mode == tui.ModePlain {
		notify = func(msg string) { fmt.Fprintf(stderr, "[%s] %s\n", pipeline.StageProvisioning, msg) }
	}

	q := queue.New()
	mgr, err := env.manager(q, env.provisioner(notify), hist)
	if err != nil {
		return err
	}

	var (
		events      <-chan queue.Event
		unsubscribe func()
		since       int64
	)
	if mode == tui.ModePlain {
		events, unsubscribe = q.Subscribe()
		defer unsubscribe()
		since = q.LastSeq()
	}

	for _, item := range items {
		if _, err := mgr.Submit(item); err != nil {
			rejected++
			fmt.Fprintf(stderr, "error: %s: %v\n", item.ItemID, err)
		}
	}

	work := func(ctx context.Context) error {
		return runUntilDrained(ctx, mgr)
	}

	switch mode {
	case tui.ModeTUI:
		err = tui.RunQueue(ctx, stdout, "workshopdl get", q, work)
	case tui.ModePlain:
		done := make(chan struct{})
		followed := make(chan struct{})
		go func() {
			tui.NewPlainReporter(stdout, getVerbose).Follow(events, since, done, q.LastSeq)
			close(followed)
		}()
		err = work(ctx)
		close(done)
		<-followed
	default:
		err = work(ctx)
	}
	if err != nil {
		return err
	}

	snapshot := q.Snapshot()
	if mode == tui.ModeJSON {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(stdout, string(data))
	} else {
		printSummary(cmd, snapshot)
	}

	failed := countFailed(snapshot) + rejected
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(args))
	}
	return nil
}

// runUntilDrained runs the manager until every submitted request settles or
// ctx ends. Interruption is not an error: requests it cut short are failed
// and reported like any other failure.
func runUntilDrained(ctx context.Context, mgr *pipeline.Manager) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(runCtx) }()

	drainErr := mgr.Drain(ctx)
	cancel()
	err := <-runErr
	if drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		return drainErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func countFailed(reqs []queue.Request) int {
	n := 0
	for _, r := range reqs {
		if r.Status == queue.StatusFailed || r.Install == queue.InstallFailed {
			n++
		}
	}
	return n
}

func printSummary(cmd *cobra.Command, reqs []queue.Request) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-28s %-12s %-11s %s\n", "NAME", "ITEM", "STATUS", "INSTALL")
	for _, r := range reqs {
		install := tui.NonEmptyOrDash(string(r.Install))
		fmt.Fprintf(out, "%-28s %-12s %-11s %s\n", tui.TruncateWithEllipsis(r.DisplayName, 28), r.ItemID, r.Status, install)
		switch {
		case r.Status == queue.StatusFailed:
			fmt.Fprintf(out, "  reason: %s\n", r.Reason)
		case r.Install == queue.InstallFailed:
			fmt.Fprintf(out, "  install: %s\n", r.InstallDetail)
		}
	}
}
