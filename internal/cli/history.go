package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"workshopdl/internal/tui"
)

var historyLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past downloads, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show (0 for all)")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := env.openHistory(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, historyLimit)
	if err != nil {
		return err
	}

	if outputJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no downloads recorded)")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tNAME\tITEM\tSTATUS\tINSTALL\tDETAIL")
	for _, e := range entries {
		detail := e.Reason
		if detail == "" {
			detail = e.InstallDetail
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.DateTime),
			tui.TruncateWithEllipsis(e.DisplayName, 32),
			e.ItemID,
			e.Status,
			tui.NonEmptyOrDash(string(e.Install)),
			tui.NonEmptyOrDash(detail),
		)
	}
	return w.Flush()
}
