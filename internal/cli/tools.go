package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"workshopdl/internal/tools"
	"workshopdl/internal/tui"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the SteamCMD installation",
	}

	cmd.AddCommand(newToolsStatusCmd())
	cmd.AddCommand(newToolsInstallCmd())

	return cmd
}

func newToolsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the SteamCMD provisioning state",
		RunE:  runToolsStatus,
	}
}

func runToolsStatus(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	return printToolStatus(cmd, env.provisioner(nil).Status())
}

func newToolsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download and unpack SteamCMD, replacing any existing copy",
		RunE:  runToolsInstall,
	}
}

func runToolsInstall(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	status := tui.NewStatusWriter(cmd.ErrOrStderr())
	prov := env.provisioner(status.Update)
	status.Update("Installing SteamCMD...")

	path, err := prov.Install(ctx)
	if err != nil {
		status.Stop("")
		return err
	}
	status.Stop("SteamCMD ready: " + path)

	return printToolStatus(cmd, prov.Status())
}

func printToolStatus(cmd *cobra.Command, st tools.Status) error {
	out := cmd.OutOrStdout()
	if outputJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "%-10s %-12s %s\n", "Platform", "State", "Path")
	fmt.Fprintf(out, "%-10s %-12s %s\n", tui.NonEmptyOrDash(string(st.Platform)), st.State, tui.NonEmptyOrDash(st.Path))
	if st.SourceURL != "" {
		fmt.Fprintf(out, "  source:    %s\n", st.SourceURL)
	}
	if st.Checksum != "" {
		fmt.Fprintf(out, "  blake3:    %s\n", st.Checksum)
	}
	if st.InstalledAt != "" {
		fmt.Fprintf(out, "  installed: %s\n", st.InstalledAt)
	}
	if st.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", st.Error)
	}
	return nil
}
