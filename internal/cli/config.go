package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"workshopdl/internal/config"
	"workshopdl/internal/paths"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit workshopdl configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetFolderCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration in YAML",
		RunE:  runConfigShow,
	}
}

func newConfigSetFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-folder <dir>",
		Short: "Set the game installation folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigSetFolder,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	ap, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(ap.ConfigFile)
	if err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", ap.ConfigFile)
	fmt.Fprint(out, string(data))
	if len(data) == 0 || data[len(data)-1] != '\n' {
		fmt.Fprintln(out)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if !cfg.Configured() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: installation folder not configured")
	}
	return nil
}

func runConfigSetFolder(cmd *cobra.Command, args []string) error {
	ap, err := paths.Resolve(homeDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(ap.ConfigFile)
	if err != nil {
		return err
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}
	if err := cfg.CheckInstallationFolder(dir); err != nil {
		return err
	}

	cfg.InstallationFolder = dir
	if err := config.Save(ap.ConfigFile, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installation folder set to %s\n", dir)
	return nil
}
