package cli

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"workshopdl/internal/workshop"
)

var openPrintOnly bool

// openBrowser launches the desktop's default handler for url.
var openBrowser = func(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func newOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the game's Steam Workshop page in a browser",
		Args:  cobra.NoArgs,
		RunE:  runOpen,
	}
	cmd.Flags().BoolVar(&openPrintOnly, "print-only", false, "Print the page URL without launching a browser")
	return cmd
}

func runOpen(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	url := workshop.PageURL(env.cfg.Game.AppID)
	out := cmd.OutOrStdout()
	if outputJSON {
		data, err := json.MarshalIndent(map[string]string{"url": url}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintln(out, url)
	}
	if openPrintOnly {
		return nil
	}

	if err := openBrowser(url); err != nil {
		env.logger.Warn("open browser", zap.String("url", url), zap.Error(err))
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not launch a browser: %v\n", err)
	}
	return nil
}
