package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/sarchlab/pagewalk/monitoring"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the memory system over HTTP.",
	Long: "`serve --fixture sv32 --open` builds the page tables of the " +
		"fixture and starts a web server to translate addresses and inspect " +
		"the page tables, until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		memSys, _, c, err := setupMemorySystem(cmd)
		if err != nil {
			return err
		}

		port := c.MonitorPort
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		monitor := monitoring.NewMonitor().WithPortNumber(port)
		monitor.RegisterMemorySystem(memSys)
		attachTraceWriters(monitor.Recorder(), c)

		url := monitor.StartServer()

		if open, _ := cmd.Flags().GetBool("open"); open {
			if err := browser.OpenURL(url); err != nil {
				slog.Warn("cannot open the browser", "url", url, "err", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		<-ctx.Done()

		slog.Info("monitor stopped")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addSetupFlags(serveCmd)
	addTraceFlags(serveCmd)
	serveCmd.Flags().Int("port", 0,
		"Port of the web server (default: PAGEWALK_MONITOR_PORT or random)")
	serveCmd.Flags().Bool("open", false, "Open the monitor in a browser")
}
