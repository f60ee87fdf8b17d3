// Package cmd provides the command-line interface of pagewalk.
package cmd

import (
	"log/slog"
	"os"

	"github.com/sarchlab/pagewalk/config"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var cfg config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagewalk",
	Short: "pagewalk translates virtual addresses through RISC-V page tables.",
	Long: `pagewalk models the Sv32 and Sv39 page-table walks of RISC-V. ` +
		`It builds page tables in a simulated physical memory from a ` +
		`fixture, translates addresses and records every step of the walk.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env")

		var envFiles []string
		if envFile != "" {
			envFiles = append(envFiles, envFile)
		}

		var err error
		cfg, err = config.Load(envFiles...)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			level, _ := cmd.Flags().GetString("log-level")
			if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
				return err
			}
		}

		setupLogger(cfg.LogLevel)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("env", "",
		"File to read PAGEWALK_* variables from (default .env if present)")
	rootCmd.PersistentFlags().String("log-level", "info",
		"Log level: debug, info, warn or error")
}

func setupLogger(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Registered exit handlers run before the process ends.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
