package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/setanarut/swapsort"
	"github.com/spf13/cobra"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "swapsort",
		Short: "Sort the pixels of an image by randomized neighborhood swaps",
		Long: `swapsort repeatedly pairs up the opaque pixels of an image and swaps a pair
whenever that brings both closer to the colors around them. Only positions
change: the output always holds exactly the input's colors.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(verbose)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log per-unit progress and state changes")
	rootCmd.AddCommand(sortCmd, verifyCmd, calibrateCmd, fillMaskCmd, paletteCmd)
}

// setupLogger writes text logs to a terminal and JSON logs otherwise.
func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	swapsort.SetLogger(l)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
