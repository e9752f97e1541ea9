// Command todo manages a personal todo list and its public mirror.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/config"
	"github.com/Mschirtzinger/cloudtodo/internal/logging"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var (
	configPath string
	verbose    bool
	noColor    bool

	cfg  *config.Config
	logs *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "todo",
	Short: "Personal todos with a shared public list",
	Long: `todo keeps a private todo list in a local database and lets you
publish individual items to a shared record store. Items published by
other people are mirrored locally and listed with their display names.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		if verbose {
			cfg.Log.Verbose = true
		}

		logs, err = logging.New(logging.Options{
			File:       cfg.Log.File,
			Verbose:    cfg.Log.Verbose,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./.cloudtodo/cloudtodo.toml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log component activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "todos", Title: "Todos:"},
		&cobra.Group{ID: "sync", Title: "Sharing and sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
