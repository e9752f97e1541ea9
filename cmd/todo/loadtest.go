package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/loadtest"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Stress the sync coordinator against an in-memory store",
	Long: `Run concurrent publish, unpublish and status operations through the
coordinator against an in-memory record store, then check that:

  - operations on one todo never overlapped
  - store calls on one record never overlapped
  - no more than --concurrency operations ran at once
  - every todo ended in the state of its last successful operation

Nothing outside the process is touched.

Examples:
  todo loadtest
  todo loadtest --workers 64 --ops 200 --latency 5ms
  todo loadtest --failure-rate 0.1`,
	Run: func(cmd *cobra.Command, args []string) {
		c := loadtest.DefaultConfig()
		c.Items, _ = cmd.Flags().GetInt("items")
		c.Workers, _ = cmd.Flags().GetInt("workers")
		c.OpsPerWorker, _ = cmd.Flags().GetInt("ops")
		c.MaxConcurrency, _ = cmd.Flags().GetInt("concurrency")
		c.Latency, _ = cmd.Flags().GetDuration("latency")
		c.FailureRate, _ = cmd.Flags().GetFloat64("failure-rate")
		c.Seed, _ = cmd.Flags().GetInt64("seed")
		c.Logger = logs.For("loadtest")

		fmt.Printf("%s Running %d workers x %d ops over %d todos (concurrency %d)...\n",
			ui.RenderAccent("⚡"), c.Workers, c.OpsPerWorker, c.Items, c.MaxConcurrency)

		report, err := loadtest.Run(cmd.Context(), c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load test failed: %v\n", err)
			os.Exit(1)
		}
		report.PrintStats(os.Stdout)

		if err := report.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s All guarantees held\n", ui.RenderPass("✓"))
	},
}

func init() {
	d := loadtest.DefaultConfig()
	loadtestCmd.Flags().Int("items", d.Items, "number of distinct todos")
	loadtestCmd.Flags().Int("workers", d.Workers, "number of concurrent submitters")
	loadtestCmd.Flags().Int("ops", d.OpsPerWorker, "operations per worker")
	loadtestCmd.Flags().Int("concurrency", d.MaxConcurrency, "coordinator concurrency limit")
	loadtestCmd.Flags().Duration("latency", d.Latency, "latency added to every store call")
	loadtestCmd.Flags().Float64("failure-rate", 0, "fraction of store calls that fail (0 to 1)")
	loadtestCmd.Flags().Int64("seed", d.Seed, "random seed for the operation mix")

	rootCmd.AddCommand(loadtestCmd)
}
