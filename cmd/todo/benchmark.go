package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/benchmark"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var benchmarkCmd = &cobra.Command{
	Use:     "benchmark",
	GroupID: "advanced",
	Short:   "Benchmark reconciliation passes on the memory and dir backends",
	Long: `Measure how long reconciliation passes take against a seeded store.

Each run publishes --records records from --creators accounts, fills an
empty mirror, then changes --churn of the records before each of --passes
timed passes. Every pass must write exactly the rows that changed.

Modes:
  compare  - Run memory and dir, show a comparison (default)
  memory   - Run only the in-memory store
  dir      - Run only the directory store

Examples:
  todo benchmark
  todo benchmark --records 5000 --passes 50
  todo benchmark --mode dir --churn 0.2
  todo benchmark --json`,
	Run: runBenchmark,
}

func init() {
	d := benchmark.DefaultConfig()
	benchmarkCmd.Flags().Int("records", d.Records, "number of published records")
	benchmarkCmd.Flags().Int("creators", d.Creators, "number of accounts the records belong to")
	benchmarkCmd.Flags().Int("passes", d.Passes, "number of timed passes")
	benchmarkCmd.Flags().Float64("churn", d.ChurnPct, "fraction of records changed before each pass (0.0-1.0)")
	benchmarkCmd.Flags().String("mode", "compare", "benchmark mode: compare, memory or dir")
	benchmarkCmd.Flags().Int64("seed", d.Seed, "random seed for the churn")
	benchmarkCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(benchmarkCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) {
	config := benchmark.DefaultConfig()
	config.Records, _ = cmd.Flags().GetInt("records")
	config.Creators, _ = cmd.Flags().GetInt("creators")
	config.Passes, _ = cmd.Flags().GetInt("passes")
	config.ChurnPct, _ = cmd.Flags().GetFloat64("churn")
	config.Seed, _ = cmd.Flags().GetInt64("seed")
	mode, _ := cmd.Flags().GetString("mode")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if mode != "compare" {
		config.Backend = mode
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := cmd.Context()
	logger := logs.For("benchmark")

	if mode == "compare" {
		if !jsonOutput {
			fmt.Printf("%s Benchmarking %s and %s backends...\n", ui.RenderAccent("⏱"),
				benchmark.BackendMemory, benchmark.BackendDir)
		}
		result, err := benchmark.Compare(ctx, config, benchmark.BackendMemory, benchmark.BackendDir, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(result)
		} else {
			benchmark.PrintComparison(os.Stdout, result)
		}
		if !result.A.Success || !result.B.Success {
			os.Exit(1)
		}
		return
	}

	result, err := benchmark.Run(ctx, config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(result)
	} else {
		benchmark.PrintResult(os.Stdout, result)
	}
	if !result.Success {
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
