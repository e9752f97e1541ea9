package benchmark

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ComparisonResult contains the results of benchmarking two backends with
// the same workload.
type ComparisonResult struct {
	A BenchmarkResult
	B BenchmarkResult

	// Improvement ratios in percent; positive means A is better.
	LatencyImprovement    map[string]float64 // min, p50, mean, p95, p99, max
	FirstPassImprovement  float64
	ThroughputImprovement float64
	MemoryImprovement     float64

	OverallWinner string // backend name, or "tie"
	WinCount      map[string]int
}

// Compare runs config against backends a and b and compares the results.
func Compare(ctx context.Context, config BenchmarkConfig, a, b string, logger *log.Logger) (*ComparisonResult, error) {
	if a == b {
		return nil, fmt.Errorf("cannot compare %s with itself", a)
	}

	configA := config
	configA.Backend = a
	resultA, err := Run(ctx, configA, logger)
	if err != nil {
		return nil, fmt.Errorf("%s benchmark failed: %w", a, err)
	}

	configB := config
	configB.Backend = b
	resultB, err := Run(ctx, configB, logger)
	if err != nil {
		return nil, fmt.Errorf("%s benchmark failed: %w", b, err)
	}

	return compareResults(resultA, resultB), nil
}

func compareResults(a, b *BenchmarkResult) *ComparisonResult {
	result := &ComparisonResult{
		A:                  *a,
		B:                  *b,
		LatencyImprovement: make(map[string]float64),
		WinCount:           make(map[string]int),
	}

	pairs := map[string][2]time.Duration{
		"min":  {a.Latency.Min, b.Latency.Min},
		"p50":  {a.Latency.P50, b.Latency.P50},
		"mean": {a.Latency.Mean, b.Latency.Mean},
		"p95":  {a.Latency.P95, b.Latency.P95},
		"p99":  {a.Latency.P99, b.Latency.P99},
		"max":  {a.Latency.Max, b.Latency.Max},
	}
	for metric, p := range pairs {
		result.LatencyImprovement[metric] = calculateImprovement(p[0].Seconds(), p[1].Seconds())
	}
	result.FirstPassImprovement = calculateImprovement(a.FirstPass.Seconds(), b.FirstPass.Seconds())

	// higher is better for throughput
	if b.Throughput.RecordsPerSecond > 0 {
		result.ThroughputImprovement = (a.Throughput.RecordsPerSecond - b.Throughput.RecordsPerSecond) /
			b.Throughput.RecordsPerSecond * 100
	}

	result.MemoryImprovement = calculateImprovement(
		float64(a.Resources.MemoryDeltaBytes),
		float64(b.Resources.MemoryDeltaBytes),
	)

	nameA, nameB := a.Config.Backend, b.Config.Backend
	tally := func(improvement float64) {
		if improvement > 0 {
			result.WinCount[nameA]++
		} else if improvement < 0 {
			result.WinCount[nameB]++
		}
	}
	for _, improvement := range result.LatencyImprovement {
		tally(improvement)
	}
	tally(result.FirstPassImprovement)
	tally(result.ThroughputImprovement)
	tally(result.MemoryImprovement)

	switch {
	case result.WinCount[nameA] > result.WinCount[nameB]:
		result.OverallWinner = nameA
	case result.WinCount[nameB] > result.WinCount[nameA]:
		result.OverallWinner = nameB
	default:
		result.OverallWinner = "tie"
	}
	return result
}

// calculateImprovement returns how much smaller a is than b, in percent
// of b. Positive means a is better.
func calculateImprovement(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (b - a) / b * 100
}

// PrintComparison writes a formatted comparison report to w.
func PrintComparison(w io.Writer, result *ComparisonResult) {
	nameA, nameB := result.A.Config.Backend, result.B.Config.Backend
	separator := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n", separator)
	fmt.Fprintf(w, "RECONCILIATION BENCHMARK: %s vs %s\n", nameA, nameB)
	fmt.Fprintf(w, "%s\n\n", separator)

	cfg := result.A.Config
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Records:           %d\n", cfg.Records)
	fmt.Fprintf(w, "  Creators:          %d\n", cfg.Creators)
	fmt.Fprintf(w, "  Passes:            %d\n", cfg.Passes)
	fmt.Fprintf(w, "  Churn per pass:    %.1f%%\n\n", cfg.ChurnPct*100)

	fmt.Fprintf(w, "PASS LATENCY:\n")
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n", "Metric", nameA, nameB, "Improvement")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 60))
	printLatencyRow(w, "First", result.A.FirstPass, result.B.FirstPass, result.FirstPassImprovement)
	printLatencyRow(w, "Min", result.A.Latency.Min, result.B.Latency.Min, result.LatencyImprovement["min"])
	printLatencyRow(w, "P50", result.A.Latency.P50, result.B.Latency.P50, result.LatencyImprovement["p50"])
	printLatencyRow(w, "Mean", result.A.Latency.Mean, result.B.Latency.Mean, result.LatencyImprovement["mean"])
	printLatencyRow(w, "P95", result.A.Latency.P95, result.B.Latency.P95, result.LatencyImprovement["p95"])
	printLatencyRow(w, "P99", result.A.Latency.P99, result.B.Latency.P99, result.LatencyImprovement["p99"])
	printLatencyRow(w, "Max", result.A.Latency.Max, result.B.Latency.Max, result.LatencyImprovement["max"])
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "THROUGHPUT:\n")
	fmt.Fprintf(w, "  %-8s %.0f records/sec\n", nameA+":", result.A.Throughput.RecordsPerSecond)
	fmt.Fprintf(w, "  %-8s %.0f records/sec\n", nameB+":", result.B.Throughput.RecordsPerSecond)
	fmt.Fprintf(w, "  Improvement: %s%.2f%%\n\n", formatSign(result.ThroughputImprovement), result.ThroughputImprovement)

	fmt.Fprintf(w, "MEMORY:\n")
	fmt.Fprintf(w, "  %-8s %s\n", nameA+":", humanize.Bytes(result.A.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  %-8s %s\n", nameB+":", humanize.Bytes(result.B.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Improvement: %s%.2f%%\n\n", formatSign(result.MemoryImprovement), result.MemoryImprovement)

	fmt.Fprintf(w, "SUMMARY:\n")
	fmt.Fprintf(w, "  %s wins:  %d metrics\n", nameA, result.WinCount[nameA])
	fmt.Fprintf(w, "  %s wins:  %d metrics\n", nameB, result.WinCount[nameB])
	fmt.Fprintf(w, "  Overall Winner: %s\n", strings.ToUpper(result.OverallWinner))
	if !result.A.Success || !result.B.Success {
		fmt.Fprintf(w, "  ✗ at least one run had errors or mismatched passes\n")
	}
	fmt.Fprintf(w, "\n%s\n\n", separator)
}

func printLatencyRow(w io.Writer, metric string, a, b time.Duration, improvement float64) {
	improvementStr := fmt.Sprintf("%s%.1f%%", formatSign(improvement), improvement)
	if improvement > 0 {
		improvementStr += " ✓"
	}
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n",
		metric,
		FormatDuration(a),
		FormatDuration(b),
		improvementStr)
}

// formatSign returns a + sign for positive values.
func formatSign(value float64) string {
	if value > 0 {
		return "+"
	}
	return ""
}
