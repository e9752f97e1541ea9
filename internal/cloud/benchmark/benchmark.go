// Package benchmark measures reconciliation passes against the remote store
// backends and compares them.
//
// A run seeds a store with records from several creators, reconciles the
// full listing into a fresh mirror, then repeatedly changes a fraction of
// the records and times the pass that picks the changes up. Every pass is
// checked: it must write exactly the rows that changed.
package benchmark

import (
	"fmt"
	"io"
	"runtime"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// Backends that can be benchmarked.
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
)

// BenchmarkConfig defines the parameters for a benchmark run.
type BenchmarkConfig struct {
	// Records is the number of published records in the store.
	Records int

	// Creators is the number of accounts the records are spread over.
	Creators int

	// Passes is the number of timed passes after the initial one.
	Passes int

	// ChurnPct is the fraction of records changed before each pass (0.0-1.0).
	ChurnPct float64

	// Backend is the store to benchmark (BackendMemory or BackendDir).
	Backend string

	// Dir holds the mirror database and, for the dir backend, the shared
	// records. Empty uses a temporary directory that is removed afterwards.
	Dir string

	// Seed makes the churn reproducible.
	Seed int64
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Records:  500,
		Creators: 10,
		Passes:   20,
		ChurnPct: 0.05,
		Backend:  BackendMemory,
		Seed:     1,
	}
}

// Validate checks that the configuration can run.
func (c BenchmarkConfig) Validate() error {
	switch {
	case c.Records <= 0:
		return fmt.Errorf("records must be positive, got %d", c.Records)
	case c.Creators <= 0:
		return fmt.Errorf("creators must be positive, got %d", c.Creators)
	case c.Passes <= 0:
		return fmt.Errorf("passes must be positive, got %d", c.Passes)
	case c.ChurnPct < 0 || c.ChurnPct > 1:
		return fmt.Errorf("churn must be between 0 and 1, got %.2f", c.ChurnPct)
	case c.Backend != BackendMemory && c.Backend != BackendDir:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// BenchmarkResult captures all metrics from a benchmark run.
type BenchmarkResult struct {
	Config BenchmarkConfig

	// Latency of the timed passes.
	Latency LatencyMetrics

	// FirstPass is the pass that filled the empty mirror.
	FirstPass time.Duration

	// SeedDuration is the time spent publishing the records.
	SeedDuration time.Duration

	Throughput ThroughputMetrics
	Resources  ResourceMetrics

	// MirrorRows is the mirror size after the last pass.
	MirrorRows int

	// Changed is the number of rows written by the timed passes.
	Changed int

	// DatabaseBytes is the size of the mirror database file.
	DatabaseBytes int64

	TotalDuration time.Duration
	ErrorCount    int
	// Mismatches counts passes that wrote a different number of rows than
	// were changed.
	Mismatches int
	Success    bool
}

// LatencyMetrics captures pass latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration // Median
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	// Raw durations for analysis
	Durations []time.Duration
}

// ThroughputMetrics captures how fast records are reconciled.
type ThroughputMetrics struct {
	// RecordsPerSecond is records fetched and diffed per second of pass time.
	RecordsPerSecond float64
	TotalPasses      int
}

// ResourceMetrics captures memory usage.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64
	MemoryAfterBytes  uint64
	MemoryPeakBytes   uint64
	MemoryDeltaBytes  uint64
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       sorted[len(sorted)*50/100],
		Mean:      sum / time.Duration(len(sorted)),
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// GetMemoryStats returns current memory usage statistics.
func GetMemoryStats() ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceMetrics{
		MemoryBeforeBytes: m.Alloc,
		MemoryAfterBytes:  m.Alloc,
		MemoryPeakBytes:   m.Sys,
	}
}

// CompareMemoryStats computes the delta between before and after memory stats.
func CompareMemoryStats(before, after ResourceMetrics) ResourceMetrics {
	var delta uint64
	if after.MemoryAfterBytes > before.MemoryBeforeBytes {
		delta = after.MemoryAfterBytes - before.MemoryBeforeBytes
	}

	return ResourceMetrics{
		MemoryBeforeBytes: before.MemoryBeforeBytes,
		MemoryAfterBytes:  after.MemoryAfterBytes,
		MemoryPeakBytes:   after.MemoryPeakBytes,
		MemoryDeltaBytes:  delta,
	}
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// PrintResult writes a formatted benchmark result to w.
func PrintResult(w io.Writer, result *BenchmarkResult) {
	fmt.Fprintf(w, "\n=== Reconciliation Benchmark (%s backend) ===\n\n", result.Config.Backend)

	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Records:           %d\n", result.Config.Records)
	fmt.Fprintf(w, "  Creators:          %d\n", result.Config.Creators)
	fmt.Fprintf(w, "  Passes:            %d\n", result.Config.Passes)
	fmt.Fprintf(w, "  Churn per pass:    %.1f%%\n", result.Config.ChurnPct*100)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Pass latency:\n")
	fmt.Fprintf(w, "  First (full fill): %s\n", FormatDuration(result.FirstPass))
	fmt.Fprintf(w, "  Min:               %s\n", FormatDuration(result.Latency.Min))
	fmt.Fprintf(w, "  P50:               %s\n", FormatDuration(result.Latency.P50))
	fmt.Fprintf(w, "  Mean:              %s\n", FormatDuration(result.Latency.Mean))
	fmt.Fprintf(w, "  P95:               %s\n", FormatDuration(result.Latency.P95))
	fmt.Fprintf(w, "  P99:               %s\n", FormatDuration(result.Latency.P99))
	fmt.Fprintf(w, "  Max:               %s\n", FormatDuration(result.Latency.Max))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Throughput:\n")
	fmt.Fprintf(w, "  Records/sec:       %.0f\n", result.Throughput.RecordsPerSecond)
	fmt.Fprintf(w, "  Passes:            %d\n", result.Throughput.TotalPasses)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Resources:\n")
	fmt.Fprintf(w, "  Memory Delta:      %s\n", humanize.Bytes(result.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Memory Peak:       %s\n", humanize.Bytes(result.Resources.MemoryPeakBytes))
	fmt.Fprintf(w, "  Mirror database:   %s\n", humanize.Bytes(uint64(result.DatabaseBytes)))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Seeding:           %s\n", FormatDuration(result.SeedDuration))
	fmt.Fprintf(w, "  Total Duration:    %s\n", FormatDuration(result.TotalDuration))
	fmt.Fprintf(w, "  Mirror rows:       %s\n", humanize.Comma(int64(result.MirrorRows)))
	fmt.Fprintf(w, "  Rows changed:      %s\n", humanize.Comma(int64(result.Changed)))
	fmt.Fprintf(w, "  Errors:            %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Mismatched passes: %d\n", result.Mismatches)
	fmt.Fprintf(w, "  Success:           %v\n", result.Success)
	fmt.Fprintf(w, "\n")
}
