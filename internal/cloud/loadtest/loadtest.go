// Package loadtest drives the coordinator with concurrent publishers.
//
// A run submits a random mix of publish, unpublish and is-published
// operations for a fixed set of items against an in-memory record store
// with simulated latency. It records per-operation latency and verifies
// that:
//   - no two operations on the same item ever overlapped
//   - no two store calls for the same record ever overlapped
//   - the number of running operations never exceeded MaxConcurrency
//   - every item's final remote presence matches its last successful
//     publish or unpublish
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/publish"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/memstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

const account = "_loadtest"

// errInjected is returned by store calls chosen to fail.
var errInjected = errors.New("injected store failure")

// Config controls a load test run.
type Config struct {
	// Items is the number of distinct todo items operated on.
	Items int

	// Workers is the number of concurrent submitters.
	Workers int

	// OpsPerWorker is the number of operations each worker submits.
	OpsPerWorker int

	// MaxConcurrency bounds the coordinator.
	MaxConcurrency int

	// Latency is added to every store call.
	Latency time.Duration

	// FailureRate is the fraction of store calls that fail (0 to 1).
	FailureRate float64

	// Seed makes the operation mix reproducible.
	Seed int64

	Logger *log.Logger
}

// DefaultConfig returns a small run suitable for a quick check.
func DefaultConfig() *Config {
	return &Config{
		Items:          20,
		Workers:        16,
		OpsPerWorker:   50,
		MaxConcurrency: 4,
		Latency:        time.Millisecond,
		Seed:           42,
	}
}

// LatencyStats captures submit-to-result latency for a set of operations.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a run.
type Report struct {
	Elapsed time.Duration

	// Overall covers every operation; ByOp splits it per operation kind.
	Overall *LatencyStats
	ByOp    map[coordinator.Op]*LatencyStats

	// Errors counts operations that failed, including injected failures.
	Errors int

	// MaxPerItem is the most operations seen running at once on one item.
	MaxPerItem int
	// MaxPerRecordCall is the most store calls seen at once for one record.
	MaxPerRecordCall int
	// MaxInFlight is the most operations seen running at once overall.
	MaxInFlight int
	// MaxConcurrency is the bound the run was configured with.
	MaxConcurrency int

	// Published is the number of items with a remote record at the end.
	Published int
	// Mismatched lists items whose final remote presence disagrees with
	// their last successful operation.
	Mismatched []string
}

// Verify returns an error describing the first violated guarantee.
func (r *Report) Verify() error {
	switch {
	case r.MaxPerItem > 1:
		return fmt.Errorf("operations overlapped on one item (max %d)", r.MaxPerItem)
	case r.MaxPerRecordCall > 1:
		return fmt.Errorf("store calls overlapped on one record (max %d)", r.MaxPerRecordCall)
	case r.MaxInFlight > r.MaxConcurrency:
		return fmt.Errorf("%d operations ran at once, limit is %d", r.MaxInFlight, r.MaxConcurrency)
	case len(r.Mismatched) > 0:
		return fmt.Errorf("%d items ended in the wrong state: %v", len(r.Mismatched), r.Mismatched)
	}
	return nil
}

// PrintStats writes a human-readable summary to w.
func (r *Report) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Load test: %d operations in %v (%d errors)\n", r.Overall.Count, r.Elapsed, r.Errors)
	printLatency(w, "all", r.Overall)
	ops := make([]string, 0, len(r.ByOp))
	for op := range r.ByOp {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)
	for _, op := range ops {
		printLatency(w, op, r.ByOp[coordinator.Op(op)])
	}
	fmt.Fprintf(w, "  Max in flight:        %d (limit %d)\n", r.MaxInFlight, r.MaxConcurrency)
	fmt.Fprintf(w, "  Max per item:         %d\n", r.MaxPerItem)
	fmt.Fprintf(w, "  Max per record call:  %d\n", r.MaxPerRecordCall)
	fmt.Fprintf(w, "  Published at end:     %d\n", r.Published)
}

func printLatency(w io.Writer, label string, s *LatencyStats) {
	fmt.Fprintf(w, "  %-13s n=%-6d min=%-10v p50=%-10v p95=%-10v p99=%-10v max=%v\n",
		label, s.Count, s.Min, s.P50, s.P95, s.P99, s.Max)
}

// Run performs a load test. It returns an error only if the run could not
// complete; guarantee violations are reported through Report.Verify.
func Run(ctx context.Context, config *Config) (*Report, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Items <= 0 || config.Workers <= 0 || config.OpsPerWorker <= 0 {
		return nil, fmt.Errorf("items, workers and ops per worker must be positive")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	server := memstore.NewServer()
	calls := newCallTracker(config, rand.New(rand.NewSource(config.Seed)))
	server.Intercept(calls.intercept)

	c := codec.New(account, logger)
	tracker := &trackingPublisher{
		next:     publish.NewMachine(server.Client(account), c, logger),
		running:  make(map[string]int),
		expected: make(map[string]bool),
	}
	coord := coordinator.NewWithConfig(tracker, nil, &coordinator.Config{
		MaxConcurrency: config.MaxConcurrency,
		Logger:         logger,
	})
	defer coord.Close()

	items := make([]*schema.TodoItem, config.Items)
	for i := range items {
		items[i] = schema.NewTodo(fmt.Sprintf("Load item %d", i), "")
	}

	var (
		mu        sync.Mutex
		samples   = make(map[coordinator.Op][]time.Duration)
		errCount  int
		allSample []time.Duration
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < config.Workers; w++ {
		rng := rand.New(rand.NewSource(config.Seed + int64(w) + 1))
		g.Go(func() error {
			for j := 0; j < config.OpsPerWorker; j++ {
				item := items[rng.Intn(len(items))]
				op := pickOp(rng)

				began := time.Now()
				err := submit(gctx, coord, op, item)
				elapsed := time.Since(began)

				if gctx.Err() != nil {
					return gctx.Err()
				}

				mu.Lock()
				samples[op] = append(samples[op], elapsed)
				allSample = append(allSample, elapsed)
				if err != nil {
					errCount++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load test interrupted: %w", err)
	}

	report := &Report{
		Elapsed:          time.Since(start),
		Overall:          computeLatencyStats(allSample),
		ByOp:             make(map[coordinator.Op]*LatencyStats, len(samples)),
		Errors:           errCount,
		MaxPerItem:       tracker.maxPerItem,
		MaxPerRecordCall: calls.maxPerRecord,
		MaxInFlight:      tracker.maxInFlight,
		MaxConcurrency:   config.MaxConcurrency,
		Published:        server.Len(),
	}
	for op, d := range samples {
		report.ByOp[op] = computeLatencyStats(d)
	}
	for _, item := range items {
		_, present := server.Get(item.ID)
		if present != tracker.expected[item.ID] {
			report.Mismatched = append(report.Mismatched, item.ID)
		}
	}

	logger.Printf("Load test finished: %d operations, %d errors in %v",
		report.Overall.Count, report.Errors, report.Elapsed)
	return report, nil
}

// pickOp returns publish half the time, unpublish 30% and a probe 20%.
func pickOp(rng *rand.Rand) coordinator.Op {
	switch n := rng.Intn(10); {
	case n < 5:
		return coordinator.OpPublish
	case n < 8:
		return coordinator.OpUnpublish
	default:
		return coordinator.OpIsPublished
	}
}

func submit(ctx context.Context, coord *coordinator.Coordinator, op coordinator.Op, item *schema.TodoItem) error {
	var err error
	switch op {
	case coordinator.OpPublish:
		_, err = coord.Publish(ctx, item).Wait(ctx)
	case coordinator.OpUnpublish:
		_, err = coord.Unpublish(ctx, item).Wait(ctx)
	default:
		_, err = coord.IsPublished(ctx, item).Wait(ctx)
	}
	return err
}

// trackingPublisher records overlap and the expected final state of every
// item. Operations on one item are serialized by the coordinator, so the
// order of completions per item is the order the store saw.
type trackingPublisher struct {
	next *publish.Machine

	mu          sync.Mutex
	running     map[string]int
	inFlight    int
	maxPerItem  int
	maxInFlight int
	expected    map[string]bool
}

func (p *trackingPublisher) begin(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[id]++
	p.inFlight++
	p.maxPerItem = max(p.maxPerItem, p.running[id])
	p.maxInFlight = max(p.maxInFlight, p.inFlight)
}

func (p *trackingPublisher) end(id string, present *bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[id]--
	p.inFlight--
	if present != nil {
		p.expected[id] = *present
	}
}

func (p *trackingPublisher) Publish(ctx context.Context, item *schema.TodoItem) (*schema.Record, error) {
	p.begin(item.ID)
	rec, err := p.next.Publish(ctx, item)
	p.end(item.ID, outcome(err, true))
	return rec, err
}

func (p *trackingPublisher) Unpublish(ctx context.Context, item *schema.TodoItem) (publish.Deleted, error) {
	p.begin(item.ID)
	d, err := p.next.Unpublish(ctx, item)
	p.end(item.ID, outcome(err, false))
	return d, err
}

func (p *trackingPublisher) IsPublished(ctx context.Context, item *schema.TodoItem) (bool, error) {
	p.begin(item.ID)
	ok, err := p.next.IsPublished(ctx, item)
	p.end(item.ID, nil)
	return ok, err
}

// outcome is the presence a finished mutation leaves behind. A failed
// mutation leaves the record as it was, since the injected failure fires
// before the store is touched.
func outcome(err error, present bool) *bool {
	if err != nil {
		return nil
	}
	return &present
}

// callTracker simulates latency and failures and records how many calls
// overlap per record.
type callTracker struct {
	latency     time.Duration
	failureRate float64

	mu           sync.Mutex
	rng          *rand.Rand
	running      map[string]int
	maxPerRecord int
}

func newCallTracker(config *Config, rng *rand.Rand) *callTracker {
	return &callTracker{
		latency:     config.Latency,
		failureRate: config.FailureRate,
		rng:         rng,
		running:     make(map[string]int),
	}
}

func (t *callTracker) intercept(ctx context.Context, call memstore.Call) error {
	if call.RecordID == "" {
		return nil
	}

	t.mu.Lock()
	t.running[call.RecordID]++
	t.maxPerRecord = max(t.maxPerRecord, t.running[call.RecordID])
	fail := t.failureRate > 0 && t.rng.Float64() < t.failureRate
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running[call.RecordID]--
		t.mu.Unlock()
	}()

	if t.latency > 0 {
		timer := time.NewTimer(t.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errInjected
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(durations),
	}
}
