package benchmark

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/publish"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/dirstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/memstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
)

const reader = "_bench_reader"

// storeFactory returns a store bound to account.
type storeFactory func(account string) (remote.Store, error)

func newStoreFactory(backend, dir string, logger *log.Logger) storeFactory {
	if backend == BackendDir {
		root := filepath.Join(dir, "shared")
		return func(account string) (remote.Store, error) {
			return dirstore.New(root, account, logger)
		}
	}
	server := memstore.NewServer()
	return func(account string) (remote.Store, error) {
		return server.Client(account), nil
	}
}

// author publishes the records of one creator.
type author struct {
	machine *publish.Machine
	items   []*schema.TodoItem
}

// Run performs one benchmark run. Progress is logged to logger, which may
// be nil to discard it.
func Run(ctx context.Context, config BenchmarkConfig, logger *log.Logger) (*BenchmarkResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	dir := config.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "cloudtodo-bench-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	dbPath := filepath.Join(dir, "mirror-"+config.Backend+".db")
	mirror, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer mirror.Close()
	if err := mirror.InitSchemaContext(ctx); err != nil {
		return nil, err
	}

	quiet := log.New(io.Discard, "", 0)
	stores := newStoreFactory(config.Backend, dir, quiet)

	result := &BenchmarkResult{Config: config}
	memBefore := GetMemoryStats()
	start := time.Now()

	authors, err := seed(ctx, config, stores, quiet)
	if err != nil {
		return nil, err
	}
	result.SeedDuration = time.Since(start)
	logger.Printf("Seeded %d records from %d creators in %v", config.Records, config.Creators, result.SeedDuration)

	readerStore, err := stores(reader)
	if err != nil {
		return nil, err
	}
	engine := reconcile.New(readerStore, mirror, codec.New(reader, quiet), nil, quiet)

	passStart := time.Now()
	first, err := engine.Reconcile(ctx, remote.AllRecords())
	if err != nil {
		return nil, fmt.Errorf("initial pass failed: %w", err)
	}
	result.FirstPass = time.Since(passStart)
	if first.Inserted != config.Records {
		result.Mismatches++
		logger.Printf("WARNING: initial pass inserted %d rows, want %d", first.Inserted, config.Records)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	churn := int(float64(config.Records) * config.ChurnPct)
	durations := make([]time.Duration, 0, config.Passes)

	for pass := 0; pass < config.Passes; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := mutate(ctx, authors, churn, rng)
		if err != nil {
			result.ErrorCount++
			logger.Printf("WARNING: pass %d: %v", pass, err)
		}

		passStart := time.Now()
		r, err := engine.Reconcile(ctx, remote.AllRecords())
		elapsed := time.Since(passStart)
		if err != nil {
			result.ErrorCount++
			logger.Printf("WARNING: pass %d failed: %v", pass, err)
			continue
		}
		durations = append(durations, elapsed)
		result.Changed += r.Changed()
		if r.Changed() != changed {
			result.Mismatches++
			logger.Printf("WARNING: pass %d wrote %d rows, %d records changed", pass, r.Changed(), changed)
		}
	}

	result.TotalDuration = time.Since(start)
	result.Latency = ComputeStats(durations)
	result.Resources = CompareMemoryStats(memBefore, GetMemoryStats())

	var passTime time.Duration
	for _, d := range durations {
		passTime += d
	}
	result.Throughput.TotalPasses = len(durations)
	if passTime > 0 {
		result.Throughput.RecordsPerSecond = float64(config.Records*len(durations)) / passTime.Seconds()
	}

	result.MirrorRows, err = mirror.CountMirror(ctx)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(dbPath); err == nil {
		result.DatabaseBytes = info.Size()
	}

	result.Success = result.ErrorCount == 0 && result.Mismatches == 0 && result.MirrorRows == config.Records
	return result, nil
}

// seed publishes config.Records items spread round-robin over the creators.
func seed(ctx context.Context, config BenchmarkConfig, stores storeFactory, logger *log.Logger) ([]*author, error) {
	authors := make([]*author, config.Creators)
	for i := range authors {
		account := fmt.Sprintf("_bench_creator_%02d", i)
		store, err := stores(account)
		if err != nil {
			return nil, err
		}
		authors[i] = &author{machine: publish.NewMachine(store, codec.New(account, logger), logger)}
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < config.Records; i++ {
		a := authors[i%len(authors)]
		item := schema.NewTodo(fmt.Sprintf("Benchmark task %d", i), "")
		item.CreateDate = base.Add(time.Duration(i) * time.Millisecond)
		if _, err := a.machine.Publish(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to publish record %d: %w", i, err)
		}
		a.items = append(a.items, item)
	}
	return authors, nil
}

// mutate republishes n distinct items with their done flag toggled and
// returns how many were changed.
func mutate(ctx context.Context, authors []*author, n int, rng *rand.Rand) (int, error) {
	var all []*author
	var idx []int
	for _, a := range authors {
		for i := range a.items {
			all = append(all, a)
			idx = append(idx, i)
		}
	}

	changed := 0
	for _, k := range rng.Perm(len(all))[:min(n, len(all))] {
		a, item := all[k], all[k].items[idx[k]]
		item.Done = !item.Done
		item.UpdatedAt = time.Now().UTC()
		if _, err := a.machine.Publish(ctx, item); err != nil {
			item.Done = !item.Done
			return changed, fmt.Errorf("failed to republish %s: %w", item.ID, err)
		}
		changed++
	}
	return changed, nil
}
