// Package bench drives a configurable concurrent workload against a page
// store and reports throughput, abort rate, and acquisition latency.
//
// The workload is a mix of read-only and read-write transactions, each
// touching one page chosen uniformly from a bounded working set. Lock
// contention, timeouts, and eviction pressure all come from the store
// itself; the driver only measures what happens.
package bench

import (
	"math/rand"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/memory"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/page"
)

// Workload defaults; any zero field of Config falls back to these.
const (
	DefaultReaders  = 4
	DefaultWriters  = 2
	DefaultPages    = 64
	DefaultDuration = 5 * time.Second
)

// maxErrorSamples bounds how many distinct failure messages a Result keeps.
const maxErrorSamples = 5

// Config shapes the workload.
type Config struct {
	Readers  int                // concurrent read-only transactions
	Writers  int                // concurrent read-write transactions
	Pages    int                // size of the working set, pages 0..Pages-1
	Duration time.Duration      // how long the workload runs
	Table    primitives.TableID // table the working set belongs to
}

func (c Config) withDefaults() Config {
	if c.Readers == 0 && c.Writers == 0 {
		c.Readers, c.Writers = DefaultReaders, DefaultWriters
	}
	if c.Pages <= 0 {
		c.Pages = DefaultPages
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	return c
}

// Result captures one workload run. Counts partition completed
// transactions: every started transaction ends as a commit, an abort, or
// an error.
type Result struct {
	Config  Config
	Elapsed time.Duration

	Commits int
	Aborts  int
	Errors  int

	Throughput float64 // committed transactions per second
	AbortRate  float64 // aborted fraction of all finished transactions

	GetCount int           // page acquisitions measured
	GetAvg   time.Duration // mean acquisition latency
	GetP50   time.Duration
	GetP99   time.Duration
	GetMax   time.Duration

	ErrorSamples []string
}

// Run executes the workload against a fresh store over the given provider
// and blocks until the configured duration elapses.
//
// Aborts are an expected outcome under contention (lock timeouts roll the
// waiter back), so they are counted rather than returned. Failures that are
// not aborts are counted as errors and sampled.
//
// Parameters:
//   - provider: Backing store the working set lives in
//   - cfg: Workload shape; zero fields use the package defaults
//   - opts: Store options, e.g. memory.WithCapacity or memory.WithLockTimeout
//
// Returns:
//   - *Result: Statistics for the completed run
//   - error: If the configuration is unusable
func Run(provider page.Provider, cfg Config, opts ...memory.Option) (*Result, error) {
	cfg = cfg.withDefaults()
	if cfg.Readers < 0 || cfg.Writers < 0 {
		return nil, dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "worker counts cannot be negative").
			WithDetail("readers %d, writers %d", cfg.Readers, cfg.Writers).
			WithOperation("Run").WithComponent("bench")
	}

	store := memory.NewPageStore(provider, opts...)
	coord := memory.NewTransactionCoordinator(store)

	var (
		mu        sync.Mutex
		latencies []time.Duration
		commits   int
		aborts    int
		errCount  int
		samples   []string
	)

	recordFailure := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if dberr.IsTransactionAborted(err) {
			aborts++
			return
		}
		errCount++
		if len(samples) < maxErrorSamples {
			samples = append(samples, err.Error())
		}
	}

	start := time.Now()
	deadline := start.Add(cfg.Duration)

	worker := func(seed int64, perm transaction.Permissions) func() error {
		return func() error {
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(deadline) {
				tid := coord.Begin()
				pid := page.NewID(cfg.Table, primitives.PageNumber(rng.Intn(cfg.Pages)))

				getStart := time.Now()
				h, err := store.Get(tid, pid, perm)
				latency := time.Since(getStart)

				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()

				if err != nil {
					// A timeout has already rolled the transaction back;
					// anything else still holds locks and must be released.
					if !dberr.IsTransactionAborted(err) {
						_ = coord.Abort(tid)
					}
					recordFailure(err)
					continue
				}

				if perm.Exclusive() {
					err = h.WriteAt(rng.Intn(page.PageSize), []byte{byte(rng.Intn(256))})
				} else {
					_, err = h.Bytes()
				}
				if err == nil {
					err = coord.Commit(tid)
				}
				if err != nil {
					_ = coord.Abort(tid)
					recordFailure(err)
					continue
				}

				mu.Lock()
				commits++
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	for i := 0; i < cfg.Readers; i++ {
		g.Go(worker(int64(i+1), transaction.ReadOnly))
	}
	for i := 0; i < cfg.Writers; i++ {
		g.Go(worker(int64(1000+i), transaction.ReadWrite))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	return assemble(cfg, elapsed, latencies, commits, aborts, errCount, samples), nil
}

func assemble(cfg Config, elapsed time.Duration, latencies []time.Duration, commits, aborts, errCount int, samples []string) *Result {
	r := &Result{
		Config:       cfg,
		Elapsed:      elapsed,
		Commits:      commits,
		Aborts:       aborts,
		Errors:       errCount,
		GetCount:     len(latencies),
		ErrorSamples: samples,
	}

	finished := commits + aborts + errCount
	if finished > 0 {
		r.AbortRate = float64(aborts) / float64(finished)
	}
	if elapsed > 0 {
		r.Throughput = float64(commits) / elapsed.Seconds()
	}

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, d := range latencies {
			sum += d
		}
		r.GetAvg = sum / time.Duration(len(latencies))
		r.GetP50 = percentile(latencies, 0.50)
		r.GetP99 = percentile(latencies, 0.99)
		r.GetMax = latencies[len(latencies)-1]
	}
	return r
}

// percentile reads the q-quantile from an ascending-sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
