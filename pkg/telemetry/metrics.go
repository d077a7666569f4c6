package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's instrument set. All record methods are safe
// to call on a nil receiver, so the page store can be wired without
// telemetry and every call site stays unconditional.
type Metrics struct {
	meter metric.Meter

	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter
	pageFlushes    metric.Int64Counter
	lockWaits      metric.Int64Counter
	lockTimeouts   metric.Int64Counter
	txnCommits     metric.Int64Counter
	txnAborts      metric.Int64Counter
	lockWaitTime   metric.Float64Histogram
}

// NewMetrics creates and registers the engine's instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.cacheHits, "hearth_cache_hits_total", "Page requests served from the cache."},
		{&m.cacheMisses, "hearth_cache_misses_total", "Page requests that had to read the backing store."},
		{&m.cacheEvictions, "hearth_cache_evictions_total", "Clean pages evicted to make room."},
		{&m.pageFlushes, "hearth_page_flushes_total", "Dirty pages written back to the backing store."},
		{&m.lockWaits, "hearth_lock_waits_total", "Lock requests that could not be granted immediately."},
		{&m.lockTimeouts, "hearth_lock_timeouts_total", "Lock waits that expired and aborted their transaction."},
		{&m.txnCommits, "hearth_txn_commits_total", "Transactions committed."},
		{&m.txnAborts, "hearth_txn_aborts_total", "Transactions rolled back."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	lockWaitTime, err := meter.Float64Histogram(
		"hearth_lock_wait_seconds",
		metric.WithDescription("Time spent blocked waiting for a page lock."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.lockWaitTime = lockWaitTime

	return m, nil
}

// RegisterResidentPages exposes the current cache occupancy as the
// hearth_cache_resident_pages observable gauge. The callback is invoked on
// every scrape and must be safe for concurrent use.
func (m *Metrics) RegisterResidentPages(count func() int64) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge(
		"hearth_cache_resident_pages",
		metric.WithDescription("Pages currently resident in the cache."),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(count())
			return nil
		}),
	)
	return err
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(context.Background(), 1)
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(context.Background(), 1)
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.cacheEvictions.Add(context.Background(), 1)
}

func (m *Metrics) PageFlush() {
	if m == nil {
		return
	}
	m.pageFlushes.Add(context.Background(), 1)
}

// LockWait records one blocked lock acquisition and how long it waited.
func (m *Metrics) LockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWaits.Add(context.Background(), 1)
	m.lockWaitTime.Record(context.Background(), d.Seconds())
}

func (m *Metrics) LockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Add(context.Background(), 1)
}

func (m *Metrics) TxnCommitted() {
	if m == nil {
		return
	}
	m.txnCommits.Add(context.Background(), 1)
}

func (m *Metrics) TxnAborted() {
	if m == nil {
		return
	}
	m.txnAborts.Add(context.Background(), 1)
}
