package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"hearth/pkg/concurrency/lock"
	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/storage/page"
	"hearth/pkg/telemetry"
)

const (
	// DefaultCapacity is the default maximum number of cached pages.
	DefaultCapacity = 50

	// DefaultLockTimeout bounds a blocked lock acquisition before the
	// waiting transaction is aborted. The timeout is the engine's only
	// deadlock-breaking mechanism.
	DefaultLockTimeout = 2 * time.Second
)

// PageStore is the engine's buffer pool: a bounded in-memory cache of
// fixed-size pages backed by a page.Provider, with page-granularity
// two-phase locking and transaction rollback via in-memory before-images.
//
// One coarse monitor guards all bookkeeping: the cache, the lock table and
// wait queues, and the transaction registry mutate only under mu. Blocked
// lock waits happen outside the monitor on the waiter's channel, so one
// transaction's wait never stalls another's bookkeeping.
//
// Policies: no-steal (dirty pages are never evicted) and no-force (commit
// flushes only the committing transaction's pages; see
// TransactionCoordinator for the atomicity consequences).
type PageStore struct {
	mu sync.Mutex

	cache *pageCache
	locks *lock.Manager
	txns  map[*transaction.TransactionID]*txnState

	provider page.Provider
	policy   EvictionPolicy

	capacity    int
	lockTimeout time.Duration
	logger      *zap.Logger
	metrics     *telemetry.Metrics
}

// NewPageStore creates a page store over the given provider. The provider
// must be non-nil; everything else has defaults that the options override.
func NewPageStore(provider page.Provider, opts ...Option) *PageStore {
	s := &PageStore{
		locks:       lock.NewManager(),
		txns:        make(map[*transaction.TransactionID]*txnState),
		provider:    provider,
		policy:      NewLRUPolicy(),
		capacity:    DefaultCapacity,
		lockTimeout: DefaultLockTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newPageCache(s.capacity)
	return s
}

// Get returns a checked-out handle on the requested page, blocking until
// the page lock implied by perm is granted: a shared lock for ReadOnly, an
// exclusive lock for ReadWrite.
//
// The page is faulted into the cache first (evicting a clean page when the
// cache is full, or synthesizing a zero-filled page when the provider has
// never seen it), then the lock is arbitrated. A wait that outlives the
// store's lock timeout aborts the waiting transaction: the caller gets an
// error carrying CodeTransactionAborted and must treat the transaction as
// never executed. The holder being waited on is unaffected.
func (s *PageStore) Get(tid *transaction.TransactionID, pid page.ID, perm transaction.Permissions) (*Handle, error) {
	if tid == nil {
		return nil, dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "transaction id cannot be nil").
			WithOperation("Get").WithComponent("memory")
	}
	want := lock.TypeFor(perm)

	s.mu.Lock()
	st, err := s.ensureActive(tid, "Get")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	ent, err := s.ensureResident(pid)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if s.locks.TryAcquire(tid, pid, want) {
		h := newHandle(s, tid, pid, perm, ent.page)
		s.mu.Unlock()
		return h, nil
	}

	w, err := s.locks.Enqueue(tid, pid, want)
	if err != nil {
		s.mu.Unlock()
		return nil, dberr.Wrap(err, dberr.ErrCategoryUser, dberr.CodeInvalidState, "conflicting lock request").
			WithDetail("page %s", pid).WithOperation("Get").WithComponent("memory")
	}
	done := st.done
	s.mu.Unlock()

	s.logger.Debug("waiting for page lock",
		zap.String("txn", tid.String()),
		zap.String("page", pid.String()),
		zap.String("mode", want.String()))

	waitStart := time.Now()
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	defer func() { s.metrics.LockWait(time.Since(waitStart)) }()

	select {
	case <-w.Ready:
		return s.finishWait(tid, pid, perm)

	case <-done:
		s.mu.Lock()
		s.locks.Dequeue(tid, pid)
		terr := s.terminalError(st, "Get")
		s.mu.Unlock()
		return nil, terr

	case <-timer.C:
		return s.resolveTimeout(tid, pid, perm, want)
	}
}

// finishWait completes a Get whose waiter was granted. The lock is already
// held (grants insert into the lock table before closing Ready); what
// remains is re-checking that the transaction survived the wait and that
// the page is still resident.
func (s *PageStore) finishWait(tid *transaction.TransactionID, pid page.ID, perm transaction.Permissions) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.txns[tid]
	if st == nil || st.terminal() {
		// Aborted (or committed) by another goroutine after the grant; the
		// terminal transition already released the lock.
		return nil, s.terminalError(st, "Get")
	}

	ent, err := s.ensureResident(pid)
	if err != nil {
		return nil, err
	}
	return newHandle(s, tid, pid, perm, ent.page), nil
}

// resolveTimeout handles an expired lock wait. The grant may have raced
// the timer, in which case the Get succeeds after all; otherwise the
// waiting transaction is aborted and the timeout surfaces wrapped in
// CodeTransactionAborted, never raw.
func (s *PageStore) resolveTimeout(tid *transaction.TransactionID, pid page.ID, perm transaction.Permissions, want lock.LockType) (*Handle, error) {
	s.mu.Lock()

	st := s.txns[tid]
	if st == nil || st.terminal() {
		s.locks.Dequeue(tid, pid)
		terr := s.terminalError(st, "Get")
		s.mu.Unlock()
		return nil, terr
	}

	if s.locks.HasSufficient(tid, pid, want) {
		// Granted in the race window between the timer firing and this
		// re-entry; proceed as a successful wait.
		s.locks.Dequeue(tid, pid)
		ent, err := s.ensureResident(pid)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		h := newHandle(s, tid, pid, perm, ent.page)
		s.mu.Unlock()
		return h, nil
	}

	s.locks.Dequeue(tid, pid)
	s.metrics.LockTimeout()
	restoreErr := s.abortLocked(st, "lock wait timed out")
	s.mu.Unlock()

	if restoreErr != nil {
		s.logger.Error("rollback write-back failed during timeout abort",
			zap.String("txn", tid.String()), zap.Error(restoreErr))
	}

	timeout := dberr.New(dberr.ErrCategoryConcurrency, dberr.CodeLockTimeout, "lock wait timed out").
		WithDetail("waited %s for a %s lock on page %s", s.lockTimeout, want, pid)
	return nil, dberr.Wrap(timeout, dberr.ErrCategoryConcurrency, dberr.CodeTransactionAborted,
		"transaction aborted: page lock wait timed out").
		WithHint("the transaction has been rolled back; retry it from the start").
		WithOperation("Get").WithComponent("memory")
}

// ensureActive returns tid's state, registering the transaction on first
// contact. Terminal transactions are refused.
func (s *PageStore) ensureActive(tid *transaction.TransactionID, op string) (*txnState, error) {
	st, ok := s.txns[tid]
	if !ok {
		st = newTxnState(tid)
		s.txns[tid] = st
		s.logger.Debug("transaction registered", zap.String("txn", tid.String()))
		return st, nil
	}
	if st.terminal() {
		return nil, s.terminalError(st, op)
	}
	return st, nil
}

// terminalError describes why a transaction can no longer be used. A nil
// state means the transaction was never registered.
func (s *PageStore) terminalError(st *txnState, op string) error {
	if st == nil {
		return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "unknown transaction").
			WithOperation(op).WithComponent("memory")
	}
	if st.status == transaction.StatusAborted {
		return dberr.New(dberr.ErrCategoryConcurrency, dberr.CodeTransactionAborted, "transaction has been aborted").
			WithDetail("transaction %s", st.tid).
			WithHint("the transaction has been rolled back; retry it from the start").
			WithOperation(op).WithComponent("memory")
	}
	return dberr.New(dberr.ErrCategoryUser, dberr.CodeInvalidState, "transaction already committed").
		WithDetail("transaction %s", st.tid).
		WithOperation(op).WithComponent("memory")
}

// ensureResident faults pid into the cache and returns its entry, touching
// the access bookkeeping on a hit. Called under the monitor.
func (s *PageStore) ensureResident(pid page.ID) (*cacheEntry, error) {
	if ent, ok := s.cache.get(pid); ok {
		ent.touch()
		s.metrics.CacheHit()
		return ent, nil
	}
	s.metrics.CacheMiss()

	if s.cache.full() {
		if err := s.evictLocked(); err != nil {
			return nil, err
		}
	}

	var pg *page.Page
	data, err := s.provider.ReadPage(pid)
	switch {
	case err == nil:
		pg, err = page.NewPage(pid, data)
		if err != nil {
			return nil, dberr.Wrap(err, dberr.ErrCategorySystem, dberr.CodeIOFailure, "backing store returned a malformed page").
				WithDetail("page %s", pid).WithComponent("memory")
		}
	case dberr.IsNotFound(err):
		// First access to a page the backing store has never seen: start
		// from a zero-filled block. The provider error never surfaces.
		pg = page.NewZeroPage(pid)
		s.logger.Debug("synthesized zero page", zap.String("page", pid.String()))
	default:
		return nil, err
	}

	return s.cache.put(pid, pg), nil
}

// evictLocked drops one clean page chosen by the eviction policy. Dirty
// pages are never candidates (no-steal); lock state is deliberately
// ignored — an evicted-but-locked page is refetched on demand, and
// checked-out handles re-anchor their page on write.
func (s *PageStore) evictLocked() error {
	candidates := s.cache.evictionCandidates()
	if len(candidates) == 0 {
		return dberr.New(dberr.ErrCategoryTransient, dberr.CodeResourceExhausted, "cache full: every resident page is dirty").
			WithDetail("capacity %d", s.capacity).
			WithHint("commit or abort a writing transaction, or enlarge the cache").
			WithComponent("memory")
	}

	victim := s.policy.Victim(candidates)
	s.cache.remove(victim.pid)
	s.metrics.Eviction()
	s.logger.Debug("evicted page",
		zap.String("page", victim.pid.String()),
		zap.String("policy", s.policy.Name()))
	return nil
}

// Close flushes every dirty page and closes the provider. Active
// transactions are not finalized; shutting down mid-transaction persists
// whatever FlushAll persists.
func (s *PageStore) Close() error {
	if err := s.FlushAll(); err != nil {
		return err
	}
	return s.provider.Close()
}
