package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
)

func TestCoordinator_BeginRegistersActive(t *testing.T) {
	store := NewPageStore(newMemProvider())
	coord := NewTransactionCoordinator(store)

	tid := coord.Begin()
	assert.True(t, coord.Active(tid))
	assert.Contains(t, coord.ActiveTransactions(), tid)
}

func TestCoordinator_CommitPersistsAndReleases(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0x42)))

	require.NoError(t, coord.Commit(tid))

	assert.Equal(t, filled(0x42), provider.stored(pageA))
	assert.False(t, store.Holds(tid, pageA))
	assert.False(t, coord.Active(tid))

	// Commit leaves the page cached and clean; a fresh transaction reads
	// the committed content without touching the provider again.
	reads := provider.readCount()
	h2, err := store.Get(coord.Begin(), pageA, transaction.ReadOnly)
	require.NoError(t, err)
	data, err := h2.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0x42), data)
	assert.Equal(t, reads, provider.readCount())
}

func TestCoordinator_ReadOnlyCommitWritesNothing(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 1)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	require.NoError(t, coord.Commit(tid))
	assert.Zero(t, provider.writeCount())
	assert.False(t, store.Holds(tid, pageA))
}

func TestCoordinator_AbortRestoresBeforeImage(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xB0)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0xFF)))

	require.NoError(t, coord.Abort(tid))

	// The page stays cached, restored to its original bytes, and the
	// aborted transaction holds nothing.
	assert.False(t, store.Holds(tid, pageA))
	assert.False(t, coord.Active(tid))

	h2, err := store.Get(coord.Begin(), pageA, transaction.ReadOnly)
	require.NoError(t, err)
	data, err := h2.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0xB0), data)
	assert.Zero(t, provider.writeCount(), "aborted writes never reach the backing store")
}

func TestCoordinator_AbortUndoesFlushedWrites(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xB0)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0xFF)))

	// The flush persists uncommitted bytes and clears the dirty flag; the
	// before-image moves into the transaction's stash.
	require.NoError(t, store.FlushAll())
	require.Equal(t, filled(0xFF), provider.stored(pageA))

	require.NoError(t, coord.Abort(tid))

	assert.Equal(t, filled(0xB0), provider.stored(pageA), "abort undoes the flushed write on the backing store")

	h2, err := store.Get(coord.Begin(), pageA, transaction.ReadOnly)
	require.NoError(t, err)
	data, err := h2.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0xB0), data)
}

func TestCoordinator_AbortUsesFirstImageAfterFlushAndRedirty(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xB0)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)

	// Write v1, flush it, then write v2. The page's own before-image now
	// holds v1, but the rollback point is the original content.
	require.NoError(t, h.Write(filled(0x01)))
	require.NoError(t, store.FlushPage(pageA))
	require.NoError(t, h.Write(filled(0x02)))

	require.NoError(t, coord.Abort(tid))

	assert.Equal(t, filled(0xB0), provider.stored(pageA))
	h2, err := store.Get(coord.Begin(), pageA, transaction.ReadOnly)
	require.NoError(t, err)
	data, err := h2.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0xB0), data)
}

func TestCoordinator_AbortRestoresEvictedFlushedPage(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xB0)
	store := NewPageStore(provider, WithCapacity(1))
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0xFF)))

	// Flush makes the page clean and therefore evictable; faulting B then
	// pushes it out entirely. Only the stash can still undo the write.
	require.NoError(t, store.FlushPage(pageA))
	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.NoError(t, err)
	require.NotContains(t, store.CachedPages(), pageA)

	require.NoError(t, coord.Abort(tid))
	assert.Equal(t, filled(0xB0), provider.stored(pageA))
}

func TestCoordinator_TerminalTransitionsRefused(t *testing.T) {
	store := NewPageStore(newMemProvider())
	coord := NewTransactionCoordinator(store)

	committed := coord.Begin()
	require.NoError(t, coord.Commit(committed))

	err := coord.Commit(committed)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	err = coord.Abort(committed)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	aborted := coord.Begin()
	require.NoError(t, coord.Abort(aborted))

	err = coord.Commit(aborted)
	require.Error(t, err)
	assert.True(t, dberr.IsTransactionAborted(err))

	// Unknown transactions are refused too, distinguishably from nil.
	err = coord.Commit(transaction.NewTransactionID())
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	err = coord.Commit(nil)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestCoordinator_GetAfterTerminalRefused(t *testing.T) {
	store := NewPageStore(newMemProvider())
	coord := NewTransactionCoordinator(store)

	tid := coord.Begin()
	require.NoError(t, coord.Commit(tid))
	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	tid = coord.Begin()
	require.NoError(t, coord.Abort(tid))
	_, err = store.Get(tid, pageA, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.IsTransactionAborted(err))
}

func TestCoordinator_CommitFlushFailureKeepsTransactionAlive(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(1)))

	provider.failNextWrite(pageA, dberr.New(dberr.ErrCategorySystem, dberr.CodeIOFailure, "disk full"))

	err = coord.Commit(tid)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeIOFailure))

	// The transaction survived with its locks: the caller decides between
	// retrying and aborting.
	assert.True(t, coord.Active(tid))
	assert.True(t, store.HoldsExclusive(tid, pageA))

	provider.clearFailures()
	require.NoError(t, coord.Commit(tid))
	assert.Equal(t, filled(1), provider.stored(pageA))
	assert.False(t, coord.Active(tid))
}

func TestCoordinator_AbortWriteBackFailureStillAborts(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xB0)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0xFF)))
	require.NoError(t, store.FlushPage(pageA))

	provider.failNextWrite(pageA, dberr.New(dberr.ErrCategorySystem, dberr.CodeIOFailure, "disk full"))

	err = coord.Abort(tid)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeIOFailure))

	// The abort still completed: terminal status, locks gone.
	assert.False(t, coord.Active(tid))
	assert.False(t, store.Holds(tid, pageA))
}

func TestCoordinator_CompleteDispatches(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)

	tid := coord.Begin()
	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(1)))
	require.NoError(t, coord.Complete(tid, true))
	assert.Equal(t, filled(1), provider.stored(pageA))

	tid = coord.Begin()
	h, err = store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(2)))
	require.NoError(t, coord.Complete(tid, false))
	assert.Equal(t, filled(1), provider.stored(pageA))
}

func TestCoordinator_Snapshot(t *testing.T) {
	store := NewPageStore(newMemProvider())
	coord := NewTransactionCoordinator(store)

	t1 := coord.Begin()
	h, err := store.Get(t1, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(1)))

	t2 := coord.Begin()
	require.NoError(t, coord.Commit(t2))

	views := coord.Snapshot()
	require.Len(t, views, 2)

	assert.True(t, t1.Equals(views[0].TID))
	assert.Equal(t, transaction.StatusActive, views[0].Status)
	assert.Equal(t, 1, views[0].DirtyPages)
	assert.Equal(t, 1, views[0].HeldPages)

	assert.True(t, t2.Equals(views[1].TID))
	assert.Equal(t, transaction.StatusCommitted, views[1].Status)
	assert.Zero(t, views[1].DirtyPages)
}
