package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/primitives"
	"hearth/pkg/storage/page"
)

var (
	pageA = page.NewID(1, 0)
	pageB = page.NewID(1, 1)
	pageC = page.NewID(1, 2)
)

func TestGet_SynthesizesZeroPageOnFirstAccess(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	data, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0), data)
	assert.Equal(t, 1, store.CacheSize())
	assert.Zero(t, provider.writeCount(), "synthesis does not write the backing store")
}

func TestGet_ReadsSeededContent(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0xAB)
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	data, err := h.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, filled(0xAB), data)
}

func TestGet_CacheHitSkipsProvider(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 1)
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	_, err = store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.readCount())
}

func TestGet_NilTransaction(t *testing.T) {
	store := NewPageStore(newMemProvider())

	_, err := store.Get(nil, pageA, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestGet_SharedThenUpgradeSameTransaction(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	require.True(t, store.Holds(tid, pageA))
	require.False(t, store.HoldsExclusive(tid, pageA))

	// Sole shared holder: the exclusive request upgrades without waiting.
	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	assert.True(t, store.HoldsExclusive(tid, pageA))
	assert.Equal(t, transaction.ReadWrite, h.Perm())
}

func TestGet_EvictsLeastRecentlyUsed(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider, WithCapacity(2))
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.NoError(t, err)

	// Touch A so B becomes the LRU victim.
	_, err = store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	_, err = store.Get(tid, pageC, transaction.ReadOnly)
	require.NoError(t, err)

	assert.Equal(t, []page.ID{pageA, pageC}, store.CachedPages())
	assert.Equal(t, 2, store.CacheSize())
}

func TestGet_ResourceExhaustedWhenAllDirty(t *testing.T) {
	store := NewPageStore(newMemProvider(), WithCapacity(1))
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(7)))

	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.IsResourceExhausted(err))

	// The dirty page survived the failed fault.
	assert.Equal(t, []page.ID{pageA}, store.CachedPages())
}

func TestGet_ReadFailureSurfacesIOFailure(t *testing.T) {
	provider := newMemProvider()
	provider.failReads[pageA] = dberr.New(dberr.ErrCategorySystem, dberr.CodeIOFailure, "disk gone")
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeIOFailure))
}

func TestGet_MalformedProviderPage(t *testing.T) {
	provider := newMemProvider()
	provider.pages[pageA] = []byte{1, 2, 3} // short block
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeIOFailure))
}

func TestMarkDirty_RequiresExclusiveLock(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	err = store.MarkDirty(tid, pageA)
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestMarkDirty_TracksPageForCommit(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, store.MarkDirty(tid, pageA))

	require.NoError(t, store.FlushPages(tid))
	assert.Equal(t, 1, provider.writeCount())
}

func TestFlushPage_PersistsAndCleans(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(9)))

	require.NoError(t, store.FlushPage(pageA))
	assert.Equal(t, filled(9), provider.stored(pageA))

	// Flushing again is a no-op: the page is clean now.
	require.NoError(t, store.FlushPage(pageA))
	assert.Equal(t, 1, provider.writeCount())

	// The page stays resident after a flush.
	assert.Equal(t, []page.ID{pageA}, store.CachedPages())
}

func TestFlushPage_AbsentAndCleanAreNoOps(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	require.NoError(t, store.FlushPage(pageA), "absent page")

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	require.NoError(t, store.FlushPage(pageA), "clean page")

	assert.Zero(t, provider.writeCount())
}

func TestFlushAll_WritesEveryDirtyPage(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	for i, fill := range []byte{1, 2} {
		pid := page.NewID(1, primitives.PageNumber(i))
		h, err := store.Get(tid, pid, transaction.ReadWrite)
		require.NoError(t, err)
		require.NoError(t, h.Write(filled(fill)))
	}

	require.NoError(t, store.FlushAll())
	assert.Equal(t, 2, provider.writeCount())
	assert.Equal(t, filled(1), provider.stored(pageA))
	assert.Equal(t, filled(2), provider.stored(pageB))
}

func TestFlushPages_OnlyTouchesOwnPages(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	t1 := transaction.NewTransactionID()
	t2 := transaction.NewTransactionID()

	h1, err := store.Get(t1, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h1.Write(filled(1)))

	h2, err := store.Get(t2, pageB, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h2.Write(filled(2)))

	require.NoError(t, store.FlushPages(t1))
	assert.Equal(t, 1, provider.writeCount())
	assert.Equal(t, filled(1), provider.stored(pageA))
	assert.Nil(t, provider.stored(pageB))
}

func TestDiscard_DropsWithoutFlushing(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 5)
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	_, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, 1, store.CacheSize())

	store.Discard(pageA)
	assert.Zero(t, store.CacheSize())
	assert.Zero(t, provider.writeCount())

	// The next access refetches.
	_, err = store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.readCount())
}

func TestCapacityAndDefaults(t *testing.T) {
	store := NewPageStore(newMemProvider())
	assert.Equal(t, DefaultCapacity, store.Capacity())
	assert.Equal(t, DefaultLockTimeout, store.lockTimeout)

	store = NewPageStore(newMemProvider(), WithCapacity(3), WithLockTimeout(time.Second))
	assert.Equal(t, 3, store.Capacity())
	assert.Equal(t, time.Second, store.lockTimeout)

	// Invalid values fall back to the defaults.
	store = NewPageStore(newMemProvider(), WithCapacity(0), WithLockTimeout(-1))
	assert.Equal(t, DefaultCapacity, store.Capacity())
	assert.Equal(t, DefaultLockTimeout, store.lockTimeout)
}

func TestClose_FlushesAndClosesProvider(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(3)))

	require.NoError(t, store.Close())
	assert.Equal(t, filled(3), provider.stored(pageA))
	assert.True(t, provider.closed)
}

func TestCacheSnapshot_ReportsDirtyAndOwner(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(9)))
	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.NoError(t, err)

	views := store.CacheSnapshot()
	require.Len(t, views, 2)

	assert.Equal(t, pageA, views[0].Page)
	assert.True(t, views[0].Dirty)
	assert.Equal(t, tid, views[0].Owner)
	assert.False(t, views[0].LastAccess.IsZero())
	assert.Positive(t, views[0].Accesses)

	assert.Equal(t, pageB, views[1].Page)
	assert.False(t, views[1].Dirty)
	assert.Nil(t, views[1].Owner)
}
