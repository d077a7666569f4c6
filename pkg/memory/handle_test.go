package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/dberr"
	"hearth/pkg/storage/page"
)

func TestHandle_Accessors(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)

	assert.Equal(t, pageA, h.ID())
	assert.True(t, tid.Equals(h.TID()))
	assert.Equal(t, transaction.ReadWrite, h.Perm())
}

func TestHandle_WriteMarksDirtyAndCapturesBeforeImage(t *testing.T) {
	provider := newMemProvider()
	provider.seed(pageA, 0x11)
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(filled(0x22)))

	data, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0x22), data)

	// The before-image was captured before the write landed.
	require.NoError(t, coord.Abort(tid))
	h2, err := store.Get(coord.Begin(), pageA, transaction.ReadOnly)
	require.NoError(t, err)
	restored, err := h2.Bytes()
	require.NoError(t, err)
	assert.Equal(t, filled(0x11), restored)
}

func TestHandle_WriteAtPatchesRange(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider)
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.WriteAt(100, []byte{1, 2, 3}))

	data, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[99])
	assert.Equal(t, []byte{1, 2, 3}, data[100:103])
	assert.Equal(t, byte(0), data[103])

	require.NoError(t, coord.Commit(tid))
	assert.Equal(t, []byte{1, 2, 3}, provider.stored(pageA)[100:103])
}

func TestHandle_WriteRejectsWrongSize(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)

	err = h.Write([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestHandle_WriteAtRejectsOutOfBounds(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)

	assert.Error(t, h.WriteAt(-1, []byte{1}))
	assert.Error(t, h.WriteAt(page.PageSize-1, []byte{1, 2}))
	assert.NoError(t, h.WriteAt(page.PageSize-1, []byte{1}))
}

func TestHandle_ReadOnlyRefusesWrites(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadOnly)
	require.NoError(t, err)

	err = h.Write(filled(1))
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	err = h.WriteAt(0, []byte{1})
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestHandle_ReleaseEndsAccess(t *testing.T) {
	store := NewPageStore(newMemProvider())
	tid := transaction.NewTransactionID()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)

	h.Release()
	h.Release() // idempotent

	_, err = h.Bytes()
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
	_, err = h.Snapshot()
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
	assert.Error(t, h.Write(filled(1)))

	// Release ends the checkout, not the lock: strict two-phase locking
	// keeps the page held until the transaction finishes.
	assert.True(t, store.HoldsExclusive(tid, pageA))
}

func TestHandle_WriteAfterTransactionEndFails(t *testing.T) {
	store := NewPageStore(newMemProvider())
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	h, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, coord.Commit(tid))

	err = h.Write(filled(1))
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))
}

func TestHandle_WriteReanchorsEvictedPage(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider, WithCapacity(1))
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	// Check out A, then fault B: A is clean, so it gets evicted out from
	// under its handle.
	hA, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, []page.ID{pageB}, store.CachedPages())

	// Writing through the stale handle re-anchors the page in the cache
	// (evicting B in turn) so the write is visible to the commit flush.
	require.NoError(t, hA.Write(filled(0x5A)))
	require.Equal(t, []page.ID{pageA}, store.CachedPages())

	require.NoError(t, coord.Commit(tid))
	assert.Equal(t, filled(0x5A), provider.stored(pageA))
}

func TestHandle_StaleWriteRefusedAfterNewerCheckoutDirties(t *testing.T) {
	provider := newMemProvider()
	store := NewPageStore(provider, WithCapacity(1))
	coord := NewTransactionCoordinator(store)
	tid := coord.Begin()

	// Check out A, let it get evicted clean, then check it out again:
	// the second handle anchors a fresh page object.
	hA, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	_, err = store.Get(tid, pageB, transaction.ReadOnly)
	require.NoError(t, err)
	hA2, err := store.Get(tid, pageA, transaction.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, hA2.Write(filled(0x66)))

	// The first handle now points at a superseded copy; anchoring it
	// would throw away the second handle's bytes.
	err = hA.Write(filled(0x77))
	require.Error(t, err)
	assert.True(t, dberr.HasCode(err, dberr.CodeInvalidState))

	require.NoError(t, coord.Commit(tid))
	assert.Equal(t, filled(0x66), provider.stored(pageA))
}
