package lock

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/pkg/concurrency/transaction"
	"hearth/pkg/storage/page"
)

var testPage = page.NewID(1, 0)

func TestTable_SharedLocksAreCompatible(t *testing.T) {
	table := NewTable()
	t1 := transaction.NewTransactionID()
	t2 := transaction.NewTransactionID()

	assert.True(t, table.TryAcquire(t1, testPage, SharedLock))
	assert.True(t, table.TryAcquire(t2, testPage, SharedLock))

	assert.True(t, table.Holds(t1, testPage))
	assert.True(t, table.Holds(t2, testPage))
	assert.Len(t, table.PageLocks(testPage), 2)
}

func TestTable_ExclusiveBlocksOthers(t *testing.T) {
	table := NewTable()
	holder := transaction.NewTransactionID()
	other := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(holder, testPage, ExclusiveLock))

	assert.False(t, table.TryAcquire(other, testPage, SharedLock))
	assert.False(t, table.TryAcquire(other, testPage, ExclusiveLock))
	assert.False(t, table.Holds(other, testPage))
}

func TestTable_SharedBlocksForeignExclusive(t *testing.T) {
	table := NewTable()
	reader := transaction.NewTransactionID()
	writer := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(reader, testPage, SharedLock))
	assert.False(t, table.TryAcquire(writer, testPage, ExclusiveLock))
}

func TestTable_UpgradeSoleSharedHolder(t *testing.T) {
	table := NewTable()
	tid := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(tid, testPage, SharedLock))
	require.True(t, table.TryAcquire(tid, testPage, ExclusiveLock), "sole shared holder must upgrade")

	assert.True(t, table.HoldsExclusive(tid, testPage))

	locks := table.PageLocks(testPage)
	require.Len(t, locks, 1, "upgrade converts the shared lock, it does not add a second record")
	assert.Equal(t, ExclusiveLock, locks[0].LockType)
}

func TestTable_UpgradeRefusedWithOtherReaders(t *testing.T) {
	table := NewTable()
	t1 := transaction.NewTransactionID()
	t2 := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(t1, testPage, SharedLock))
	require.True(t, table.TryAcquire(t2, testPage, SharedLock))

	assert.False(t, table.TryAcquire(t1, testPage, ExclusiveLock))
	assert.False(t, table.HoldsExclusive(t1, testPage))
	assert.True(t, table.Holds(t1, testPage), "failed upgrade must not drop the shared lock")
}

func TestTable_ReacquireIsIdempotent(t *testing.T) {
	table := NewTable()
	tid := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(tid, testPage, SharedLock))
	require.True(t, table.TryAcquire(tid, testPage, SharedLock))
	assert.Len(t, table.PageLocks(testPage), 1)

	require.True(t, table.TryAcquire(tid, testPage, ExclusiveLock))
	require.True(t, table.TryAcquire(tid, testPage, SharedLock), "exclusive covers a shared request")
	require.True(t, table.TryAcquire(tid, testPage, ExclusiveLock))
	assert.Len(t, table.PageLocks(testPage), 1)
}

func TestTable_ReleaseIsIdempotent(t *testing.T) {
	table := NewTable()
	tid := transaction.NewTransactionID()

	require.True(t, table.TryAcquire(tid, testPage, ExclusiveLock))
	table.Release(tid, testPage)

	assert.False(t, table.Holds(tid, testPage))
	assert.False(t, table.IsPageLocked(testPage))

	table.Release(tid, testPage) // releasing again must not panic or corrupt state
	assert.False(t, table.IsPageLocked(testPage))
}

func TestTable_ReleaseAllReturnsInventory(t *testing.T) {
	table := NewTable()
	tid := transaction.NewTransactionID()
	other := transaction.NewTransactionID()

	p0 := page.NewID(1, 0)
	p1 := page.NewID(1, 1)
	p2 := page.NewID(2, 0)

	require.True(t, table.TryAcquire(tid, p0, SharedLock))
	require.True(t, table.TryAcquire(tid, p1, ExclusiveLock))
	require.True(t, table.TryAcquire(other, p2, SharedLock))

	released := table.ReleaseAll(tid)
	assert.ElementsMatch(t, []page.ID{p0, p1}, released)
	assert.Empty(t, table.HeldPages(tid))
	assert.True(t, table.Holds(other, p2), "other transactions keep their locks")

	assert.Nil(t, table.ReleaseAll(tid), "second sweep has nothing to release")
}

func TestTable_HasSufficient(t *testing.T) {
	table := NewTable()
	tid := transaction.NewTransactionID()

	assert.False(t, table.HasSufficient(tid, testPage, SharedLock))

	require.True(t, table.TryAcquire(tid, testPage, SharedLock))
	assert.True(t, table.HasSufficient(tid, testPage, SharedLock))
	assert.False(t, table.HasSufficient(tid, testPage, ExclusiveLock))

	require.True(t, table.TryAcquire(tid, testPage, ExclusiveLock))
	assert.True(t, table.HasSufficient(tid, testPage, SharedLock))
	assert.True(t, table.HasSufficient(tid, testPage, ExclusiveLock))
}

// assertLockInvariant checks that at most one exclusive holder exists and
// that shared holders and the exclusive holder never coexist.
func assertLockInvariant(t *testing.T, table *Table, pid page.ID) {
	t.Helper()

	locks := table.PageLocks(pid)
	exclusives := 0
	shared := 0
	for _, l := range locks {
		if l.LockType == ExclusiveLock {
			exclusives++
		} else {
			shared++
		}
	}

	require.LessOrEqual(t, exclusives, 1, "two exclusive holders on one page")
	if exclusives == 1 {
		require.Zero(t, shared, "shared and exclusive holders coexist")
	}
}

func TestTable_InvariantHoldsUnderRandomizedOps(t *testing.T) {
	table := NewTable()
	rng := rand.New(rand.NewSource(0x5EED))
	pid := page.NewID(1, 7)

	txns := make([]*transaction.TransactionID, 8)
	for i := range txns {
		txns[i] = transaction.NewTransactionID()
	}

	for i := 0; i < 2000; i++ {
		tid := txns[rng.Intn(len(txns))]
		switch rng.Intn(4) {
		case 0:
			table.TryAcquire(tid, pid, SharedLock)
		case 1:
			table.TryAcquire(tid, pid, ExclusiveLock)
		case 2:
			table.Release(tid, pid)
		case 3:
			table.ReleaseAll(tid)
		}
		assertLockInvariant(t, table, pid)
	}
}
