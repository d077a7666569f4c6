package lock

import (
	"time"

	"hearth/pkg/concurrency/transaction"
)

type LockType int

const (
	SharedLock LockType = iota
	ExclusiveLock
)

func (lt LockType) String() string {
	switch lt {
	case SharedLock:
		return "SHARED"
	case ExclusiveLock:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// TypeFor maps a permission request onto the lock mode that protects it.
func TypeFor(perm transaction.Permissions) LockType {
	if perm.Exclusive() {
		return ExclusiveLock
	}
	return SharedLock
}

// Lock records one granted lock: the holder, the mode, and when it was granted.
type Lock struct {
	TID       *transaction.TransactionID
	LockType  LockType
	GrantTime time.Time
}

func NewLock(tid *transaction.TransactionID, lockType LockType) *Lock {
	return &Lock{
		TID:       tid,
		LockType:  lockType,
		GrantTime: time.Now(),
	}
}

// Waiter is one pending lock request parked in a page's wait queue.
// Ready is closed by the manager at the moment the lock is granted; the
// grant itself (lock-table insertion and queue removal) happens before the
// close, so a woken waiter already holds the lock.
type Waiter struct {
	TID      *transaction.TransactionID
	LockType LockType
	Ready    chan struct{}
}

func newWaiter(tid *transaction.TransactionID, lockType LockType) *Waiter {
	return &Waiter{
		TID:      tid,
		LockType: lockType,
		Ready:    make(chan struct{}),
	}
}
