package transaction

import (
	"fmt"
	"sync/atomic"
)

var transactionCounter int64

// TransactionID uniquely identifies a transaction within the process.
// Identity is pointer identity: two *TransactionID values compare equal only
// if they came from the same NewTransactionID call, which makes accidental
// forgery impossible and map keys cheap.
type TransactionID struct {
	id int64
}

func NewTransactionID() *TransactionID {
	return &TransactionID{
		id: atomic.AddInt64(&transactionCounter, 1),
	}
}

func (tid *TransactionID) ID() int64 {
	return tid.id
}

func (tid *TransactionID) String() string {
	return fmt.Sprintf("TID-%d", tid.id)
}

func (tid *TransactionID) Equals(other *TransactionID) bool {
	if tid == nil || other == nil {
		return tid == other
	}
	return tid.id == other.id
}
