package dberr

// Error codes used across the storage engine. Codes are stable identifiers;
// messages and details vary per instance.
const (
	// CodeResourceExhausted: the page cache is full and every resident page
	// is dirty, so nothing can be evicted. Transient; retry after other
	// transactions commit or enlarge the pool.
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"

	// CodeLockTimeout: a lock wait exceeded its deadline. Internal signal
	// only; it is always wrapped by CodeTransactionAborted before it
	// reaches a caller.
	CodeLockTimeout = "LOCK_TIMEOUT"

	// CodeTransactionAborted: the transaction has been rolled back. The
	// caller must treat it as having never executed.
	CodeTransactionAborted = "TXN_ABORTED"

	// CodeNotFound: a page is absent from the backing store. Internal
	// signal only; the page store recovers by synthesizing a zero page.
	CodeNotFound = "PAGE_NOT_FOUND"

	// CodeIOFailure: a read or flush against the backing store failed.
	// Must be retried or escalated by the caller, never discarded.
	CodeIOFailure = "IO_FAILURE"

	// CodeChecksumMismatch: page content disagrees with its recorded digest.
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"

	// CodeInvalidState: an operation was issued against a completed or
	// unknown transaction, a released handle, or with invalid arguments.
	CodeInvalidState = "INVALID_STATE"
)

// IsTransactionAborted reports whether err carries CodeTransactionAborted
// anywhere in its chain.
func IsTransactionAborted(err error) bool {
	return HasCode(err, CodeTransactionAborted)
}

// IsNotFound reports whether err carries CodeNotFound anywhere in its chain.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsResourceExhausted reports whether err carries CodeResourceExhausted
// anywhere in its chain.
func IsResourceExhausted(err error) bool {
	return HasCode(err, CodeResourceExhausted)
}
