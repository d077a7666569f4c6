package transaction

// Status represents the lifecycle state of a transaction.
//
// The only transitions are Active -> Committed and Active -> Aborted; both
// end states are terminal. An abort may be explicit or triggered
// automatically by a lock-wait timeout.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
