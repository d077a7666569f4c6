package transaction

// Permissions represents the access level a transaction requests on a page.
// ReadOnly maps to a shared lock, ReadWrite to an exclusive lock.
type Permissions int

const (
	ReadOnly Permissions = iota
	ReadWrite
)

// Exclusive reports whether this permission level requires an exclusive lock.
func (p Permissions) Exclusive() bool {
	return p == ReadWrite
}

func (p Permissions) String() string {
	switch p {
	case ReadOnly:
		return "READ_ONLY"
	case ReadWrite:
		return "READ_WRITE"
	default:
		return "UNKNOWN"
	}
}
