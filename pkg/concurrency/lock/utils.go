package lock

// updateOrDelete stores the slice under key, or drops the key entirely
// when the slice is empty. The lock table and wait queue both rely on
// "no entry" and "empty entry" meaning the same thing.
func updateOrDelete[K comparable, V any](m map[K][]V, key K, newSlice []V) {
	if len(newSlice) > 0 {
		m[key] = newSlice
	} else {
		delete(m, key)
	}
}
