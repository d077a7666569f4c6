package memory

import (
	"slices"
)

// EvictionPolicy picks the page to drop when the cache is full. Policies
// only order candidates; the store decides who is a candidate in the first
// place (dirty pages never are, so no-steal cannot be violated by a policy
// bug).
//
// Victim receives at least one candidate and returns the entry to evict.
// Policies are called under the store's monitor and must not retain the
// entries they are given.
type EvictionPolicy interface {
	Name() string
	Victim(candidates []*cacheEntry) *cacheEntry
}

// LRUPolicy evicts the page whose last access is oldest. This is the
// default policy.
type LRUPolicy struct{}

func NewLRUPolicy() *LRUPolicy { return &LRUPolicy{} }

func (*LRUPolicy) Name() string { return "lru" }

func (*LRUPolicy) Victim(candidates []*cacheEntry) *cacheEntry {
	victim := candidates[0]
	for _, e := range candidates[1:] {
		if e.lastAccess.Before(victim.lastAccess) {
			victim = e
		}
	}
	return victim
}

// ClockPolicy approximates LRU with a second-chance sweep: entries keep a
// stable ring position (their insertion sequence), and the hand sweeps
// forward clearing reference bits until it finds an entry whose bit is
// already clear. Recently touched pages get one extra revolution.
type ClockPolicy struct {
	hand uint64
}

func NewClockPolicy() *ClockPolicy { return &ClockPolicy{} }

func (*ClockPolicy) Name() string { return "clock" }

func (p *ClockPolicy) Victim(candidates []*cacheEntry) *cacheEntry {
	ring := slices.Clone(candidates)
	slices.SortFunc(ring, func(a, b *cacheEntry) int {
		if a.seq < b.seq {
			return -1
		}
		return 1
	})

	// Resume from the hand's position in the ring.
	start := 0
	for i, e := range ring {
		if e.seq >= p.hand {
			start = i
			break
		}
	}

	// Two revolutions suffice: the first clears every set bit in the worst
	// case, the second must then find a clear one.
	n := len(ring)
	for i := 0; i < 2*n; i++ {
		e := ring[(start+i)%n]
		if e.referenced {
			e.referenced = false
			continue
		}
		p.hand = e.seq + 1
		return e
	}
	return ring[start]
}

// LFUPolicy evicts the page with the fewest recorded accesses, breaking
// ties by the older last access. Useful when a small hot set should outlive
// long sequential scans.
type LFUPolicy struct{}

func NewLFUPolicy() *LFUPolicy { return &LFUPolicy{} }

func (*LFUPolicy) Name() string { return "lfu" }

func (*LFUPolicy) Victim(candidates []*cacheEntry) *cacheEntry {
	victim := candidates[0]
	for _, e := range candidates[1:] {
		if e.accesses < victim.accesses ||
			(e.accesses == victim.accesses && e.lastAccess.Before(victim.lastAccess)) {
			victim = e
		}
	}
	return victim
}
