package memory

import (
	"time"

	"go.uber.org/zap"

	"hearth/pkg/telemetry"
)

// Option configures a PageStore at construction.
type Option func(*PageStore)

// WithCapacity bounds the cache at n pages. Values below one fall back to
// the default.
func WithCapacity(n int) Option {
	return func(s *PageStore) {
		if n >= 1 {
			s.capacity = n
		}
	}
}

// WithLockTimeout bounds every blocked lock acquisition by d; a wait that
// exceeds it aborts the waiting transaction. Non-positive values fall back
// to the default.
func WithLockTimeout(d time.Duration) Option {
	return func(s *PageStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithEvictionPolicy selects the victim-selection policy. The default is
// LRU.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(s *PageStore) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *PageStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches the telemetry instrument set. The store records
// through a nil-safe receiver, so omitting this option costs nothing.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *PageStore) {
		s.metrics = m
	}
}
