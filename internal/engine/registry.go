package engine

import (
	"hash/maphash"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coffersTech/iotrace/internal/model"
)

// RetentionPolicy decides what happens to the record whose footprint
// crosses the flush threshold.
type RetentionPolicy int

const (
	// RetainTrigger flushes the records buffered before the triggering one
	// and keeps the triggering record as the first entry of the fresh buffer.
	RetainTrigger RetentionPolicy = iota
	// FlushTrigger appends the triggering record, flushes everything and
	// leaves the buffer empty.
	FlushTrigger
)

// ParseRetentionPolicy maps "retain" and "flush" to a policy.
func ParseRetentionPolicy(s string) (RetentionPolicy, bool) {
	switch s {
	case "", "retain":
		return RetainTrigger, true
	case "flush":
		return FlushTrigger, true
	}
	return RetainTrigger, false
}

func (p RetentionPolicy) String() string {
	if p == FlushTrigger {
		return "flush"
	}
	return "retain"
}

const defaultShards = 32

// CountFootprint weighs every record as 1, turning the threshold into a
// record count.
func CountFootprint(model.Record) int64 { return 1 }

// ByteFootprint weighs a record by its serialized length.
func ByteFootprint(rec model.Record) int64 { return rec.Footprint() }

type shard struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// Registry maps thread keys to their Buffers. Keys are spread over shards so
// creating a buffer for one thread never blocks appends of another, and
// appends to an existing buffer only take that buffer's lock.
type Registry struct {
	processID string
	threshold int64
	flush     FlushFunc
	policy    RetentionPolicy
	footprint func(model.Record) int64
	logger    *zap.Logger
	stats     *Stats

	seed   maphash.Seed
	shards []shard
}

// Option configures a Registry.
type Option func(*Registry)

// WithRetention sets the retention policy for the triggering record.
func WithRetention(p RetentionPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithFootprint replaces the per-record size estimate.
func WithFootprint(fn func(model.Record) int64) Option {
	return func(r *Registry) { r.footprint = fn }
}

// WithLogger sets the logger flush failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithStats shares a Stats instance with the caller.
func WithStats(s *Stats) Option {
	return func(r *Registry) { r.stats = s }
}

// WithShards sets the number of map shards.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]shard, n)
		}
	}
}

// NewRegistry creates a registry that flushes a buffer through flush once its
// footprint reaches threshold.
func NewRegistry(processID string, threshold int64, flush FlushFunc, opts ...Option) *Registry {
	r := &Registry{
		processID: processID,
		threshold: threshold,
		flush:     flush,
		policy:    RetainTrigger,
		footprint: ByteFootprint,
		logger:    zap.NewNop(),
		seed:      maphash.MakeSeed(),
		shards:    make([]shard, defaultShards),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.stats == nil {
		r.stats = NewStats()
	}
	for i := range r.shards {
		r.shards[i].buffers = make(map[string]*Buffer)
	}
	return r
}

// Append adds rec to the buffer of threadKey, creating the buffer on first
// use, and flushes synchronously when the threshold is reached.
func (r *Registry) Append(threadKey string, rec model.Record) {
	b := r.buffer(threadKey)
	fp := r.footprint(rec)
	r.stats.appended(rec)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.policy {
	case FlushTrigger:
		b.push(rec, fp)
		if b.Size() >= r.threshold {
			r.flushBuffer(threadKey, b)
		}
	default:
		if len(b.records) > 0 && b.Size()+fp >= r.threshold {
			r.flushBuffer(threadKey, b)
		}
		b.push(rec, fp)
	}
}

// buffer returns the buffer of threadKey, inserting a new one if needed.
func (r *Registry) buffer(threadKey string) *Buffer {
	s := &r.shards[maphash.String(r.seed, threadKey)%uint64(len(r.shards))]

	s.mu.RLock()
	b, ok := s.buffers[threadKey]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[threadKey]; ok {
		return b
	}
	b = newBuffer()
	s.buffers[threadKey] = b
	r.stats.bufferCreated()
	return b
}

// Lookup returns the buffer registered under threadKey.
func (r *Registry) Lookup(threadKey string) (*Buffer, bool) {
	s := &r.shards[maphash.String(r.seed, threadKey)%uint64(len(r.shards))]
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[threadKey]
	return b, ok
}

// FlushAll flushes every non-empty buffer once and returns the number of
// records persisted; dropped batches are not counted. Records appended while
// it runs may or may not be part of this pass.
func (r *Registry) FlushAll() int {
	flushed := 0
	for _, key := range r.Keys() {
		b, ok := r.Lookup(key)
		if !ok {
			continue
		}
		b.mu.Lock()
		flushed += r.flushBuffer(key, b)
		b.mu.Unlock()
	}
	return flushed
}

// Keys returns every registered thread key, sorted.
func (r *Registry) Keys() []string {
	var keys []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for k := range s.buffers {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of buffers.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.buffers)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns the registry's counters.
func (r *Registry) Stats() *Stats {
	return r.stats
}
