package engine

import (
	"sync"
	"sync/atomic"

	"github.com/coffersTech/iotrace/internal/model"
)

// Buffer holds the pending records of one thread in emission order.
// Records are mutated only under mu; size is also readable without it.
type Buffer struct {
	mu      sync.Mutex
	records []model.Record

	// Estimated footprint of the pending records
	size int64
}

func newBuffer() *Buffer {
	return &Buffer{
		records: make([]model.Record, 0, 64),
	}
}

// push appends a record. Caller holds mu.
func (b *Buffer) push(rec model.Record, footprint int64) {
	b.records = append(b.records, rec)
	atomic.AddInt64(&b.size, footprint)
}

// reset drops every pending record while keeping capacity. Caller holds mu.
func (b *Buffer) reset() {
	clear(b.records)
	b.records = b.records[:0]
	atomic.StoreInt64(&b.size, 0)
}

// Size returns the cumulative footprint of the pending records.
func (b *Buffer) Size() int64 {
	return atomic.LoadInt64(&b.size)
}

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Records returns a copy of the pending records.
func (b *Buffer) Records() []model.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Record, len(b.records))
	copy(out, b.records)
	return out
}
