package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/coffersTech/iotrace/internal/model"
)

// FlushFunc persists one batch of a thread's records.
// This allows the engine package to not depend on storage package directly.
type FlushFunc func(processID, threadKey string, records []model.Record) error

// flushBuffer hands the buffer's records to the flush function and empties it,
// returning how many records were persisted. Caller holds b.mu. A failed batch
// is reported and discarded.
func (r *Registry) flushBuffer(threadKey string, b *Buffer) int {
	n := len(b.records)
	if n == 0 {
		return 0
	}

	err := r.callFlush(threadKey, b.records)
	b.reset()

	if err != nil {
		r.stats.flushFailed(n)
		r.logger.Error("flush failed, dropping batch",
			zap.String("pid", r.processID),
			zap.String("tid", threadKey),
			zap.Int("records", n),
			zap.Error(err))
		return 0
	}

	r.stats.flushed(n)
	r.logger.Debug("flushed buffer",
		zap.String("tid", threadKey),
		zap.Int("records", n))
	return n
}

func (r *Registry) callFlush(threadKey string, records []model.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("flush panicked: %v", p)
		}
	}()
	return r.flush(r.processID, threadKey, records)
}
