// Package collector is the entry point interception wrappers hand trace
// records to. It groups records per thread, flushes them to per-thread
// artifacts when a buffer reaches its threshold, and drains everything on
// Shutdown.
//
// A Collector is an explicit-lifetime object: the host must call Shutdown
// before exiting, otherwise buffered records are lost.
package collector

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coffersTech/iotrace/internal/config"
	"github.com/coffersTech/iotrace/internal/engine"
	"github.com/coffersTech/iotrace/internal/identity"
	"github.com/coffersTech/iotrace/internal/model"
	"github.com/coffersTech/iotrace/internal/storage"
)

// unknownThread keys records that carry no thread id.
const unknownThread = "unknown"

// Collector composes the buffer registry and the artifact writer.
type Collector struct {
	cfg       config.Config
	processID string
	sessionID string
	logger    *zap.Logger

	writer   *storage.ArtifactWriter
	registry *engine.Registry
	stats    *engine.Stats

	shutdownOnce sync.Once
	closed       atomic.Bool
}

type options struct {
	logger    *zap.Logger
	processID string
	footprint func(model.Record) int64
}

// Option customizes a Collector.
type Option func(*options)

// WithLogger sets the logger flush failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProcessID overrides the process id used to name artifacts.
func WithProcessID(pid string) Option {
	return func(o *options) { o.processID = pid }
}

// WithFootprint replaces the per-record size estimate compared against the
// threshold.
func WithFootprint(fn func(model.Record) int64) Option {
	return func(o *options) { o.footprint = fn }
}

// New builds a Collector. It fails only on invalid configuration; an
// unusable base directory is reported and surfaces later as dropped batches.
func New(cfg config.Config, opts ...Option) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}
	policy, ok := engine.ParseRetentionPolicy(cfg.RetentionPolicy)
	if !ok {
		return nil, fmt.Errorf("unknown retention policy %q", cfg.RetentionPolicy)
	}

	o := options{
		logger:    zap.NewNop(),
		processID: identity.ProcessID(),
		footprint: engine.ByteFootprint,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		o.logger.Warn("artifact directory unavailable", zap.String("dir", cfg.BaseDir), zap.Error(err))
	}

	writer, err := storage.NewArtifactWriter(cfg.BaseDir, storage.WriterOptions{
		Codec:        storage.Codec(cfg.Codec),
		KeepOpen:     cfg.KeepOpen,
		MaxOpenFiles: cfg.MaxOpenFiles,
	})
	if err != nil {
		return nil, err
	}

	stats := engine.NewStats()
	c := &Collector{
		cfg:       cfg,
		processID: o.processID,
		sessionID: uuid.New().String(),
		logger:    o.logger,
		writer:    writer,
		stats:     stats,
	}
	c.registry = engine.NewRegistry(o.processID, cfg.Threshold, writer.WriteBatch,
		engine.WithRetention(policy),
		engine.WithFootprint(o.footprint),
		engine.WithLogger(o.logger),
		engine.WithStats(stats))

	o.logger.Debug("collector started",
		zap.String("session", c.sessionID),
		zap.String("pid", c.processID),
		zap.String("dir", cfg.BaseDir),
		zap.Int64("threshold", cfg.Threshold),
		zap.Stringer("retention", policy))
	return c, nil
}

// Record builds a trace record from its 11 fields and buffers it.
func (c *Collector) Record(operation, timestamp, threadID, processID, node, descriptor, path, newPath, offset, size, result string) {
	c.Append(model.NewRecord(operation, timestamp, threadID, processID, node,
		descriptor, path, newPath, offset, size, result))
}

// Append buffers rec under its thread id. It never fails; records arriving
// after Shutdown are written through as single-record batches.
func (c *Collector) Append(rec model.Record) {
	key := rec.ThreadID()
	if key == "" {
		key = unknownThread
	}

	if c.closed.Load() {
		if err := c.writer.WriteBatch(c.processID, key, []model.Record{rec}); err != nil {
			c.logger.Error("late record dropped", zap.String("tid", key), zap.Error(err))
		}
		return
	}
	c.registry.Append(key, rec)

	// Shutdown may have drained between the check and the append.
	if c.closed.Load() {
		c.registry.FlushAll()
	}
}

// Flush writes every buffered record without shutting down.
func (c *Collector) Flush() {
	n := c.registry.FlushAll()
	c.logger.Debug("collector flushed", zap.Int("records", n))
}

// Shutdown drains every buffer exactly once, closes artifact handles and
// persists statistics. Later calls do nothing.
func (c *Collector) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		n := c.registry.FlushAll()

		if err := c.writer.Close(); err != nil {
			c.logger.Error("closing artifacts failed", zap.Error(err))
		}

		snap := c.Stats()
		if err := engine.SaveSnapshot(c.cfg.BaseDir, snap); err != nil {
			c.logger.Warn("saving stats failed", zap.Error(err))
		}

		c.logger.Info("collector shut down",
			zap.String("session", c.sessionID),
			zap.Int("drained", n),
			zap.Int64("records", snap.Records),
			zap.Int64("flushed", snap.FlushedRecords),
			zap.Int64("dropped", snap.DroppedRecords),
			zap.Int64("buffers", snap.Buffers))
	})
}

// Stats returns the collector's counters.
func (c *Collector) Stats() engine.Snapshot {
	snap := c.stats.Snapshot()
	snap.SessionID = c.sessionID
	snap.ProcessID = c.processID
	return snap
}

// ProcessID returns the process id artifacts are named after.
func (c *Collector) ProcessID() string {
	return c.processID
}

// Dir returns the artifact base directory.
func (c *Collector) Dir() string {
	return c.cfg.BaseDir
}
