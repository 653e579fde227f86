package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/coffersTech/iotrace/internal/model"
)

type batch struct {
	pid, tid string
	records  []model.Record
}

// sink records every batch handed to it.
type sink struct {
	mu      sync.Mutex
	batches []batch
}

func (s *sink) flush(pid, tid string, records []model.Record) error {
	cp := make([]model.Record, len(records))
	copy(cp, records)
	s.mu.Lock()
	s.batches = append(s.batches, batch{pid: pid, tid: tid, records: cp})
	s.mu.Unlock()
	return nil
}

func (s *sink) all() []batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]batch(nil), s.batches...)
}

func op(name string, i int) model.Record {
	return model.NewRecord(name, strconv.Itoa(i), "t1", "100", "node", "3", "/data/f", "", "", "", "0")
}

func names(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name()
	}
	return out
}

func TestRegistry_FlushAllPreservesOrder(t *testing.T) {
	s := &sink{}
	r := NewRegistry("100", 1<<30, s.flush)

	var want []model.Record
	for i := 0; i < 50; i++ {
		rec := op("write", i)
		want = append(want, rec)
		r.Append("t1", rec)
	}
	assert.Empty(t, s.all(), "no flush before threshold")

	assert.Equal(t, 50, r.FlushAll())

	batches := s.all()
	require.Len(t, batches, 1)
	assert.Equal(t, "100", batches[0].pid)
	assert.Equal(t, "t1", batches[0].tid)
	assert.Equal(t, want, batches[0].records)

	b, ok := r.Lookup("t1")
	require.True(t, ok)
	assert.Zero(t, b.Len())
	assert.Zero(t, b.Size())
}

func TestRegistry_RetainTrigger(t *testing.T) {
	s := &sink{}
	r := NewRegistry("100", 3, s.flush, WithFootprint(CountFootprint))

	r.Append("t1", op("open", 1))
	r.Append("t1", op("read", 2))
	assert.Empty(t, s.all())

	r.Append("t1", op("close", 3))

	batches := s.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"open", "read"}, names(batches[0].records))

	b, _ := r.Lookup("t1")
	assert.Equal(t, []string{"close"}, names(b.Records()))
	assert.Equal(t, int64(1), b.Size())
}

func TestRegistry_RetainTriggerByteFootprint(t *testing.T) {
	s := &sink{}
	first := op("open", 1)
	second := op("read", 2)
	third := op("close", 3)
	threshold := first.Footprint() + second.Footprint() + 1
	r := NewRegistry("100", threshold, s.flush)

	r.Append("t1", first)
	r.Append("t1", second)
	r.Append("t1", third)

	batches := s.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []model.Record{first, second}, batches[0].records)

	b, _ := r.Lookup("t1")
	assert.Equal(t, third.Footprint(), b.Size())
}

func TestRegistry_FlushTriggerScenario(t *testing.T) {
	s := &sink{}
	r := NewRegistry("100", 2, s.flush,
		WithFootprint(CountFootprint),
		WithRetention(FlushTrigger))

	r.Append("T1", op("open", 1))
	r.Append("T1", op("read", 2))

	batches := s.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"open", "read"}, names(batches[0].records))

	r.Append("T1", op("close", 3))
	assert.Len(t, s.all(), 1)

	b, _ := r.Lookup("T1")
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, int64(1), b.Size())

	r.FlushAll()
	batches = s.all()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"close"}, names(batches[1].records))
}

func TestRegistry_SameKeyFirstAppendRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := &sink{}
		r := NewRegistry("100", 1<<30, s.flush)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, name := range []string{"a", "b"} {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				<-start
				r.Append("shared", model.NewOperation(name))
			}(name)
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, r.Len())
		b, ok := r.Lookup("shared")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"a", "b"}, names(b.Records()))
		assert.Equal(t, int64(2), r.Stats().Snapshot().Records)
		assert.Equal(t, int64(1), r.Stats().Snapshot().Buffers)
	}
}

func TestRegistry_DistinctKeysDoNotWaitOnFlush(t *testing.T) {
	release := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once

	s := &sink{}
	flush := func(pid, tid string, records []model.Record) error {
		if tid == "slow" {
			once.Do(func() { close(blocked) })
			<-release
		}
		return s.flush(pid, tid, records)
	}
	r := NewRegistry("100", 2, flush, WithFootprint(CountFootprint), WithRetention(FlushTrigger),
		// One shard: independence must come from the per-buffer lock.
		WithShards(1))
	require.Len(t, r.shards, 1)

	go func() {
		r.Append("slow", model.NewOperation("write"))
		r.Append("slow", model.NewOperation("write"))
	}()
	<-blocked

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 8; i++ {
			key := fmt.Sprintf("fast-%d", i)
			for j := 0; j < 100; j++ {
				r.Append(key, model.NewOperation("read"))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appends on other keys blocked behind a slow flush")
	}
	close(release)
}

func TestRegistry_ConcurrentStress(t *testing.T) {
	s := &sink{}
	r := NewRegistry("100", 7, s.flush, WithFootprint(CountFootprint))

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := strconv.Itoa(w)
			for i := 0; i < perWorker; i++ {
				r.Append(key, model.NewRecord("write", strconv.Itoa(i), key, "100", "", "", "", "", "", "", ""))
			}
		}(w)
	}
	wg.Wait()
	r.FlushAll()

	perKey := map[string][]string{}
	for _, b := range s.all() {
		for _, rec := range b.records {
			assert.Equal(t, b.tid, rec.ThreadID())
			perKey[b.tid] = append(perKey[b.tid], rec.Timestamp())
		}
	}
	require.Len(t, perKey, workers)
	for key, seq := range perKey {
		require.Len(t, seq, perWorker, "key %s", key)
		for i, ts := range seq {
			assert.Equal(t, strconv.Itoa(i), ts, "key %s out of order", key)
		}
	}

	snap := r.Stats().Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.Records)
	assert.Equal(t, int64(workers*perWorker), snap.FlushedRecords)
	assert.Zero(t, snap.DroppedRecords)
}

func TestRegistry_FlushFailureIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	failing := func(string, string, []model.Record) error { return errors.New("disk full") }
	r := NewRegistry("100", 2, failing, WithFootprint(CountFootprint), WithLogger(zap.New(core)))

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			r.Append("t1", op("write", i))
		}
	})

	snap := r.Stats().Snapshot()
	assert.Equal(t, int64(4), snap.FlushErrors)
	assert.Equal(t, int64(4), snap.DroppedRecords)
	assert.Equal(t, 4, logs.FilterMessage("flush failed, dropping batch").Len())

	b, _ := r.Lookup("t1")
	assert.Equal(t, 1, b.Len())

	assert.Zero(t, r.FlushAll())
	assert.Equal(t, int64(5), r.Stats().Snapshot().DroppedRecords)
	assert.Zero(t, b.Len())
}

func TestRegistry_FlushAllCountsPersistedRecords(t *testing.T) {
	s := &sink{}
	flush := func(pid, tid string, records []model.Record) error {
		if tid == "bad" {
			return errors.New("disk full")
		}
		return s.flush(pid, tid, records)
	}
	r := NewRegistry("100", 100, flush, WithFootprint(CountFootprint))
	for i := 0; i < 3; i++ {
		r.Append("good", op("write", i))
		r.Append("bad", op("write", i))
	}

	assert.Equal(t, 3, r.FlushAll())
	assert.Equal(t, int64(3), r.Stats().Snapshot().DroppedRecords)
	assert.Zero(t, r.FlushAll())
}

func TestRegistry_FlushPanicIsContained(t *testing.T) {
	panicking := func(string, string, []model.Record) error { panic("boom") }
	r := NewRegistry("100", 1, panicking, WithFootprint(CountFootprint), WithRetention(FlushTrigger))

	assert.NotPanics(t, func() { r.Append("t1", op("write", 1)) })
	assert.Equal(t, int64(1), r.Stats().Snapshot().DroppedRecords)
}

func TestStats_SaveAndLoad(t *testing.T) {
	s := NewStats()
	s.appended(model.NewOperation("read"))
	s.appended(model.NewOperation("open"))
	s.appended(model.NewOperation("ioctl"))
	s.flushed(3)

	snap := s.Snapshot()
	snap.ProcessID = "77"
	dir := t.TempDir()
	require.NoError(t, SaveSnapshot(dir, snap))

	got, err := LoadSnapshot(filepath.Join(dir, StatsFileName("77")))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Equal(t, int64(1), got.Categories["datacall"])
	assert.Equal(t, int64(1), got.Categories["unknown"])
}

func TestParseRetentionPolicy(t *testing.T) {
	p, ok := ParseRetentionPolicy("flush")
	assert.True(t, ok)
	assert.Equal(t, FlushTrigger, p)

	p, ok = ParseRetentionPolicy("")
	assert.True(t, ok)
	assert.Equal(t, RetainTrigger, p)

	_, ok = ParseRetentionPolicy("drop")
	assert.False(t, ok)
}
