package collector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/coffersTech/iotrace/internal/config"
	"github.com/coffersTech/iotrace/internal/engine"
	"github.com/coffersTech/iotrace/internal/model"
	"github.com/coffersTech/iotrace/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	return cfg
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	s := strings.TrimSuffix(string(raw), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestCollector_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithProcessID("4200"))
	require.NoError(t, err)

	var want []model.Record
	for i := 0; i < 25; i++ {
		rec := model.NewRecord("pread", strconv.Itoa(1000+i), "4242", "4200", "node-1", "3",
			"", "", strconv.Itoa(i*512), "512", "512")
		want = append(want, rec)
		c.Record(rec.Name(), rec.Timestamp(), rec.ThreadID(), rec.ProcessID(), rec.Node(),
			rec.Descriptor(), rec.Path(), rec.NewPath(), rec.Offset(), rec.Size(), rec.Result())
	}

	path := storage.ArtifactPath(cfg.BaseDir, "4200", "4242")
	assert.NoFileExists(t, path)

	c.Shutdown()

	got, err := storage.ReadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, lines(t, path), 25)
}

func TestCollector_ThresholdScenario(t *testing.T) {
	cfg := testConfig(t)
	cfg.Threshold = 2
	cfg.RetentionPolicy = "flush"
	c, err := New(cfg, WithProcessID("1"), WithFootprint(engine.CountFootprint))
	require.NoError(t, err)

	path := storage.ArtifactPath(cfg.BaseDir, "1", "T1")
	rec := func(op string) model.Record {
		return model.NewRecord(op, "0", "T1", "1", "n", "3", "/f", "", "", "", "0")
	}

	c.Append(rec("open"))
	assert.Empty(t, lines(t, path))

	c.Append(rec("read"))
	assert.Len(t, lines(t, path), 2)

	c.Append(rec("close"))
	assert.Len(t, lines(t, path), 2)

	c.Shutdown()
	got := lines(t, path)
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[2], "close,"))
}

func TestCollector_RetainPolicyKeepsTrigger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Threshold = 2
	c, err := New(cfg, WithProcessID("1"), WithFootprint(engine.CountFootprint))
	require.NoError(t, err)

	path := storage.ArtifactPath(cfg.BaseDir, "1", "T1")
	for _, op := range []string{"open", "read", "close"} {
		c.Append(model.NewRecord(op, "0", "T1", "1", "", "", "", "", "", "", ""))
	}
	// open and read were flushed when read and close crossed the threshold.
	assert.Len(t, lines(t, path), 2)

	c.Shutdown()
	assert.Len(t, lines(t, path), 3)
}

func TestCollector_ShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithProcessID("9"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Record("write", strconv.Itoa(i), "1", "9", "", "4", "", "", "", "1", "1")
	}
	c.Shutdown()
	c.Shutdown()

	assert.Len(t, lines(t, storage.ArtifactPath(cfg.BaseDir, "9", "1")), 10)

	snap, err := engine.LoadSnapshot(filepath.Join(cfg.BaseDir, engine.StatsFileName("9")))
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Records)
	assert.Equal(t, int64(10), snap.FlushedRecords)
	assert.Equal(t, int64(1), snap.Flushes)
	assert.NotEmpty(t, snap.SessionID)
}

func TestCollector_RecordsAfterShutdownAreWrittenThrough(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithProcessID("9"))
	require.NoError(t, err)

	c.Record("open", "1", "1", "9", "", "", "/a", "", "", "", "3")
	c.Shutdown()
	c.Record("close", "2", "1", "9", "", "3", "", "", "", "", "0")

	assert.Len(t, lines(t, storage.ArtifactPath(cfg.BaseDir, "9", "1")), 2)
}

func TestCollector_UnwritableDirectory(t *testing.T) {
	// A regular file where the directory should be: MkdirAll and every
	// artifact open fail regardless of privileges.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	cfg := config.Default()
	cfg.BaseDir = blocker
	cfg.Threshold = 1
	cfg.RetentionPolicy = "flush"

	core, logs := observer.New(zapcore.WarnLevel)
	c, err := New(cfg, WithLogger(zap.New(core)), WithFootprint(engine.CountFootprint))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		for i := 0; i < 3; i++ {
			c.Record("write", strconv.Itoa(i), "1", "9", "", "4", "", "", "", "1", "1")
		}
		c.Shutdown()
	})

	snap := c.Stats()
	assert.Equal(t, int64(3), snap.DroppedRecords)
	assert.Equal(t, int64(3), snap.FlushErrors)
	assert.Equal(t, 3, logs.FilterMessage("flush failed, dropping batch").Len())
	assert.Equal(t, 1, logs.FilterMessage("artifact directory unavailable").Len())
}

func TestCollector_ConcurrentThreads(t *testing.T) {
	cfg := testConfig(t)
	cfg.Threshold = 5
	cfg.KeepOpen = true
	cfg.MaxOpenFiles = 4
	c, err := New(cfg, WithProcessID("7"), WithFootprint(engine.CountFootprint))
	require.NoError(t, err)

	const threads, perThread = 12, 200
	var wg sync.WaitGroup
	for th := 0; th < threads; th++ {
		wg.Add(1)
		go func(tid string) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				c.Record("write", strconv.Itoa(i), tid, "7", "", "4", "", "", "", "8", "8")
			}
		}(strconv.Itoa(100 + th))
	}
	wg.Wait()
	c.Shutdown()

	for th := 0; th < threads; th++ {
		got, err := storage.ReadArtifact(storage.ArtifactPath(cfg.BaseDir, "7", strconv.Itoa(100+th)))
		require.NoError(t, err)
		require.Len(t, got, perThread)
		for i, rec := range got {
			assert.Equal(t, strconv.Itoa(i), rec.Timestamp())
		}
	}
}

func TestCollector_EmptyThreadID(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithProcessID("5"))
	require.NoError(t, err)

	c.Append(model.NewOperation("sync"))
	c.Shutdown()

	assert.Len(t, lines(t, storage.ArtifactPath(cfg.BaseDir, "5", unknownThread)), 1)
}

func TestCollector_ThreadIDStaysInsideBaseDir(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithProcessID("9"))
	require.NoError(t, err)

	c.Record("open", "0", "a/../../x", "9", "n", "3", "/f", "", "", "", "3")
	c.Record("open", "0", "a/b", "9", "n", "3", "/f", "", "", "", "3")
	c.Shutdown()

	snap := c.Stats()
	assert.Zero(t, snap.FlushErrors)
	assert.Zero(t, snap.DroppedRecords)
	assert.Equal(t, int64(2), snap.FlushedRecords)

	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfg.BaseDir), "x"))

	list, err := storage.ListArtifacts(cfg.BaseDir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, p := range list {
		assert.Equal(t, cfg.BaseDir, filepath.Dir(p))
		_, tid, err := storage.ParseArtifactName(p)
		require.NoError(t, err)
		got, err := storage.ReadArtifact(p)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, got[0].ThreadID(), tid)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Threshold = 0
	_, err := New(cfg)
	assert.Error(t, err)
}
