package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/coffersTech/iotrace/internal/collector"
	"github.com/coffersTech/iotrace/internal/config"
	"github.com/coffersTech/iotrace/internal/interpose"
	"github.com/coffersTech/iotrace/internal/storage"
)

func runExercise(args []string, cfg config.Config, logger *zap.Logger) error {
	fs := pflag.NewFlagSet("exercise", pflag.ContinueOnError)
	bindCollectorFlags(fs, &cfg)
	workers := fs.Int("workers", runtime.NumCPU(), "concurrent workers, each pinned to its own thread")
	files := fs.Int("files", 100, "files each worker creates")
	blocks := fs.Int("blocks", 16, "blocks written and read back per file")
	blockSize := fs.Int("block-size", 4096, "block size in bytes")
	workDir := fs.String("workdir", os.TempDir(), "directory the workload runs in")
	pruneRetention := fs.Duration("prune-retention", 0, "while running, delete artifacts not modified for this long (0 disables)")
	pruneInterval := fs.Duration("prune-interval", time.Minute, "how often the pruner scans the artifact directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := collector.New(cfg, collector.WithLogger(logger))
	if err != nil {
		return err
	}
	// The drain must happen on every exit path.
	defer c.Shutdown()

	root := filepath.Join(*workDir, "iotrace-exercise-"+uuid.NewString())
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	defer os.RemoveAll(root)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pruneCtx, stopPruner := context.WithCancel(ctx)
	pruned := make(chan struct{})
	go func() {
		defer close(pruned)
		storage.RunPruner(pruneCtx, c.Dir(), *pruneRetention, *pruneInterval, logger)
	}()
	defer func() {
		stopPruner()
		<-pruned
	}()

	logger.Info("exercise started",
		zap.String("workdir", root),
		zap.String("artifacts", c.Dir()),
		zap.Int("workers", *workers))

	tracer := interpose.NewTracer(interpose.OS{}, c, nil)

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			dir := filepath.Join(root, fmt.Sprintf("w%d", w))
			if err := tracer.Mkdir(dir, 0755); err != nil {
				logger.Warn("worker mkdir failed", zap.Int("worker", w), zap.Error(err))
				return
			}
			for i := 0; i < *files && ctx.Err() == nil; i++ {
				if err := exerciseFile(tracer, filepath.Join(dir, fmt.Sprintf("f%d", i)), *blocks, *blockSize); err != nil {
					logger.Warn("worker file failed", zap.Int("worker", w), zap.Error(err))
				}
			}
			_ = tracer.Rmdir(dir)
		}(w)
	}
	wg.Wait()
	stopPruner()
	<-pruned

	if ctx.Err() != nil {
		logger.Info("interrupted, draining buffers")
	}
	c.Shutdown()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Stats())
}

// exerciseFile runs the open/write/read/sync/rename/unlink cycle on one file.
func exerciseFile(fs interpose.FileSystem, path string, blocks, blockSize int) error {
	fd, err := fs.Creat(path, 0644)
	if err != nil {
		return err
	}
	block := make([]byte, blockSize)
	for b := 0; b < blocks; b++ {
		block[0] = byte(b)
		if _, err := fs.Pwrite(fd, block, int64(b*blockSize)); err != nil {
			fs.Close(fd)
			return err
		}
	}
	if err := fs.Fsync(fd); err != nil {
		fs.Close(fd)
		return err
	}
	if err := fs.Close(fd); err != nil {
		return err
	}

	fd, err = fs.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	for b := 0; b < blocks; b++ {
		if _, err := fs.Pread(fd, block, int64(b*blockSize)); err != nil {
			fs.Close(fd)
			return err
		}
	}
	if err := fs.Close(fd); err != nil {
		return err
	}

	done := path + ".done"
	if err := fs.Rename(path, done); err != nil {
		return err
	}
	return fs.Unlink(done)
}
