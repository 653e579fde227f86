package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"github.com/coffersTech/iotrace/internal/model"
)

// Codec selects how batches are encoded inside an artifact.
type Codec string

const (
	// CodecText writes plain newline-terminated lines.
	CodecText Codec = "text"
	// CodecZstd writes every batch as one zstd frame.
	CodecZstd Codec = "zstd"
)

const artifactPerm = 0666

// WriterOptions configures an ArtifactWriter.
type WriterOptions struct {
	Codec Codec
	// KeepOpen keeps artifact handles open between flushes, at most
	// MaxOpenFiles of them, closing the least recently used.
	KeepOpen     bool
	MaxOpenFiles int
}

// ArtifactWriter appends record batches to per-thread artifacts under a
// base directory. It is safe for concurrent use; batches for the same
// artifact must not be written concurrently.
type ArtifactWriter struct {
	dir     string
	codec   Codec
	encoder *zstd.Encoder
	handles *lru.Cache
	closed  atomic.Bool
	bufPool sync.Pool
}

type handle struct {
	mu      sync.Mutex
	f       *os.File
	evicted bool
}

// NewArtifactWriter creates a writer rooted at dir.
func NewArtifactWriter(dir string, opts WriterOptions) (*ArtifactWriter, error) {
	w := &ArtifactWriter{
		dir:   dir,
		codec: opts.Codec,
		bufPool: sync.Pool{New: func() any {
			return new(bytes.Buffer)
		}},
	}

	switch opts.Codec {
	case "", CodecText:
		w.codec = CodecText
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		w.encoder = enc
	default:
		return nil, fmt.Errorf("unknown artifact codec %q", opts.Codec)
	}

	if opts.KeepOpen {
		size := opts.MaxOpenFiles
		if size <= 0 {
			size = 64
		}
		cache, err := lru.NewWithEvict(size, closeEvicted)
		if err != nil {
			return nil, err
		}
		w.handles = cache
	}
	return w, nil
}

// ArtifactPath returns <dir>/<processID>_<threadKey>. The thread key is
// escaped so the artifact always lands directly inside dir.
func ArtifactPath(dir, processID, threadKey string) string {
	return filepath.Join(dir, processID+"_"+EscapeThreadKey(threadKey))
}

// EscapeThreadKey makes a thread key usable as a file name suffix. Keys made
// of letters, digits and "-._~" are returned unchanged.
func EscapeThreadKey(threadKey string) string {
	return url.PathEscape(threadKey)
}

// Dir returns the base directory.
func (w *ArtifactWriter) Dir() string {
	return w.dir
}

// WriteBatch appends records to the artifact of (processID, threadKey) in
// order. The batch is written with a single write call.
func (w *ArtifactWriter) WriteBatch(processID, threadKey string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	buf := w.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer w.bufPool.Put(buf)

	line := make([]byte, 0, 256)
	for _, rec := range records {
		line = rec.AppendLine(line[:0])
		buf.Write(line)
	}

	data := buf.Bytes()
	if w.encoder != nil {
		data = w.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	path := ArtifactPath(w.dir, processID, threadKey)
	if w.handles != nil && !w.closed.Load() {
		return w.writeCached(path, data)
	}
	return writeOnce(path, data)
}

func (w *ArtifactWriter) writeCached(path string, data []byte) error {
	h := w.handle(path)
	h.mu.Lock()
	if w.closed.Load() {
		// Close may have purged the cache before this handle was added.
		h.mu.Unlock()
		w.handles.Remove(path)
		return writeOnce(path, data)
	}
	defer h.mu.Unlock()

	if h.f == nil {
		f, err := openArtifact(path)
		if err != nil {
			return err
		}
		h.f = f
	}

	err := writeAll(h.f, path, data)
	if err != nil || h.evicted {
		// The handle left the cache or is suspect; reopen on next use.
		err = multierr.Append(err, h.f.Close())
		h.f = nil
	}
	return err
}

func (w *ArtifactWriter) handle(path string) *handle {
	if v, ok := w.handles.Get(path); ok {
		return v.(*handle)
	}
	h := &handle{}
	if prev, ok, _ := w.handles.PeekOrAdd(path, h); ok {
		return prev.(*handle)
	}
	return h
}

func closeEvicted(_ interface{}, value interface{}) {
	h := value.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted = true
	if h.f != nil {
		_ = h.f.Close()
		h.f = nil
	}
}

// OpenFiles returns the number of cached artifact handles.
func (w *ArtifactWriter) OpenFiles() int {
	if w.handles == nil {
		return 0
	}
	return w.handles.Len()
}

// Close closes every cached handle. Later batches are written with a
// per-call open.
func (w *ArtifactWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if w.handles != nil {
		for _, k := range w.handles.Keys() {
			v, ok := w.handles.Peek(k)
			if !ok {
				continue
			}
			h := v.(*handle)
			h.mu.Lock()
			if h.f != nil {
				err = multierr.Append(err, h.f.Close())
				h.f = nil
			}
			h.mu.Unlock()
		}
		w.handles.Purge()
	}
	return err
}

func openArtifact(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, artifactPerm)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

func writeOnce(path string, data []byte) (err error) {
	f, err := openArtifact(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return writeAll(f, path, data)
}

func writeAll(f *os.File, path string, data []byte) error {
	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if n < len(data) {
		return fmt.Errorf("write artifact %s: %w", path, io.ErrShortWrite)
	}
	return nil
}
