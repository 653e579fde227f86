// Package interpose wraps a file-system provider so that every call is
// forwarded to the real implementation and then reported as a trace record.
package interpose

import (
	"strconv"

	"github.com/coffersTech/iotrace/internal/identity"
	"github.com/coffersTech/iotrace/internal/model"
)

// FileSystem is the provider of the real file-system operations. File
// descriptors and modes follow POSIX conventions.
type FileSystem interface {
	Open(path string, flags int, mode uint32) (int, error)
	Openat(dirfd int, path string, flags int, mode uint32) (int, error)
	Creat(path string, mode uint32) (int, error)
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	Pread(fd int, p []byte, offset int64) (int, error)
	Pwrite(fd int, p []byte, offset int64) (int, error)
	Close(fd int) error
	Fsync(fd int) error
	Rename(oldPath, newPath string) error
	Unlink(path string) error
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Truncate(path string, length int64) error
}

// Sink receives the records a Tracer produces.
type Sink interface {
	Append(rec model.Record)
}

// Identity stamps records with time, thread, process and host.
type Identity interface {
	Now() string
	ThreadID() string
	ProcessID() string
	Node() string
}

type hostIdentity struct{}

func (hostIdentity) Now() string       { return identity.Now() }
func (hostIdentity) ThreadID() string  { return identity.ThreadID() }
func (hostIdentity) ProcessID() string { return identity.ProcessID() }
func (hostIdentity) Node() string      { return identity.Node() }

// HostIdentity resolves identity from the running process.
var HostIdentity Identity = hostIdentity{}

// Tracer is a FileSystem that forwards to another FileSystem and emits one
// record per call once the call has returned.
type Tracer struct {
	fs    FileSystem
	sink  Sink
	ident Identity
}

var _ FileSystem = (*Tracer)(nil)

// NewTracer wraps fs. A nil ident uses HostIdentity.
func NewTracer(fs FileSystem, sink Sink, ident Identity) *Tracer {
	if ident == nil {
		ident = HostIdentity
	}
	return &Tracer{fs: fs, sink: sink, ident: ident}
}

func (t *Tracer) emit(op, fd, path, newPath, offset, size, result string) {
	t.sink.Append(model.NewRecord(op, t.ident.Now(), t.ident.ThreadID(), t.ident.ProcessID(),
		t.ident.Node(), fd, path, newPath, offset, size, result))
}

func (t *Tracer) Open(path string, flags int, mode uint32) (int, error) {
	fd, err := t.fs.Open(path, flags, mode)
	t.emit("open", "", path, "", "", "", count(fd, err))
	return fd, err
}

func (t *Tracer) Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	fd, err := t.fs.Openat(dirfd, path, flags, mode)
	t.emit("openat", itoa(dirfd), path, "", "", "", count(fd, err))
	return fd, err
}

func (t *Tracer) Creat(path string, mode uint32) (int, error) {
	fd, err := t.fs.Creat(path, mode)
	t.emit("creat", "", path, "", "", "", count(fd, err))
	return fd, err
}

func (t *Tracer) Read(fd int, p []byte) (int, error) {
	n, err := t.fs.Read(fd, p)
	t.emit("read", itoa(fd), "", "", "", itoa(len(p)), count(n, err))
	return n, err
}

func (t *Tracer) Write(fd int, p []byte) (int, error) {
	n, err := t.fs.Write(fd, p)
	t.emit("write", itoa(fd), "", "", "", itoa(len(p)), count(n, err))
	return n, err
}

func (t *Tracer) Pread(fd int, p []byte, offset int64) (int, error) {
	n, err := t.fs.Pread(fd, p, offset)
	t.emit("pread", itoa(fd), "", "", i64toa(offset), itoa(len(p)), count(n, err))
	return n, err
}

func (t *Tracer) Pwrite(fd int, p []byte, offset int64) (int, error) {
	n, err := t.fs.Pwrite(fd, p, offset)
	t.emit("pwrite", itoa(fd), "", "", i64toa(offset), itoa(len(p)), count(n, err))
	return n, err
}

func (t *Tracer) Close(fd int) error {
	err := t.fs.Close(fd)
	t.emit("close", itoa(fd), "", "", "", "", status(err))
	return err
}

func (t *Tracer) Fsync(fd int) error {
	err := t.fs.Fsync(fd)
	t.emit("fsync", itoa(fd), "", "", "", "", status(err))
	return err
}

func (t *Tracer) Rename(oldPath, newPath string) error {
	err := t.fs.Rename(oldPath, newPath)
	t.emit("rename", "", oldPath, newPath, "", "", status(err))
	return err
}

func (t *Tracer) Unlink(path string) error {
	err := t.fs.Unlink(path)
	t.emit("unlink", "", path, "", "", "", status(err))
	return err
}

func (t *Tracer) Mkdir(path string, mode uint32) error {
	err := t.fs.Mkdir(path, mode)
	t.emit("mkdir", "", path, "", "", "", status(err))
	return err
}

func (t *Tracer) Rmdir(path string) error {
	err := t.fs.Rmdir(path)
	t.emit("rmdir", "", path, "", "", "", status(err))
	return err
}

func (t *Tracer) Truncate(path string, length int64) error {
	err := t.fs.Truncate(path, length)
	t.emit("truncate", "", path, "", "", i64toa(length), status(err))
	return err
}

func itoa(n int) string     { return strconv.Itoa(n) }
func i64toa(n int64) string { return strconv.FormatInt(n, 10) }

// count renders a descriptor or byte count, or the error text on failure.
func count(n int, err error) string {
	if err != nil {
		return err.Error()
	}
	return itoa(n)
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return "0"
}
