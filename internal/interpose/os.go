//go:build unix

package interpose

import "golang.org/x/sys/unix"

// OS performs the operations with direct system calls.
type OS struct{}

var _ FileSystem = OS{}

func (OS) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags|unix.O_CLOEXEC, mode)
}

func (OS) Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	return unix.Openat(dirfd, path, flags|unix.O_CLOEXEC, mode)
}

func (OS) Creat(path string, mode uint32) (int, error) {
	return unix.Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC|unix.O_CLOEXEC, mode)
}

func (OS) Read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func (OS) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func (OS) Pread(fd int, p []byte, offset int64) (int, error) {
	return unix.Pread(fd, p, offset)
}

func (OS) Pwrite(fd int, p []byte, offset int64) (int, error) {
	return unix.Pwrite(fd, p, offset)
}

func (OS) Close(fd int) error                       { return unix.Close(fd) }
func (OS) Fsync(fd int) error                       { return unix.Fsync(fd) }
func (OS) Rename(oldPath, newPath string) error     { return unix.Rename(oldPath, newPath) }
func (OS) Unlink(path string) error                 { return unix.Unlink(path) }
func (OS) Mkdir(path string, mode uint32) error     { return unix.Mkdir(path, mode) }
func (OS) Rmdir(path string) error                  { return unix.Rmdir(path) }
func (OS) Truncate(path string, length int64) error { return unix.Truncate(path, length) }
