package identity

import (
	"golang.org/x/sys/unix"
)

func threadID() int {
	return unix.Gettid()
}

func nodeName() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return hostname()
	}
	return unix.ByteSliceToString(uts.Nodename[:])
}
