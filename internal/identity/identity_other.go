//go:build !linux

package identity

import "os"

// Without gettid every goroutine of the process shares one key.
func threadID() int {
	return os.Getpid()
}

func nodeName() string {
	return hostname()
}
