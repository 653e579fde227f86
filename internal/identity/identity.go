// Package identity resolves the process, thread and host a trace record is
// attributed to.
package identity

import (
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	nodeOnce sync.Once
	node     string
)

// ProcessID returns the current process id.
func ProcessID() string {
	return strconv.Itoa(os.Getpid())
}

// ThreadID returns the id of the OS thread running the caller. Goroutines
// migrate between threads, so the value is only meaningful for the call
// that observed it.
func ThreadID() string {
	return strconv.Itoa(threadID())
}

// Node returns the host name, resolved once.
func Node() string {
	nodeOnce.Do(func() {
		node = nodeName()
	})
	return node
}

// Now returns the wall clock in nanoseconds since the epoch.
func Now() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "Error: " + err.Error()
	}
	return h
}
