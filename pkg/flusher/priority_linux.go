//go:build linux

package flusher

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/marmos91/blockflush/internal/logger"
)

// lockThreadPriority pins the worker goroutine to its OS thread and applies
// the configured niceness. On Linux, PRIO_PROCESS with who=0 targets the
// calling thread.
func lockThreadPriority(nice int) {
	if nice == 0 {
		return
	}

	runtime.LockOSThread()
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		logger.Warn("Failed to set worker thread priority", "nice", nice, "error", err)
	}
}
