//go:build !linux

package flusher

// lockThreadPriority is a no-op on platforms without per-thread niceness.
func lockThreadPriority(nice int) {}
