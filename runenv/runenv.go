// Package runenv isolates the two places the program queries its runtime
// environment: the worker-count policy and interrupt handling.
package runenv

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// WorkerCount picks the fingerprinting parallelism for "auto" mode.
// Image decoding leans on CGo, so leave some headroom instead of
// saturating every core.
func WorkerCount() int {
	n := (runtime.NumCPU() * 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// WithSignalContext returns a context cancelled on SIGINT or SIGTERM.
func WithSignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
