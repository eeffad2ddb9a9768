//go:build unix

package container

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fdTarget is implemented by Targets backed by a real file descriptor,
// letting lockTarget use flock(2) instead of falling back to a no-op.
type fdTarget interface {
	Fd() uintptr
}

// lockTarget acquires an advisory, exclusive, non-blocking lock on
// target's underlying file descriptor, mirroring the single-writer
// guarantee the original implementation got from flock(LOCK_EX). Targets
// that aren't backed by a real fd (e.g. an in-memory test target) are
// left unlocked; the returned unlock is always safe to call.
func lockTarget(target Target) (func(), error) {
	fdt, ok := target.(fdTarget)
	if !ok {
		return func() {}, nil
	}
	fd := int(fdt.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, fmt.Errorf("container: flock: %w", err)
	}
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
