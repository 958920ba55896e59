//go:build linux || darwin

// Package platform applies process-level hardening for code that holds key
// material in memory.
package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps sets the core file size limit to zero so a crash cannot
// write passphrases or KEKs to disk.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
