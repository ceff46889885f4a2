//go:build unix

package securemem

import "golang.org/x/sys/unix"

// lockMemory pins the pages backing b so they cannot be swapped to disk.
// Fails with ENOMEM when RLIMIT_MEMLOCK is too low.
func lockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

func unlockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	// best effort; the bytes are already zeroed by the caller
	_ = unix.Munlock(b)
}
