// Package securemem holds raw key material in memory that is locked against
// swapping where the platform allows it, and guarantees the bytes are
// overwritten with zeros on every exit path.
package securemem

import (
	"errors"
	"fmt"
)

// Mode selects what happens when the platform refuses to lock memory.
type Mode int

const (
	// Strict fails the allocation when memory cannot be locked.
	Strict Mode = iota
	// Permissive continues with unlocked memory. Key bytes may then be
	// swapped to disk; only acceptable on encrypted-swap or diskless hosts.
	Permissive
)

// ErrLockUnavailable is returned in Strict mode when the platform cannot
// pin the buffer (missing privilege, RLIMIT_MEMLOCK, unsupported OS).
var ErrLockUnavailable = errors.New("secure memory locking unavailable")

// Buffer owns a byte slice of key material. At most one live Buffer should
// exist per signing operation; the orchestrator enforces that.
type Buffer struct {
	data   []byte
	locked bool
	wiped  bool
}

// New allocates a locked buffer of n bytes.
func New(n int, mode Mode) (*Buffer, error) {
	if n <= 0 {
		return nil, errors.New("buffer size must be positive")
	}
	b := &Buffer{data: make([]byte, n)}
	if err := lockMemory(b.data); err != nil {
		if mode == Strict {
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
	} else {
		b.locked = true
	}
	return b, nil
}

// FromBytes copies src into a locked buffer and zeroes src. The buffer takes
// ownership of the secret: after FromBytes returns, the only live copy is the
// locked one.
func FromBytes(src []byte, mode Mode) (*Buffer, error) {
	b, err := New(len(src), mode)
	if err != nil {
		return nil, err
	}
	copy(b.data, src)
	Zero(src)
	return b, nil
}

// Bytes exposes the underlying secret for the duration of a call into a
// signing primitive. Callers must not retain the slice. Panics after Wipe.
func (b *Buffer) Bytes() []byte {
	if b.wiped {
		panic("securemem: use after wipe")
	}
	return b.data
}

// Len reports the buffer size. Valid on wiped buffers.
func (b *Buffer) Len() int { return len(b.data) }

// Locked reports whether the backing memory is pinned.
func (b *Buffer) Locked() bool { return b.locked }

// Wipe overwrites the secret with zeros and unpins the memory. Idempotent.
func (b *Buffer) Wipe() {
	if b.wiped {
		return
	}
	Zero(b.data)
	if b.locked {
		unlockMemory(b.data)
		b.locked = false
	}
	b.wiped = true
}

// WithSecret copies src into a locked buffer, zeroes src, runs fn, and wipes
// the buffer on every exit path including panics. This is the only sanctioned
// way for signing code to touch a raw private key.
func WithSecret(src []byte, mode Mode, fn func(buf *Buffer) error) error {
	buf, err := FromBytes(src, mode)
	if err != nil {
		Zero(src)
		return err
	}
	defer buf.Wipe()
	return fn(buf)
}

// Zero overwrites b with zeros. For password buffers and intermediate copies
// that do not warrant a locked Buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
