package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters for wallet containers
	// Security is prioritized over performance
	//
	// memory=64MiB, time=3, threads=4 - the interactive-use recommendation:
	//   - expensive enough to make offline brute force impractical
	//   - still fits the single-board computers used as offline signers
	DefaultMemoryCost  = 64 * 1024 // KiB
	DefaultTimeCost    = 3
	DefaultParallelism = 4

	KeyLen   = 32
	SaltLen  = 16
	NonceLen = 12
)

// ErrKdf is returned when derivation parameters are invalid or unusable.
var ErrKdf = errors.New("key derivation failed")

// Params are the Argon2id cost parameters. They are persisted alongside every
// container so that old containers stay decryptable after defaults change.
type Params struct {
	Algorithm   string `json:"algorithm"`
	MemoryCost  uint32 `json:"memory_cost"`
	TimeCost    uint32 `json:"time_cost"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultParams returns the cost parameters used for new containers.
func DefaultParams() Params {
	return Params{
		Algorithm:   "argon2id",
		MemoryCost:  DefaultMemoryCost,
		TimeCost:    DefaultTimeCost,
		Parallelism: DefaultParallelism,
	}
}

// Validate rejects parameter sets that are unusable or dangerously weak.
// There is no fallback to defaults: a container with bad parameters is an error.
func (p Params) Validate() error {
	if p.Algorithm != "argon2id" {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrKdf, p.Algorithm)
	}
	if p.TimeCost == 0 {
		return fmt.Errorf("%w: time cost must be positive", ErrKdf)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: parallelism must be positive", ErrKdf)
	}
	// argon2 needs at least 8 KiB per thread
	if p.MemoryCost < 8*uint32(p.Parallelism) {
		return fmt.Errorf("%w: memory cost %d KiB too low", ErrKdf, p.MemoryCost)
	}
	return nil
}

// DeriveKey derives a 32-byte symmetric key from password and salt using Argon2id.
// password must be []byte for security (caller should zero it after use).
func DeriveKey(password, salt []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("%w: salt too short (%d bytes)", ErrKdf, len(salt))
	}
	return argon2.IDKey(password, salt, p.TimeCost, p.MemoryCost, p.Parallelism, KeyLen), nil
}

// NewSalt generates a fresh random salt for a new container.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
