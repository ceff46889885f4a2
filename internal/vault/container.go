package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/crypto"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

// FormatVersion is the container format this build reads and writes.
// Older shapes are normalized on load; newer ones are rejected.
const FormatVersion = 1

// SecretLen is the raw secret size for every supported chain: an Ed25519
// seed and a secp256k1 scalar are both 32 bytes.
const SecretLen = 32

var (
	ErrNotFound = errors.New("wallet file does not exist")
	ErrCorrupt  = errors.New("wallet file corrupted")
)

// FormatVersionError is returned when a container was written by a newer
// version of the software.
type FormatVersionError struct {
	Found     int
	Supported int
}

func (e *FormatVersionError) Error() string {
	return fmt.Sprintf("container format version %d not supported (max %d)", e.Found, e.Supported)
}

// Container is the persisted encrypted wallet record. It is created once at
// generation and never mutated in place; rotation writes a new container.
// The JSON wire shape lives in containerJSON below.
type Container struct {
	FormatVersion int
	KDF           crypto.Params
	Salt          []byte
	Nonce         []byte
	Ciphertext    []byte
	Chain         chain.ID
	PublicAddress string
	CreatedAt     time.Time
}

// New encrypts a 32-byte raw secret under password and builds a container.
// The derived key is wiped before returning; the caller keeps ownership of
// secret and password and wipes them itself.
func New(secret, password []byte, chainID chain.ID, address string) (*Container, error) {
	if len(secret) != SecretLen {
		return nil, fmt.Errorf("raw secret must be %d bytes, got %d", SecretLen, len(secret))
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}

	params := crypto.DefaultParams()
	key, err := crypto.DeriveKey(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer securemem.Zero(key)

	nonce, ciphertext, err := crypto.Seal(key, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return &Container{
		FormatVersion: FormatVersion,
		KDF:           params,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Chain:         chainID,
		PublicAddress: address,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decrypt recovers the raw 32-byte secret. A wrong password and a tampered
// container both return crypto.ErrAuthentication. Containers written with a
// 64-byte Ed25519 keypair are normalized to the 32-byte seed.
//
// The returned bytes are the only copy; callers must route them through
// securemem and never let them escape the signing scope.
func (c *Container) Decrypt(password []byte) ([]byte, error) {
	key, err := crypto.DeriveKey(password, c.Salt, c.KDF)
	if err != nil {
		return nil, err
	}
	defer securemem.Zero(key)

	plaintext, err := crypto.Open(key, c.Nonce, c.Ciphertext)
	if err != nil {
		return nil, err
	}

	switch len(plaintext) {
	case SecretLen:
		return plaintext, nil
	case 64:
		// legacy full Ed25519 keypair; the seed is the first half
		if c.Chain != chain.Solana {
			securemem.Zero(plaintext)
			return nil, fmt.Errorf("%w: unexpected secret length 64", ErrCorrupt)
		}
		seed := make([]byte, SecretLen)
		copy(seed, plaintext[:SecretLen])
		securemem.Zero(plaintext)
		return seed, nil
	default:
		securemem.Zero(plaintext)
		return nil, fmt.Errorf("%w: unexpected secret length %d", ErrCorrupt, len(plaintext))
	}
}

// Validate checks the structural invariants without decrypting.
func (c *Container) Validate() error {
	if c.FormatVersion > FormatVersion {
		return &FormatVersionError{Found: c.FormatVersion, Supported: FormatVersion}
	}
	if c.FormatVersion < 1 {
		return fmt.Errorf("%w: bad format version %d", ErrCorrupt, c.FormatVersion)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(c.Salt) < 8 {
		return fmt.Errorf("%w: salt too short", ErrCorrupt)
	}
	if len(c.Nonce) < 12 || len(c.Nonce) > 24 {
		return fmt.Errorf("%w: bad nonce length %d", ErrCorrupt, len(c.Nonce))
	}
	if len(c.Ciphertext) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrCorrupt)
	}
	if _, err := chain.ParseID(string(c.Chain)); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.PublicAddress == "" {
		return fmt.Errorf("%w: missing public address", ErrCorrupt)
	}
	return nil
}

// containerJSON is the wire shape. Byte fields are base64 in the current
// format; loads also accept the array-of-integers form older tools wrote.
type containerJSON struct {
	FormatVersion int            `json:"format_version,omitempty"`
	Version       int            `json:"version,omitempty"` // legacy alias
	KDF           *crypto.Params `json:"kdf_params,omitempty"`
	Salt          flexBytes      `json:"salt"`
	Nonce         flexBytes      `json:"nonce"`
	Ciphertext    flexBytes      `json:"ciphertext"`
	Chain         string         `json:"chain,omitempty"`
	PublicAddress string         `json:"public_address,omitempty"`
	PublicKey     string         `json:"public_key,omitempty"` // legacy alias
	Address       string         `json:"address,omitempty"`    // legacy alias
	CreatedAt     string         `json:"created_at,omitempty"`
}

func (c *Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON{
		FormatVersion: c.FormatVersion,
		KDF:           &c.KDF,
		Salt:          flexBytes(c.Salt),
		Nonce:         flexBytes(c.Nonce),
		Ciphertext:    flexBytes(c.Ciphertext),
		Chain:         string(c.Chain),
		PublicAddress: c.PublicAddress,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	})
}

func (c *Container) UnmarshalJSON(data []byte) error {
	var w containerJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.FormatVersion = w.FormatVersion
	if c.FormatVersion == 0 {
		c.FormatVersion = w.Version
	}
	if c.FormatVersion == 0 {
		c.FormatVersion = 1
	}

	if w.KDF != nil {
		c.KDF = *w.KDF
	} else {
		// containers written before kdf_params were persisted all used
		// the original fixed cost set
		c.KDF = crypto.DefaultParams()
	}

	c.Salt = []byte(w.Salt)
	c.Nonce = []byte(w.Nonce)
	c.Ciphertext = []byte(w.Ciphertext)

	id, err := chain.ParseID(w.Chain)
	if err != nil {
		return err
	}
	c.Chain = id

	c.PublicAddress = w.PublicAddress
	if c.PublicAddress == "" {
		c.PublicAddress = w.PublicKey
	}
	if c.PublicAddress == "" {
		c.PublicAddress = w.Address
	}

	if w.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, w.CreatedAt)
		if err != nil {
			return fmt.Errorf("bad created_at: %w", err)
		}
		c.CreatedAt = t
	}

	return nil
}

// flexBytes marshals as base64 and unmarshals from either base64 or a JSON
// array of byte values.
type flexBytes []byte

func (f flexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(f))
}

func (f *flexBytes) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("byte value %d out of range", v)
			}
			out[i] = byte(v)
		}
		*f = out
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("bad base64 field: %w", err)
	}
	*f = b
	return nil
}
