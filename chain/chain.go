// Package chain defines the contract between the signing orchestrator and the
// per-chain transaction logic. Concrete adapters live in the subpackages.
package chain

import (
	"errors"
	"fmt"

	"github.com/coldstar-labs/coldstar/internal/securemem"
)

// ID identifies a supported chain family. The set is closed: container files
// and air-gap envelopes only ever carry one of these values.
type ID string

const (
	Solana ID = "solana"
	EVM    ID = "evm"
)

// ParseID maps a container or envelope chain tag to an ID. Network names of
// EVM chains ("base", "base-sepolia", ...) all map to EVM; the numeric
// chain_id disambiguates the actual network.
func ParseID(s string) (ID, error) {
	switch s {
	case "solana", "":
		// wallets written before the multi-chain format carry no tag
		return Solana, nil
	case "evm", "base", "base-sepolia", "ethereum":
		return EVM, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
	}
}

var (
	ErrUnknownChain   = errors.New("unknown chain")
	ErrInvalidAddress = errors.New("invalid recipient address")
	ErrInvalidAmount  = errors.New("invalid transfer amount")
	ErrSigning        = errors.New("signing failed")
)

// Summary is what the signing device shows the user before it signs. It is
// always reconstructed from the parsed payload, never trusted from the
// envelope metadata.
type Summary struct {
	Chain  ID
	To     string
	Amount string // human units, empty when the payload is not a plain transfer
	Asset  string // "SOL", "ETH", token mint or contract
	Detail string // free-form extras (instruction count, nonce, max fee)
}

// UnsignedTx is an immutable chain-tagged transaction snapshot. The chain
// parameters inside it (nonce, blockhash, fees) reflect network state at
// build time and go stale; staleness surfaces at broadcast.
type UnsignedTx interface {
	Chain() ID
	// Payload returns the canonical bytes carried across the air gap.
	Payload() ([]byte, error)
	// Summary describes the transaction for user confirmation.
	Summary() Summary
}

// SignedTx is the raw wire-format result of signing, ready for broadcast.
type SignedTx interface {
	Chain() ID
	Bytes() []byte
}

// Adapter is the per-chain logic the orchestrator drives. Implementations
// must not retain key material beyond the duration of a Sign call.
type Adapter interface {
	ID() ID
	// GenerateSecret creates a fresh raw 32-byte secret valid for this chain.
	GenerateSecret() ([]byte, error)
	// DecodeUnsigned parses an air-gap payload back into a signable transaction.
	DecodeUnsigned(payload []byte) (UnsignedTx, error)
	// Sign produces wire bytes using the 32-byte raw secret held in buf.
	Sign(tx UnsignedTx, buf *securemem.Buffer) (SignedTx, error)
	// DeriveAddress computes the public address for a raw 32-byte secret.
	// Used to verify container integrity after decryption.
	DeriveAddress(secret []byte) (string, error)
	// ValidateAddress checks recipient address syntax.
	ValidateAddress(address string) error
}

// Registry holds the configured adapters keyed by chain.
type Registry map[ID]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.ID()] = a
	}
	return r
}

func (r Registry) Lookup(id ID) (Adapter, error) {
	a, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChain, id)
	}
	return a, nil
}
