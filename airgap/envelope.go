// Package airgap carries transactions between the online companion and the
// offline signer as small JSON envelopes, moved by QR code or by file on
// removable media. Envelopes hold opaque payloads; what a transaction means
// is always re-derived by parsing the payload, never read from envelope
// metadata.
package airgap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/chain/evm"
)

// Type discriminates envelope contents.
type Type string

const (
	TypeUnsigned    Type = "unsigned_transaction"
	TypeSigned      Type = "signed_transaction"
	TypeUnsignedEVM Type = "unsigned_evm_transaction"
	TypeSignedEVM   Type = "signed_evm_transaction"
)

// Version is written into every envelope we produce.
const Version = "1.0"

// QRCapacity is the largest envelope we will render as a single QR code.
// Bigger payloads must travel by file.
const QRCapacity = 2000

var (
	ErrMalformed       = errors.New("could not parse transfer envelope")
	ErrUnsupportedType = errors.New("unsupported transfer envelope type")
)

// CapacityError reports an envelope too large for a QR code.
type CapacityError struct {
	Size  int
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("transaction too large for a QR code (%d bytes, limit %d); use file transfer", e.Size, e.Limit)
}

// Envelope is the wire format shared with the companion app.
//
// Data depends on Type: base64 of the Solana wire transaction for
// unsigned_transaction and signed_transaction, the compact transaction JSON
// for unsigned_evm_transaction, and 0x-prefixed hex of the RLP bytes for
// signed_evm_transaction.
type Envelope struct {
	Type    Type   `json:"type"`
	Version string `json:"version"`
	Chain   string `json:"chain,omitempty"`
	ChainID uint64 `json:"chain_id,omitempty"`
	Data    string `json:"data"`
}

// NewUnsigned wraps an unsigned transaction for transfer to the signer.
func NewUnsigned(tx chain.UnsignedTx) (*Envelope, error) {
	payload, err := tx.Payload()
	if err != nil {
		return nil, err
	}

	switch tx.Chain() {
	case chain.Solana:
		return &Envelope{
			Type:    TypeUnsigned,
			Version: Version,
			Data:    base64.StdEncoding.EncodeToString(payload),
		}, nil
	case chain.EVM:
		env := &Envelope{
			Type:    TypeUnsignedEVM,
			Version: Version,
			Chain:   "base",
			Data:    string(payload),
		}
		if t, ok := tx.(*evm.Tx); ok {
			env.Chain = evmChainName(t.ChainID)
			env.ChainID = t.ChainID.Uint64()
		}
		return env, nil
	}
	return nil, fmt.Errorf("%w: %q", chain.ErrUnknownChain, tx.Chain())
}

// NewSigned wraps a signed transaction for transfer back to the companion.
func NewSigned(tx chain.SignedTx) (*Envelope, error) {
	switch tx.Chain() {
	case chain.Solana:
		return &Envelope{
			Type:    TypeSigned,
			Version: Version,
			Data:    base64.StdEncoding.EncodeToString(tx.Bytes()),
		}, nil
	case chain.EVM:
		env := &Envelope{
			Type:    TypeSignedEVM,
			Version: Version,
			Chain:   "base",
			Data:    hexutil.Encode(tx.Bytes()),
		}
		if t, ok := tx.(*evm.Signed); ok {
			id := t.ChainID()
			env.Chain = evmChainName(id)
			env.ChainID = id.Uint64()
		}
		return env, nil
	}
	return nil, fmt.Errorf("%w: %q", chain.ErrUnknownChain, tx.Chain())
}

func evmChainName(id *big.Int) string {
	switch id.Int64() {
	case evm.BaseMainnetChainID:
		return "base"
	case evm.BaseSepoliaChainID:
		return "base-sepolia"
	default:
		return "ethereum"
	}
}

// Marshal renders the envelope as compact JSON, the form carried in QR codes.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return data, nil
}

// Decode parses envelope text from a QR scan, a pasted blob, or a file.
// Scanners sometimes hand back a base64 wrapping of the JSON instead of the
// JSON itself, so a failed parse gets one base64 retry.
func Decode(input []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(input, []byte{0xEF, 0xBB, 0xBF}))

	env, firstErr := parse(trimmed)
	if firstErr == nil {
		return env, nil
	}

	inner, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, firstErr
	}
	env, err = parse(inner)
	if err != nil {
		return nil, firstErr
	}
	return env, nil
}

func parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypeUnsigned, TypeSigned, TypeUnsignedEVM, TypeSignedEVM:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
	if env.Data == "" {
		return nil, fmt.Errorf("%w: empty data", ErrMalformed)
	}
	return &env, nil
}

// UnsignedPayload extracts the raw transaction payload and the chain it
// belongs to. Fails on signed envelope types.
func (e *Envelope) UnsignedPayload() ([]byte, chain.ID, error) {
	switch e.Type {
	case TypeUnsigned:
		payload, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad base64 payload: %v", ErrMalformed, err)
		}
		return payload, chain.Solana, nil
	case TypeUnsignedEVM:
		return []byte(e.Data), chain.EVM, nil
	}
	return nil, "", fmt.Errorf("%w: %q is not an unsigned transaction", ErrUnsupportedType, e.Type)
}

// SignedBytes extracts broadcast-ready transaction bytes and the chain they
// belong to. Fails on unsigned envelope types.
func (e *Envelope) SignedBytes() ([]byte, chain.ID, error) {
	switch e.Type {
	case TypeSigned:
		raw, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad base64 payload: %v", ErrMalformed, err)
		}
		return raw, chain.Solana, nil
	case TypeSignedEVM:
		raw, err := hexutil.Decode(e.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad hex payload: %v", ErrMalformed, err)
		}
		return raw, chain.EVM, nil
	}
	return nil, "", fmt.Errorf("%w: %q is not a signed transaction", ErrUnsupportedType, e.Type)
}
