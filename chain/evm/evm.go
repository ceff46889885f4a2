// Package evm builds and signs EIP-1559 transfer transactions offline for
// Base or any EVM chain. Chain parameters (nonce, fees) are snapshots fetched
// by the online device and passed in; nothing here touches the network.
package evm

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/amount"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

const (
	// default gas limits, same ones every wallet uses for plain transfers
	GasLimitTransfer      = 21000
	GasLimitTokenTransfer = 65000

	// Base L2 chain ids
	BaseMainnetChainID = 8453
	BaseSepoliaChainID = 84532
)

// erc20TransferSelector is the 4-byte selector of transfer(address,uint256).
var erc20TransferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// BuildParams is the network snapshot a transfer is bound to. Nonce and fees
// go stale; a transaction held too long fails at broadcast and needs a
// rebuild.
type BuildParams struct {
	ChainID  *big.Int
	Nonce    uint64
	BaseFee  *big.Int // current block base fee, wei
	TipCap   *big.Int // priority fee, wei
	GasLimit uint64   // 0 selects the default for the transfer kind
}

// MaxFeeForBlock returns the fee cap transfers are bound to:
// twice the current base fee plus the tip.
func MaxFeeForBlock(baseFee, tip *big.Int) *big.Int {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	return maxFee.Add(maxFee, tip)
}

// Tx is an unsigned EIP-1559 transaction. Immutable once built.
type Tx struct {
	ChainID              *big.Int
	Nonce                uint64
	To                   common.Address
	Value                *big.Int
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Data                 []byte
}

func (t *Tx) Chain() chain.ID { return chain.EVM }

// wireTx is the air-gap JSON shape. Large integers are emitted as bare
// decimal JSON numbers, never floats, so nothing is rounded in transit.
type wireTx struct {
	Type                 int             `json:"type"`
	ChainID              json.RawMessage `json:"chainId"`
	Nonce                uint64          `json:"nonce"`
	To                   string          `json:"to"`
	Value                json.RawMessage `json:"value"`
	Gas                  uint64          `json:"gas"`
	MaxFeePerGas         json.RawMessage `json:"maxFeePerGas"`
	MaxPriorityFeePerGas json.RawMessage `json:"maxPriorityFeePerGas"`
	Data                 string          `json:"data"`
}

// Payload returns the compact JSON carried across the air gap.
func (t *Tx) Payload() ([]byte, error) {
	w := wireTx{
		Type:                 2,
		ChainID:              json.RawMessage(t.ChainID.String()),
		Nonce:                t.Nonce,
		To:                   t.To.Hex(),
		Value:                json.RawMessage(t.Value.String()),
		Gas:                  t.GasLimit,
		MaxFeePerGas:         json.RawMessage(t.MaxFeePerGas.String()),
		MaxPriorityFeePerGas: json.RawMessage(t.MaxPriorityFeePerGas.String()),
		Data:                 hexutil.Encode(t.Data),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return data, nil
}

func (t *Tx) Summary() chain.Summary {
	sum := chain.Summary{
		Chain:  chain.EVM,
		To:     t.To.Hex(),
		Amount: amount.FormatBig(t.Value, amount.WeiDecimals),
		Asset:  "ETH",
		Detail: fmt.Sprintf("chain %s, nonce %d, max fee %s wei", t.ChainID, t.Nonce, t.MaxFeePerGas),
	}

	// an ERC-20 transfer moves tokens, not ETH; show what the call data says
	if to, units, ok := decodeERC20Transfer(t.Data); ok {
		sum.To = to.Hex()
		sum.Amount = units.String()
		sum.Asset = t.To.Hex() // token contract
		sum.Detail += ", raw token units"
	}
	return sum
}

// Signed is a fully signed transaction ready for broadcast.
type Signed struct {
	raw     []byte
	hash    common.Hash
	chainID *big.Int
}

func (s *Signed) Chain() chain.ID { return chain.EVM }
func (s *Signed) Bytes() []byte   { return s.raw }

// Hash returns the transaction hash for receipt lookups.
func (s *Signed) Hash() string { return s.hash.Hex() }

// ChainID reports which network the signature commits to.
func (s *Signed) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// BuildTransfer creates an unsigned ETH transfer bound to the given nonce and
// fee snapshot.
func BuildTransfer(to, amountETH string, p BuildParams) (*Tx, error) {
	toAddr, err := parseAddress(to)
	if err != nil {
		return nil, err
	}

	value, err := amount.ParseBig(amountETH, amount.WeiDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", chain.ErrInvalidAmount)
	}

	gas := p.GasLimit
	if gas == 0 {
		gas = GasLimitTransfer
	}
	return newTx(toAddr, value, nil, gas, p)
}

// BuildTokenTransfer creates an unsigned ERC-20 transfer. The call data is
// encoded locally: selector plus recipient and amount, both left-padded to
// 32 bytes.
func BuildTokenTransfer(to, contract, amountTokens string, decimals uint8, p BuildParams) (*Tx, error) {
	toAddr, err := parseAddress(to)
	if err != nil {
		return nil, err
	}
	contractAddr, err := parseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("invalid token contract: %w", err)
	}

	units, err := amount.ParseBig(amountTokens, int(decimals))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", chain.ErrInvalidAmount)
	}

	data := make([]byte, 0, 4+32+32)
	data = append(data, erc20TransferSelector...)
	data = append(data, common.LeftPadBytes(toAddr.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(units.Bytes(), 32)...)

	gas := p.GasLimit
	if gas == 0 {
		gas = GasLimitTokenTransfer
	}
	return newTx(contractAddr, big.NewInt(0), data, gas, p)
}

func newTx(to common.Address, value *big.Int, data []byte, gas uint64, p BuildParams) (*Tx, error) {
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be set")
	}
	if p.BaseFee == nil || p.TipCap == nil {
		return nil, fmt.Errorf("fee snapshot must be set")
	}

	return &Tx{
		ChainID:              new(big.Int).Set(p.ChainID),
		Nonce:                p.Nonce,
		To:                   to,
		Value:                value,
		GasLimit:             gas,
		MaxFeePerGas:         MaxFeeForBlock(p.BaseFee, p.TipCap),
		MaxPriorityFeePerGas: new(big.Int).Set(p.TipCap),
		Data:                 data,
	}, nil
}

// Adapter implements chain.Adapter for EVM chains.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) ID() chain.ID { return chain.EVM }

// GenerateSecret returns a fresh secp256k1 scalar.
func (a *Adapter) GenerateSecret() ([]byte, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	defer key.Zero()
	return key.Serialize(), nil
}

// DecodeUnsigned parses the air-gap JSON back into a transaction. The summary
// shown to the user comes from the parsed fields, not from anything the
// online device claimed.
func (a *Adapter) DecodeUnsigned(payload []byte) (chain.UnsignedTx, error) {
	var w wireTx
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if w.Type != 2 {
		return nil, fmt.Errorf("unsupported transaction type %d", w.Type)
	}

	toAddr, err := parseAddress(w.To)
	if err != nil {
		return nil, err
	}
	chainID, err := parseBigField("chainId", w.ChainID)
	if err != nil {
		return nil, err
	}
	value, err := parseBigField("value", w.Value)
	if err != nil {
		return nil, err
	}
	maxFee, err := parseBigField("maxFeePerGas", w.MaxFeePerGas)
	if err != nil {
		return nil, err
	}
	tip, err := parseBigField("maxPriorityFeePerGas", w.MaxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}
	if chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if value.Sign() < 0 || maxFee.Sign() < 0 || tip.Sign() < 0 {
		return nil, fmt.Errorf("negative amount or fee")
	}
	if maxFee.Cmp(tip) < 0 {
		return nil, fmt.Errorf("max fee %s below priority fee %s", maxFee, tip)
	}

	var data []byte
	if w.Data != "" && w.Data != "0x" {
		data, err = hexutil.Decode(w.Data)
		if err != nil {
			return nil, fmt.Errorf("bad call data: %w", err)
		}
	}

	return &Tx{
		ChainID:              chainID,
		Nonce:                w.Nonce,
		To:                   toAddr,
		Value:                value,
		GasLimit:             w.Gas,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		Data:                 data,
	}, nil
}

// Sign signs the transaction with the secp256k1 scalar held in buf. The
// expanded key exists only for the duration of the call.
func (a *Adapter) Sign(utx chain.UnsignedTx, buf *securemem.Buffer) (chain.SignedTx, error) {
	t, ok := utx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("%w: wrong chain %q", chain.ErrSigning, utx.Chain())
	}

	key, err := ethcrypto.ToECDSA(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}
	defer zeroKey(key)

	to := t.To
	signedTx, err := types.SignNewTx(key, types.LatestSignerForChainID(t.ChainID), &types.DynamicFeeTx{
		ChainID:   t.ChainID,
		Nonce:     t.Nonce,
		GasTipCap: t.MaxPriorityFeePerGas,
		GasFeeCap: t.MaxFeePerGas,
		Gas:       t.GasLimit,
		To:        &to,
		Value:     t.Value,
		Data:      t.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}
	return &Signed{raw: raw, hash: signedTx.Hash(), chainID: new(big.Int).Set(t.ChainID)}, nil
}

// DeriveAddress returns the EIP-55 checksummed address for a raw scalar.
func (a *Adapter) DeriveAddress(secret []byte) (string, error) {
	key, err := ethcrypto.ToECDSA(secret)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	defer zeroKey(key)
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func (a *Adapter) ValidateAddress(address string) error {
	if _, err := parseAddress(address); err != nil {
		return err
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", chain.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// parseBigField reads a JSON integer that may exceed 64 bits. A quoted
// decimal string is accepted too.
func parseBigField(name string, raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing field %s", name)
	}
	s := strings.Trim(string(raw), `"`)
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad integer in field %s: %s", name, raw)
	}
	return n, nil
}

// decodeERC20Transfer recognizes transfer(address,uint256) call data.
func decodeERC20Transfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) != 4+32+32 || !bytes.Equal(data[:4], erc20TransferSelector) {
		return common.Address{}, nil, false
	}
	var to common.Address
	to.SetBytes(data[4+12 : 4+32])
	return to, new(big.Int).SetBytes(data[4+32:]), true
}

// zeroKey clears the scalar inside an ecdsa private key.
func zeroKey(k *ecdsa.PrivateKey) {
	if k == nil || k.D == nil {
		return
	}
	bits := k.D.Bits()
	for i := range bits {
		bits[i] = 0
	}
}
