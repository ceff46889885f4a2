package evm

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

const (
	// key pair lifted from go-ethereum's own crypto tests
	testPrivHex = "0x289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	testAddrHex = "0x970e8128ab834e8eac17ab8e3812f010678cf791"

	testRecipient = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	testContract  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" // USDC on Base
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func testParams() BuildParams {
	return BuildParams{
		ChainID: big.NewInt(BaseMainnetChainID),
		Nonce:   7,
		BaseFee: gwei(10),
		TipCap:  gwei(1),
	}
}

func TestMaxFeeForBlock(t *testing.T) {
	require.Equal(t, gwei(21), MaxFeeForBlock(gwei(10), gwei(1)))
	require.Equal(t, big.NewInt(1), MaxFeeForBlock(big.NewInt(0), big.NewInt(1)))
}

func TestGenerateSecret(t *testing.T) {
	a := NewAdapter()

	first, err := a.GenerateSecret()
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := a.GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// a generated secret must derive a usable address
	addr, err := a.DeriveAddress(first)
	require.NoError(t, err)
	require.NoError(t, a.ValidateAddress(addr))
}

func TestDeriveAddress(t *testing.T) {
	a := NewAdapter()

	addr, err := a.DeriveAddress(hexutil.MustDecode(testPrivHex))
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testAddrHex), common.HexToAddress(addr))

	_, err = a.DeriveAddress([]byte("short"))
	require.Error(t, err)

	_, err = a.DeriveAddress(make([]byte, 32)) // zero scalar is not a key
	require.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	a := NewAdapter()

	require.NoError(t, a.ValidateAddress(testRecipient))
	require.NoError(t, a.ValidateAddress(strings.ToLower(testRecipient)))

	for _, bad := range []string{
		"",
		"8ba1f109551bD432803012645Ac136ddd64DBA72",   // no 0x
		"0x8ba1f109551bD432803012645Ac136ddd64DBA",   // too short
		"0xZZa1f109551bD432803012645Ac136ddd64DBA72", // bad hex
		"not-an-address",
	} {
		require.ErrorIs(t, a.ValidateAddress(bad), chain.ErrInvalidAddress, "address %q", bad)
	}
}

func TestBuildTransfer(t *testing.T) {
	tx, err := BuildTransfer(testRecipient, "1.5", testParams())
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	require.Equal(t, want, tx.Value)
	require.Equal(t, common.HexToAddress(testRecipient), tx.To)
	require.Equal(t, uint64(GasLimitTransfer), tx.GasLimit)
	require.Equal(t, uint64(7), tx.Nonce)
	require.Equal(t, gwei(21), tx.MaxFeePerGas)
	require.Equal(t, gwei(1), tx.MaxPriorityFeePerGas)
	require.Empty(t, tx.Data)

	sum := tx.Summary()
	require.Equal(t, chain.EVM, sum.Chain)
	require.Equal(t, "1.500000000000000000", sum.Amount)
	require.Equal(t, "ETH", sum.Asset)
}

func TestBuildTransferRejectsBadInput(t *testing.T) {
	p := testParams()

	for _, amt := range []string{"0", "0.0", "-1", "abc", ""} {
		_, err := BuildTransfer(testRecipient, amt, p)
		require.ErrorIs(t, err, chain.ErrInvalidAmount, "amount %q", amt)
	}

	_, err := BuildTransfer("nonsense", "1", p)
	require.ErrorIs(t, err, chain.ErrInvalidAddress)

	_, err = BuildTransfer(testRecipient, "1", BuildParams{BaseFee: gwei(1), TipCap: gwei(1)})
	require.Error(t, err) // missing chain id

	_, err = BuildTransfer(testRecipient, "1", BuildParams{ChainID: big.NewInt(BaseMainnetChainID)})
	require.Error(t, err) // missing fee snapshot
}

func TestBuildTokenTransfer(t *testing.T) {
	tx, err := BuildTokenTransfer(testRecipient, testContract, "12.5", 6, testParams())
	require.NoError(t, err)

	// the tx itself targets the contract and moves no ETH
	require.Equal(t, common.HexToAddress(testContract), tx.To)
	require.Zero(t, tx.Value.Sign())
	require.Equal(t, uint64(GasLimitTokenTransfer), tx.GasLimit)

	// selector + padded recipient + padded amount
	require.Len(t, tx.Data, 68)
	require.Equal(t, erc20TransferSelector, tx.Data[:4])

	to, units, ok := decodeERC20Transfer(tx.Data)
	require.True(t, ok)
	require.Equal(t, common.HexToAddress(testRecipient), to)
	require.Equal(t, big.NewInt(12_500_000), units)

	sum := tx.Summary()
	require.Equal(t, common.HexToAddress(testRecipient).Hex(), sum.To)
	require.Equal(t, "12500000", sum.Amount)
	require.Equal(t, common.HexToAddress(testContract).Hex(), sum.Asset)
}

func TestPayloadRoundTrip(t *testing.T) {
	tx, err := BuildTransfer(testRecipient, "1.5", testParams())
	require.NoError(t, err)

	payload, err := tx.Payload()
	require.NoError(t, err)

	// integers ride as bare JSON numbers, not floats or strings
	require.Contains(t, string(payload), `"type":2`)
	require.Contains(t, string(payload), `"chainId":8453`)
	require.Contains(t, string(payload), `"value":1500000000000000000`)
	require.Contains(t, string(payload), `"data":"0x"`)

	decoded, err := NewAdapter().DecodeUnsigned(payload)
	require.NoError(t, err)

	got := decoded.(*Tx)
	require.Equal(t, tx.ChainID, got.ChainID)
	require.Equal(t, tx.Nonce, got.Nonce)
	require.Equal(t, tx.To, got.To)
	require.Equal(t, tx.Value, got.Value)
	require.Equal(t, tx.GasLimit, got.GasLimit)
	require.Equal(t, tx.MaxFeePerGas, got.MaxFeePerGas)
	require.Equal(t, tx.MaxPriorityFeePerGas, got.MaxPriorityFeePerGas)
	require.Empty(t, got.Data)
}

func TestPayloadPreservesHugeValues(t *testing.T) {
	// more wei than float64 can hold exactly
	tx, err := BuildTransfer(testRecipient, "123.456789012345678901", testParams())
	require.NoError(t, err)

	payload, err := tx.Payload()
	require.NoError(t, err)
	require.Contains(t, string(payload), `"value":123456789012345678901`)

	decoded, err := NewAdapter().DecodeUnsigned(payload)
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("123456789012345678901", 10)
	require.Equal(t, want, decoded.(*Tx).Value)
}

func TestDecodeUnsignedRejectsBadPayloads(t *testing.T) {
	a := NewAdapter()

	cases := map[string]string{
		"garbage":        `not json`,
		"wrong type":     `{"type":0,"chainId":8453,"nonce":0,"to":"` + testRecipient + `","value":1,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0x"}`,
		"bad address":    `{"type":2,"chainId":8453,"nonce":0,"to":"xyz","value":1,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0x"}`,
		"missing chain":  `{"type":2,"nonce":0,"to":"` + testRecipient + `","value":1,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0x"}`,
		"negative value": `{"type":2,"chainId":8453,"nonce":0,"to":"` + testRecipient + `","value":-5,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0x"}`,
		"fee below tip":  `{"type":2,"chainId":8453,"nonce":0,"to":"` + testRecipient + `","value":1,"gas":21000,"maxFeePerGas":1,"maxPriorityFeePerGas":2,"data":"0x"}`,
		"float value":    `{"type":2,"chainId":8453,"nonce":0,"to":"` + testRecipient + `","value":1.5e18,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0x"}`,
		"bad call data":  `{"type":2,"chainId":8453,"nonce":0,"to":"` + testRecipient + `","value":1,"gas":21000,"maxFeePerGas":2,"maxPriorityFeePerGas":1,"data":"0xzz"}`,
	}
	for name, payload := range cases {
		_, err := a.DecodeUnsigned([]byte(payload))
		require.Error(t, err, name)
	}
}

func TestSignProducesValidSignature(t *testing.T) {
	a := NewAdapter()
	secret := hexutil.MustDecode(testPrivHex)

	tx, err := BuildTransfer(testRecipient, "0.25", testParams())
	require.NoError(t, err)

	var raw []byte
	err = securemem.WithSecret(append([]byte(nil), secret...), securemem.Permissive, func(buf *securemem.Buffer) error {
		signed, err := a.Sign(tx, buf)
		if err != nil {
			return err
		}
		raw = signed.Bytes()
		require.Len(t, signed.(*Signed).Hash(), 66)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	var parsed types.Transaction
	require.NoError(t, parsed.UnmarshalBinary(raw))
	require.Equal(t, uint8(types.DynamicFeeTxType), parsed.Type())
	require.Equal(t, big.NewInt(BaseMainnetChainID), parsed.ChainId())
	require.Equal(t, tx.Value, parsed.Value())

	// the recovered sender proves the signature matches our key
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainID), &parsed)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testAddrHex), sender)
}

func TestSignRejectsBadKeys(t *testing.T) {
	a := NewAdapter()

	tx, err := BuildTransfer(testRecipient, "1", testParams())
	require.NoError(t, err)

	err = securemem.WithSecret([]byte("too short"), securemem.Permissive, func(buf *securemem.Buffer) error {
		_, err := a.Sign(tx, buf)
		return err
	})
	require.ErrorIs(t, err, chain.ErrSigning)

	err = securemem.WithSecret(make([]byte, 32), securemem.Permissive, func(buf *securemem.Buffer) error {
		_, err := a.Sign(tx, buf)
		return err
	})
	require.ErrorIs(t, err, chain.ErrSigning)
}
