package airgap

import (
	"bytes"
	"encoding/base64"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/chain/evm"
	"github.com/coldstar-labs/coldstar/chain/solana"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

func solanaTestTx(t *testing.T) chain.UnsignedTx {
	t.Helper()
	a := solana.NewAdapter()

	from, err := a.DeriveAddress(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	to, err := a.DeriveAddress(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	tx, err := solana.BuildTransfer(from, to, "1.5", solana.BuildParams{
		// any 32-byte base58 string works as a hash stand-in offline
		Blockhash:            solanago.MustHashFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		LastValidBlockHeight: 1000,
	})
	require.NoError(t, err)
	return tx
}

func evmTestTx(t *testing.T) *evm.Tx {
	t.Helper()
	tx, err := evm.BuildTransfer("0x8ba1f109551bD432803012645Ac136ddd64DBA72", "0.25", evm.BuildParams{
		ChainID: big.NewInt(evm.BaseMainnetChainID),
		Nonce:   3,
		BaseFee: big.NewInt(10_000_000_000),
		TipCap:  big.NewInt(1_000_000_000),
	})
	require.NoError(t, err)
	return tx
}

func TestUnsignedSolanaRoundTrip(t *testing.T) {
	tx := solanaTestTx(t)

	env, err := NewUnsigned(tx)
	require.NoError(t, err)
	require.Equal(t, TypeUnsigned, env.Type)
	require.Equal(t, Version, env.Version)
	require.Empty(t, env.Chain)
	require.Zero(t, env.ChainID)

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	payload, id, err := decoded.UnsignedPayload()
	require.NoError(t, err)
	require.Equal(t, chain.Solana, id)

	// the payload must parse back into the same transfer
	parsed, err := solana.NewAdapter().DecodeUnsigned(payload)
	require.NoError(t, err)
	require.Equal(t, tx.Summary().To, parsed.Summary().To)
	require.Equal(t, tx.Summary().Amount, parsed.Summary().Amount)
	require.Equal(t, tx.Summary().Asset, parsed.Summary().Asset)
}

func TestUnsignedEVMRoundTrip(t *testing.T) {
	tx := evmTestTx(t)

	env, err := NewUnsigned(tx)
	require.NoError(t, err)
	require.Equal(t, TypeUnsignedEVM, env.Type)
	require.Equal(t, "base", env.Chain)
	require.Equal(t, uint64(evm.BaseMainnetChainID), env.ChainID)
	require.Contains(t, env.Data, `"type":2`)

	data, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	payload, id, err := decoded.UnsignedPayload()
	require.NoError(t, err)
	require.Equal(t, chain.EVM, id)

	parsed, err := evm.NewAdapter().DecodeUnsigned(payload)
	require.NoError(t, err)
	require.Equal(t, tx.Value, parsed.(*evm.Tx).Value)
	require.Equal(t, tx.Nonce, parsed.(*evm.Tx).Nonce)
}

func TestSignedEVMEnvelope(t *testing.T) {
	a := evm.NewAdapter()
	tx := evmTestTx(t)

	var signed chain.SignedTx
	secret := hexutil.MustDecode("0x289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032")
	err := securemem.WithSecret(secret, securemem.Permissive, func(buf *securemem.Buffer) error {
		var err error
		signed, err = a.Sign(tx, buf)
		return err
	})
	require.NoError(t, err)

	env, err := NewSigned(signed)
	require.NoError(t, err)
	require.Equal(t, TypeSignedEVM, env.Type)
	require.Equal(t, "base", env.Chain)
	require.Equal(t, uint64(evm.BaseMainnetChainID), env.ChainID)
	require.True(t, strings.HasPrefix(env.Data, "0x"))

	raw, id, err := env.SignedBytes()
	require.NoError(t, err)
	require.Equal(t, chain.EVM, id)
	require.Equal(t, signed.Bytes(), raw)
}

func TestSignedSolanaEnvelope(t *testing.T) {
	wire := []byte("opaque signed transaction bytes")
	env := &Envelope{
		Type:    TypeSigned,
		Version: Version,
		Data:    base64.StdEncoding.EncodeToString(wire),
	}

	raw, id, err := env.SignedBytes()
	require.NoError(t, err)
	require.Equal(t, chain.Solana, id)
	require.Equal(t, wire, raw)
}

func TestDecodeBase64Fallback(t *testing.T) {
	env, err := NewUnsigned(evmTestTx(t))
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)

	wrapped := base64.StdEncoding.EncodeToString(data)
	decoded, err := Decode([]byte(wrapped))
	require.NoError(t, err)
	require.Equal(t, env.Type, decoded.Type)
	require.Equal(t, env.Data, decoded.Data)
}

func TestDecodeToleratesWhitespaceAndBOM(t *testing.T) {
	env, err := NewUnsigned(evmTestTx(t))
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)

	noisy := append([]byte{0xEF, 0xBB, 0xBF}, data...)
	noisy = append(noisy, '\n', '\n')
	decoded, err := Decode(noisy)
	require.NoError(t, err)
	require.Equal(t, env.Type, decoded.Type)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode([]byte("definitely not an envelope"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"type":"mystery_blob","version":"1.0","data":"aGk="}`))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Decode([]byte(`{"type":"unsigned_transaction","version":"1.0","data":""}`))
	require.ErrorIs(t, err, ErrMalformed)

	// valid base64 whose contents still are not an envelope
	_, err = Decode([]byte(base64.StdEncoding.EncodeToString([]byte("junk inside"))))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPayloadAccessorsCheckKind(t *testing.T) {
	signed := &Envelope{Type: TypeSigned, Version: Version, Data: "aGk="}
	_, _, err := signed.UnsignedPayload()
	require.ErrorIs(t, err, ErrUnsupportedType)

	unsigned := &Envelope{Type: TypeUnsigned, Version: Version, Data: "aGk="}
	_, _, err = unsigned.SignedBytes()
	require.ErrorIs(t, err, ErrUnsupportedType)

	bad := &Envelope{Type: TypeUnsigned, Version: Version, Data: "not base64!!!"}
	_, _, err = bad.UnsignedPayload()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestQRRendering(t *testing.T) {
	env, err := NewUnsigned(evmTestTx(t))
	require.NoError(t, err)

	png, err := env.QRPNG(256)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	require.Equal(t, "\x89PNG", string(png[:4]))

	art, err := env.TerminalQR()
	require.NoError(t, err)
	require.NotEmpty(t, art)

	path := filepath.Join(t.TempDir(), "tx.png")
	require.NoError(t, env.WriteQRPNG(path, 0))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestQRCapacityCeiling(t *testing.T) {
	env := &Envelope{
		Type:    TypeUnsigned,
		Version: Version,
		Data:    strings.Repeat("A", QRCapacity+1),
	}

	_, err := env.QRPNG(256)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Greater(t, capErr.Size, QRCapacity)
	require.Equal(t, QRCapacity, capErr.Limit)

	_, err = env.TerminalQR()
	require.ErrorAs(t, err, &capErr)

	// file transfer has no such ceiling
	path := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, Save(env, path))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, env.Data, loaded.Data)
}

func TestSaveLoad(t *testing.T) {
	env, err := NewUnsigned(solanaTestTx(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "outbox", "unsigned_tx.json")
	require.NoError(t, Save(env, path))

	// files are written indented for humans moving them by hand
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "\n  \"type\"")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, env, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
