package signer

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coldstar-labs/coldstar/airgap"
	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/chain/evm"
	"github.com/coldstar-labs/coldstar/chain/solana"
	"github.com/coldstar-labs/coldstar/internal/crypto"
	"github.com/coldstar-labs/coldstar/internal/securemem"
	"github.com/coldstar-labs/coldstar/internal/vault"
)

var testPassword = []byte("orbital-hamster-9000")

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := zerolog.Nop()
	return New(vault.NewStore(log), chain.NewRegistry(solana.NewAdapter(), evm.NewAdapter()), securemem.Permissive, log)
}

func walletPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wallet.json")
}

func solanaParams(t *testing.T) solana.BuildParams {
	t.Helper()
	return solana.BuildParams{
		// any 32-byte base58 string stands in for a blockhash offline
		Blockhash:            solanago.MustHashFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		LastValidBlockHeight: 1000,
	}
}

func evmParams() evm.BuildParams {
	return evm.BuildParams{
		ChainID: big.NewInt(evm.BaseMainnetChainID),
		Nonce:   1,
		BaseFee: big.NewInt(10_000_000_000),
		TipCap:  big.NewInt(1_000_000_000),
	}
}

func TestGenerateAndSignSolana(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)
	require.NoError(t, solana.NewAdapter().ValidateAddress(addr))

	to, err := solana.NewAdapter().DeriveAddress(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	tx, err := solana.BuildTransfer(addr, to, "0.5", solanaParams(t))
	require.NoError(t, err)
	env, err := airgap.NewUnsigned(tx)
	require.NoError(t, err)

	sum, err := o.DescribeEnvelope(env)
	require.NoError(t, err)
	require.Equal(t, to, sum.To)
	require.Equal(t, "0.500000000", sum.Amount)

	signedEnv, err := o.SignEnvelope(path, testPassword, env)
	require.NoError(t, err)
	require.Equal(t, airgap.TypeSigned, signedEnv.Type)

	raw, id, err := signedEnv.SignedBytes()
	require.NoError(t, err)
	require.Equal(t, chain.Solana, id)

	parsed, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(raw))
	require.NoError(t, err)
	require.NoError(t, parsed.VerifySignatures())
}

func TestGenerateAndSignEVM(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.EVM)
	require.NoError(t, err)
	require.NoError(t, evm.NewAdapter().ValidateAddress(addr))

	tx, err := evm.BuildTransfer("0x8ba1f109551bD432803012645Ac136ddd64DBA72", "0.01", evmParams())
	require.NoError(t, err)
	env, err := airgap.NewUnsigned(tx)
	require.NoError(t, err)

	signedEnv, err := o.SignEnvelope(path, testPassword, env)
	require.NoError(t, err)
	require.Equal(t, airgap.TypeSignedEVM, signedEnv.Type)

	raw, id, err := signedEnv.SignedBytes()
	require.NoError(t, err)
	require.Equal(t, chain.EVM, id)

	var parsed types.Transaction
	require.NoError(t, parsed.UnmarshalBinary(raw))

	// the recovered sender must be the wallet that signed
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(evm.BaseMainnetChainID)), &parsed)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(addr), sender)
}

func TestSignWrongPassword(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	to, err := solana.NewAdapter().DeriveAddress(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	tx, err := solana.BuildTransfer(addr, to, "1", solanaParams(t))
	require.NoError(t, err)
	env, err := airgap.NewUnsigned(tx)
	require.NoError(t, err)

	_, err = o.SignEnvelope(path, []byte("not the password"), env)
	require.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestSignRejectsForeignFeePayer(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	_, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	// transaction pays from a key this wallet does not hold
	stranger, err := solana.NewAdapter().DeriveAddress(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	to, err := solana.NewAdapter().DeriveAddress(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	tx, err := solana.BuildTransfer(stranger, to, "1", solanaParams(t))
	require.NoError(t, err)
	env, err := airgap.NewUnsigned(tx)
	require.NoError(t, err)

	_, err = o.SignEnvelope(path, testPassword, env)
	require.ErrorIs(t, err, chain.ErrSigning)
}

func TestSignChainMismatch(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	_, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	tx, err := evm.BuildTransfer("0x8ba1f109551bD432803012645Ac136ddd64DBA72", "1", evmParams())
	require.NoError(t, err)
	env, err := airgap.NewUnsigned(tx)
	require.NoError(t, err)

	_, err = o.SignEnvelope(path, testPassword, env)
	require.ErrorIs(t, err, ErrChainMismatch)
}

func TestTamperedAddressDetected(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	// swap the stored address for a different valid one
	other, err := solana.NewAdapter().DeriveAddress(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	require.NotEqual(t, addr, other)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["public_address"], err = json.Marshal(other)
	require.NoError(t, err)
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	err = o.VerifyPassword(path, testPassword)
	require.ErrorIs(t, err, vault.ErrCorrupt)
}

func TestGenerateRejectsWeakPassword(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	_, err := o.GenerateWallet(path, []byte("short"), chain.Solana)
	require.ErrorIs(t, err, ErrPasswordWeak)
	require.NoFileExists(t, path)
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	_, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	_, err = o.GenerateWallet(path, testPassword, chain.Solana)
	require.True(t, vault.IsFileExistsError(err))
}

func TestMnemonicRestoreRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	words, err := o.ExportMnemonic(path, testPassword)
	require.NoError(t, err)

	restored, err := o.RestoreFromMnemonic(walletPath(t), words, testPassword, chain.Solana)
	require.NoError(t, err)
	require.Equal(t, addr, restored)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)
	backupPassword := []byte("backup-pass-phrase")
	newPassword := []byte("fresh-wallet-pass")

	addr, err := o.GenerateWallet(path, testPassword, chain.EVM)
	require.NoError(t, err)

	data, err := o.ExportBackup(path, testPassword, backupPassword)
	require.NoError(t, err)

	restoredPath := walletPath(t)
	restored, err := o.RestoreFromBackup(restoredPath, data, backupPassword, newPassword)
	require.NoError(t, err)
	require.Equal(t, addr, restored)
	require.NoError(t, o.VerifyPassword(restoredPath, newPassword))

	_, err = o.RestoreFromBackup(walletPath(t), data, []byte("wrong"), newPassword)
	require.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestRotatePassword(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)
	newPassword := []byte("rotated-pass-phrase")

	_, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	require.ErrorIs(t, o.RotatePassword(path, testPassword, []byte("tiny")), ErrPasswordWeak)

	require.NoError(t, o.RotatePassword(path, testPassword, newPassword))
	require.NoError(t, o.VerifyPassword(path, newPassword))
	require.ErrorIs(t, o.VerifyPassword(path, testPassword), crypto.ErrAuthentication)
}

func TestPaperWalletExport(t *testing.T) {
	o := newTestOrchestrator(t)
	path := walletPath(t)

	addr, err := o.GenerateWallet(path, testPassword, chain.Solana)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, o.WritePaperWallet(path, testPassword, &buf))
	require.Contains(t, buf.String(), addr)
	require.Contains(t, buf.String(), "data:image/png;base64,")
}
