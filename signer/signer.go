// Package signer orchestrates the signing state machine: load container,
// take password, decrypt, sign inside a locked-memory scope, wipe. The
// decrypted secret never leaves this package except through a chain adapter
// call, and the wipe transition is structural; no error path can skip it.
package signer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coldstar-labs/coldstar/airgap"
	"github.com/coldstar-labs/coldstar/backup"
	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/securemem"
	"github.com/coldstar-labs/coldstar/internal/vault"
)

// MinPasswordLen applies when a wallet is created or re-encrypted. Unlocking
// has no minimum so older wallets stay readable.
const MinPasswordLen = 8

var (
	ErrChainMismatch = errors.New("transaction chain does not match wallet chain")
	ErrPasswordWeak  = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

// Orchestrator runs one wallet operation at a time. The mutex keeps two
// signing calls from ever holding decrypted key material concurrently.
type Orchestrator struct {
	store    *vault.Store
	registry chain.Registry
	mode     securemem.Mode
	log      zerolog.Logger

	mu sync.Mutex
}

func New(store *vault.Store, registry chain.Registry, mode securemem.Mode, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		mode:     mode,
		log:      log.With().Str("component", "signer").Logger(),
	}
}

// DescribeEnvelope parses an unsigned envelope and returns the transfer
// summary for user confirmation. No key material is touched; the summary
// comes from the payload bytes, not from envelope metadata.
func (o *Orchestrator) DescribeEnvelope(env *airgap.Envelope) (chain.Summary, error) {
	payload, chainID, err := env.UnsignedPayload()
	if err != nil {
		return chain.Summary{}, err
	}
	adapter, err := o.registry.Lookup(chainID)
	if err != nil {
		return chain.Summary{}, err
	}
	tx, err := adapter.DecodeUnsigned(payload)
	if err != nil {
		return chain.Summary{}, err
	}
	return tx.Summary(), nil
}

// SignEnvelope runs the full signing state machine against the wallet at
// path and returns the signed envelope for transfer back to the online
// device. A wrong password and a tampered container are indistinguishable;
// both surface crypto.ErrAuthentication.
func (o *Orchestrator) SignEnvelope(path string, password []byte, env *airgap.Envelope) (*airgap.Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := o.log.With().Str("op", uuid.NewString()).Str("wallet", path).Logger()

	container, err := o.store.Load(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("state", "container_loaded").Str("chain", string(container.Chain)).Msg("wallet loaded")

	payload, chainID, err := env.UnsignedPayload()
	if err != nil {
		return nil, err
	}
	if chainID != container.Chain {
		return nil, fmt.Errorf("%w: wallet holds a %s key, transaction is for %s",
			ErrChainMismatch, container.Chain, chainID)
	}

	adapter, err := o.registry.Lookup(container.Chain)
	if err != nil {
		return nil, err
	}
	tx, err := adapter.DecodeUnsigned(payload)
	if err != nil {
		return nil, err
	}

	secret, err := container.Decrypt(password)
	if err != nil {
		log.Warn().Str("state", "failed").Msg("decryption failed")
		return nil, err
	}
	log.Info().Str("state", "key_decrypted").Msg("container decrypted")

	var signed chain.SignedTx
	err = securemem.WithSecret(secret, o.mode, func(buf *securemem.Buffer) error {
		if buf.Len() != vault.SecretLen {
			return fmt.Errorf("%w: unexpected secret length %d", vault.ErrCorrupt, buf.Len())
		}

		// the stored address must re-derive from the secret, or the
		// container has been tampered with
		derived, err := adapter.DeriveAddress(buf.Bytes())
		if err != nil {
			return fmt.Errorf("%w: %v", vault.ErrCorrupt, err)
		}
		if !addressesMatch(container.Chain, derived, container.PublicAddress) {
			return fmt.Errorf("%w: stored address does not match key", vault.ErrCorrupt)
		}

		log.Info().Str("state", "signing").Msg("signing transaction")
		signed, err = adapter.Sign(tx, buf)
		return err
	})
	log.Info().Str("state", "key_wiped").Msg("key material wiped")
	if err != nil {
		log.Warn().Str("state", "failed").Msg("signing failed")
		return nil, err
	}

	out, err := airgap.NewSigned(signed)
	if err != nil {
		return nil, err
	}
	log.Info().Str("state", "signed").Int("bytes", len(signed.Bytes())).Msg("transaction signed")
	return out, nil
}

// GenerateWallet creates a fresh secret for the chain, encrypts it under
// password, and writes the container to path. Returns the public address.
func (o *Orchestrator) GenerateWallet(path string, password []byte, chainID chain.ID) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	adapter, err := o.registry.Lookup(chainID)
	if err != nil {
		return "", err
	}
	secret, err := adapter.GenerateSecret()
	if err != nil {
		return "", err
	}
	return o.createWallet(path, secret, password, adapter, "")
}

// RestoreFromMnemonic rebuilds the wallet from a 24-word phrase.
func (o *Orchestrator) RestoreFromMnemonic(path, words string, password []byte, chainID chain.ID) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	adapter, err := o.registry.Lookup(chainID)
	if err != nil {
		return "", err
	}
	secret, err := backup.SecretFromMnemonic(words)
	if err != nil {
		return "", err
	}
	return o.createWallet(path, secret, password, adapter, "")
}

// RestoreFromBackup rebuilds the wallet from an encrypted export file. The
// backup password unlocks the export; newPassword protects the new wallet.
func (o *Orchestrator) RestoreFromBackup(path string, backupData, backupPassword, newPassword []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	secret, chainID, recorded, err := backup.ImportEncrypted(backupData, backupPassword)
	if err != nil {
		return "", err
	}
	adapter, err := o.registry.Lookup(chainID)
	if err != nil {
		securemem.Zero(secret)
		return "", err
	}
	return o.createWallet(path, secret, newPassword, adapter, recorded)
}

// createWallet takes ownership of secret and wipes it on every path. When
// expected is non-empty, the derived address must match it or nothing is
// written.
func (o *Orchestrator) createWallet(path string, secret, password []byte, adapter chain.Adapter, expected string) (string, error) {
	if len(password) < MinPasswordLen {
		securemem.Zero(secret)
		return "", ErrPasswordWeak
	}

	var address string
	err := securemem.WithSecret(secret, o.mode, func(buf *securemem.Buffer) error {
		derived, err := adapter.DeriveAddress(buf.Bytes())
		if err != nil {
			return err
		}
		if expected != "" && !addressesMatch(adapter.ID(), derived, expected) {
			return errors.New("backup corrupted: address does not match key")
		}
		address = derived

		container, err := vault.New(buf.Bytes(), password, adapter.ID(), derived)
		if err != nil {
			return err
		}
		return o.store.Save(path, container)
	})
	if err != nil {
		return "", err
	}

	o.log.Info().Str("wallet", path).Str("chain", string(adapter.ID())).
		Str("address", address).Msg("wallet created")
	return address, nil
}

// ExportMnemonic decrypts the wallet and encodes its secret as a 24-word
// phrase. The phrase IS the key; the caller shows it once and discards it.
func (o *Orchestrator) ExportMnemonic(path string, password []byte) (string, error) {
	var words string
	err := o.withWalletSecret(path, password, func(buf *securemem.Buffer, _ *vault.Container) error {
		var err error
		words, err = backup.MnemonicFromSecret(buf.Bytes())
		return err
	})
	return words, err
}

// ExportBackup produces an encrypted export file for the wallet. The wallet
// password unlocks the container; backupPassword protects the export.
func (o *Orchestrator) ExportBackup(path string, password, backupPassword []byte) ([]byte, error) {
	if len(backupPassword) < MinPasswordLen {
		return nil, ErrPasswordWeak
	}

	var data []byte
	err := o.withWalletSecret(path, password, func(buf *securemem.Buffer, c *vault.Container) error {
		var err error
		data, err = backup.ExportEncrypted(buf.Bytes(), backupPassword, c.Chain, c.PublicAddress)
		return err
	})
	return data, err
}

// WritePaperWallet renders the printable paper wallet to w.
func (o *Orchestrator) WritePaperWallet(path string, password []byte, w io.Writer) error {
	return o.withWalletSecret(path, password, func(buf *securemem.Buffer, c *vault.Container) error {
		return backup.PaperWallet(w, c.Chain, c.PublicAddress, buf.Bytes())
	})
}

// withWalletSecret loads, decrypts, integrity-checks, and hands the secret
// to fn inside a locked scope. The wipe runs on every exit path.
func (o *Orchestrator) withWalletSecret(path string, password []byte, fn func(*securemem.Buffer, *vault.Container) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	container, err := o.store.Load(path)
	if err != nil {
		return err
	}
	adapter, err := o.registry.Lookup(container.Chain)
	if err != nil {
		return err
	}

	secret, err := container.Decrypt(password)
	if err != nil {
		return err
	}
	return securemem.WithSecret(secret, o.mode, func(buf *securemem.Buffer) error {
		derived, err := adapter.DeriveAddress(buf.Bytes())
		if err != nil {
			return fmt.Errorf("%w: %v", vault.ErrCorrupt, err)
		}
		if !addressesMatch(container.Chain, derived, container.PublicAddress) {
			return fmt.Errorf("%w: stored address does not match key", vault.ErrCorrupt)
		}
		return fn(buf, container)
	})
}

// RotatePassword re-encrypts the container under a new password, keeping the
// previous file as a timestamped backup.
func (o *Orchestrator) RotatePassword(path string, oldPassword, newPassword []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(newPassword) < MinPasswordLen {
		return ErrPasswordWeak
	}
	if _, err := o.store.Rotate(path, oldPassword, newPassword); err != nil {
		return err
	}
	o.log.Info().Str("wallet", path).Msg("password rotated")
	return nil
}

// VerifyPassword decrypts the container and re-derives the address, proving
// both the password and the container's integrity. The secret is wiped
// before returning.
func (o *Orchestrator) VerifyPassword(path string, password []byte) error {
	return o.withWalletSecret(path, password, func(*securemem.Buffer, *vault.Container) error {
		return nil
	})
}

// addressesMatch compares case-insensitively for EVM, where checksum casing
// varies between tools. Base58 is case-sensitive and compared exactly.
func addressesMatch(id chain.ID, a, b string) bool {
	if id == chain.EVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}
