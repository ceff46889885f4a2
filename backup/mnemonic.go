// Package backup turns a wallet secret into recoverable artifacts: a BIP39
// mnemonic, an encrypted export file, or a printable paper wallet. Every
// artifact round-trips to the exact 32-byte secret, and none of them weakens
// the encryption the vault uses.
package backup

import (
	"fmt"
	"strings"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/coldstar-labs/coldstar/internal/vault"
)

// MnemonicWords is the phrase length for a 32-byte secret.
const MnemonicWords = 24

// MnemonicFromSecret encodes the raw secret as a BIP39 phrase. The secret is
// the entropy itself, so the phrase decodes back to the identical bytes; no
// derivation path sits in between.
func MnemonicFromSecret(secret []byte) (string, error) {
	if len(secret) != vault.SecretLen {
		return "", fmt.Errorf("secret must be %d bytes, got %d", vault.SecretLen, len(secret))
	}
	words, err := bip39.NewMnemonic(secret)
	if err != nil {
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}
	return words, nil
}

// SecretFromMnemonic decodes a 24-word phrase back into the 32-byte secret,
// validating the BIP39 checksum. Case and spacing are normalized first so a
// phrase typed from paper survives sloppy input.
func SecretFromMnemonic(words string) ([]byte, error) {
	fields := strings.Fields(strings.ToLower(words))
	if len(fields) != MnemonicWords {
		return nil, fmt.Errorf("expected %d words, got %d", MnemonicWords, len(fields))
	}

	secret, err := bip39.EntropyFromMnemonic(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return secret, nil
}
