package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/vault"
)

// TypeEncryptedBackup tags export files apart from live wallet containers.
const TypeEncryptedBackup = "encrypted_backup"

var ErrNotBackup = errors.New("not an encrypted backup file")

// ExportEncrypted seals the secret into a portable backup file: the same
// Argon2id + AES-256-GCM container the vault writes, plus a type tag. There
// is no unencrypted export path.
func ExportEncrypted(secret, password []byte, chainID chain.ID, address string) ([]byte, error) {
	c, err := vault.New(secret, password, chainID, address)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize backup: %w", err)
	}

	// splice the tag in next to the container fields
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to serialize backup: %w", err)
	}
	fields["type"] = json.RawMessage(`"` + TypeEncryptedBackup + `"`)

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize backup: %w", err)
	}
	return out, nil
}

// ImportEncrypted decrypts a file produced by ExportEncrypted and returns the
// raw secret along with the chain and address recorded at export time. The
// caller owns the secret and must wipe it.
func ImportEncrypted(data, password []byte) ([]byte, chain.ID, string, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ErrNotBackup, err)
	}
	if tag.Type != TypeEncryptedBackup {
		return nil, "", "", fmt.Errorf("%w: type %q", ErrNotBackup, tag.Type)
	}

	var c vault.Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, "", "", fmt.Errorf("failed to parse backup: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, "", "", err
	}

	secret, err := c.Decrypt(password)
	if err != nil {
		return nil, "", "", err
	}
	return secret, c.Chain, c.PublicAddress, nil
}
