package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/coldstar-labs/coldstar/internal/securemem"
)

// FileExistsError is returned when a save would overwrite an existing wallet.
type FileExistsError struct {
	Path string
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("wallet file already exists: %s", e.Path)
}

// IsFileExistsError checks if error is FileExistsError
func IsFileExistsError(err error) bool {
	var fe *FileExistsError
	return errors.As(err, &fe)
}

// Store reads and writes container files. Writes are atomic (temp file +
// rename) so an interrupted save never leaves a half-written container.
type Store struct {
	log zerolog.Logger
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{log: log.With().Str("component", "vault").Logger()}
}

// Save writes a new container. It refuses to overwrite an existing non-empty
// file; rotation goes through Rotate which handles the backup.
func (s *Store) Save(path string, c *Container) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return &FileExistsError{Path: path}
	}

	if err := s.write(path, c); err != nil {
		return err
	}

	s.log.Info().Str("path", path).Str("chain", string(c.Chain)).Msg("container saved")
	return nil
}

// Load reads a container, normalizing legacy shapes, and validates it.
func (s *Store) Load(path string) (*Container, error) {
	data, err := s.read(path)
	if err != nil {
		return nil, err
	}

	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// ReadAddress returns the public address without decrypting anything.
func (s *Store) ReadAddress(path string) (string, error) {
	c, err := s.Load(path)
	if err != nil {
		return "", err
	}
	return c.PublicAddress, nil
}

// Exists reports whether a non-empty wallet file is present at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Rotate re-encrypts the container under a new password with a fresh salt and
// nonce. The previous file is kept as a timestamped backup; the new container
// replaces the original atomically.
func (s *Store) Rotate(path string, oldPassword, newPassword []byte) (*Container, error) {
	c, err := s.Load(path)
	if err != nil {
		return nil, err
	}

	secret, err := c.Decrypt(oldPassword)
	if err != nil {
		return nil, err
	}
	defer securemem.Zero(secret)

	rotated, err := New(secret, newPassword, c.Chain, c.PublicAddress)
	if err != nil {
		return nil, err
	}
	rotated.CreatedAt = c.CreatedAt

	backup := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
	orig, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container for backup: %w", err)
	}
	if err := os.WriteFile(backup, orig, 0600); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}

	if err := s.write(path, rotated); err != nil {
		return nil, err
	}

	s.log.Info().Str("path", path).Str("backup", backup).Msg("container rotated")
	return rotated, nil
}

// write marshals and writes atomically with owner-only permissions.
func (s *Store) write(path string, c *Container) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal container: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wallet-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move container into place: %w", err)
	}
	return nil
}

// read loads the raw file, distinguishing missing from corrupt, and strips a
// UTF-8 BOM some tools prepend.
func (s *Store) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorrupt)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	return data, nil
}
