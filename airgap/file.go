package airgap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the envelope as indented JSON. File transfer has no size
// ceiling; it is the fallback when a payload outgrows a QR code.
func Save(env *Envelope, path string) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// Load reads and parses an envelope file.
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	return Decode(data)
}
