package oramstore

import (
	"bytes"
	"fmt"
	"os"
)

// FromText pads text with zero bytes to a payload of exactly blockSize.
// Text longer than the block is rejected.
func FromText(text string, blockSize int) ([]byte, error) {
	if len(text) > blockSize {
		return nil, fmt.Errorf("text of %d bytes exceeds block size %d: %w",
			len(text), blockSize, ErrSize)
	}
	payload := make([]byte, blockSize)
	copy(payload, text)
	return payload, nil
}

// ToText strips the zero padding from a payload produced by FromText.
func ToText(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		return string(payload[:i])
	}
	return string(payload)
}

// SaveKey writes an AES key to path. Reloading it with LoadKey lets a
// later process attach to storage written under the same key.
func SaveKey(path string, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("key of %d bytes, need %d: %w", len(key), KeySize, ErrSize)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("write key file %s: %v: %w", path, err, ErrBackend)
	}
	return nil
}

// LoadKey reads an AES key previously written with SaveKey.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %v: %w", path, err, ErrBackend)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, need %d: %w",
			path, len(key), KeySize, ErrSize)
	}
	return key, nil
}

// NewKey returns a fresh random AES key.
func NewKey() []byte {
	return RandomBytes(KeySize)
}
