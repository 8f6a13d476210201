package oramstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// KeySize is the AES key length in bytes (AES-256).
const KeySize = 32

// CipherMode selects the direction of a Crypt call.
type CipherMode int

const (
	ModeEncrypt CipherMode = iota
	ModeDecrypt
)

// Crypt runs AES-256-CBC over input in the given direction.
//
// key must be KeySize bytes, iv exactly one AES block, and input a positive
// multiple of the AES block size. The output has the same length as the
// input; the IV is not prepended.
func Crypt(key, iv, input []byte, mode CipherMode) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key of %d bytes, need %d: %w", len(key), KeySize, ErrCryptoArg)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV of %d bytes, need %d: %w", len(iv), aes.BlockSize, ErrCryptoArg)
	}
	if len(input) == 0 || len(input)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("input of %d bytes, need a positive multiple of %d: %w",
			len(input), aes.BlockSize, ErrCryptoArg)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", ErrCryptoArg)
	}

	output := make([]byte, len(input))
	if mode == ModeEncrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(output, input)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(output, input)
	}
	return output, nil
}

// Hash returns the SHA-256 digest of input.
func Hash(input []byte) []byte {
	digest := sha256.Sum256(input)
	return digest[:]
}

// HashToUint64 maps input to [0, max) by interpreting the first 8 digest
// bytes as a little-endian unsigned 64-bit integer mod max.
func HashToUint64(input []byte, max uint64) uint64 {
	if max == 0 {
		panic("oramstore: HashToUint64 with max 0")
	}
	return binary.LittleEndian.Uint64(Hash(input)[:8]) % max
}
