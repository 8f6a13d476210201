package oramstore

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"math"
)

// EmptyBlockID marks a storage slot as empty/dummy.
const EmptyBlockID = math.MaxUint64

// idSize is the width of the block id field inside an encrypted record.
const idSize = 8

// Record is a single (id, payload) cell as seen by the engine.
// Payload is plaintext of exactly the adapter's block size.
type Record struct {
	ID      uint64
	Payload []byte
}

// CellWrite pairs a cell index with the record to store there.
type CellWrite struct {
	Cell   uint64
	Record Record
}

// Storage provides cell-level access to the ORAM tree.
//
// The adapter owns the encryption boundary: every Set seals the record with
// a fresh random IV, every Get opens it back to plaintext. Implementations
// may store cells in memory, in a file, or in a key-value store.
type Storage interface {
	// Get returns the record at the given cell.
	Get(cell uint64) (Record, error)

	// GetBatch returns the records for the given cells, preserving input
	// order. Backends without native batching read sequentially.
	GetBatch(cells []uint64) ([]Record, error)

	// Set stores a record at the given cell. Payloads shorter than the
	// block size are zero-padded; longer payloads are rejected.
	Set(cell uint64, rec Record) error

	// SetBatch applies all writes atomically with respect to other calls
	// on this adapter.
	SetBatch(writes []CellWrite) error

	// FillWithZeroes resets every cell to (EmptyBlockID, zero payload).
	FillWithZeroes() error

	// Capacity returns the number of cells.
	Capacity() uint64

	// BlockSize returns the payload size in bytes.
	BlockSize() int
}

// recordCodec seals and opens single-cell records.
//
// Stored layout: IV (one AES block, random per write) followed by the
// ciphertext of id (8 bytes little-endian) || payload, zero-padded to a
// multiple of the AES block size. An empty key disables encryption; the IV
// field is then present but zero-filled and the ciphertext region holds
// plaintext.
type recordCodec struct {
	key       []byte
	blockSize int
	plainSize int
}

func newRecordCodec(key []byte, blockSize int) (recordCodec, error) {
	if blockSize < 2*aes.BlockSize || blockSize%aes.BlockSize != 0 {
		return recordCodec{}, fmt.Errorf(
			"block size %d, need a multiple of %d and at least %d: %w",
			blockSize, aes.BlockSize, 2*aes.BlockSize, ErrSize)
	}
	if len(key) != 0 && len(key) != KeySize {
		return recordCodec{}, fmt.Errorf("key of %d bytes, need %d or empty: %w",
			len(key), KeySize, ErrSize)
	}
	plain := (idSize + blockSize + aes.BlockSize - 1) / aes.BlockSize * aes.BlockSize
	return recordCodec{key: key, blockSize: blockSize, plainSize: plain}, nil
}

// recordSize is the width of one stored cell: IV plus ciphertext.
func (c recordCodec) recordSize() int {
	return aes.BlockSize + c.plainSize
}

func (c recordCodec) seal(rec Record) ([]byte, error) {
	if len(rec.Payload) > c.blockSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds block size %d: %w",
			len(rec.Payload), c.blockSize, ErrSize)
	}

	plain := make([]byte, c.plainSize)
	binary.LittleEndian.PutUint64(plain[:idSize], rec.ID)
	copy(plain[idSize:], rec.Payload)

	raw := make([]byte, c.recordSize())
	if len(c.key) == 0 {
		copy(raw[aes.BlockSize:], plain)
		return raw, nil
	}

	iv := RandomBytes(aes.BlockSize)
	ciphertext, err := Crypt(c.key, iv, plain, ModeEncrypt)
	if err != nil {
		return nil, err
	}
	copy(raw, iv)
	copy(raw[aes.BlockSize:], ciphertext)
	return raw, nil
}

func (c recordCodec) open(raw []byte) (Record, error) {
	if len(raw) != c.recordSize() {
		return Record{}, fmt.Errorf("stored record of %d bytes, need %d: %w",
			len(raw), c.recordSize(), ErrSize)
	}

	plain := raw[aes.BlockSize:]
	if len(c.key) != 0 {
		var err error
		plain, err = Crypt(c.key, raw[:aes.BlockSize], plain, ModeDecrypt)
		if err != nil {
			return Record{}, err
		}
	}

	payload := make([]byte, c.blockSize)
	copy(payload, plain[idSize:idSize+c.blockSize])
	return Record{
		ID:      binary.LittleEndian.Uint64(plain[:idSize]),
		Payload: payload,
	}, nil
}

// emptyRaw returns the sealed form of an all-zero empty record.
func (c recordCodec) emptyRaw() ([]byte, error) {
	return c.seal(Record{ID: EmptyBlockID, Payload: make([]byte, c.blockSize)})
}

func checkCell(cell, capacity uint64) error {
	if cell >= capacity {
		return fmt.Errorf("cell %d out of bounds (capacity %d): %w", cell, capacity, ErrRange)
	}
	return nil
}

// zeroPayload reports whether b is all zero bytes.
func zeroPayload(b []byte) bool {
	return bytes.Count(b, []byte{0}) == len(b)
}
