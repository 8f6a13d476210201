package oramstore

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"os"
)

// Entry is a plaintext (id, payload) pair, used by the stash and by bulk
// loading.
type Entry struct {
	ID      uint64
	Payload []byte
}

// Stash is a bounded client-side mapping from block id to plaintext payload.
type Stash interface {
	// Add stores or overwrites an entry. Adding a new id beyond the limit
	// fails with ErrStashFull.
	Add(id uint64, payload []byte) error

	// Update overwrites an entry in place, adding it if absent subject to
	// the limit.
	Update(id uint64, payload []byte) error

	// Remove drops an entry. Absent ids are a no-op.
	Remove(id uint64)

	// Get returns the payload for id and whether it is present.
	Get(id uint64) ([]byte, bool)

	// GetAll returns a snapshot of every entry in randomized order.
	GetAll() []Entry

	// Size returns the number of entries held.
	Size() int

	// Limit returns the maximum number of entries.
	Limit() int

	// StoreToFile writes all entries as fixed-width records.
	StoreToFile(path string) error

	// LoadFromFile replaces the contents with the records in the file.
	LoadFromFile(path string) error
}

// InMemoryStash keeps entries in a slice; GetAll hands them out in a
// shuffled order. Lookups scan every entry with constant-time selection so
// the position of a hit does not show up in timing.
type InMemoryStash struct {
	entries   []Entry
	limit     int
	blockSize int
}

// NewInMemoryStash creates a stash holding at most limit entries of
// blockSize bytes each.
func NewInMemoryStash(limit, blockSize int) *InMemoryStash {
	return &InMemoryStash{limit: limit, blockSize: blockSize}
}

func (s *InMemoryStash) index(id uint64) int {
	idx := -1
	for i := range s.entries {
		match := subtle.ConstantTimeEq(int32(1), int32(boolToInt(s.entries[i].ID == id)))
		idx = subtle.ConstantTimeSelect(match, i, idx)
	}
	return idx
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *InMemoryStash) Add(id uint64, payload []byte) error {
	if len(payload) != s.blockSize {
		return fmt.Errorf("payload of %d bytes, need %d: %w", len(payload), s.blockSize, ErrSize)
	}
	if idx := s.index(id); idx >= 0 {
		s.entries[idx].Payload = cloneBytes(payload)
		return nil
	}
	if len(s.entries) >= s.limit {
		return fmt.Errorf("stash holds %d entries, limit %d: %w", len(s.entries), s.limit, ErrStashFull)
	}
	s.entries = append(s.entries, Entry{ID: id, Payload: cloneBytes(payload)})
	return nil
}

func (s *InMemoryStash) Update(id uint64, payload []byte) error {
	return s.Add(id, payload)
}

func (s *InMemoryStash) Remove(id uint64) {
	if idx := s.index(id); idx >= 0 {
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	}
}

// Get scans the whole stash regardless of where (or whether) the id sits.
func (s *InMemoryStash) Get(id uint64) ([]byte, bool) {
	result := make([]byte, s.blockSize)
	found := 0
	for i := range s.entries {
		match := subtle.ConstantTimeEq(int32(1), int32(boolToInt(s.entries[i].ID == id)))
		subtle.ConstantTimeCopy(match, result, s.entries[i].Payload)
		found |= match
	}
	if found == 0 {
		return nil, false
	}
	return result, true
}

// GetAll returns a copy of every entry, shuffled so that callers iterating
// the snapshot do not observe insertion order.
func (s *InMemoryStash) GetAll() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{ID: e.ID, Payload: cloneBytes(e.Payload)}
	}
	for i := len(out) - 1; i > 0; i-- {
		j := RandomInt(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *InMemoryStash) Size() int {
	return len(s.entries)
}

func (s *InMemoryStash) Limit() int {
	return s.limit
}

// StoreToFile writes the entries as concatenated records of id (8 bytes
// little-endian) followed by the payload.
func (s *InMemoryStash) StoreToFile(path string) error {
	buf := make([]byte, 0, len(s.entries)*(idSize+s.blockSize))
	rec := make([]byte, idSize)
	for _, e := range s.entries {
		binary.LittleEndian.PutUint64(rec, e.ID)
		buf = append(buf, rec...)
		buf = append(buf, e.Payload...)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("write stash snapshot %s: %v: %w", path, err, ErrBackend)
	}
	return nil
}

// LoadFromFile replaces the stash contents with the snapshot in the file.
// The record width is fixed by the stash block size.
func (s *InMemoryStash) LoadFromFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read stash snapshot %s: %v: %w", path, err, ErrBackend)
	}
	recSize := idSize + s.blockSize
	if len(buf)%recSize != 0 {
		return fmt.Errorf("snapshot of %d bytes, need a multiple of %d: %w",
			len(buf), recSize, ErrSize)
	}
	count := len(buf) / recSize
	if count > s.limit {
		return fmt.Errorf("snapshot holds %d entries, limit %d: %w", count, s.limit, ErrStashFull)
	}
	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		rec := buf[i*recSize : (i+1)*recSize]
		entries[i] = Entry{
			ID:      binary.LittleEndian.Uint64(rec[:idSize]),
			Payload: cloneBytes(rec[idSize:]),
		}
	}
	s.entries = entries
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
