package oramstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordCodecValidation(t *testing.T) {
	key := RandomBytes(KeySize)

	tests := []struct {
		name      string
		key       []byte
		blockSize int
		wantErr   bool
	}{
		{"valid keyed", key, 32, false},
		{"valid bypass", nil, 64, false},
		{"block too small", key, 16, true},
		{"block unaligned", key, 48 + 8, true},
		{"short key", RandomBytes(16), 32, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRecordCodec(tt.key, tt.blockSize)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSize)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInMemoryStorageStartsEmpty(t *testing.T) {
	s, err := NewInMemoryStorage(64, 32, RandomBytes(KeySize))
	require.NoError(t, err)

	for _, cell := range []uint64{0, 17, 63} {
		rec, err := s.Get(cell)
		require.NoError(t, err)
		assert.Equal(t, uint64(EmptyBlockID), rec.ID)
		assert.True(t, zeroPayload(rec.Payload))
		assert.Len(t, rec.Payload, 32)
	}
}

func TestInMemoryStorageRoundTrip(t *testing.T) {
	s, err := NewInMemoryStorage(16, 32, RandomBytes(KeySize))
	require.NoError(t, err)

	payload := RandomBytes(32)
	require.NoError(t, s.Set(3, Record{ID: 7, Payload: payload}))

	rec, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.ID)
	assert.Equal(t, payload, rec.Payload)

	// Short payloads come back zero padded.
	require.NoError(t, s.Set(4, Record{ID: 8, Payload: []byte("abc")}))
	rec, err = s.Get(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), rec.Payload[:3])
	assert.True(t, zeroPayload(rec.Payload[3:]))
}

func TestInMemoryStorageLastCellPadding(t *testing.T) {
	const capacity = 24
	s, err := NewInMemoryStorage(capacity, 32, RandomBytes(KeySize))
	require.NoError(t, err)

	require.NoError(t, s.Set(capacity-1, Record{ID: 5, Payload: []byte{0xa8}}))
	rec, err := s.Get(capacity - 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.ID)
	assert.Equal(t, byte(0xa8), rec.Payload[0])
	assert.True(t, zeroPayload(rec.Payload[1:]))
	assert.Len(t, rec.Payload, 32)
}

func TestInMemoryStorageErrors(t *testing.T) {
	s, err := NewInMemoryStorage(8, 32, nil)
	require.NoError(t, err)

	_, err = s.Get(8)
	assert.ErrorIs(t, err, ErrRange)

	err = s.Set(9, Record{ID: 1, Payload: make([]byte, 32)})
	assert.ErrorIs(t, err, ErrRange)

	err = s.Set(0, Record{ID: 1, Payload: make([]byte, 33)})
	assert.ErrorIs(t, err, ErrSize)
}

func TestInMemoryStorageBatchOrder(t *testing.T) {
	s, err := NewInMemoryStorage(16, 32, RandomBytes(KeySize))
	require.NoError(t, err)

	writes := []CellWrite{
		{Cell: 5, Record: Record{ID: 50, Payload: make([]byte, 32)}},
		{Cell: 1, Record: Record{ID: 10, Payload: make([]byte, 32)}},
		{Cell: 9, Record: Record{ID: 90, Payload: make([]byte, 32)}},
	}
	require.NoError(t, s.SetBatch(writes))

	records, err := s.GetBatch([]uint64{9, 5, 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(90), records[0].ID)
	assert.Equal(t, uint64(50), records[1].ID)
	assert.Equal(t, uint64(10), records[2].ID)
}

func TestInMemoryStorageFreshIVs(t *testing.T) {
	s, err := NewInMemoryStorage(4, 32, RandomBytes(KeySize))
	require.NoError(t, err)

	rec := Record{ID: 1, Payload: RandomBytes(32)}
	require.NoError(t, s.Set(0, rec))
	first := append([]byte(nil), s.cells[0]...)
	require.NoError(t, s.Set(0, rec))
	second := s.cells[0]

	// Same plaintext, different IV, different ciphertext.
	assert.False(t, bytes.Equal(first, second))
}

func TestInMemoryStorageBypassMode(t *testing.T) {
	s, err := NewInMemoryStorage(4, 32, nil)
	require.NoError(t, err)

	payload := RandomBytes(32)
	require.NoError(t, s.Set(2, Record{ID: 9, Payload: payload}))

	// Without a key the payload is stored as plaintext after the IV field.
	assert.True(t, bytes.Contains(s.cells[2], payload))
}

func TestFileStoragePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.bin")
	key := RandomBytes(KeySize)

	s, err := NewFileStorage(32, 32, key, path, true, nil)
	require.NoError(t, err)

	payload := RandomBytes(32)
	require.NoError(t, s.Set(11, Record{ID: 4, Payload: payload}))
	require.NoError(t, s.Close())

	reopened, err := NewFileStorage(32, 32, key, path, false, nil)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(11)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.ID)
	assert.Equal(t, payload, rec.Payload)

	rec, err = reopened.Get(12)
	require.NoError(t, err)
	assert.Equal(t, uint64(EmptyBlockID), rec.ID)
}

func TestFileStorageAttachValidation(t *testing.T) {
	dir := t.TempDir()
	key := RandomBytes(KeySize)

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileStorage(32, 32, key, filepath.Join(dir, "absent.bin"), false, nil)
		assert.ErrorIs(t, err, ErrBackend)
	})

	t.Run("wrong size", func(t *testing.T) {
		path := filepath.Join(dir, "short.bin")
		s, err := NewFileStorage(16, 32, key, path, true, nil)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		_, err = NewFileStorage(32, 32, key, path, false, nil)
		assert.ErrorIs(t, err, ErrBackend)
	})
}

func TestBadgerStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := RandomBytes(KeySize)

	s, err := NewBadgerStorage(32, 32, key, dir, true, nil)
	require.NoError(t, err)

	rec, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(EmptyBlockID), rec.ID)

	payload := RandomBytes(32)
	require.NoError(t, s.SetBatch([]CellWrite{
		{Cell: 2, Record: Record{ID: 20, Payload: payload}},
		{Cell: 30, Record: Record{ID: 21, Payload: payload}},
	}))

	records, err := s.GetBatch([]uint64{2, 30})
	require.NoError(t, err)
	assert.Equal(t, uint64(20), records[0].ID)
	assert.Equal(t, uint64(21), records[1].ID)
	assert.Equal(t, payload, records[0].Payload)

	_, err = s.Get(32)
	assert.ErrorIs(t, err, ErrRange)

	require.NoError(t, s.Close())
}

func TestBadgerStorageAttach(t *testing.T) {
	dir := t.TempDir()
	key := RandomBytes(KeySize)

	s, err := NewBadgerStorage(16, 32, key, dir, true, nil)
	require.NoError(t, err)
	payload := RandomBytes(32)
	require.NoError(t, s.Set(5, Record{ID: 1, Payload: payload}))
	require.NoError(t, s.Close())

	reopened, err := NewBadgerStorage(16, 32, key, dir, false, nil)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
	assert.Equal(t, payload, rec.Payload)
}

func TestBadgerStorageAttachMissingCells(t *testing.T) {
	dir := t.TempDir()
	key := RandomBytes(KeySize)

	s, err := NewBadgerStorage(8, 32, key, dir, true, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Asking for more cells than were written must fail.
	_, err = NewBadgerStorage(16, 32, key, dir, false, nil)
	assert.ErrorIs(t, err, ErrBackend)
}
