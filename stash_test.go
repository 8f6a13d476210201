package oramstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStashAddGetRemove(t *testing.T) {
	s := NewInMemoryStash(10, 32)

	payload := RandomBytes(32)
	require.NoError(t, s.Add(5, payload))
	assert.Equal(t, 1, s.Size())

	got, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok = s.Get(6)
	assert.False(t, ok)

	s.Remove(5)
	assert.Equal(t, 0, s.Size())
	_, ok = s.Get(5)
	assert.False(t, ok)

	// Removing an absent id is a no-op.
	s.Remove(5)
	assert.Equal(t, 0, s.Size())
}

func TestStashAddOverwrites(t *testing.T) {
	s := NewInMemoryStash(2, 32)

	first := RandomBytes(32)
	second := RandomBytes(32)
	require.NoError(t, s.Add(1, first))
	require.NoError(t, s.Add(1, second))
	assert.Equal(t, 1, s.Size())

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestStashLimit(t *testing.T) {
	s := NewInMemoryStash(2, 32)

	require.NoError(t, s.Add(1, make([]byte, 32)))
	require.NoError(t, s.Add(2, make([]byte, 32)))

	err := s.Add(3, make([]byte, 32))
	assert.ErrorIs(t, err, ErrStashFull)

	// Overwriting an existing id at the limit is still allowed.
	require.NoError(t, s.Update(2, RandomBytes(32)))
}

func TestStashPayloadSize(t *testing.T) {
	s := NewInMemoryStash(4, 32)
	err := s.Add(1, make([]byte, 16))
	assert.ErrorIs(t, err, ErrSize)
}

func TestStashGetAll(t *testing.T) {
	s := NewInMemoryStash(10, 32)
	want := map[uint64][]byte{}
	for id := uint64(0); id < 6; id++ {
		payload := RandomBytes(32)
		want[id] = payload
		require.NoError(t, s.Add(id, payload))
	}

	entries := s.GetAll()
	require.Len(t, entries, 6)
	got := map[uint64][]byte{}
	for _, e := range entries {
		got[e.ID] = e.Payload
	}
	assert.Equal(t, want, got)

	// The snapshot is a copy; mutating it must not reach the stash.
	entries[0].Payload[0] ^= 0xff
	stored, ok := s.Get(entries[0].ID)
	require.True(t, ok)
	assert.Equal(t, want[entries[0].ID], stored)
}

func TestStashSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stash.bin")

	s := NewInMemoryStash(10, 32)
	want := map[uint64][]byte{}
	for id := uint64(100); id < 105; id++ {
		payload := RandomBytes(32)
		want[id] = payload
		require.NoError(t, s.Add(id, payload))
	}
	require.NoError(t, s.StoreToFile(path))

	loaded := NewInMemoryStash(10, 32)
	require.NoError(t, loaded.LoadFromFile(path))
	require.Equal(t, 5, loaded.Size())
	for id, payload := range want {
		got, ok := loaded.Get(id)
		require.True(t, ok)
		assert.Equal(t, payload, got)
	}
}

func TestStashLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		s := NewInMemoryStash(4, 32)
		err := s.LoadFromFile(filepath.Join(dir, "absent.bin"))
		assert.ErrorIs(t, err, ErrBackend)
	})

	t.Run("misaligned snapshot", func(t *testing.T) {
		path := filepath.Join(dir, "stash.bin")
		s := NewInMemoryStash(4, 32)
		require.NoError(t, s.Add(1, make([]byte, 32)))
		require.NoError(t, s.StoreToFile(path))

		// A stash with a different block size sees a misaligned file.
		other := NewInMemoryStash(4, 64)
		err := other.LoadFromFile(path)
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("snapshot over limit", func(t *testing.T) {
		path := filepath.Join(dir, "big.bin")
		s := NewInMemoryStash(4, 32)
		for id := uint64(0); id < 3; id++ {
			require.NoError(t, s.Add(id, make([]byte, 32)))
		}
		require.NoError(t, s.StoreToFile(path))

		small := NewInMemoryStash(2, 32)
		err := small.LoadFromFile(path)
		assert.ErrorIs(t, err, ErrStashFull)
	})
}
