package oramstore

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// The package draws all randomness (fresh leaves, IVs, shuffles)
// through these functions. By default they use the process CSPRNG; tests may
// switch to a seeded deterministic generator with SeedRNG.
var (
	rngMu   sync.Mutex
	testRNG *mrand.Rand // nil selects crypto/rand
)

// SeedRNG switches the package to a deterministic PRNG seeded with seed.
// Intended for tests only; production code must leave the CSPRNG in place.
func SeedRNG(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	testRNG = mrand.New(mrand.NewSource(seed))
}

// UseCSPRNG restores the default cryptographically secure source.
func UseCSPRNG() {
	rngMu.Lock()
	defer rngMu.Unlock()
	testRNG = nil
}

// RandomBytes returns n uniformly random bytes.
// Panics if the CSPRNG fails, which is not a recoverable condition.
func RandomBytes(n int) []byte {
	rngMu.Lock()
	defer rngMu.Unlock()
	buf := make([]byte, n)
	if testRNG != nil {
		for i := range buf {
			buf[i] = byte(testRNG.Intn(256))
		}
		return buf
	}
	if _, err := crand.Read(buf); err != nil {
		panic("oramstore: crypto/rand failed: " + err.Error())
	}
	return buf
}

// RandomUint64 returns a uniform value in [0, max). It draws 8 random bytes
// and interprets them as a little-endian unsigned 64-bit integer before
// reducing mod max; the modulo bias is negligible for max well below 2^64.
func RandomUint64(max uint64) uint64 {
	if max == 0 {
		panic("oramstore: RandomUint64 with max 0")
	}
	return binary.LittleEndian.Uint64(RandomBytes(8)) % max
}

// RandomInt is a convenience wrapper over RandomUint64 for small ranges.
func RandomInt(max int) int {
	return int(RandomUint64(uint64(max)))
}
