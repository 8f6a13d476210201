package oramstore

import (
	"crypto/aes"
	"fmt"
)

// Default parameters applied by Config.Validate.
const (
	DefaultBucketSize = 4
	MinLogCapacity    = 3
)

// Config holds the engine parameters.
//
// Zero values for BucketSize, Capacity and StashLimit select defaults; the
// remaining fields must be set explicitly.
type Config struct {
	// LogCapacity is the tree height L. The tree has 2^L leaves and
	// 2^(L+1)-1 buckets.
	LogCapacity int

	// BucketSize is the number of slots per bucket (Z).
	BucketSize int

	// BlockSize is the plaintext payload size in bytes (B).
	BlockSize int

	// Capacity is the number of logical block ids (N). Accesses outside
	// [0, Capacity) are rejected.
	Capacity uint64

	// StashLimit bounds the number of stash entries.
	StashLimit int

	// Attach skips fresh initialization: the engine starts in the
	// operational state and trusts the adapters to carry reloaded state.
	// Bulk loading is only possible with Attach false.
	Attach bool
}

// Validate checks bounds and fills in defaults. It must be called before
// the config is used; New calls it on the caller's behalf.
func (c *Config) Validate() error {
	if c.LogCapacity < MinLogCapacity {
		return fmt.Errorf("log capacity %d, need at least %d: %w",
			c.LogCapacity, MinLogCapacity, ErrInvalidConfig)
	}
	if c.LogCapacity > 62 {
		return fmt.Errorf("log capacity %d overflows the bucket index space: %w",
			c.LogCapacity, ErrInvalidConfig)
	}
	if c.BucketSize == 0 {
		c.BucketSize = DefaultBucketSize
	}
	if c.BucketSize < 1 {
		return fmt.Errorf("bucket size %d, need at least 1: %w", c.BucketSize, ErrInvalidConfig)
	}
	if c.BlockSize < 2*aes.BlockSize || c.BlockSize%aes.BlockSize != 0 {
		return fmt.Errorf("block size %d, need a multiple of %d and at least %d: %w",
			c.BlockSize, aes.BlockSize, 2*aes.BlockSize, ErrInvalidConfig)
	}
	numLeaves := uint64(1) << c.LogCapacity
	if c.Capacity == 0 {
		c.Capacity = uint64(c.BucketSize) * numLeaves
	}
	if c.StashLimit == 0 {
		c.StashLimit = 3 * c.LogCapacity * c.BucketSize
	}
	return nil
}

// NumLeaves returns 2^L.
func (c Config) NumLeaves() uint64 {
	return uint64(1) << c.LogCapacity
}

// NumBuckets returns the size of the bucket index space, 2^(L+1). Bucket 0
// is reserved; buckets 1 through 2^(L+1)-1 form the tree.
func (c Config) NumBuckets() uint64 {
	return uint64(1) << (c.LogCapacity + 1)
}

// CellCapacity returns the number of storage cells the engine addresses,
// one per slot including the reserved bucket.
func (c Config) CellCapacity() uint64 {
	return c.NumBuckets() * uint64(c.BucketSize)
}
