package oramstore

import (
	"fmt"
)

type engineState int

const (
	stateFresh engineState = iota
	stateOperational
)

// ORAM is a client-side Path ORAM engine. It maps every logical read or
// write onto the same externally visible pattern: one batched read of a
// root-to-leaf path followed by one batched re-encrypted write of the same
// path.
//
// The engine is single-threaded; callers needing concurrent access must
// serialize externally.
type ORAM struct {
	cfg    Config
	store  Storage
	posMap PositionMap
	stash  Stash
	state  engineState
}

// New assembles an engine over caller-supplied adapters. cfg is validated
// and defaults applied. The storage adapter must expose at least
// cfg.CellCapacity() cells of cfg.BlockSize payloads, and the position map
// must cover cfg.Capacity ids.
//
// Fresh construction (cfg.Attach false) expects the adapters to have been
// freshly initialized: storage zeroed, position map randomized, stash
// empty. With cfg.Attach true the engine starts operational on whatever
// state the adapters carry.
func New(cfg Config, store Storage, posMap PositionMap, stash Stash) (*ORAM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store.Capacity() < cfg.CellCapacity() {
		return nil, fmt.Errorf("storage of %d cells, need %d: %w",
			store.Capacity(), cfg.CellCapacity(), ErrInvalidConfig)
	}
	if store.BlockSize() != cfg.BlockSize {
		return nil, fmt.Errorf("storage block size %d, engine uses %d: %w",
			store.BlockSize(), cfg.BlockSize, ErrInvalidConfig)
	}
	if posMap.Capacity() < cfg.Capacity {
		return nil, fmt.Errorf("position map covers %d ids, need %d: %w",
			posMap.Capacity(), cfg.Capacity, ErrInvalidConfig)
	}
	o := &ORAM{
		cfg:    cfg,
		store:  store,
		posMap: posMap,
		stash:  stash,
	}
	if cfg.Attach {
		o.state = stateOperational
	}
	return o, nil
}

// NewInMemory wires an engine over in-memory adapters encrypted with key.
// An empty key stores plaintext, which is useful in tests that inspect the
// tree directly.
func NewInMemory(cfg Config, key []byte) (*ORAM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := NewInMemoryStorage(cfg.CellCapacity(), cfg.BlockSize, key)
	if err != nil {
		return nil, err
	}
	posMap := NewFlatPositionMap(cfg.Capacity, cfg.NumLeaves(), !cfg.Attach)
	stash := NewInMemoryStash(cfg.StashLimit, cfg.BlockSize)
	return New(cfg, store, posMap, stash)
}

// Get returns the most recently written payload for id. Ids that were
// never written read as zero bytes of the block size.
func (o *ORAM) Get(id uint64) ([]byte, error) {
	if err := o.checkID(id); err != nil {
		return nil, err
	}
	o.state = stateOperational
	return o.access(id, nil)
}

// Put stores data (exactly the block size) under id.
func (o *ORAM) Put(id uint64, data []byte) error {
	if err := o.checkID(id); err != nil {
		return err
	}
	if len(data) != o.cfg.BlockSize {
		return fmt.Errorf("payload of %d bytes, need %d: %w", len(data), o.cfg.BlockSize, ErrSize)
	}
	o.state = stateOperational
	_, err := o.access(id, data)
	return err
}

func (o *ORAM) checkID(id uint64) error {
	if id >= o.cfg.Capacity {
		return fmt.Errorf("id %d out of bounds (capacity %d): %w", id, o.cfg.Capacity, ErrRange)
	}
	return nil
}

// access is the single step behind Get and Put: remap id to a fresh leaf,
// read its old path into the stash, serve the request from the stash, then
// evict the stash back onto that path.
//
// With newPayload nil this is a read and the returned slice holds the
// payload; otherwise newPayload is written and the return value is nil.
func (o *ORAM) access(id uint64, newPayload []byte) ([]byte, error) {
	oldLeaf, err := o.posMap.Get(id)
	if err != nil {
		return nil, err
	}
	// Remap before any storage I/O so the leaf the backend observes is
	// already stale.
	if err := o.posMap.Set(id, RandomUint64(o.cfg.NumLeaves())); err != nil {
		return nil, err
	}

	if err := o.readPath(oldLeaf); err != nil {
		return nil, err
	}

	var result []byte
	if newPayload == nil {
		payload, ok := o.stash.Get(id)
		if !ok {
			payload = make([]byte, o.cfg.BlockSize)
		}
		result = payload
	} else {
		if err := o.stash.Update(id, newPayload); err != nil {
			return nil, err
		}
	}

	if err := o.writePath(oldLeaf); err != nil {
		return nil, err
	}
	return result, nil
}

// bucketForLevelLeaf returns the ancestor bucket at the given level on the
// path to leaf. Level 0 is the root, level L the leaf bucket.
func (o *ORAM) bucketForLevelLeaf(level int, leaf uint64) uint64 {
	return (o.cfg.NumLeaves() + leaf) >> (o.cfg.LogCapacity - level)
}

// pathCells lists the storage cells of the path to leaf, root first, slot
// order within each bucket.
func (o *ORAM) pathCells(leaf uint64) []uint64 {
	z := uint64(o.cfg.BucketSize)
	cells := make([]uint64, 0, (o.cfg.LogCapacity+1)*o.cfg.BucketSize)
	for level := 0; level <= o.cfg.LogCapacity; level++ {
		bucket := o.bucketForLevelLeaf(level, leaf)
		for j := uint64(0); j < z; j++ {
			cells = append(cells, bucket*z+j)
		}
	}
	return cells
}

// readPath pulls every non-empty slot on the path to leaf into the stash.
func (o *ORAM) readPath(leaf uint64) error {
	records, err := o.store.GetBatch(o.pathCells(leaf))
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID == EmptyBlockID {
			continue
		}
		if err := o.stash.Add(rec.ID, rec.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Load bulk-initializes the tree from the given entries. It may only be
// called on a freshly constructed engine; afterwards the engine is
// operational.
//
// Each entry is assigned a uniform leaf and placed as deep as possible on
// its own path, then the whole tree is written in one sweep. Entries that
// fit nowhere spill into the stash.
func (o *ORAM) Load(entries []Entry) error {
	if o.state != stateFresh {
		return fmt.Errorf("bulk load on an operational engine: %w", ErrNotFresh)
	}
	for _, e := range entries {
		if err := o.checkID(e.ID); err != nil {
			return err
		}
		if len(e.Payload) != o.cfg.BlockSize {
			return fmt.Errorf("payload of %d bytes for id %d, need %d: %w",
				len(e.Payload), e.ID, o.cfg.BlockSize, ErrSize)
		}
	}

	// Shuffle so the write sweep carries no trace of input order.
	shuffled := make([]Entry, len(entries))
	copy(shuffled, entries)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := RandomInt(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	z := uint64(o.cfg.BucketSize)
	occupancy := make([]uint64, o.cfg.NumBuckets())
	placement := make(map[uint64]Record, len(shuffled))
	for _, e := range shuffled {
		leaf := RandomUint64(o.cfg.NumLeaves())
		if err := o.posMap.Set(e.ID, leaf); err != nil {
			return err
		}
		placed := false
		for level := o.cfg.LogCapacity; level >= 0; level-- {
			bucket := o.bucketForLevelLeaf(level, leaf)
			if occupancy[bucket] < z {
				placement[bucket*z+occupancy[bucket]] = Record{ID: e.ID, Payload: e.Payload}
				occupancy[bucket]++
				placed = true
				break
			}
		}
		if !placed {
			if err := o.stash.Add(e.ID, e.Payload); err != nil {
				return err
			}
		}
	}

	writes := make([]CellWrite, o.cfg.CellCapacity())
	for cell := uint64(0); cell < o.cfg.CellCapacity(); cell++ {
		rec, ok := placement[cell]
		if !ok {
			rec = Record{ID: EmptyBlockID, Payload: make([]byte, o.cfg.BlockSize)}
		}
		writes[cell] = CellWrite{Cell: cell, Record: rec}
	}
	if err := o.store.SetBatch(writes); err != nil {
		return err
	}
	o.state = stateOperational
	return nil
}

// CheckConsistency walks the full tree and verifies that every stored id
// sits in exactly one slot, that this slot lies on the path to its mapped
// leaf, and that no id is in both the tree and the stash.
func (o *ORAM) CheckConsistency() error {
	cells := make([]uint64, o.cfg.CellCapacity())
	for i := range cells {
		cells[i] = uint64(i)
	}
	records, err := o.store.GetBatch(cells)
	if err != nil {
		return err
	}

	z := uint64(o.cfg.BucketSize)
	seen := make(map[uint64]uint64)
	for cell, rec := range records {
		if rec.ID == EmptyBlockID {
			continue
		}
		if prev, dup := seen[rec.ID]; dup {
			return fmt.Errorf("id %d stored in cells %d and %d", rec.ID, prev, cell)
		}
		seen[rec.ID] = uint64(cell)

		if rec.ID >= o.cfg.Capacity {
			return fmt.Errorf("cell %d holds out-of-range id %d", cell, rec.ID)
		}
		leaf, err := o.posMap.Get(rec.ID)
		if err != nil {
			return err
		}
		bucket := uint64(cell) / z
		onPath := false
		for level := 0; level <= o.cfg.LogCapacity; level++ {
			if o.bucketForLevelLeaf(level, leaf) == bucket {
				onPath = true
				break
			}
		}
		if !onPath {
			return fmt.Errorf("id %d in bucket %d, off the path to leaf %d", rec.ID, bucket, leaf)
		}
	}

	for _, e := range o.stash.GetAll() {
		if cell, dup := seen[e.ID]; dup {
			return fmt.Errorf("id %d in both the stash and cell %d", e.ID, cell)
		}
	}
	return nil
}

// Capacity returns the number of logical block ids.
func (o *ORAM) Capacity() uint64 {
	return o.cfg.Capacity
}

// Height returns the tree height L.
func (o *ORAM) Height() int {
	return o.cfg.LogCapacity
}

// NumLeaves returns the number of tree leaves.
func (o *ORAM) NumLeaves() uint64 {
	return o.cfg.NumLeaves()
}

// BlockSize returns the payload size in bytes.
func (o *ORAM) BlockSize() int {
	return o.cfg.BlockSize
}

// StashSize returns the number of entries currently in the stash.
func (o *ORAM) StashSize() int {
	return o.stash.Size()
}
