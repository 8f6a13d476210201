package oramstore

// writePath evicts eligible stash entries onto the path to leaf, deepest
// level first, and writes all L+1 buckets back in a single batch.
//
// A stash entry assigned to leaf y may occupy the bucket at level l only
// when the paths to y and leaf share their ancestors through level l.
// Going deepest first settles each block as close to its own leaf as
// possible, keeping the stash small.
func (o *ORAM) writePath(leaf uint64) error {
	entries := o.stash.GetAll()
	leafOf := make(map[uint64]uint64, len(entries))
	for _, e := range entries {
		y, err := o.posMap.Get(e.ID)
		if err != nil {
			return err
		}
		leafOf[e.ID] = y
	}

	z := uint64(o.cfg.BucketSize)
	placed := make(map[uint64]bool)
	writes := make([]CellWrite, 0, (o.cfg.LogCapacity+1)*o.cfg.BucketSize)
	for level := o.cfg.LogCapacity; level >= 0; level-- {
		bucket := o.bucketForLevelLeaf(level, leaf)
		slot := uint64(0)
		for _, e := range entries {
			if slot == z {
				break
			}
			if placed[e.ID] {
				continue
			}
			if o.bucketForLevelLeaf(level, leafOf[e.ID]) != bucket {
				continue
			}
			writes = append(writes, CellWrite{
				Cell:   bucket*z + slot,
				Record: Record{ID: e.ID, Payload: e.Payload},
			})
			placed[e.ID] = true
			slot++
		}
		for ; slot < z; slot++ {
			writes = append(writes, CellWrite{
				Cell:   bucket*z + slot,
				Record: Record{ID: EmptyBlockID, Payload: make([]byte, o.cfg.BlockSize)},
			})
		}
	}

	if err := o.store.SetBatch(writes); err != nil {
		return err
	}
	for id := range placed {
		o.stash.Remove(id)
	}
	return nil
}
