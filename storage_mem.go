package oramstore

// InMemoryStorage keeps sealed records in a RAM array.
type InMemoryStorage struct {
	codec recordCodec
	cells [][]byte
}

// NewInMemoryStorage creates an in-memory adapter with the given number of
// cells. Every cell starts out empty. An empty key disables encryption.
func NewInMemoryStorage(capacity uint64, blockSize int, key []byte) (*InMemoryStorage, error) {
	codec, err := newRecordCodec(key, blockSize)
	if err != nil {
		return nil, err
	}
	s := &InMemoryStorage{
		codec: codec,
		cells: make([][]byte, capacity),
	}
	if err := s.FillWithZeroes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InMemoryStorage) Get(cell uint64) (Record, error) {
	if err := checkCell(cell, s.Capacity()); err != nil {
		return Record{}, err
	}
	return s.codec.open(s.cells[cell])
}

func (s *InMemoryStorage) GetBatch(cells []uint64) ([]Record, error) {
	records := make([]Record, len(cells))
	for i, cell := range cells {
		rec, err := s.Get(cell)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

func (s *InMemoryStorage) Set(cell uint64, rec Record) error {
	if err := checkCell(cell, s.Capacity()); err != nil {
		return err
	}
	raw, err := s.codec.seal(rec)
	if err != nil {
		return err
	}
	s.cells[cell] = raw
	return nil
}

func (s *InMemoryStorage) SetBatch(writes []CellWrite) error {
	// Seal everything first so a bad request leaves no partial state.
	sealed := make([][]byte, len(writes))
	for i, w := range writes {
		if err := checkCell(w.Cell, s.Capacity()); err != nil {
			return err
		}
		raw, err := s.codec.seal(w.Record)
		if err != nil {
			return err
		}
		sealed[i] = raw
	}
	for i, w := range writes {
		s.cells[w.Cell] = sealed[i]
	}
	return nil
}

func (s *InMemoryStorage) FillWithZeroes() error {
	for i := range s.cells {
		raw, err := s.codec.emptyRaw()
		if err != nil {
			return err
		}
		s.cells[i] = raw
	}
	return nil
}

func (s *InMemoryStorage) Capacity() uint64 {
	return uint64(len(s.cells))
}

func (s *InMemoryStorage) BlockSize() int {
	return s.codec.blockSize
}
