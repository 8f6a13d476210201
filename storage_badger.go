package oramstore

import (
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStorage persists sealed records in a Badger key-value store. Keys
// are the big-endian cell index, values the sealed record bytes.
type BadgerStorage struct {
	codec    recordCodec
	capacity uint64
	db       *badger.DB
	log      *logrus.Logger
}

// NewBadgerStorage opens (or creates) a Badger database rooted at dir.
//
// With overwrite true any existing contents are dropped and every cell is
// reset to empty. With overwrite false the adapter attaches to an existing
// database and fails if any cell in [0, capacity) is missing or has the
// wrong width; the key must then match the one used when the database was
// written.
func NewBadgerStorage(capacity uint64, blockSize int, key []byte, dir string, overwrite bool, logger *logrus.Logger) (*BadgerStorage, error) {
	codec, err := newRecordCodec(key, blockSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %v: %w", dir, err, ErrBackend)
	}

	s := &BadgerStorage{
		codec:    codec,
		capacity: capacity,
		db:       db,
		log:      logger,
	}

	if overwrite {
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, fmt.Errorf("drop badger contents: %v: %w", err, ErrBackend)
		}
		if err := s.FillWithZeroes(); err != nil {
			db.Close()
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"dir":   dir,
			"cells": capacity,
		}).Info("initialized badger storage")
		return s, nil
	}

	if err := s.checkAttached(); err != nil {
		db.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"dir":   dir,
		"cells": capacity,
	}).Info("attached to existing badger storage")
	return s, nil
}

// checkAttached verifies that every cell exists with the expected width.
func (s *BadgerStorage) checkAttached() error {
	return s.db.View(func(txn *badger.Txn) error {
		for cell := uint64(0); cell < s.capacity; cell++ {
			item, err := txn.Get(cellKey(cell))
			if err != nil {
				return fmt.Errorf("cell %d missing: %v: %w", cell, err, ErrBackend)
			}
			if item.ValueSize() != int64(s.codec.recordSize()) {
				return fmt.Errorf("cell %d holds %d bytes, expected %d: %w",
					cell, item.ValueSize(), s.codec.recordSize(), ErrBackend)
			}
		}
		return nil
	})
}

// Close releases the underlying database.
func (s *BadgerStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %v: %w", err, ErrBackend)
	}
	return nil
}

func (s *BadgerStorage) Get(cell uint64) (Record, error) {
	records, err := s.GetBatch([]uint64{cell})
	if err != nil {
		return Record{}, err
	}
	return records[0], nil
}

func (s *BadgerStorage) GetBatch(cells []uint64) ([]Record, error) {
	records := make([]Record, len(cells))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, cell := range cells {
			if err := checkCell(cell, s.capacity); err != nil {
				return err
			}
			item, err := txn.Get(cellKey(cell))
			if err != nil {
				return fmt.Errorf("read cell %d: %v: %w", cell, err, ErrBackend)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy cell %d: %v: %w", cell, err, ErrBackend)
			}
			rec, err := s.codec.open(raw)
			if err != nil {
				return err
			}
			records[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BadgerStorage) Set(cell uint64, rec Record) error {
	return s.SetBatch([]CellWrite{{Cell: cell, Record: rec}})
}

func (s *BadgerStorage) SetBatch(writes []CellWrite) error {
	// Seal everything before touching the database.
	sealed := make([][]byte, len(writes))
	for i, w := range writes {
		if err := checkCell(w.Cell, s.capacity); err != nil {
			return err
		}
		raw, err := s.codec.seal(w.Record)
		if err != nil {
			return err
		}
		sealed[i] = raw
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, w := range writes {
		if err := wb.Set(cellKey(w.Cell), sealed[i]); err != nil {
			return fmt.Errorf("batch cell %d: %v: %w", w.Cell, err, ErrBackend)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush batch: %v: %w", err, ErrBackend)
	}
	return nil
}

func (s *BadgerStorage) FillWithZeroes() error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for cell := uint64(0); cell < s.capacity; cell++ {
		raw, err := s.codec.emptyRaw()
		if err != nil {
			return err
		}
		if err := wb.Set(cellKey(cell), raw); err != nil {
			return fmt.Errorf("batch cell %d: %v: %w", cell, err, ErrBackend)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush zero fill: %v: %w", err, ErrBackend)
	}
	return nil
}

func (s *BadgerStorage) Capacity() uint64 {
	return s.capacity
}

func (s *BadgerStorage) BlockSize() int {
	return s.codec.blockSize
}

func cellKey(cell uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, cell)
	return key
}
