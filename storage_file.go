package oramstore

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// FileStorage persists sealed records in a flat binary file, one record of
// fixed width per cell at offset cell * recordSize.
type FileStorage struct {
	codec    recordCodec
	capacity uint64
	file     *os.File
	log      *logrus.Logger
}

// NewFileStorage opens or creates the backing file at path.
//
// With overwrite true the file is truncated and every cell is reset to
// empty. With overwrite false the adapter attaches to an existing file and
// fails if it is missing or not exactly capacity * recordSize bytes; the
// key must then match the one used when the file was written.
func NewFileStorage(capacity uint64, blockSize int, key []byte, path string, overwrite bool, logger *logrus.Logger) (*FileStorage, error) {
	codec, err := newRecordCodec(key, blockSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	flags := os.O_RDWR
	if overwrite {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, ErrBackend)
	}

	s := &FileStorage{
		codec:    codec,
		capacity: capacity,
		file:     file,
		log:      logger,
	}

	if overwrite {
		if err := s.FillWithZeroes(); err != nil {
			file.Close()
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"path":  path,
			"cells": capacity,
			"bytes": capacity * uint64(codec.recordSize()),
		}).Info("initialized file storage")
		return s, nil
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, ErrBackend)
	}
	expected := int64(capacity) * int64(codec.recordSize())
	if info.Size() != expected {
		file.Close()
		return nil, fmt.Errorf("file %s holds %d bytes, expected %d: %w",
			path, info.Size(), expected, ErrBackend)
	}
	logger.WithFields(logrus.Fields{
		"path":  path,
		"cells": capacity,
	}).Info("attached to existing file storage")
	return s, nil
}

// Close releases the backing file.
func (s *FileStorage) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close storage file: %v: %w", err, ErrBackend)
	}
	return nil
}

func (s *FileStorage) Get(cell uint64) (Record, error) {
	if err := checkCell(cell, s.capacity); err != nil {
		return Record{}, err
	}
	raw := make([]byte, s.codec.recordSize())
	if _, err := s.file.ReadAt(raw, int64(cell)*int64(s.codec.recordSize())); err != nil {
		return Record{}, fmt.Errorf("read cell %d: %v: %w", cell, err, ErrBackend)
	}
	return s.codec.open(raw)
}

func (s *FileStorage) GetBatch(cells []uint64) ([]Record, error) {
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

func (s *FileStorage) Set(cell uint64, rec Record) error {
	if err := checkCell(cell, s.capacity); err != nil {
		return err
	}
	raw, err := s.codec.seal(rec)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(raw, int64(cell)*int64(s.codec.recordSize())); err != nil {
		return fmt.Errorf("write cell %d: %v: %w", cell, err, ErrBackend)
	}
	return nil
}

func (s *FileStorage) SetBatch(writes []CellWrite) error {
	// Seal everything before touching the file.
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
	for i, w := range writes {
		if _, err := s.file.WriteAt(sealed[i], int64(w.Cell)*int64(s.codec.recordSize())); err != nil {
			return fmt.Errorf("write cell %d: %v: %w", w.Cell, err, ErrBackend)
		}
	}
	return nil
}

func (s *FileStorage) FillWithZeroes() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %v: %w", err, ErrBackend)
	}
	for i := uint64(0); i < s.capacity; i++ {
		raw, err := s.codec.emptyRaw()
		if err != nil {
			return err
		}
		if _, err := s.file.Write(raw); err != nil {
			return fmt.Errorf("write cell %d: %v: %w", i, err, ErrBackend)
		}
	}
	return nil
}

func (s *FileStorage) Capacity() uint64 {
	return s.capacity
}

func (s *FileStorage) BlockSize() int {
	return s.codec.blockSize
}
