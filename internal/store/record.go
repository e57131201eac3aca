// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store is the filesystem-backed shared store the rover processes
// use to exchange frames and status documents. Every file is written with
// temp-file-plus-rename; frame records are self-contained so a reader can
// never pair one frame's metadata with another frame's payload.
package store

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned when a record or document does not exist yet.
	ErrNotFound = errors.New("store: not found")
	// ErrCorrupt is returned when a record fails to decode or its checksum
	// does not match the payload.
	ErrCorrupt = errors.New("store: corrupt record")
)

const recordExt = ".rec"

// Record is one immutable, versioned frame. Instance identifies the
// publishing process so consumers notice a restart that resets Seq.
type Record struct {
	Instance  string    `msgpack:"instance"`
	Seq       uint64    `msgpack:"seq"`
	Timestamp time.Time `msgpack:"ts"`
	Width     int       `msgpack:"width"`
	Height    int       `msgpack:"height"`
	Format    string    `msgpack:"format"`
	Payload   []byte    `msgpack:"payload"`
	CRC       uint32    `msgpack:"crc"`
}

// Cursor remembers the last record a consumer accepted.
type Cursor struct {
	Instance string
	Seq      uint64
}

// Cursor returns the position of r.
func (r Record) Cursor() Cursor {
	return Cursor{Instance: r.Instance, Seq: r.Seq}
}

// NewerThan reports whether r should be accepted by a consumer at c.
func (r Record) NewerThan(c Cursor) bool {
	if r.Instance != c.Instance {
		return true
	}
	return r.Seq > c.Seq
}

// Age returns how old the record is relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Store is a directory of records owned by a single writer.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the full path of a file in the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Publish checksums and writes rec as name.rec.
func (s *Store) Publish(name string, rec Record) error {
	rec.CRC = crc32.ChecksumIEEE(rec.Payload)
	raw, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", name, err)
	}
	return WriteFileAtomic(s.Path(name+recordExt), raw, 0o644)
}

// WriteFile atomically writes an auxiliary file (image mirror, metadata).
func (s *Store) WriteFile(name string, data []byte) error {
	return WriteFileAtomic(s.Path(name), data, 0o644)
}

// Read returns the current record called name.
func (s *Store) Read(name string) (Record, error) {
	raw, err := os.ReadFile(s.Path(name + recordExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("record %s: %w", name, ErrNotFound)
		}
		return Record{}, fmt.Errorf("read record %s: %w", name, err)
	}

	var rec Record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("record %s: %w: %v", name, ErrCorrupt, err)
	}
	if crc32.ChecksumIEEE(rec.Payload) != rec.CRC {
		return Record{}, fmt.Errorf("record %s: %w: checksum mismatch", name, ErrCorrupt)
	}
	return rec, nil
}

// TryRead returns the record called name when it is newer than last.
// ok is false, with a nil error, when the record is missing or unchanged.
func (s *Store) TryRead(name string, last Cursor) (rec Record, ok bool, err error) {
	rec, err = s.Read(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	if !rec.NewerThan(last) {
		return Record{}, false, nil
	}
	return rec, true, nil
}
