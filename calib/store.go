// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"
)

var bucketName = []byte("calib")

// Store persists calibration tables, keyed by device serial number.
type Store struct {
	db *bbolt.DB
}

type tableDoc struct {
	Bits    int       `json:"bits"`
	Ranges  []float64 `json:"ranges"`
	Entries [][]Entry `json:"entries"` // [channel][gain]
}

// OpenStore opens (or creates) the calibration store at fname.
func OpenStore(fname string) (*Store, error) {
	db, err := bbolt.Open(fname, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("calib: could not open store %q: %w", fname, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calib: could not create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (st *Store) Close() error {
	return st.db.Close()
}

// Save stores the table under the serial key, replacing any previous one.
func (st *Store) Save(serial string, tbl *Table) error {
	doc := tableDoc{
		Bits:    tbl.bits,
		Ranges:  tbl.ranges,
		Entries: make([][]Entry, tbl.nchans),
	}
	for ch := range doc.Entries {
		doc.Entries[ch] = tbl.ents[tbl.idx(ch, 0):tbl.idx(ch+1, 0)]
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("calib: could not marshal table %q: %w", serial, err)
	}

	err = st.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(serial), raw)
	})
	if err != nil {
		return fmt.Errorf("calib: could not save table %q: %w", serial, err)
	}
	return nil
}

// Load retrieves the table stored under the serial key.
func (st *Store) Load(serial string) (*Table, error) {
	var raw []byte
	err := st.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(serial))
		if v == nil {
			return fmt.Errorf("no table for %q", serial)
		}
		raw = append(raw, v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calib: could not load table: %w", err)
	}

	var doc tableDoc
	err = yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("calib: could not unmarshal table %q: %w", serial, err)
	}

	tbl, err := New(len(doc.Entries), doc.Ranges, doc.Bits)
	if err != nil {
		return nil, fmt.Errorf("calib: invalid table %q: %w", serial, err)
	}
	for ch, row := range doc.Entries {
		if len(row) != len(doc.Ranges) {
			return nil, fmt.Errorf("calib: invalid table %q: ch=%d has %d gains, want %d",
				serial, ch, len(row), len(doc.Ranges),
			)
		}
		for g, e := range row {
			err = tbl.Set(ch, g, e)
			if err != nil {
				return nil, fmt.Errorf("calib: invalid table %q: %w", serial, err)
			}
		}
	}
	return tbl, nil
}

// List returns the sorted serial numbers of all stored tables.
func (st *Store) List() ([]string, error) {
	var keys []string
	err := st.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("calib: could not list tables: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
