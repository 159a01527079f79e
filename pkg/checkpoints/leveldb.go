// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/json"

	"github.com/medalearn/medal/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore keeps all checkpoints in one LevelDB database, one key per checkpoint name.
// The value holds the json encoded metadata with the compressed blobs embedded.
type LevelDBStore struct {
	path string
	db   *leveldb.DB
}

var _ Store = (*LevelDBStore)(nil)

// OpenLevelDBStore opens (or creates) the database at path. Call Close when done.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	path = fsutil.MustReplaceTildeInDir(path)
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoints database %q", path)
	}
	return &LevelDBStore{path: path, db: db}, nil
}

// String implements fmt.Stringer.
func (s *LevelDBStore) String() string {
	return "checkpoints.LevelDBStore(" + s.path + ")"
}

// Close the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Save implements Store.
func (s *LevelDBStore) Save(record *Record) error {
	serialized, data := record.serialize()
	serialized.Data = compress(data)
	value, err := json.Marshal(serialized)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to encode checkpoint %q", s, record.Name)
	}
	if err = s.db.Put([]byte(record.Name), value, nil); err != nil {
		return errors.Wrapf(err, "%s: failed to write checkpoint %q", s, record.Name)
	}
	return nil
}

// Load implements Store.
func (s *LevelDBStore) Load(name string) (*Record, error) {
	value, err := s.db.Get([]byte(name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "%s: %q", s, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read checkpoint %q", s, name)
	}
	var serialized serializedRecord
	if err = json.Unmarshal(value, &serialized); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to decode checkpoint %q", s, name)
	}
	data, err := decompress(name, serialized.Data)
	if err != nil {
		return nil, err
	}
	return serialized.deserialize(data)
}

// List implements Store.
func (s *LevelDBStore) List(runID string) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(runID+"/")), nil)
	defer iter.Release()
	var names []string
	for iter.Next() {
		names = append(names, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", s)
	}
	return names, nil
}

// Remove implements Store.
func (s *LevelDBStore) Remove(name string) error {
	if err := s.db.Delete([]byte(name), nil); err != nil {
		return errors.Wrapf(err, "%s failed to remove checkpoint %q", s, name)
	}
	return nil
}
