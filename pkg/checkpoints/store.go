// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/medalearn/medal/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Store persists checkpoint Records by name. Names are slash separated, the first element being the run id.
//
// Stores are not safe for concurrent use from different processes.
type Store interface {
	// Save the record under record.Name, overwriting any previous one with the same name.
	Save(record *Record) error

	// Load the record with the given name. It returns an error wrapping ErrNotFound if it doesn't exist.
	Load(name string) (*Record, error)

	// List names of the records saved for runID, in no particular order.
	List(runID string) ([]string, error)

	// Remove the record with the given name. Removing a non-existing record is not an error.
	Remove(name string) error
}

const (
	jsonNameSuffix = ".json"
	varDataSuffix  = ".bin"
)

// FileStore saves each checkpoint as a pair of files under a directory: "<name>.json" holds the metadata
// and extra state, "<name>.bin" holds the snappy compressed blobs.
//
// The data file is written first, so a checkpoint is only listed once its metadata is complete.
type FileStore struct {
	fs  afero.Fs
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir in the given filesystem. Use afero.NewOsFs() for the
// local filesystem.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	dir = fsutil.MustReplaceTildeInDir(dir)
	if err := fsutil.EnsureDir(fs, dir); err != nil {
		return nil, err
	}
	return &FileStore{fs: fs, dir: dir}, nil
}

// String implements fmt.Stringer.
func (s *FileStore) String() string {
	return "checkpoints.FileStore(" + s.dir + ")"
}

// Dir where checkpoints are stored.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) paths(name string) (jsonPath, dataPath string) {
	base := filepath.Join(s.dir, filepath.FromSlash(name))
	return base + jsonNameSuffix, base + varDataSuffix
}

// Save implements Store.
func (s *FileStore) Save(record *Record) error {
	jsonPath, dataPath := s.paths(record.Name)
	if err := fsutil.EnsureDir(s.fs, filepath.Dir(jsonPath)); err != nil {
		return errors.WithMessagef(err, "%s", s)
	}
	serialized, data := record.serialize()
	if err := afero.WriteFile(s.fs, dataPath, compress(data), 0660); err != nil {
		return errors.Wrapf(err, "%s: failed to write checkpoint data file %s", s, dataPath)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "\t")
	if err := enc.Encode(serialized); err != nil {
		return errors.Wrapf(err, "%s: failed to encode checkpoint metadata for %q", s, record.Name)
	}
	if err := afero.WriteFile(s.fs, jsonPath, buf.Bytes(), 0660); err != nil {
		return errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", s, jsonPath)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(name string) (*Record, error) {
	jsonPath, dataPath := s.paths(name)
	contents, err := afero.ReadFile(s.fs, jsonPath)
	if err != nil {
		exists, _ := fsutil.FileExists(s.fs, jsonPath)
		if !exists {
			return nil, errors.Wrapf(ErrNotFound, "%s: %q", s, name)
		}
		return nil, errors.Wrapf(err, "%s: failed to read checkpoint metadata file %s", s, jsonPath)
	}
	var serialized serializedRecord
	if err = json.Unmarshal(contents, &serialized); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to decode contents of checkpoint metadata file %s", s, jsonPath)
	}
	compressed, err := afero.ReadFile(s.fs, dataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read checkpoint data file %s", s, dataPath)
	}
	data, err := decompress(name, compressed)
	if err != nil {
		return nil, err
	}
	return serialized.deserialize(data)
}

// List implements Store.
func (s *FileStore) List(runID string) ([]string, error) {
	runDir := filepath.Join(s.dir, filepath.FromSlash(runID))
	exists, err := fsutil.FileExists(s.fs, runDir)
	if err != nil || !exists {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, runDir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", s)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), jsonNameSuffix) {
			continue
		}
		names = append(names, path.Join(runID, strings.TrimSuffix(entry.Name(), jsonNameSuffix)))
	}
	sort.Strings(names)
	return names, nil
}

// Remove implements Store.
func (s *FileStore) Remove(name string) error {
	jsonPath, dataPath := s.paths(name)
	// Metadata goes first, so a partially removed checkpoint is no longer listed.
	for _, fileName := range []string{jsonPath, dataPath} {
		err := s.fs.Remove(fileName)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "%s failed to remove checkpoint file %q", s, fileName)
		}
	}
	return nil
}
