// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Key identifies a checkpoint by the progress markers at the time it was saved.
type Key struct {
	RunID  string
	ALIter int
	Epoch  int
}

// NameFn converts a Key to a checkpoint name: a slash separated path relative to the checkpoint directory.
type NameFn func(key Key) string

// FeedForwardName names checkpoints of plain training runs: "<run_id>/epoch_<e>".
func FeedForwardName(key Key) string {
	return path.Join(key.RunID, fmt.Sprintf("epoch_%d", key.Epoch))
}

// ActiveLearningName names checkpoints of active-learning runs: "<run_id>/al_<i>_epoch_<e>".
func ActiveLearningName(key Key) string {
	return path.Join(key.RunID, fmt.Sprintf("al_%d_epoch_%d", key.ALIter, key.Epoch))
}

var nameRegexp = regexp.MustCompile(`^(.+)/(?:al_(\d+)_)?epoch_(\d+)$`)

// ParseName recovers the Key from a name generated by FeedForwardName or ActiveLearningName.
func ParseName(name string) (key Key, ok bool) {
	matches := nameRegexp.FindStringSubmatch(name)
	if matches == nil {
		return
	}
	key.RunID = matches[1]
	if matches[2] != "" {
		key.ALIter, _ = strconv.Atoi(matches[2])
	}
	key.Epoch, _ = strconv.Atoi(matches[3])
	return key, true
}

// Less orders keys by active-learning iteration, then epoch.
func (k Key) Less(k2 Key) bool {
	if k.ALIter != k2.ALIter {
		return k.ALIter < k2.ALIter
	}
	return k.Epoch < k2.Epoch
}

// Record is a snapshot of training state.
//
// Extra holds the progress markers and any other small piece of state (ints, lists of ints, strings,
// floats), Blobs holds the bulk numeric state (model parameters, optimizer slots) by name.
type Record struct {
	Name    string
	RunID   string
	ID      string
	SavedAt time.Time
	Extra   map[string]any
	Blobs   map[string][]float64
}

// serializedRecord is how a Record is written to storage. Blob contents go separately in Data.
type serializedRecord struct {
	Name    string
	RunID   string
	ID      string
	SavedAt time.Time
	Extra   []serializedValue
	Blobs   []serializedBlob

	// Data holds the compressed blobs, for stores that keep everything in one value.
	Data []byte `json:",omitempty"`
}

// serializedBlob locates a blob in the (uncompressed) data.
type serializedBlob struct {
	Name string

	// Pos, Length in number of float64 values.
	Pos, Length int
}

// serializedValue represents a serialized extra state value.
// It includes the original ValueType, because Json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type serializedValue struct {
	Key       string
	Value     any
	ValueType string
}

// jsonDecodeTypeConvert attempts to convert the Value decoded by Json into
// the original ValueType.
//
// E.g.: Json decoder will decode all numbers to float64. So we cast it to the
// given ValueType.
func (p *serializedValue) jsonDecodeTypeConvert() {
	switch value := p.Value.(type) {
	case float64:
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int64":
			p.Value = int64(value)
		case "uint64":
			p.Value = uint64(value)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = xslices.Map(value, func(fAny any) int {
				f, _ := fAny.(float64) // Json decoder converts any numbers to float64.
				return int(f)
			})
		case "[]float64":
			p.Value = xslices.Map(value, func(fAny any) float64 {
				f, _ := fAny.(float64)
				return f
			})
		case "[]string":
			p.Value = xslices.Map(value, func(sAny any) string {
				s, _ := sAny.(string)
				return s
			})
		}
	case nil:
		// An empty list is encoded as null.
		switch p.ValueType {
		case "[]int":
			p.Value = []int{}
		case "[]float64":
			p.Value = []float64{}
		case "[]string":
			p.Value = []string{}
		}
	}
}

// serialize returns the metadata of the record and its uncompressed blob data.
func (r *Record) serialize() (*serializedRecord, []byte) {
	s := &serializedRecord{Name: r.Name, RunID: r.RunID, ID: r.ID, SavedAt: r.SavedAt}
	for _, key := range xslices.SortedKeys(r.Extra) {
		value := r.Extra[key]
		s.Extra = append(s.Extra, serializedValue{Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
	}
	var numValues int
	for _, blob := range r.Blobs {
		numValues += len(blob)
	}
	data := make([]byte, 0, 8*numValues)
	pos := 0
	for _, name := range xslices.SortedKeys(r.Blobs) {
		blob := r.Blobs[name]
		for _, v := range blob {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
		}
		s.Blobs = append(s.Blobs, serializedBlob{Name: name, Pos: pos, Length: len(blob)})
		pos += len(blob)
	}
	return s, data
}

// deserialize rebuilds the Record from its metadata and its uncompressed blob data.
func (s *serializedRecord) deserialize(data []byte) (*Record, error) {
	r := &Record{
		Name:    s.Name,
		RunID:   s.RunID,
		ID:      s.ID,
		SavedAt: s.SavedAt,
		Extra:   make(map[string]any, len(s.Extra)),
		Blobs:   make(map[string][]float64, len(s.Blobs)),
	}
	for ii := range s.Extra {
		s.Extra[ii].jsonDecodeTypeConvert()
		r.Extra[s.Extra[ii].Key] = s.Extra[ii].Value
	}
	for _, blobInfo := range s.Blobs {
		start, end := 8*blobInfo.Pos, 8*(blobInfo.Pos+blobInfo.Length)
		if start < 0 || end > len(data) {
			return nil, errors.Errorf("checkpoint %q: blob %q at [%d, %d) out of the %d bytes of data",
				s.Name, blobInfo.Name, start, end, len(data))
		}
		blob := make([]float64, blobInfo.Length)
		for ii := range blob {
			blob[ii] = math.Float64frombits(binary.LittleEndian.Uint64(data[start+8*ii:]))
		}
		r.Blobs[blobInfo.Name] = blob
	}
	return r, nil
}

func compress(data []byte) []byte {
	return snappy.Encode(nil, data)
}

func decompress(name string, compressed []byte) ([]byte, error) {
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %q: corrupted blob data", name)
	}
	return data, nil
}
