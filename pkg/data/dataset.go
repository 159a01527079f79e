// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package data implements the datasets and the batch loader consumed by the training loops.
//
// A Dataset maps an index to one example. A Loader restricts a Dataset to a subset of its indices
// and yields batches of them, prepared in parallel and delivered in order.
package data

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Dataset provides examples by index. Implementations must be safe for concurrent calls to Example,
// since the Loader prepares batches in parallel.
type Dataset interface {
	// Name identifies the dataset. Used for logging.
	Name() string

	// Len is the number of examples. Valid indices are 0 to Len()-1.
	Len() int

	// NumFeatures is the length of each input vector.
	NumFeatures() int

	// Example returns the input and the binary label of the example at index.
	Example(index int) (input []float64, label float64, err error)
}

// Batch is one unit of training: inputs and labels of the examples with the given dataset indices.
type Batch struct {
	Indices []int
	Inputs  [][]float64
	Labels  []float64
}

// Size of the batch.
func (b *Batch) Size() int { return len(b.Indices) }

// InMemory is a Dataset fully held in memory.
type InMemory struct {
	name   string
	inputs [][]float64
	labels []float64
}

// NewInMemory creates a dataset from inputs and labels, which must have the same length and all
// inputs the same number of features. The slices are used directly, not copied.
func NewInMemory(name string, inputs [][]float64, labels []float64) (*InMemory, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("dataset %q: %d inputs but %d labels", name, len(inputs), len(labels))
	}
	for ii, input := range inputs {
		if len(input) != len(inputs[0]) {
			return nil, errors.Errorf("dataset %q: example #%d has %d features, expected %d",
				name, ii, len(input), len(inputs[0]))
		}
		for _, v := range input {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("dataset %q: example #%d has non-finite feature %g", name, ii, v)
			}
		}
	}
	return &InMemory{name: name, inputs: inputs, labels: labels}, nil
}

// Name implements Dataset.
func (ds *InMemory) Name() string { return ds.name }

// Len implements Dataset.
func (ds *InMemory) Len() int { return len(ds.inputs) }

// NumFeatures implements Dataset.
func (ds *InMemory) NumFeatures() int {
	if len(ds.inputs) == 0 {
		return 0
	}
	return len(ds.inputs[0])
}

// Example implements Dataset.
func (ds *InMemory) Example(index int) ([]float64, float64, error) {
	if index < 0 || index >= len(ds.inputs) {
		return nil, 0, errors.Errorf("dataset %q: index %d out of range [0, %d)", ds.name, index, len(ds.inputs))
	}
	return ds.inputs[index], ds.labels[index], nil
}

// String implements fmt.Stringer.
func (ds *InMemory) String() string {
	return fmt.Sprintf("%s (%d examples, %d features)", ds.name, ds.Len(), ds.NumFeatures())
}

// checkIndices panics if any of the indices is out of range for ds.
func checkIndices(ds Dataset, indices []int) {
	n := ds.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			exceptions.Panicf("data: index %d out of range for dataset %q with %d examples", idx, ds.Name(), n)
		}
	}
}
