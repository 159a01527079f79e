// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// NewSynthetic creates a binary classification dataset of two gaussian clusters, one per label,
// centered at -1 and +1 on every feature with unit standard deviation. Labels alternate, so any
// prefix of the dataset is balanced. The result is deterministic for a given seed.
func NewSynthetic(size, numFeatures int, seed uint64) (*InMemory, error) {
	if size <= 0 || numFeatures <= 0 {
		return nil, errors.Errorf("synthetic dataset requires size and numFeatures > 0, got %d and %d",
			size, numFeatures)
	}
	rng := rand.New(rand.NewPCG(seed, 1))
	inputs := make([][]float64, size)
	labels := make([]float64, size)
	for ii := range inputs {
		label := float64(ii % 2)
		center := 2*label - 1
		input := make([]float64, numFeatures)
		for jj := range input {
			input[jj] = center + rng.NormFloat64()
		}
		inputs[ii] = input
		labels[ii] = label
	}
	return NewInMemory("synthetic", inputs, labels)
}
