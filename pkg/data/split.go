// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
)

// TrainTestSplit randomly splits the indices 0..n-1 into a train and a test set, with
// round(n*trainFrac) train indices (at least one if n > 0). The split is deterministic for a given seed
// and both results are sorted.
func TrainTestSplit(n int, trainFrac float64, seed uint64) (train, test []int, err error) {
	if n < 0 {
		return nil, nil, errors.Errorf("TrainTestSplit: negative number of examples %d", n)
	}
	if trainFrac <= 0 || trainFrac > 1 {
		return nil, nil, errors.Errorf("TrainTestSplit: train fraction must be in (0, 1], got %g", trainFrac)
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	perm := rng.Perm(n)
	numTrain := int(math.Round(float64(n) * trainFrac))
	if numTrain == 0 && n > 0 {
		numTrain = 1
	}
	train = slices.Clone(perm[:numTrain])
	test = slices.Clone(perm[numTrain:])
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}
