// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package feedforward

import (
	"math/rand/v2"

	"github.com/medalearn/medal/pkg/config"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/model"
)

// NewClassifier creates the reference classifier configured by cfg: a logistic regression trained
// with binary cross-entropy and SGD. Initialization is seeded with cfg.Seed.
func NewClassifier(cfg *config.Config, numFeatures int) *model.Classifier {
	rng := rand.New(rand.NewPCG(cfg.Seed, 2))
	return &model.Classifier{
		Model: model.NewLogisticRegression(numFeatures, rng),
		Loss:  model.BinaryCrossEntropy{},
		Optimizer: &model.SGD{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
			Nesterov:     cfg.Nesterov,
		},
	}
}

// NewLoader creates and starts a loader over the given indices of ds, with the batch size and number
// of workers of cfg. Training loaders are shuffled with cfg.Seed.
func NewLoader(cfg *config.Config, ds data.Dataset, indices []int, shuffle bool) *data.Loader {
	loader := data.NewLoader(ds, indices, cfg.BatchSize).Parallelism(cfg.NumWorkers)
	if shuffle {
		loader.Shuffle(cfg.Seed)
	}
	return loader.Start()
}
