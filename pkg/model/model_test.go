// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separableBatch returns points on both sides of the x0+x1=0 line.
func separableBatch(rng *rand.Rand, n int) (inputs [][]float64, labels []float64) {
	for len(inputs) < n {
		x := []float64{2*rng.Float64() - 1, 2*rng.Float64() - 1}
		if math.Abs(x[0]+x[1]) < 0.1 {
			continue
		}
		inputs = append(inputs, x)
		if x[0]+x[1] > 0 {
			labels = append(labels, 1)
		} else {
			labels = append(labels, 0)
		}
	}
	return
}

func newTestClassifier(seed uint64) *Classifier {
	rng := rand.New(rand.NewPCG(seed, seed))
	return &Classifier{
		Model:     NewLogisticRegression(2, rng),
		Loss:      BinaryCrossEntropy{},
		Optimizer: &SGD{LearningRate: 0.5, Momentum: 0.5, Nesterov: true},
	}
}

func TestClassifierTrains(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	inputs, labels := separableBatch(rng, 64)
	clf := newTestClassifier(3)

	firstLoss, _, err := clf.Evaluate(inputs, labels)
	require.NoError(t, err)
	var loss float64
	for step := 0; step < 200; step++ {
		loss, err = clf.TrainStep(inputs, labels)
		require.NoError(t, err)
	}
	assert.Less(t, loss, firstLoss)
	predictions, err := clf.Predict(inputs)
	require.NoError(t, err)
	assert.Greater(t, Accuracy(predictions, labels), 0.95)
}

func TestClassifierPreconditions(t *testing.T) {
	err := exceptions.TryCatch[error](func() {
		clf := &Classifier{Model: NewLogisticRegression(2, rand.New(rand.NewPCG(0, 0)))}
		_, _ = clf.TrainStep([][]float64{{0, 0}}, []float64{0})
	})
	assert.Error(t, err)

	clf := newTestClassifier(0)
	_, err = clf.TrainStep([][]float64{{0, 0, 0}}, []float64{0})
	assert.Error(t, err, "wrong number of features")
	_, err = clf.TrainStep(nil, nil)
	assert.Error(t, err, "empty batch")
}

func TestEmbedNotImplemented(t *testing.T) {
	clf := newTestClassifier(0)
	_, err := clf.Embed([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestStateRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	inputs, labels := separableBatch(rng, 16)
	clf := newTestClassifier(7)
	for step := 0; step < 3; step++ {
		_, err := clf.TrainStep(inputs, labels)
		require.NoError(t, err)
	}
	state := clf.State()
	assert.Contains(t, state, ModelStatePrefix+ParamWeights)
	assert.Contains(t, state, ModelStatePrefix+ParamBias)
	assert.Contains(t, state, OptimizerStatePrefix+ParamWeights)

	restored := newTestClassifier(99)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, clf.Model.Parameters(), restored.Model.Parameters())

	// Both continue training identically.
	lossA, err := clf.TrainStep(inputs, labels)
	require.NoError(t, err)
	lossB, err := restored.TrainStep(inputs, labels)
	require.NoError(t, err)
	assert.InDelta(t, lossA, lossB, 1e-12)

	// Incomplete or unknown state is rejected.
	assert.Error(t, restored.LoadState(map[string][]float64{ModelStatePrefix + ParamBias: {0}}))
	assert.Error(t, restored.LoadState(map[string][]float64{"other/x": {0}}))
	assert.Error(t, restored.LoadState(map[string][]float64{
		ModelStatePrefix + ParamWeights: {0},
		ModelStatePrefix + ParamBias:    {0},
	}))

	// A rejected state doesn't overwrite any parameter.
	before := restored.State()
	for _, bad := range []map[string][]float64{
		{ModelStatePrefix + ParamWeights: make([]float64, len(before[ModelStatePrefix+ParamWeights])), "other/x": {0}},
		{ModelStatePrefix + ParamWeights: make([]float64, len(before[ModelStatePrefix+ParamWeights])), ModelStatePrefix + ParamBias: {0, 0}},
		{ModelStatePrefix + ParamBias: {42}, ModelStatePrefix + "extra": {0}},
	} {
		require.Error(t, restored.LoadState(bad))
		assert.Equal(t, before, restored.State())
	}
}

func TestBinaryCrossEntropyGradient(t *testing.T) {
	predictions := []float64{0.2, 0.7, 0.9}
	labels := []float64{0, 1, 0}
	loss, grad, err := BinaryCrossEntropy{}.Loss(predictions, labels)
	require.NoError(t, err)
	assert.Greater(t, loss, 0.0)
	const h = 1e-6
	for ii := range predictions {
		shifted := append([]float64(nil), predictions...)
		shifted[ii] += h
		lossH, _, err := BinaryCrossEntropy{}.Loss(shifted, labels)
		require.NoError(t, err)
		assert.InDelta(t, (lossH-loss)/h, grad[ii], 1e-4, "gradient #%d", ii)
	}
	_, _, err = BinaryCrossEntropy{}.Loss([]float64{0.5}, nil)
	assert.Error(t, err)
}

func TestSGD(t *testing.T) {
	params := Parameters{"w": {1.0}}
	opt := &SGD{LearningRate: 0.1, Momentum: 0.5, WeightDecay: 0.1, Nesterov: true}

	// Step 1: d = g + wd*p = 1 + 0.1 = 1.1; buf = 1.1; nesterov d = 1.1 + 0.5*1.1 = 1.65.
	require.NoError(t, opt.Step(params, Gradients{"w": {1.0}}))
	assert.InDelta(t, 1-0.1*1.65, params["w"][0], 1e-12)
	assert.InDelta(t, 1.1, opt.State()["w"][0], 1e-12)

	assert.Error(t, opt.Step(params, Gradients{}))
	assert.Error(t, opt.Step(params, Gradients{"w": {1, 2}}))

	plain := &SGD{LearningRate: 0.5}
	p := Parameters{"w": {1.0, 2.0}}
	require.NoError(t, plain.Step(p, Gradients{"w": {2, -2}}))
	assert.Equal(t, []float64{0, 3}, p["w"])
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.0, Accuracy(nil, nil))
	assert.Equal(t, 0.75, Accuracy([]float64{0.9, 0.1, 0.6, 0.4}, []float64{1, 0, 1, 1}))
}
