// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"
	"math/rand/v2"

	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression is a binary classifier p = sigmoid(x·w + b).
type LogisticRegression struct {
	numFeatures int
	params      Parameters
}

var _ Model = (*LogisticRegression)(nil)

// Parameter names of LogisticRegression.
const (
	ParamWeights = "weights"
	ParamBias    = "bias"
)

// NewLogisticRegression creates a model for numFeatures inputs, with weights initialized uniformly
// in ±1/sqrt(numFeatures) from rng.
func NewLogisticRegression(numFeatures int, rng *rand.Rand) *LogisticRegression {
	limit := 1 / math.Sqrt(float64(numFeatures))
	weights := make([]float64, numFeatures)
	for ii := range weights {
		weights[ii] = (2*rng.Float64() - 1) * limit
	}
	return &LogisticRegression{
		numFeatures: numFeatures,
		params:      Parameters{ParamWeights: weights, ParamBias: {0}},
	}
}

// Parameters implements Model.
func (m *LogisticRegression) Parameters() Parameters {
	return m.params
}

func (m *LogisticRegression) inputsMatrix(inputs [][]float64) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, errors.New("empty batch")
	}
	flat := make([]float64, 0, len(inputs)*m.numFeatures)
	for ii, input := range inputs {
		if len(input) != m.numFeatures {
			return nil, errors.Errorf("input #%d has %d features, model expects %d", ii, len(input), m.numFeatures)
		}
		flat = append(flat, input...)
	}
	return mat.NewDense(len(inputs), m.numFeatures, flat), nil
}

// Forward implements Model.
func (m *LogisticRegression) Forward(inputs [][]float64) ([]float64, error) {
	x, err := m.inputsMatrix(inputs)
	if err != nil {
		return nil, err
	}
	var logits mat.VecDense
	logits.MulVec(x, mat.NewVecDense(m.numFeatures, m.params[ParamWeights]))
	outputs := make([]float64, len(inputs))
	bias := m.params[ParamBias][0]
	for ii := range outputs {
		outputs[ii] = sigmoid(logits.AtVec(ii) + bias)
	}
	return outputs, nil
}

// Backward implements Model.
func (m *LogisticRegression) Backward(inputs [][]float64, outputs, outputGrad []float64) (Gradients, error) {
	x, err := m.inputsMatrix(inputs)
	if err != nil {
		return nil, err
	}
	if len(outputs) != len(inputs) || len(outputGrad) != len(inputs) {
		return nil, errors.Errorf("backward got %d inputs, %d outputs and %d output gradients",
			len(inputs), len(outputs), len(outputGrad))
	}
	// d(sigmoid)/dz = p * (1-p).
	logitsGrad := make([]float64, len(outputs))
	for ii, p := range outputs {
		logitsGrad[ii] = outputGrad[ii] * p * (1 - p)
	}
	var weightsGrad mat.VecDense
	weightsGrad.MulVec(x.T(), mat.NewVecDense(len(logitsGrad), logitsGrad))
	return Gradients{
		ParamWeights: xslices.Copy(weightsGrad.RawVector().Data),
		ParamBias:    {floats.Sum(logitsGrad)},
	}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// BinaryCrossEntropy is the mean binary cross-entropy of probabilities against 0/1 labels.
type BinaryCrossEntropy struct{}

var _ LossFn = BinaryCrossEntropy{}

// epsilon clamps probabilities away from 0 and 1.
const epsilon = 1e-7

// Loss implements LossFn.
func (BinaryCrossEntropy) Loss(predictions, labels []float64) (float64, []float64, error) {
	if len(predictions) != len(labels) {
		return 0, nil, errors.Errorf("%d predictions for %d labels", len(predictions), len(labels))
	}
	if len(predictions) == 0 {
		return 0, nil, errors.New("empty batch")
	}
	n := float64(len(predictions))
	var loss float64
	grad := make([]float64, len(predictions))
	for ii, p := range predictions {
		p = math.Min(math.Max(p, epsilon), 1-epsilon)
		y := labels[ii]
		loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
		grad[ii] = (p - y) / (p * (1 - p)) / n
	}
	return loss / n, grad, nil
}

// SGD is stochastic gradient descent with optional (nesterov) momentum and weight decay.
type SGD struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool

	buffers map[string][]float64
}

var _ Optimizer = (*SGD)(nil)

// Step implements Optimizer.
func (o *SGD) Step(params Parameters, grads Gradients) error {
	if o.buffers == nil {
		o.buffers = make(map[string][]float64)
	}
	for name, param := range params {
		grad, found := grads[name]
		if !found {
			return errors.Errorf("no gradient for parameter %q", name)
		}
		if len(grad) != len(param) {
			return errors.Errorf("gradient for %q has %d values, parameter has %d", name, len(grad), len(param))
		}
		update := xslices.Copy(grad)
		if o.WeightDecay != 0 {
			floats.AddScaled(update, o.WeightDecay, param)
		}
		if o.Momentum != 0 {
			buf, found := o.buffers[name]
			if !found {
				buf = xslices.Copy(update)
				o.buffers[name] = buf
			} else {
				floats.Scale(o.Momentum, buf)
				floats.Add(buf, update)
			}
			if o.Nesterov {
				floats.AddScaled(update, o.Momentum, buf)
			} else {
				copy(update, buf)
			}
		}
		floats.AddScaled(param, -o.LearningRate, update)
	}
	return nil
}

// State implements Optimizer: the momentum buffers.
func (o *SGD) State() map[string][]float64 {
	return o.buffers
}

// LoadState implements Optimizer.
func (o *SGD) LoadState(state map[string][]float64) error {
	o.buffers = make(map[string][]float64, len(state))
	for name, buf := range state {
		o.buffers[name] = xslices.Copy(buf)
	}
	return nil
}
