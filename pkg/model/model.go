// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the boundary between the training loops and the numerical code: a Model computes
// predictions and gradients, a LossFn scores predictions against labels and an Optimizer applies gradient
// updates. A Classifier composes the three into the trainable capability consumed by the loops.
//
// The package also provides small reference implementations (LogisticRegression, SGD,
// BinaryCrossEntropy), enough to drive the loops end-to-end.
package model

import (
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ErrNotImplemented is returned by capabilities that are declared but not available,
// e.g. feature embeddings of a model that can't produce them.
var ErrNotImplemented = errors.New("not implemented")

// Parameters of a model by name. The slices are the live values: optimizers update them in place.
type Parameters map[string][]float64

// Gradients of the loss with respect to the Parameters of the same name.
type Gradients map[string][]float64

// Model computes predictions for a batch of inputs, one prediction (a probability for binary
// classification) per example.
type Model interface {
	// Forward returns one prediction per input.
	Forward(inputs [][]float64) ([]float64, error)

	// Backward returns the gradients of the parameters, given the inputs, the outputs returned by Forward for them,
	// and the gradient of the loss with respect to these outputs.
	Backward(inputs [][]float64, outputs, outputGrad []float64) (Gradients, error)

	// Parameters returns the live parameters of the model.
	Parameters() Parameters
}

// Embedder is optionally implemented by models that can produce a feature embedding per input.
type Embedder interface {
	Embed(inputs [][]float64) ([][]float64, error)
}

// LossFn computes the loss of predictions against labels.
type LossFn interface {
	// Loss returns the mean loss over the batch and its gradient with respect to each prediction.
	Loss(predictions, labels []float64) (loss float64, grad []float64, err error)
}

// Optimizer applies gradient updates to parameters.
type Optimizer interface {
	// Step updates params in place using grads.
	Step(params Parameters, grads Gradients) error

	// State returns the optimizer internal state (e.g. momentum buffers), to be checkpointed.
	State() map[string][]float64

	// LoadState restores a state returned by State. On error the state must be left unchanged.
	LoadState(state map[string][]float64) error
}

// Classifier composes a Model, a LossFn and an Optimizer into a trainable classifier.
// All three are required before use.
type Classifier struct {
	Model     Model
	Loss      LossFn
	Optimizer Optimizer
}

// Prefixes of the state blobs returned by Classifier.State.
const (
	ModelStatePrefix     = "model/"
	OptimizerStatePrefix = "optimizer/"
)

func (c *Classifier) check() {
	if c == nil || c.Model == nil || c.Loss == nil || c.Optimizer == nil {
		exceptions.Panicf("model.Classifier used without Model, Loss and Optimizer all set")
	}
}

// TrainStep runs forward, loss, backward and the optimizer update on one batch. It returns the batch loss.
func (c *Classifier) TrainStep(inputs [][]float64, labels []float64) (float64, error) {
	c.check()
	predictions, err := c.Model.Forward(inputs)
	if err != nil {
		return 0, errors.WithMessage(err, "forward pass")
	}
	loss, lossGrad, err := c.Loss.Loss(predictions, labels)
	if err != nil {
		return 0, errors.WithMessage(err, "loss")
	}
	if math.IsNaN(loss) {
		return loss, errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(loss, 0) {
		return loss, errors.Errorf("batch loss is infinity (%f), training interrupted", loss)
	}
	grads, err := c.Model.Backward(inputs, predictions, lossGrad)
	if err != nil {
		return 0, errors.WithMessage(err, "backward pass")
	}
	if err = c.Optimizer.Step(c.Model.Parameters(), grads); err != nil {
		return 0, errors.WithMessage(err, "optimizer step")
	}
	return loss, nil
}

// Evaluate returns the loss and the predictions on a batch, without updating the model.
func (c *Classifier) Evaluate(inputs [][]float64, labels []float64) (loss float64, predictions []float64, err error) {
	c.check()
	predictions, err = c.Model.Forward(inputs)
	if err != nil {
		return 0, nil, errors.WithMessage(err, "forward pass")
	}
	loss, _, err = c.Loss.Loss(predictions, labels)
	return
}

// Predict returns the model predictions for the inputs.
func (c *Classifier) Predict(inputs [][]float64) ([]float64, error) {
	c.check()
	return c.Model.Forward(inputs)
}

// Embed returns the feature embedding of the inputs. It fails with ErrNotImplemented if the model is not an
// Embedder.
func (c *Classifier) Embed(inputs [][]float64) ([][]float64, error) {
	c.check()
	embedder, ok := c.Model.(Embedder)
	if !ok {
		return nil, errors.Wrapf(ErrNotImplemented, "feature embedding of model %T", c.Model)
	}
	return embedder.Embed(inputs)
}

// State returns the model parameters and optimizer state, as blobs to be checkpointed.
// The returned slices are copies.
func (c *Classifier) State() map[string][]float64 {
	c.check()
	state := make(map[string][]float64)
	for name, values := range c.Model.Parameters() {
		state[ModelStatePrefix+name] = xslices.Copy(values)
	}
	for name, values := range c.Optimizer.State() {
		state[OptimizerStatePrefix+name] = xslices.Copy(values)
	}
	return state
}

// LoadState restores a state returned by State. Every model parameter must be present with the
// right size; unknown model entries are an error. On error the classifier is left unchanged.
func (c *Classifier) LoadState(state map[string][]float64) error {
	c.check()
	params := c.Model.Parameters()
	modelState := make(map[string][]float64, len(params))
	optState := make(map[string][]float64)
	for key, values := range state {
		switch {
		case strings.HasPrefix(key, ModelStatePrefix) && len(key) > len(ModelStatePrefix):
			name := strings.TrimPrefix(key, ModelStatePrefix)
			param, found := params[name]
			if !found {
				return errors.Errorf("checkpoint has unknown model parameter %q", name)
			}
			if len(param) != len(values) {
				return errors.Errorf("checkpoint parameter %q has %d values, model expects %d", name, len(values), len(param))
			}
			modelState[name] = values
		case strings.HasPrefix(key, OptimizerStatePrefix) && len(key) > len(OptimizerStatePrefix):
			optState[strings.TrimPrefix(key, OptimizerStatePrefix)] = xslices.Copy(values)
		default:
			return errors.Errorf("checkpoint has unknown state blob %q", key)
		}
	}
	if len(modelState) != len(params) {
		return errors.Errorf("checkpoint has %d of the %d model parameters", len(modelState), len(params))
	}
	if err := c.Optimizer.LoadState(optState); err != nil {
		return err
	}
	for name, values := range modelState {
		copy(params[name], values)
	}
	return nil
}

// Accuracy of binary predictions (probabilities) against 0/1 labels, with a 0.5 threshold.
func Accuracy(predictions, labels []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}
	var correct int
	for ii, p := range predictions {
		if (p >= 0.5) == (labels[ii] >= 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(predictions))
}
