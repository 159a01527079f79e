// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package feedforward

import (
	"io"
	"slices"
	"time"

	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Trainer runs the training loop of a Run, invoking the hooks attached to it.
//
// In itself it doesn't do much beyond the training steps and the checkpoints, but one can attach
// functionality to it, like progress bars or plots.
//
// A Trainer can be reused for several calls to Train (the active-learning loop trains once per
// iteration), and the hooks stay attached.
type Trainer struct {
	// Step counts the training steps executed by this Trainer, over all calls to Train.
	Step int

	// StartEpoch and EndEpoch of the current (or last) call to Train: epochs StartEpoch+1 to EndEpoch
	// are trained.
	StartEpoch, EndEpoch int

	// StepsPerEpoch of the current call to Train.
	StepsPerEpoch int

	// TrainStepDurations of the current call to Train.
	TrainStepDurations []time.Duration

	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewTrainer creates a Trainer with no hooks.
func NewTrainer() *Trainer {
	return &Trainer{
		onStart: newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:  newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch: newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:   newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// Train runs the epochs run.Epoch+1 to run.Config.Epochs. For each batch it runs forward, loss,
// backward and the optimizer update; run.Epoch is updated as each epoch completes.
//
// A checkpoint is written every Config.CheckpointEvery epochs and at the last one, if
// run.Checkpoints is set. Errors from the model, the optimizer, the loaders or the hooks are
// returned immediately, leaving run.Epoch at the last completed epoch.
func (tr *Trainer) Train(run *Run) error {
	run.check()
	cfg := run.Config
	tr.StartEpoch, tr.EndEpoch = run.Epoch, cfg.Epochs
	tr.StepsPerEpoch = run.TrainLoader.NumBatches()
	tr.TrainStepDurations = nil
	if run.Epoch >= cfg.Epochs {
		klog.V(1).Infof("%s%s: already trained for %d epochs", run.LogPrefix, cfg, run.Epoch)
	}

	err := tr.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) error {
		return errors.WithMessagef(hook.fn(tr, run), "OnStart(hook %q)", hook.name)
	})
	if err != nil {
		return err
	}
	for run.Epoch < cfg.Epochs {
		metrics, err := tr.trainEpoch(run, run.Epoch+1)
		if err != nil {
			return errors.WithMessagef(err, "%s: training epoch %d", cfg, run.Epoch+1)
		}
		run.Epoch = metrics.Epoch
		if run.ValLoader != nil {
			metrics.ValLoss, metrics.ValAccuracy, err = Evaluate(run.Classifier, run.ValLoader)
			if err != nil {
				return errors.WithMessagef(err, "%s: validation after epoch %d", cfg, run.Epoch)
			}
			metrics.HasVal = true
		}
		run.History = append(run.History, metrics)
		klog.Infof("%s%s", run.LogPrefix, metrics)

		err = tr.onEpoch.Enumerate(func(hook *hookWithName[OnEpochFn]) error {
			return errors.WithMessagef(hook.fn(tr, run, metrics), "OnEpoch(hook %q)", hook.name)
		})
		if err != nil {
			return err
		}
		if run.Checkpoints != nil && cfg.CheckpointEvery > 0 &&
			(run.Epoch%cfg.CheckpointEvery == 0 || run.Epoch == cfg.Epochs) {
			if _, err = run.SaveCheckpoint(); err != nil {
				return err
			}
		}
	}
	return tr.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) error {
		return errors.WithMessagef(hook.fn(tr, run), "OnEnd(hook %q)", hook.name)
	})
}

// trainEpoch runs one pass over the train loader.
func (tr *Trainer) trainEpoch(run *Run, epoch int) (metrics EpochMetrics, err error) {
	metrics = EpochMetrics{ALIter: run.ALIter, Epoch: epoch}
	loader := run.TrainLoader
	loader.Reset()
	var sumLoss float64
	var numExamples int
	for {
		batch, err := loader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return metrics, err
		}
		startTime := time.Now()
		loss, err := run.Classifier.TrainStep(batch.Inputs, batch.Labels)
		tr.TrainStepDurations = append(tr.TrainStepDurations, time.Since(startTime))
		if err != nil {
			return metrics, errors.WithMessagef(err, "minibatch %d", metrics.Steps)
		}
		klog.V(1).Infof("%sepoch %d, minibatch %d: loss=%.4f", run.LogPrefix, epoch, metrics.Steps, loss)
		sumLoss += loss * float64(batch.Size())
		numExamples += batch.Size()
		metrics.Steps++
		tr.Step++
		err = tr.onStep.Enumerate(func(hook *hookWithName[OnStepFn]) error {
			return errors.WithMessagef(hook.fn(tr, run, batch, loss), "OnStep(hook %q)", hook.name)
		})
		if err != nil {
			return metrics, err
		}
	}
	if numExamples == 0 {
		klog.Warningf("%s%s: epoch %d had no training examples", run.LogPrefix, run.Config, epoch)
		return metrics, nil
	}
	metrics.TrainLoss = sumLoss / float64(numExamples)
	return metrics, nil
}

// MedianTrainStepDuration returns the median duration of the training steps of the current call to
// Train. It returns 1 millisecond if no steps were run yet.
func (tr *Trainer) MedianTrainStepDuration() time.Duration {
	if len(tr.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(tr.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// Evaluate returns the loss and the accuracy of the classifier over one full pass of the loader.
func Evaluate(clf *model.Classifier, loader *data.Loader) (loss, accuracy float64, err error) {
	loader.Reset()
	all, err := data.Collect(loader)
	if err != nil {
		return 0, 0, err
	}
	if all.Size() == 0 {
		return 0, 0, errors.Errorf("evaluating on empty loader %q", loader.Name())
	}
	loss, predictions, err := clf.Evaluate(all.Inputs, all.Labels)
	if err != nil {
		return 0, 0, err
	}
	return loss, model.Accuracy(predictions, all.Labels), nil
}
