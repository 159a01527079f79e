// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package feedforward implements the plain (feed-forward) training loop: epochs of
// forward, loss, backward and optimizer update over a data.Loader, with periodic checkpoints.
//
// The active-learning loop in package medal drives the same Trainer once per iteration.
package feedforward

import (
	"fmt"
	"maps"

	"github.com/gomlx/exceptions"
	"github.com/medalearn/medal/pkg/checkpoints"
	"github.com/medalearn/medal/pkg/config"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Run holds everything a training run needs. The references are set once, before training starts;
// only the progress markers (Epoch, ALIter) and History change afterwards.
type Run struct {
	// Config of the run. Required.
	Config *config.Config

	// Classifier being trained. Required.
	Classifier *model.Classifier

	// Dataset the loaders read from.
	Dataset data.Dataset

	// TrainDataset, if set, is read by the training loaders instead of Dataset, e.g. with
	// augmentation enabled. It must have the same examples as Dataset.
	TrainDataset data.Dataset

	// TrainLoader yields the training batches. Required.
	TrainLoader *data.Loader

	// ValLoader, if set, is evaluated at the end of each epoch.
	ValLoader *data.Loader

	// Checkpoints, if set, receives a checkpoint every Config.CheckpointEvery epochs and at the last one.
	Checkpoints *checkpoints.Handler

	// Epoch is the last completed epoch. 0 before training.
	Epoch int

	// ALIter is the active-learning iteration, used to name checkpoints. 0 for feed-forward runs.
	ALIter int

	// ExtraState, if set, returns additional state saved with each checkpoint. It must not return
	// the key "epoch".
	ExtraState func() map[string]any

	// LogPrefix is prepended to the log messages of the loop.
	LogPrefix string

	// History of the completed epochs.
	History []EpochMetrics
}

// TrainingDataset returns TrainDataset if set, or Dataset otherwise.
func (run *Run) TrainingDataset() data.Dataset {
	if run.TrainDataset != nil {
		return run.TrainDataset
	}
	return run.Dataset
}

// EpochMetrics summarizes one epoch.
type EpochMetrics struct {
	ALIter, Epoch int

	// Steps is the number of batches trained on, and TrainLoss their mean loss, weighted by batch size.
	Steps     int
	TrainLoss float64

	// HasVal is set if there was a validation pass.
	HasVal      bool
	ValLoss     float64
	ValAccuracy float64
}

// String implements fmt.Stringer.
func (m EpochMetrics) String() string {
	s := fmt.Sprintf("epoch %d: train_loss=%.4f", m.Epoch, m.TrainLoss)
	if m.HasVal {
		s += fmt.Sprintf(", val_loss=%.4f, val_accuracy=%.2f%%", m.ValLoss, 100*m.ValAccuracy)
	}
	return s
}

// check the required fields are set.
func (run *Run) check() {
	if run.Config == nil || run.Classifier == nil || run.TrainLoader == nil {
		exceptions.Panicf("feedforward.Run requires Config, Classifier and TrainLoader to be set")
	}
}

// Key of the checkpoint for the current progress markers.
func (run *Run) Key() checkpoints.Key {
	return checkpoints.Key{RunID: run.Config.RunID, ALIter: run.ALIter, Epoch: run.Epoch}
}

// SaveCheckpoint saves the classifier state and the progress markers under the current Key.
func (run *Run) SaveCheckpoint() (*checkpoints.Record, error) {
	run.check()
	if run.Checkpoints == nil {
		return nil, errors.Errorf("%s: no checkpoint handler configured", run.Config)
	}
	extra := make(map[string]any)
	if run.ExtraState != nil {
		maps.Copy(extra, run.ExtraState())
	}
	extra["epoch"] = run.Epoch
	record, err := run.Checkpoints.Save(run.Key(), extra, run.Classifier.State())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: saving checkpoint at epoch %d", run.Config, run.Epoch)
	}
	return record, nil
}

// LoadCheckpoint resumes a feed-forward run from Config.ResumeFrom or, if not set, from the latest
// checkpoint of the run. It returns false with no error if there is nothing to resume from and the
// run is at epoch 0.
//
// If the run's Epoch is already set, the checkpoint must agree with it. The checkpoint must not hold
// any state other than the epoch.
func (run *Run) LoadCheckpoint() (bool, error) {
	run.check()
	if run.Checkpoints == nil {
		return false, nil
	}
	record, err := LoadRecord(run.Checkpoints, run.Config)
	if errors.Is(err, checkpoints.ErrNotFound) && run.Epoch == 0 {
		klog.Infof("%s: no checkpoint found, starting from scratch", run.Config)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	extra := maps.Clone(record.Extra)
	if run.Epoch != 0 {
		if err = checkpoints.EnsureConsistent(extra, "epoch", run.Epoch); err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
	}
	epoch, err := checkpoints.PopInt(extra, "epoch")
	if err != nil {
		return false, errors.WithMessagef(err, "resuming %q", record.Name)
	}
	if err = checkpoints.EnsureConsumed(extra); err != nil {
		return false, errors.WithMessagef(err, "resuming %q", record.Name)
	}
	if err = run.Classifier.LoadState(record.Blobs); err != nil {
		return false, errors.WithMessagef(err, "resuming %q", record.Name)
	}
	run.Epoch = epoch
	klog.Infof("%s: resumed from %q at epoch %d", run.Config, record.Name, epoch)
	return true, nil
}

// LoadRecord loads cfg.ResumeFrom if set, or the latest checkpoint of the run.
func LoadRecord(handler *checkpoints.Handler, cfg *config.Config) (*checkpoints.Record, error) {
	if cfg.ResumeFrom != "" {
		return handler.Load(cfg.ResumeFrom)
	}
	return handler.Latest(cfg.RunID)
}
