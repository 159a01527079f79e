// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package medal implements the MedAL active-learning loop: starting from a few labeled points of a
// training pool, it repeatedly trains the classifier on the labeled points and selects new points to
// label, growing the labeled set one round at a time.
//
// Progress (iteration, epoch and labeled set) is checkpointed, and a restarted run resumes the
// iteration it was in.
package medal

import (
	"fmt"
	"maps"

	"github.com/gomlx/exceptions"
	"github.com/medalearn/medal/pkg/checkpoints"
	"github.com/medalearn/medal/pkg/data"
	"github.com/medalearn/medal/pkg/feedforward"
	"github.com/medalearn/medal/pkg/support/sets"
	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Keys of the extra state saved with active-learning checkpoints.
const (
	KeyALIter    = "al_iter"
	KeyEpoch     = "epoch"
	KeyIsLabeled = "is_labeled"
)

// Learner runs the active-learning loop over a feedforward.Run.
type Learner struct {
	// FeedForward is trained once per iteration, on the labeled points.
	FeedForward *feedforward.Run

	// Trainer runs the training of each iteration. Hooks can be attached to it.
	Trainer *feedforward.Trainer

	// Pool holds the dataset indices of the training pool. Mask positions refer to it.
	Pool []int

	// Mask of labeled pool positions.
	Mask *Mask

	// Selector picks the positions to label.
	Selector Selector

	// ALIter is the current iteration, 0 before the loop starts.
	ALIter int

	// History of the completed iterations.
	History []IterationMetrics

	// inProgress is set when resuming from a checkpoint taken in the middle of iteration ALIter.
	inProgress bool
}

// IterationMetrics summarizes one active-learning iteration.
type IterationMetrics struct {
	ALIter int

	// Labeled is the number of labeled points the iteration trained on.
	Labeled int

	// Selected are the dataset indices labeled at the end of the iteration.
	Selected []int

	// Last holds the metrics of the last epoch trained in the iteration, if any.
	Last    feedforward.EpochMetrics
	HasLast bool
}

// New creates a Learner over the training pool and performs the initial selection.
//
// run must have Config, Classifier and Dataset set; its TrainLoader is rebuilt at every iteration
// and can be nil. Checkpoints, if set, should name checkpoints with checkpoints.ActiveLearningName.
func New(run *feedforward.Run, pool []int, selector Selector) (*Learner, error) {
	if run == nil || run.Config == nil || run.Classifier == nil || run.Dataset == nil {
		exceptions.Panicf("medal.New requires a Run with Config, Classifier and Dataset set")
	}
	if selector == nil {
		exceptions.Panicf("medal.New requires a Selector")
	}
	if len(pool) == 0 {
		return nil, errors.Errorf("%s: empty training pool", run.Config)
	}
	seen := sets.Make[int](len(pool))
	for _, idx := range pool {
		if idx < 0 || idx >= run.Dataset.Len() {
			return nil, errors.Errorf("%s: pool index %d out of range for dataset %q of %d examples",
				run.Config, idx, run.Dataset.Name(), run.Dataset.Len())
		}
		if seen.Has(idx) {
			return nil, errors.Errorf("%s: pool index %d repeated", run.Config, idx)
		}
		seen.Insert(idx)
	}
	if run.TrainDataset != nil && run.TrainDataset.Len() != run.Dataset.Len() {
		return nil, errors.Errorf("%s: training dataset %q has %d examples, dataset %q has %d",
			run.Config, run.TrainDataset.Name(), run.TrainDataset.Len(), run.Dataset.Name(), run.Dataset.Len())
	}

	l := &Learner{
		FeedForward: run,
		Trainer:     feedforward.NewTrainer(),
		Pool:        xslices.Copy(pool),
		Mask:        NewMask(len(pool)),
		Selector:    selector,
	}
	run.ExtraState = l.extraState
	run.ALIter = 0
	run.Epoch = 0

	selected, err := selector.SelectInitial(l.Mask)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: initial selection", run.Config)
	}
	if err = checkSelection(selected, l.Mask); err != nil {
		return nil, errors.WithMessagef(err, "%s: initial selection", run.Config)
	}
	if err = l.Mask.Label(selected...); err != nil {
		return nil, err
	}
	klog.Infof("%s: initial selection labeled %d of %d points", run.Config, l.Mask.Count(), l.Mask.Len())
	return l, nil
}

func (l *Learner) extraState() map[string]any {
	return map[string]any{
		KeyALIter:    l.ALIter,
		KeyIsLabeled: l.Mask.Ints(),
	}
}

// LabeledIndices returns the dataset indices of the labeled points.
func (l *Learner) LabeledIndices() []int {
	return xslices.Gather(l.Pool, l.Mask.Labeled())
}

// newLoader creates a loader over the dataset indices of the pool positions. Training loaders are
// shuffled and read the run's training dataset.
func (l *Learner) newLoader(positions []int, training bool) *data.Loader {
	run := l.FeedForward
	ds := run.Dataset
	if training {
		ds = run.TrainingDataset()
	}
	return feedforward.NewLoader(run.Config, ds, xslices.Gather(l.Pool, positions), training)
}

// Run executes the active-learning iterations up to Config.ALIters. Each iteration:
//
//  1. Resets the epoch marker and sets the iteration marker.
//  2. Rebuilds the training loader over the labeled points.
//  3. Trains to completion.
//  4. Selects new points to label.
//  5. Checks the selection is non-empty and disjoint from the labeled set.
//  6. Labels the selected points.
//
// An iteration interrupted and restored with LoadCheckpoint is continued from its recorded epoch.
// The loop stops early, with a warning, if there are no unlabeled points left.
// Selection violations return an error wrapping ErrSelectionViolation.
func (l *Learner) Run() error {
	run, cfg := l.FeedForward, l.FeedForward.Config
	for {
		if !l.inProgress {
			if l.ALIter >= cfg.ALIters {
				break
			}
			if l.Mask.Count() == l.Mask.Len() {
				klog.Warningf("%s: all %d points labeled after iteration %d of %d, stopping",
					cfg, l.Mask.Len(), l.ALIter, cfg.ALIters)
				break
			}
			l.ALIter++
			run.Epoch = 0
		}
		l.inProgress = false
		if err := l.iteration(); err != nil {
			return errors.WithMessagef(err, "%s: active-learning iteration %d", cfg, l.ALIter)
		}
	}
	klog.Infof("%s: active learning finished after %d iterations, %d of %d points labeled",
		cfg, l.ALIter, l.Mask.Count(), l.Mask.Len())
	return nil
}

// iteration runs the current iteration from the current epoch.
func (l *Learner) iteration() error {
	run := l.FeedForward
	run.ALIter = l.ALIter
	run.LogPrefix = fmt.Sprintf("al_iter %d: ", l.ALIter)
	labeled := l.Mask.Labeled()
	run.TrainLoader = l.newLoader(labeled, true)
	klog.Infof("%straining on %d labeled points from epoch %d", run.LogPrefix, len(labeled), run.Epoch)
	if err := l.Trainer.Train(run); err != nil {
		return err
	}

	metrics := IterationMetrics{ALIter: l.ALIter, Labeled: len(labeled)}
	if len(run.History) > 0 && xslices.Last(run.History).ALIter == l.ALIter {
		metrics.Last, metrics.HasLast = xslices.Last(run.History), true
	}
	if l.Mask.Count() == l.Mask.Len() {
		klog.Warningf("%sno unlabeled points left to select", run.LogPrefix)
		l.History = append(l.History, metrics)
		return nil
	}

	selected, err := l.Selector.SelectRound(run.Classifier, func(positions []int) *data.Loader {
		return l.newLoader(positions, false)
	}, l.Mask)
	if err != nil {
		return errors.WithMessage(err, "round selection")
	}
	if err = checkSelection(selected, l.Mask); err != nil {
		return err
	}
	if err = l.Mask.Label(selected...); err != nil {
		return err
	}
	metrics.Selected = xslices.Gather(l.Pool, selected)
	l.History = append(l.History, metrics)
	klog.Infof("%slabeled %d new points (%d of %d labeled)", run.LogPrefix, len(selected), l.Mask.Count(), l.Mask.Len())
	return nil
}

// LoadCheckpoint restores the progress of the loop from Config.ResumeFrom or, if not set, from the
// latest checkpoint of the run.
//
// With no checkpoint and ALIter == 0 it is a fresh start, and it returns false. Otherwise the
// checkpoint must record al_iter, equal to ALIter if that is already set. The recorded epoch and
// labeled set are restored; once the loop has run, the labeled set must include every point labeled
// so far. If checkAll
// is set, any other key in the checkpoint's extra state is an error wrapping
// checkpoints.ErrUnconsumedState.
//
// Nothing is changed if an error is returned.
func (l *Learner) LoadCheckpoint(checkAll bool) (bool, error) {
	run, cfg := l.FeedForward, l.FeedForward.Config
	if run.Checkpoints == nil {
		if l.ALIter != 0 {
			return false, errors.Errorf("%s: no checkpoint handler to resume iteration %d from", cfg, l.ALIter)
		}
		return false, nil
	}
	record, err := feedforward.LoadRecord(run.Checkpoints, cfg)
	if err != nil {
		if errors.Is(err, checkpoints.ErrNotFound) && l.ALIter == 0 && cfg.ResumeFrom == "" {
			klog.Infof("%s: no checkpoint found, starting from scratch", cfg)
			return false, nil
		}
		return false, errors.WithMessagef(err, "%s: resuming iteration %d", cfg, l.ALIter)
	}
	extra := maps.Clone(record.Extra)
	if l.ALIter != 0 {
		if err = checkpoints.EnsureConsistent(extra, KeyALIter, l.ALIter); err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
	}
	alIter, err := checkpoints.PopInt(extra, KeyALIter)
	if err != nil {
		return false, errors.WithMessagef(err, "resuming %q", record.Name)
	}
	epoch := 0
	if _, found := extra[KeyEpoch]; found {
		if epoch, err = checkpoints.PopInt(extra, KeyEpoch); err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
	}
	mask := l.Mask
	if _, found := extra[KeyIsLabeled]; found {
		ints, err := checkpoints.PopInts(extra, KeyIsLabeled)
		if err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
		if mask, err = l.restoredMask(ints); err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
	}
	if checkAll {
		if err = checkpoints.EnsureConsumed(extra); err != nil {
			return false, errors.WithMessagef(err, "resuming %q", record.Name)
		}
	}
	if err = run.Classifier.LoadState(record.Blobs); err != nil {
		return false, errors.WithMessagef(err, "resuming %q", record.Name)
	}

	l.ALIter = alIter
	l.Mask = mask
	l.inProgress = alIter > 0
	run.ALIter = alIter
	run.Epoch = epoch
	klog.Infof("%s: resumed from %q at iteration %d, epoch %d, with %d labeled points",
		cfg, record.Name, alIter, epoch, mask.Count())
	return true, nil
}

// restoredMask decodes a checkpointed mask, which must be over the same pool. Once the loop has run,
// it must also include the currently labeled positions; before that it replaces the initial selection.
func (l *Learner) restoredMask(ints []int) (*Mask, error) {
	if len(ints) != l.Mask.Len() {
		return nil, errors.Wrapf(checkpoints.ErrInconsistent, "checkpoint mask has %d positions, pool has %d",
			len(ints), l.Mask.Len())
	}
	mask, err := MaskFromInts(ints)
	if err != nil {
		return nil, err
	}
	if l.ALIter > 0 && !l.Mask.LabeledSet().IsSubsetOf(mask.LabeledSet()) {
		return nil, errors.Wrapf(checkpoints.ErrInconsistent, "checkpoint mask doesn't include labeled positions %v",
			sets.Sorted(l.Mask.LabeledSet().Sub(mask.LabeledSet())))
	}
	return mask, nil
}
