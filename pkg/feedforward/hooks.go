// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package feedforward

import (
	"sort"

	"github.com/medalearn/medal/pkg/data"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(tr *Trainer, run *Run) error

// OnStepFn is the type of OnStep hooks. They are called after each training step with the batch
// and its loss.
type OnStepFn func(tr *Trainer, run *Run, batch *data.Batch, loss float64) error

// OnEpochFn is the type of OnEpoch hooks. They are called after each epoch, after the validation
// pass and before the epoch checkpoint is written.
type OnEpochFn func(tr *Trainer, run *Run, metrics EpochMetrics) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(tr *Trainer, run *Run) error

// OnStart adds a hook with given priority and name (for error reporting) to the start of a
// call to Trainer.Train.
func (tr *Trainer) OnStart(name string, priority Priority, fn OnStartFn) {
	tr.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to each training step.
func (tr *Trainer) OnStep(name string, priority Priority, fn OnStepFn) {
	tr.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpoch adds a hook with given priority and name (for error reporting) to the end of each epoch.
func (tr *Trainer) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	tr.onEpoch.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a call to
// Trainer.Train, after the last epoch.
func (tr *Trainer) OnEnd(name string, priority Priority, fn OnEndFn) {
	tr.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName is a hook function and its name, used for error reporting.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook with given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate calls fn for each hook, in order of priority, stopping at the first error.
func (h *priorityHooks[H]) Enumerate(fn func(hook H) error) error {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			if err := fn(hook); err != nil {
				return err
			}
		}
	}
	return nil
}
