// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements checkpoint management: saving, listing and loading of training state,
// and the consistency checks done when a run is resumed.
//
// A checkpoint is a Record: a mapping of extra state (progress markers like "epoch" and "al_iter")
// plus named blobs of numeric state. Records are persisted by a Store (FileStore or LevelDBStore),
// and named from the progress markers by a NameFn.
//
// The Handler ties the three together. Example:
//
//	store := must.M1(checkpoints.NewFileStore(afero.NewOsFs(), cfg.CheckpointDir))
//	handler := checkpoints.NewHandler(store, checkpoints.ActiveLearningName).Keep(cfg.CheckpointKeep)
//	record, err := handler.Latest(cfg.RunID)
//	…
//	_, err = handler.Save(checkpoints.Key{RunID: cfg.RunID, ALIter: 3, Epoch: 5}, extra, blobs)
//
// When resuming, EnsureConsistent verifies the loaded progress markers against the expected ones,
// PopInt/PopInts consume the known keys and EnsureConsumed rejects any leftover.
package checkpoints

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handler saves and loads checkpoints of runs to a Store, naming them with a NameFn.
type Handler struct {
	store  Store
	nameFn NameFn
	keep   int
}

// NewHandler creates a Handler. By default, it keeps all checkpoints.
func NewHandler(store Store, nameFn NameFn) *Handler {
	return &Handler{store: store, nameFn: nameFn, keep: -1}
}

// Keep configures the number of checkpoints to keep per run. If set to 0 or -1, it will never erase
// older checkpoints.
//
// It returns the Handler, so calls can be cascaded.
func (h *Handler) Keep(n int) *Handler {
	h.keep = n
	return h
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%s)", h.store)
}

// Store used by the handler.
func (h *Handler) Store() Store {
	return h.store
}

// Name returns the checkpoint name for the key.
func (h *Handler) Name(key Key) string {
	return h.nameFn(key)
}

// Save creates a new checkpoint for key with the given extra state and blobs, and removes excess
// checkpoints of the run.
func (h *Handler) Save(key Key, extra map[string]any, blobs map[string][]float64) (*Record, error) {
	record := &Record{
		Name:    h.nameFn(key),
		RunID:   key.RunID,
		ID:      uuid.NewString(),
		SavedAt: time.Now(),
		Extra:   extra,
		Blobs:   blobs,
	}
	if err := h.store.Save(record); err != nil {
		return nil, err
	}
	klog.V(1).Infof("saved checkpoint %q (id %s)", record.Name, record.ID)
	return record, h.keepNCheckpoints(key.RunID)
}

// Load a checkpoint by name.
func (h *Handler) Load(name string) (*Record, error) {
	return h.store.Load(name)
}

// List returns the names of the checkpoints of a run, ordered by progress (oldest first).
// Names that don't parse as checkpoint names are skipped.
func (h *Handler) List(runID string) ([]string, error) {
	names, err := h.store.List(runID)
	if err != nil {
		return nil, err
	}
	type keyed struct {
		name string
		key  Key
	}
	var valid []keyed
	for _, name := range names {
		key, ok := ParseName(name)
		if !ok {
			klog.Warningf("%s: ignoring checkpoint with unknown name format %q", h, name)
			continue
		}
		valid = append(valid, keyed{name, key})
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].key.Less(valid[j].key) })
	names = make([]string, len(valid))
	for ii, k := range valid {
		names[ii] = k.name
	}
	return names, nil
}

// Latest loads the most advanced checkpoint of the run. It returns an error wrapping ErrNotFound if
// the run has no checkpoints.
func (h *Handler) Latest(runID string) (*Record, error) {
	names, err := h.List(runID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s: no checkpoints for run %q", h, runID)
	}
	return h.store.Load(names[len(names)-1])
}

// keepNCheckpoints checks if there are more than the configured number of checkpoints, and removes
// the excess, starting from the oldest.
func (h *Handler) keepNCheckpoints(runID string) error {
	if h.keep <= 0 {
		return nil
	}
	names, err := h.List(runID)
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(names) <= h.keep {
		return nil
	}
	for _, name := range names[:len(names)-h.keep] {
		if err = h.store.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
