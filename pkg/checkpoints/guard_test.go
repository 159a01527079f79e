// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureConsistent(t *testing.T) {
	extra := map[string]any{"al_iter": 3, "epoch": float64(5)}
	assert.NoError(t, EnsureConsistent(extra, "al_iter", 3))
	assert.NoError(t, EnsureConsistent(extra, "epoch", 5), "json decoded numbers compare as ints")

	// Run expects iteration 3, checkpoint declares iteration 2.
	err := EnsureConsistent(map[string]any{"al_iter": 2}, "al_iter", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistent))

	assert.ErrorIs(t, EnsureConsistent(nil, "al_iter", 3), ErrInconsistent)
	assert.ErrorIs(t, EnsureConsistent(map[string]any{}, "al_iter", 3), ErrInconsistent)
	assert.ErrorIs(t, EnsureConsistent(map[string]any{"al_iter": "3"}, "al_iter", 3), ErrInconsistent)

	// Checks are pure: nothing is consumed.
	assert.Len(t, extra, 2)
}

func TestMustEnsureConsistent(t *testing.T) {
	assert.NotPanics(t, func() { MustEnsureConsistent(map[string]any{"epoch": 1}, "epoch", 1) })
	err := exceptions.TryCatch[error](func() { MustEnsureConsistent(map[string]any{"epoch": 1}, "epoch", 2) })
	assert.Error(t, err)
}

func TestPopAndConsumed(t *testing.T) {
	extra := map[string]any{"al_iter": 3, "is_labeled": []int{0, 1, 1}, "unexpected_key": "x"}
	alIter, err := PopInt(extra, "al_iter")
	require.NoError(t, err)
	assert.Equal(t, 3, alIter)
	mask, err := PopInts(extra, "is_labeled")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1}, mask)

	err = EnsureConsumed(extra)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnconsumedState)
	assert.Contains(t, err.Error(), "unexpected_key")

	delete(extra, "unexpected_key")
	assert.NoError(t, EnsureConsumed(extra))
	assert.NoError(t, EnsureConsumed(nil))

	_, err = PopInt(extra, "epoch")
	assert.ErrorIs(t, err, ErrInconsistent)
	_, err = PopInt(map[string]any{"epoch": "five"}, "epoch")
	assert.Error(t, err)
	_, err = PopInts(map[string]any{"is_labeled": "no"}, "is_labeled")
	assert.Error(t, err)
}
