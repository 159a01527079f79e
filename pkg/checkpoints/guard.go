// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"math"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/medalearn/medal/pkg/support/xslices"
	"github.com/pkg/errors"
)

var (
	// ErrInconsistent is returned when a checkpoint's recorded progress disagrees with the expected one.
	ErrInconsistent = errors.New("checkpoint inconsistent with expected state")

	// ErrUnconsumedState is returned when a checkpoint holds extra state that nobody consumed.
	ErrUnconsumedState = errors.New("checkpoint has unconsumed extra state")

	// ErrNotFound is returned by stores when the requested checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")
)

// EnsureConsistent verifies that extra[key] holds value. A nil extra state (no checkpoint loaded)
// or a missing key is also inconsistent. Integer values are compared irrespective of their Go type.
func EnsureConsistent(extra map[string]any, key string, value any) error {
	if extra == nil {
		return errors.Wrapf(ErrInconsistent, "expected %s=%v, but no checkpoint state was loaded", key, value)
	}
	stored, found := extra[key]
	if !found {
		return errors.Wrapf(ErrInconsistent, "expected %s=%v, but checkpoint doesn't record %q", key, value, key)
	}
	if !sameValue(stored, value) {
		return errors.Wrapf(ErrInconsistent, "expected %s=%v, checkpoint recorded %s=%v", key, value, key, stored)
	}
	return nil
}

// MustEnsureConsistent is like EnsureConsistent, but panics on inconsistency.
func MustEnsureConsistent(extra map[string]any, key string, value any) {
	if err := EnsureConsistent(extra, key, value); err != nil {
		exceptions.Panicf("%+v", err)
	}
}

func sameValue(a, b any) bool {
	ia, okA := asInt(a)
	ib, okB := asInt(b)
	if okA && okB {
		return ia == ib
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

// PopInt removes key from extra and returns it as an int. The key is required.
func PopInt(extra map[string]any, key string) (int, error) {
	value, found := extra[key]
	if !found {
		return 0, errors.Wrapf(ErrInconsistent, "checkpoint doesn't record %q", key)
	}
	i, ok := asInt(value)
	if !ok {
		return 0, errors.Errorf("checkpoint value for %q is not an integer: %#v", key, value)
	}
	delete(extra, key)
	return int(i), nil
}

// PopInts removes key from extra and returns it as a []int. The key is required.
func PopInts(extra map[string]any, key string) ([]int, error) {
	value, found := extra[key]
	if !found {
		return nil, errors.Wrapf(ErrInconsistent, "checkpoint doesn't record %q", key)
	}
	ints, ok := value.([]int)
	if !ok {
		return nil, errors.Errorf("checkpoint value for %q is not a list of integers: %T", key, value)
	}
	delete(extra, key)
	return ints, nil
}

// EnsureConsumed returns an error listing the keys left in extra, if any.
func EnsureConsumed(extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}
	return errors.Wrapf(ErrUnconsumedState, "unknown keys %v", xslices.SortedKeys(extra))
}
