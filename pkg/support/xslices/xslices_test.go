// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"epoch": 1, "al_iter": 2, "unexpected_key": 3}
	assert.Equal(t, []string{"al_iter", "epoch", "unexpected_key"}, SortedKeys(m))
	assert.Empty(t, SortedKeys(map[string]int{}))
}

func TestIotaAndGather(t *testing.T) {
	pool := Iota(10, 5)
	assert.Equal(t, []int{10, 11, 12, 13, 14}, pool)
	assert.Equal(t, []int{14, 10}, Gather(pool, []int{4, 0}))
	assert.Equal(t, 12.0, Mean(pool))
	assert.Equal(t, 0.0, Mean([]float64{}))
	assert.Equal(t, 14, Last(pool))
}

func TestCopyAndMap(t *testing.T) {
	assert.Nil(t, Copy([]int{}))
	src := []int{1, 2}
	dst := Copy(src)
	dst[0] = 7
	assert.Equal(t, 1, src[0])
	assert.Equal(t, []float64{0.5, 1}, Map(src, func(e int) float64 { return float64(e) / 2 }))
}
