// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := Make[int](10)
	assert.Len(t, s, 0)

	// Check inserting and recovery.
	s.Insert(3, 7)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	s2 := MakeWith(5, 7)
	s3 := s.Sub(s2)
	assert.Len(t, s3, 1)
	assert.True(t, s3.Has(3))

	inter := s.Intersect(s2)
	assert.True(t, inter.Equal(MakeWith(7)))
	assert.Empty(t, s3.Intersect(s2))

	delete(s, 7)
	assert.True(t, s.Equal(s3))
	assert.False(t, s.Equal(s2))
	assert.False(t, s.Equal(MakeWith(-3)))
}

func TestSubsetAndSorted(t *testing.T) {
	labeled := MakeWith(4, 1, 9)
	grown := MakeWith(9, 4, 1, 0)
	assert.True(t, labeled.IsSubsetOf(grown))
	assert.False(t, grown.IsSubsetOf(labeled))
	assert.True(t, Make[int]().IsSubsetOf(labeled))
	assert.Equal(t, []int{0, 1, 4, 9}, Sorted(grown))
}
