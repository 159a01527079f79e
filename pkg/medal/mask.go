// Copyright 2023-2026 The MedAL Authors. SPDX-License-Identifier: Apache-2.0

package medal

import (
	"github.com/medalearn/medal/pkg/support/sets"
	"github.com/pkg/errors"
)

// Mask marks which positions of the training pool are labeled. Positions only ever go from
// unlabeled to labeled.
type Mask struct {
	labeled []bool
	count   int
}

// NewMask creates a mask for a pool of n positions, all unlabeled.
func NewMask(n int) *Mask {
	return &Mask{labeled: make([]bool, n)}
}

// Len is the size of the pool.
func (m *Mask) Len() int { return len(m.labeled) }

// Count is the number of labeled positions.
func (m *Mask) Count() int { return m.count }

// IsLabeled returns whether position pos is labeled.
func (m *Mask) IsLabeled(pos int) bool { return m.labeled[pos] }

// Label marks the positions as labeled. It fails, without changing the mask, if any position is out
// of range or repeated. Positions already labeled are an error as well.
func (m *Mask) Label(positions ...int) error {
	seen := sets.Make[int](len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(m.labeled) {
			return errors.Errorf("position %d out of range for pool of %d", pos, len(m.labeled))
		}
		if seen.Has(pos) {
			return errors.Errorf("position %d repeated", pos)
		}
		if m.labeled[pos] {
			return errors.Errorf("position %d is already labeled", pos)
		}
		seen.Insert(pos)
	}
	for _, pos := range positions {
		m.labeled[pos] = true
	}
	m.count += len(positions)
	return nil
}

// Labeled returns the labeled positions, in increasing order.
func (m *Mask) Labeled() []int {
	positions := make([]int, 0, m.count)
	for pos, labeled := range m.labeled {
		if labeled {
			positions = append(positions, pos)
		}
	}
	return positions
}

// Unlabeled returns the unlabeled positions, in increasing order.
func (m *Mask) Unlabeled() []int {
	positions := make([]int, 0, len(m.labeled)-m.count)
	for pos, labeled := range m.labeled {
		if !labeled {
			positions = append(positions, pos)
		}
	}
	return positions
}

// LabeledSet returns the labeled positions as a set.
func (m *Mask) LabeledSet() sets.Set[int] {
	return sets.MakeWith(m.Labeled()...)
}

// Ints encodes the mask as 0s and 1s, the form saved in checkpoints.
func (m *Mask) Ints() []int {
	ints := make([]int, len(m.labeled))
	for pos, labeled := range m.labeled {
		if labeled {
			ints[pos] = 1
		}
	}
	return ints
}

// MaskFromInts decodes a mask encoded with Mask.Ints.
func MaskFromInts(ints []int) (*Mask, error) {
	m := NewMask(len(ints))
	for pos, v := range ints {
		switch v {
		case 0:
		case 1:
			m.labeled[pos] = true
			m.count++
		default:
			return nil, errors.Errorf("invalid mask value %d at position %d", v, pos)
		}
	}
	return m, nil
}

// Clone returns an independent copy of the mask.
func (m *Mask) Clone() *Mask {
	m2 := &Mask{labeled: make([]bool, len(m.labeled)), count: m.count}
	copy(m2.labeled, m.labeled)
	return m2
}
