// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sorted

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntList(values ...int) *List[int] {
	l := New(cmp.Compare[int])
	for _, v := range values {
		l.Insert(v)
	}
	return l
}

// =============================================================================
// Insert / Append
// =============================================================================

func TestList_InsertKeepsOrder(t *testing.T) {
	l := newIntList(3, 13, 1, -5, 25)

	assert.Equal(t, []int{-5, 1, 3, 13, 25}, l.Items())
	assert.Equal(t, "{-5, 1, 3, 13, 25}", l.String())
	assert.Equal(t, 5, l.Len())
}

func TestList_InsertReturnsPosition(t *testing.T) {
	l := newIntList(10, 20, 30)

	assert.Equal(t, 0, l.Insert(5))
	assert.Equal(t, 2, l.Insert(15))
	assert.Equal(t, 5, l.Insert(99))
}

func TestList_AppendInOrder(t *testing.T) {
	l := New(cmp.Compare[int])
	for _, v := range []int{-5, 1, 3, 3, 13, 25} {
		require.NoError(t, l.Append(v))
	}
	assert.Equal(t, "{-5, 1, 3, 3, 13, 25}", l.String())

	err := l.Append(24)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfOrderAppend)
	assert.Equal(t, 6, l.Len(), "failed append must not modify the list")
}

func TestList_AppendEqualToLast(t *testing.T) {
	l := newIntList(1, 2)
	require.NoError(t, l.Append(2))
	assert.Equal(t, []int{1, 2, 2}, l.Items())
}

func TestList_RandomInsertsMatchSort(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	l := New(cmp.Compare[int])
	var want []int
	for range 500 {
		v := rng.IntN(100) - 50
		l.Insert(v)
		want = append(want, v)
	}
	slices.Sort(want)
	assert.Equal(t, want, l.Items())
}

// =============================================================================
// Removal
// =============================================================================

func TestList_RemoveAt(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  []int
		gone  int
	}{
		{"first", 0, []int{1, 3, 13, 25}, -5},
		{"middle", 2, []int{-5, 1, 13, 25}, 3},
		{"last", 4, []int{-5, 1, 3, 13}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newIntList(3, 13, 1, -5, 25)
			assert.Equal(t, tt.gone, l.RemoveAt(tt.index))
			assert.Equal(t, tt.want, l.Items())
		})
	}
}

func TestList_RemoveAtOutOfRangePanics(t *testing.T) {
	l := newIntList(1)
	assert.Panics(t, func() { l.RemoveAt(1) })
}

func TestList_Remove(t *testing.T) {
	l := newIntList(4, 2, 2, 8)

	assert.True(t, l.Remove(2))
	assert.Equal(t, []int{2, 4, 8}, l.Items())
	assert.False(t, l.Remove(5))
	assert.Equal(t, []int{2, 4, 8}, l.Items())
}

func TestList_RemoveFromEmpty(t *testing.T) {
	l := New(cmp.Compare[int])
	assert.False(t, l.Remove(1))
}

// =============================================================================
// Search
// =============================================================================

func TestList_IndexOf(t *testing.T) {
	l := newIntList(1, 3, 3, 3, 7)

	assert.Equal(t, 1, l.IndexOf(3), "first of equal run")
	assert.Equal(t, 0, l.IndexOf(0), "insertion point before all")
	assert.Equal(t, 4, l.IndexOf(5), "insertion point in the middle")
	assert.Equal(t, 5, l.IndexOf(9), "insertion point after all")
	assert.True(t, l.Contains(7))
	assert.False(t, l.Contains(2))
}

func TestList_LastIndexOfEqual(t *testing.T) {
	l := newIntList(1, 3, 3, 3, 7)

	assert.Equal(t, 3, l.LastIndexOfEqual(3))
	assert.Equal(t, 4, l.LastIndexOfEqual(7))
	assert.Equal(t, 0, l.LastIndexOfEqual(1))
	assert.Equal(t, 4, l.LastIndexOfEqual(5), "absent value reports insertion point")
}

func TestList_DescendingComparator(t *testing.T) {
	desc := func(a, b float64) int { return cmp.Compare(b, a) }
	l := New(desc)
	for _, v := range []float64{2, 9, 4, 4, 1} {
		l.Insert(v)
	}

	assert.Equal(t, []float64{9, 4, 4, 2, 1}, l.Items())
	assert.Equal(t, 2, l.LastIndexOfEqual(4))
	assert.Equal(t, 3, l.LastIndexOfEqual(3))
}

// =============================================================================
// Snapshots
// =============================================================================

func TestList_CloneIsIndependent(t *testing.T) {
	l := newIntList(1, 2, 3)
	snapshot := l.Clone()

	l.RemoveAt(0)
	l.Insert(10)

	assert.Equal(t, []int{1, 2, 3}, snapshot.Items())
	assert.Equal(t, []int{2, 3, 10}, l.Items())
}

func TestList_CloneSharesReferences(t *testing.T) {
	type box struct{ v int }
	l := New(func(a, b *box) int { return cmp.Compare(a.v, b.v) })
	b := &box{v: 1}
	l.Insert(b)

	snapshot := l.Clone()
	b.v = 42

	assert.Equal(t, 42, snapshot.At(0).v)
}

func TestList_Clear(t *testing.T) {
	l := newIntList(1, 2, 3)
	l.Clear()

	assert.True(t, l.IsEmpty())
	assert.Equal(t, "{}", l.String())
	require.NoError(t, l.Append(-1))
	assert.Equal(t, -1, l.Last())
}
