// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sorted provides an ordered slice-backed container.
//
// List keeps its elements in ascending order of a caller-supplied
// comparison function. Lookups use binary search, so Insert, IndexOf and
// Contains cost O(log n) comparisons; Insert and RemoveAt still pay an O(n)
// shift of the backing slice.
//
// # Thread Safety
//
// List is NOT safe for concurrent use. Callers own synchronization.
package sorted

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrOutOfOrderAppend is returned by Append when the element would
	// break the ascending order of the list.
	ErrOutOfOrderAppend = errors.New("out-of-order append")
)

// =============================================================================
// List
// =============================================================================

// List is an ascending ordered sequence.
type List[E any] struct {
	items []E
	cmp   func(a, b E) int
}

// New creates an empty List ordered by cmp. cmp returns a negative number
// when a sorts before b, zero when they are equal, and a positive number
// otherwise.
func New[E any](cmp func(a, b E) int) *List[E] {
	return NewWithCapacity(cmp, 0)
}

// NewWithCapacity creates an empty List with room for n elements.
func NewWithCapacity[E any](cmp func(a, b E) int, n int) *List[E] {
	if cmp == nil {
		panic("sorted: nil compare function")
	}
	return &List[E]{items: make([]E, 0, n), cmp: cmp}
}

// Len returns the number of elements.
func (l *List[E]) Len() int { return len(l.items) }

// IsEmpty reports whether the list has no elements.
func (l *List[E]) IsEmpty() bool { return len(l.items) == 0 }

// At returns the element at position i. It panics when i is out of range.
func (l *List[E]) At(i int) E { return l.items[i] }

// Last returns the greatest element. It panics on an empty list.
func (l *List[E]) Last() E { return l.items[len(l.items)-1] }

// Insert places e at its ordered position and returns that position.
//
// Description:
//
//	Equal elements are placed before existing equal elements, matching
//	the lower-bound position reported by IndexOf.
func (l *List[E]) Insert(e E) int {
	pos := l.IndexOf(e)
	l.items = slices.Insert(l.items, pos, e)
	return pos
}

// Append adds e at the end of the list.
//
// Description:
//
//	Append is the O(1) amortised path for callers that already hold
//	elements in order, for example when rebuilding a list from a sorted
//	source. It fails rather than silently reordering.
//
// Outputs:
//
//	error - Wraps ErrOutOfOrderAppend when e sorts before the last element.
func (l *List[E]) Append(e E) error {
	if n := len(l.items); n > 0 && l.cmp(e, l.items[n-1]) < 0 {
		return fmt.Errorf("%w: %v sorts before last element %v", ErrOutOfOrderAppend, e, l.items[n-1])
	}
	l.items = append(l.items, e)
	return nil
}

// RemoveAt removes and returns the element at position i.
// It panics when i is out of range.
func (l *List[E]) RemoveAt(i int) E {
	e := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	return e
}

// Remove deletes the first element that compares equal to e.
// It reports whether an element was removed.
func (l *List[E]) Remove(e E) bool {
	pos, found := l.search(e)
	if !found {
		return false
	}
	l.RemoveAt(pos)
	return true
}

// Contains reports whether an element comparing equal to e is present.
func (l *List[E]) Contains(e E) bool {
	_, found := l.search(e)
	return found
}

// IndexOf returns the position of the first element equal to e, or the
// position e would be inserted at when absent.
func (l *List[E]) IndexOf(e E) int {
	pos, _ := l.search(e)
	return pos
}

// LastIndexOfEqual returns the position of the last element equal to e.
//
// Description:
//
//	Starts at the binary-search position and scans forward while elements
//	still compare equal. When e is absent the insertion position is
//	returned, exactly as IndexOf would.
func (l *List[E]) LastIndexOfEqual(e E) int {
	pos, found := l.search(e)
	if !found {
		return pos
	}
	for pos+1 < len(l.items) && l.cmp(l.items[pos+1], e) == 0 {
		pos++
	}
	return pos
}

// Clear removes every element, keeping the backing capacity.
func (l *List[E]) Clear() {
	clear(l.items)
	l.items = l.items[:0]
}

// Clone returns a shallow copy. The copy has its own positions but shares
// element values (and therefore any pointers they hold) with l.
func (l *List[E]) Clone() *List[E] {
	return &List[E]{items: slices.Clone(l.items), cmp: l.cmp}
}

// Items returns a copy of the elements in order.
func (l *List[E]) Items() []E {
	return slices.Clone(l.items)
}

// String renders the list as "{a, b, c}".
func (l *List[E]) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range l.items {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, e)
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l *List[E]) search(e E) (int, bool) {
	return slices.BinarySearchFunc(l.items, e, l.cmp)
}
