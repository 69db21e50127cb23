// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package region implements the free-map and region abstractions that
// service syscall interception: a sorted disjoint range set over a
// region's address space (spec §4.1), and the region itself, which
// owns a page-size plan, a free-map, and the OS backing it installs
// behind every allocation (spec §4.2).
package region

import (
	"unsafe"

	"go.mosalloc.dev/mosalloc/pkg/arena"
)

// addrRange is one half-open [Start, End) span of address space.
type addrRange struct {
	Start uintptr
	End   uintptr
}

func (r addrRange) len() uintptr { return r.End - r.Start }

// FreeMap is a sorted, disjoint set of unused address ranges within a
// region. It is never touching: any two ranges that would abut are
// coalesced into one by Give. The backing array grows through a
// private arena.Arena rather than the ambient Go allocator, so that
// growing a region's free-map during syscall dispatch can never
// re-enter the interposer it is part of (spec §4.7, §9 "reentrant
// allocation").
//
// FreeMap carries no lock of its own: callers (Region) serialize
// access with their own mutex, since a single syscall typically needs
// to both read and mutate the map atomically with installing backing.
type FreeMap struct {
	arena *arena.Arena
	data  []addrRange
}

const initialFreeMapCap = 8

var addrRangeSize = unsafe.Sizeof(addrRange{})
var addrRangeAlign = unsafe.Alignof(addrRange{})

// NewFreeMap returns an empty FreeMap whose backing array is allocated
// from a. Seed it with an initial span via Give before use.
func NewFreeMap(a *arena.Arena) *FreeMap {
	return &FreeMap{arena: a}
}

// Len returns the number of disjoint free ranges currently tracked.
func (m *FreeMap) Len() int { return len(m.data) }

// Ranges returns a copy of the free ranges as (start, end) pairs,
// sorted ascending, for diagnostics and tests.
func (m *FreeMap) Ranges() [][2]uintptr {
	out := make([][2]uintptr, len(m.data))
	for i, r := range m.data {
		out[i] = [2]uintptr{r.Start, r.End}
	}
	return out
}

// Take reserves len bytes, returning the reserved address and true on
// success. If hint is 0, the first (lowest-address) free range with
// capacity is used (anywhere-placement, deterministic lowest-address
// tie-break). If hint is non-zero, Take succeeds only if some free
// range wholly contains [hint, hint+len) (an exact fit counts);
// otherwise it fails and the map is left unchanged.
func (m *FreeMap) Take(hint, length uintptr) (uintptr, bool) {
	if length == 0 {
		return 0, false
	}

	if hint == 0 {
		for i, r := range m.data {
			if r.len() >= length {
				m.shrinkAt(i, r, r.Start, length)
				return r.Start, true
			}
		}
		return 0, false
	}

	want := addrRange{Start: hint, End: hint + length}
	for i, r := range m.data {
		if r.Start <= want.Start && want.End <= r.End {
			m.shrinkAt(i, r, hint, length)
			return hint, true
		}
	}
	return 0, false
}

// shrinkAt removes [addr, addr+len) from the range at index i,
// splitting it into zero, one, or two surviving ranges.
func (m *FreeMap) shrinkAt(i int, r addrRange, addr, length uintptr) {
	left := addrRange{Start: r.Start, End: addr}
	right := addrRange{Start: addr + length, End: r.End}

	switch {
	case left.len() == 0 && right.len() == 0:
		m.removeAt(i)
	case left.len() == 0:
		m.data[i] = right
	case right.len() == 0:
		m.data[i] = left
	default:
		m.data[i] = left
		m.insertAt(i+1, right)
	}
}

// Give returns [addr, addr+len) to the free map, coalescing with a
// left neighbour whose End equals addr and/or a right neighbour whose
// Start equals addr+len. The caller must ensure the inserted range is
// disjoint from every range already present.
func (m *FreeMap) Give(addr, length uintptr) {
	if length == 0 {
		return
	}
	r := addrRange{Start: addr, End: addr + length}

	i := 0
	for i < len(m.data) && m.data[i].Start < r.Start {
		i++
	}

	mergeLeft := i > 0 && m.data[i-1].End == r.Start
	mergeRight := i < len(m.data) && m.data[i].Start == r.End

	switch {
	case mergeLeft && mergeRight:
		m.data[i-1].End = m.data[i].End
		m.removeAt(i)
	case mergeLeft:
		m.data[i-1].End = r.End
	case mergeRight:
		m.data[i].Start = r.Start
	default:
		m.insertAt(i, r)
	}
}

func (m *FreeMap) ensureCap(n int) {
	if cap(m.data) >= n {
		return
	}
	newCap := cap(m.data) * 2
	if newCap < n {
		newCap = n
	}
	if newCap < initialFreeMapCap {
		newCap = initialFreeMapCap
	}

	ptr, err := m.arena.Alloc(uintptr(newCap)*addrRangeSize, addrRangeAlign)
	if err != nil {
		panic(err)
	}
	grown := unsafe.Slice((*addrRange)(ptr), newCap)
	copy(grown, m.data)
	m.data = grown[:len(m.data)]
}

func (m *FreeMap) insertAt(i int, r addrRange) {
	m.ensureCap(len(m.data) + 1)
	m.data = m.data[:len(m.data)+1]
	copy(m.data[i+1:], m.data[i:len(m.data)-1])
	m.data[i] = r
}

func (m *FreeMap) removeAt(i int) {
	copy(m.data[i:], m.data[i+1:])
	m.data = m.data[:len(m.data)-1]
}
