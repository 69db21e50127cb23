// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package pageplan describes how a region's address space is tiled into
// contiguous intervals, each pinned to a page size, loaded from the
// page-plan CSV that accompanies a managed process.
package pageplan

import (
	"encoding/csv"
	"io"
	"os"
	"sort"

	"github.com/zeebo/errs"

	"go.mosalloc.dev/mosalloc/internal/memory"
)

// Error is the error class for malformed or unreadable page plans.
var Error = errs.Class("pageplan")

// BasePageSize is the architecture base page size this package assumes
// when no huge page size applies (the tail of a region, or file pools).
const BasePageSize = memory.Size(4096)

// Kind identifies which of the three managed regions a pool describes.
// The string values match the page-plan CSV's "type" column verbatim.
type Kind string

// The three region kinds the bootstrap places, in placement order.
const (
	KindHeap Kind = "brk"
	KindAnon Kind = "mmap"
	KindFile Kind = "file"
)

// Interval is one tile of a region: every byte in [Start, End) is backed
// with pages of size PageSize.
type Interval struct {
	PageSize memory.Size
	Start    uintptr
	End      uintptr
}

// Pool is the immutable tiling plan for a single region.
type Pool struct {
	Kind      Kind
	Intervals []Interval
}

// MaxEnd returns the offset one past the last interval, i.e. the size of
// the region this pool describes.
func (p *Pool) MaxEnd() uintptr {
	if len(p.Intervals) == 0 {
		return 0
	}
	return p.Intervals[len(p.Intervals)-1].End
}

// MaxPageSize returns the largest page size used anywhere in the pool,
// the alignment the region's start address must honour.
func (p *Pool) MaxPageSize() memory.Size {
	var max memory.Size
	for _, iv := range p.Intervals {
		if iv.PageSize > max {
			max = iv.PageSize
		}
	}
	if max == 0 {
		max = BasePageSize
	}
	return max
}

// PageSizeAt returns the page size of the interval covering offset,
// falling back to the base page size for any offset past the last
// interval (the unplanned tail of a region).
func (p *Pool) PageSizeAt(offset uintptr) memory.Size {
	for _, iv := range p.Intervals {
		if offset >= iv.Start && offset < iv.End {
			return iv.PageSize
		}
	}
	return BasePageSize
}

// Validate checks the invariants a pool must satisfy: intervals sorted
// by start, pairwise non-overlapping, jointly covering [0, MaxEnd), each
// aligned to its own page size, and each page size a power of two.
func (p *Pool) Validate() error {
	if len(p.Intervals) == 0 {
		return Error.New("%s pool has no intervals", p.Kind)
	}

	prevEnd := uintptr(0)
	for i, iv := range p.Intervals {
		if iv.Start >= iv.End {
			return Error.New("%s interval %d has start %d >= end %d", p.Kind, i, iv.Start, iv.End)
		}
		if !iv.PageSize.IsPowerOfTwo() {
			return Error.New("%s interval %d page size %s is not a power of two", p.Kind, i, iv.PageSize)
		}
		if uintptr(iv.PageSize) < uintptr(BasePageSize) {
			return Error.New("%s interval %d page size %s is smaller than the base page size", p.Kind, i, iv.PageSize)
		}
		if iv.Start%uintptr(iv.PageSize) != 0 || iv.End%uintptr(iv.PageSize) != 0 {
			return Error.New("%s interval %d [%d,%d) is not aligned to page size %s", p.Kind, i, iv.Start, iv.End, iv.PageSize)
		}
		if iv.Start != prevEnd {
			return Error.New("%s interval %d starts at %d, expected %d (gap or overlap)", p.Kind, i, iv.Start, prevEnd)
		}
		prevEnd = iv.End
	}
	return nil
}

// Plan holds the three region pools parsed from a single page-plan CSV.
type Plan struct {
	Heap *Pool
	Anon *Pool
	File *Pool
}

// Pool returns the pool for kind, or nil if the plan has none.
func (plan *Plan) Pool(kind Kind) *Pool {
	switch kind {
	case KindHeap:
		return plan.Heap
	case KindAnon:
		return plan.Anon
	case KindFile:
		return plan.File
	default:
		return nil
	}
}

// LoadCSV reads and validates the page-plan CSV at path.
func LoadCSV(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	return ParseCSV(f)
}

// ParseCSV reads a page-plan CSV with columns type, page_size,
// start_offset, end_offset, one header row followed by one row per
// interval across all three region kinds.
func ParseCSV(r io.Reader) (*Plan, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(rows) == 0 {
		return nil, Error.New("empty page plan")
	}

	byKind := map[Kind][]Interval{}
	for i, row := range rows {
		if i == 0 && isHeaderRow(row) {
			continue
		}

		kind := Kind(row[0])
		if kind != KindHeap && kind != KindAnon && kind != KindFile {
			return nil, Error.New("row %d: unknown region type %q", i, row[0])
		}

		var pagesz, start, end memory.Size
		if err := pagesz.Set(row[1]); err != nil {
			return nil, Error.New("row %d: page_size: %v", i, err)
		}
		if err := start.Set(row[2]); err != nil {
			return nil, Error.New("row %d: start_offset: %v", i, err)
		}
		if err := end.Set(row[3]); err != nil {
			return nil, Error.New("row %d: end_offset: %v", i, err)
		}

		byKind[kind] = append(byKind[kind], Interval{
			PageSize: pagesz,
			Start:    uintptr(start),
			End:      uintptr(end),
		})
	}

	plan := &Plan{}
	for kind, intervals := range byKind {
		sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

		pool := &Pool{Kind: kind, Intervals: intervals}
		if err := pool.Validate(); err != nil {
			return nil, err
		}

		switch kind {
		case KindHeap:
			plan.Heap = pool
		case KindAnon:
			plan.Anon = pool
		case KindFile:
			plan.File = pool
		}
	}

	return plan, nil
}

func isHeaderRow(row []string) bool {
	return row[0] == "type"
}

// NewFilePool returns the synthetic single-interval, base-page-size pool
// used for the file region, per the design decision that file regions
// are base-page-only regardless of what the plan CSV says.
func NewFilePool(size memory.Size) *Pool {
	return &Pool{
		Kind: KindFile,
		Intervals: []Interval{
			{PageSize: BasePageSize, Start: 0, End: uintptr(size)},
		},
	}
}
