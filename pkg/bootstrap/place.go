// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package bootstrap

import (
	"io"

	"go.uber.org/zap"

	"go.mosalloc.dev/mosalloc/pkg/realsys"
	"go.mosalloc.dev/mosalloc/pkg/region"
)

// Place scans maps (normally /proc/self/maps) and positions regions,
// in the order given, into the first address-space gaps large enough
// to hold each one's whole pool span, per spec §4.4. The caller must
// pass regions in heap, anon, file order: later regions are expected
// to slot in after earlier ones, not before.
//
// On success, every region has been placed (region.Init called) and
// the process break has been moved to the heap region's start so the
// process's own allocator grows into the managed heap from here on.
// On failure -- the scanner reaches the stack mapping before every
// region is placed -- Place returns a structural Error; the caller
// must treat this as fatal (spec §7).
func Place(regions []*region.Region, maps io.Reader, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(regions) == 0 {
		return nil
	}

	entries, err := ReadMaps(maps)
	if err != nil {
		return Error.Wrap(err)
	}

	if err := placeAll(regions, entries, realsys.CurrentBrk(), log); err != nil {
		return err
	}

	newBrk := realsys.Brk(regions[0].Start())
	if newBrk != regions[0].Start() {
		return Error.New("real brk() did not move to heap start: got %#x, want %#x", newBrk, regions[0].Start())
	}
	log.Infow("moved program break into managed heap", "brk", newBrk)

	return nil
}

// placeAll is the pure placement scan: given the regions to place (in
// order), the parsed mapping list, and the process's current break, it
// walks the gaps and calls region.Init on each region in turn, per
// spec §4.4. Split out from Place so it can be tested without invoking
// the real brk(2) syscall.
func placeAll(regions []*region.Region, entries []MapEntry, startBrk uintptr, log *zap.SugaredLogger) error {
	idx := 0
	pgsz := func() uintptr { return uintptr(regions[idx].Pool.MaxPageSize()) }

	last := alignUp(startBrk, pgsz())
	upper := last

	for _, e := range entries {
		if idx >= len(regions) {
			break
		}
		if e.IsStack() {
			return Error.New("reached [stack] mapping before placing %s region", regions[idx].Kind)
		}

		if last < upper {
			last = alignUp(e.End, pgsz())
			continue
		}

		for idx < len(regions) && last+regions[idx].Pool.MaxEnd() <= e.Start {
			regions[idx].Init(last)
			log.Infow("placed region",
				"kind", regions[idx].Kind,
				"start", regions[idx].Start(),
				"end", regions[idx].Max())

			upper = regions[idx].Max()
			idx++
			if idx >= len(regions) {
				break
			}
			last = alignUp(upper, pgsz())
			upper = last
		}

		if idx >= len(regions) {
			break
		}
		last = alignUp(e.End, pgsz())
	}

	if idx < len(regions) {
		return Error.New("exhausted address space before placing %s region", regions[idx].Kind)
	}

	return nil
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
