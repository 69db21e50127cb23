// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package memory implements a human-readable byte-size value used
// throughout the page-plan CSV and environment configuration: "2MB",
// "1.5 GB", "4096" all parse to a Size, and a Size renders back in the
// same B/KB/MB/GB/TB grammar.
package memory

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the error class for malformed size literals.
var Error = errs.Class("memory")

// Size is a count of bytes.
type Size int64

// Byte-size units.
const (
	B  Size = 1
	KB      = 1024 * B
	MB      = 1024 * KB
	GB      = 1024 * MB
	TB      = 1024 * GB
)

var sizeExpr = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([a-zA-Z]*)$`)

var unitBySuffix = map[string]Size{
	"":   B,
	"b":  B,
	"k":  KB,
	"kb": KB,
	"m":  MB,
	"mb": MB,
	"g":  GB,
	"gb": GB,
	"t":  TB,
	"tb": TB,
}

// Int64 returns the size as a plain byte count.
func (size Size) Int64() int64 { return int64(size) }

// String renders the size using the largest unit it divides evenly enough
// to keep a single decimal of precision, matching the page-plan CSV grammar.
func (size Size) String() string {
	switch {
	case size == 0:
		return "0"
	case size < KB:
		return strconv.FormatInt(int64(size), 10) + " B"
	case size < MB:
		return formatUnit(size, KB, "KB")
	case size < GB:
		return formatUnit(size, MB, "MB")
	case size < TB:
		return formatUnit(size, GB, "GB")
	default:
		return formatUnit(size, TB, "TB")
	}
}

func formatUnit(size, unit Size, suffix string) string {
	return strconv.FormatFloat(float64(size)/float64(unit), 'f', 1, 64) + " " + suffix
}

// Type implements pflag.Value so Size can be bound directly as a CLI flag.
func (size Size) Type() string { return "memory.Size" }

// Set parses s, accepting an optional case-insensitive B/KB/MB/GB/TB
// suffix (the trailing "B" itself is also optional: "4K" == "4KB").
func (size *Size) Set(s string) error {
	s = strings.TrimSpace(s)

	match := sizeExpr.FindStringSubmatch(s)
	if match == nil {
		return Error.New("invalid size %q", s)
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Error.Wrap(err)
	}

	unit, ok := unitBySuffix[strings.ToLower(match[2])]
	if !ok {
		return Error.New("invalid size suffix %q in %q", match[2], s)
	}

	*size = Size(value * float64(unit))
	return nil
}

// IsPowerOfTwo reports whether size is a positive power of two, the
// shape every page size (base or huge) must have.
func (size Size) IsPowerOfTwo() bool {
	return size > 0 && size&(size-1) == 0
}
