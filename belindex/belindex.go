// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package belindex implements the placer's fast-bel index (spec.md
// §4.1, component C2): a bucket of bels per (type, grid-x, grid-y) so
// the move proposer can pick a random legal bel in O(1). It plays the
// role of the teacher's Socket pin allocator (socket.go): a small,
// eagerly built lookup table that the hot path only ever reads.
package belindex

import "github.com/vela-eda/pnr/arch"

// DefaultMinBelsForGridPick is the population threshold below which a bel
// type is considered too rare to bucket spatially; every bel of such a
// type collapses to bucket (0,0) (spec.md §4.1).
const DefaultMinBelsForGridPick = 64

// Index is the fast-bel index: fastBels[type][x][y] -> bels.
type Index struct {
	minBelsForGridPick int

	buckets map[string]*typeBuckets
}

type typeBuckets struct {
	count int
	// grid[x][y] holds the bels at that (x,y); grid is nil (all bels
	// collapsed into single) for rare types.
	grid   map[[2]int][]arch.BelID
	single []arch.BelID
}

// New builds an Index by scanning every bel in a. minBelsForGridPick
// overrides DefaultMinBelsForGridPick when > 0.
func New(a arch.Arch, minBelsForGridPick int) *Index {
	if minBelsForGridPick <= 0 {
		minBelsForGridPick = DefaultMinBelsForGridPick
	}
	idx := &Index{
		minBelsForGridPick: minBelsForGridPick,
		buckets:            make(map[string]*typeBuckets),
	}
	byType := make(map[string][]arch.BelID)
	for _, bel := range a.Bels() {
		t := a.BelType(bel)
		byType[t] = append(byType[t], bel)
	}
	for t, bels := range byType {
		tb := &typeBuckets{count: len(bels)}
		if len(bels) < minBelsForGridPick {
			tb.single = bels
		} else {
			tb.grid = make(map[[2]int][]arch.BelID)
			for _, bel := range bels {
				loc := a.BelLocation(bel)
				k := [2]int{loc.X, loc.Y}
				tb.grid[k] = append(tb.grid[k], bel)
			}
		}
		idx.buckets[t] = tb
	}
	return idx
}

// Count returns the number of bels of the given type.
func (idx *Index) Count(belType string) int {
	tb := idx.buckets[belType]
	if tb == nil {
		return 0
	}
	return tb.count
}

// Spatial reports whether belType is bucketed spatially (population >=
// minBelsForGridPick). Rare types always report false and any (x,y)
// lookup collapses to bucket (0,0).
func (idx *Index) Spatial(belType string) bool {
	tb := idx.buckets[belType]
	return tb != nil && tb.grid != nil
}

// Bucket returns the bels at (x,y) for belType, or the type's single
// collapsed bucket if the type is not spatially bucketed. The returned
// slice must not be mutated by the caller.
func (idx *Index) Bucket(belType string, x, y int) []arch.BelID {
	tb := idx.buckets[belType]
	if tb == nil {
		return nil
	}
	if tb.grid == nil {
		return tb.single
	}
	if !idx.Spatial(belType) {
		x, y = 0, 0
	}
	return tb.grid[[2]int{x, y}]
}

// Pick returns a uniformly random bel from the bucket at (x,y) for
// belType using rng (expected to return a value in [0, n)), and true.
// It returns (0, false) if the bucket is empty.
func (idx *Index) Pick(belType string, x, y int, rngN func(n int) int) (arch.BelID, bool) {
	b := idx.Bucket(belType, x, y)
	if len(b) == 0 {
		return arch.NoBel, false
	}
	return b[rngN(len(b))], true
}
