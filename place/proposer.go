// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package place implements the simulated-annealing placer: the move
// proposer (C4), the per-thread move evaluator (C5), and the SA
// controller (C6) from spec.md §4.3-§4.4. Its worker-pool shape is
// grounded on the teacher's Circuit.Step: a fixed pool of goroutines,
// each woken through its own channel and joined with one
// sync.WaitGroup per batch, rather than a goroutine spawned per task.
package place

import (
	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/belindex"
	"github.com/vela-eda/pnr/netlist"
)

// maxProposalAttempts bounds the proposer's retry loop so a
// pathologically small or fully-locked bucket cannot spin forever; a
// non-empty bucket succeeds in a handful of attempts in expectation, so
// this is a generous multiple of that (spec.md §4.3: "guaranteed
// non-empty after finite expected attempts given a non-empty bucket
// exists").
const maxProposalAttempts = 10000

// Proposer implements the move-proposer described in spec.md §4.3.
type Proposer struct {
	a   arch.Arch
	d   *netlist.Design
	idx *belindex.Index

	LockedBels map[arch.BelID]bool
}

// NewProposer builds a Proposer over the given arch/design/index.
func NewProposer(a arch.Arch, d *netlist.Design, idx *belindex.Index) *Proposer {
	return &Proposer{a: a, d: d, idx: idx, LockedBels: make(map[arch.BelID]bool)}
}

// Propose repeatedly samples (nx,ny) uniformly in [x-dx,x+dx]x[y-dy,y+dy]
// (clipped to the cell's region bounding box, if any), picks a random
// bel from the fast-bel bucket for cellIdx's type, and returns the
// first bel that passes every rejection rule in spec.md §4.3:
// non-empty bucket, forceZ match (if forceZ != -1), region membership,
// and not locked.
func (p *Proposer) Propose(cellIdx int, x, y, dx, dy, forceZ int, rngN func(int) int) (arch.BelID, bool) {
	c := p.d.Cells[cellIdx]
	region := p.d.RegionOf(c)
	var rbb netlist.BoundingBox
	if region != nil {
		rbb = region.Bounds(p.a)
	}
	x0, x1 := x-dx, x+dx
	y0, y1 := y-dy, y+dy
	if region != nil && !rbb.Empty() {
		if x0 < rbb.X0 {
			x0 = rbb.X0
		}
		if x1 > rbb.X1 {
			x1 = rbb.X1
		}
		if y0 < rbb.Y0 {
			y0 = rbb.Y0
		}
		if y1 > rbb.Y1 {
			y1 = rbb.Y1
		}
		if x0 > x1 {
			x0, x1 = rbb.X0, rbb.X1
		}
		if y0 > y1 {
			y0, y1 = rbb.Y0, rbb.Y1
		}
	}
	wx, wy := x1-x0+1, y1-y0+1
	if wx <= 0 || wy <= 0 {
		return arch.NoBel, false
	}

	for attempt := 0; attempt < maxProposalAttempts; attempt++ {
		nx := x0 + rngN(wx)
		ny := y0 + rngN(wy)
		bel, ok := p.idx.Pick(c.Type, nx, ny, rngN)
		if !ok {
			continue
		}
		if forceZ != -1 {
			if p.a.BelLocation(bel).Z != forceZ {
				continue
			}
		}
		if region != nil && !region.Contains(bel) {
			continue
		}
		if p.LockedBels[bel] {
			continue
		}
		return bel, true
	}
	return arch.NoBel, false
}
