// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package netlist

import "github.com/vela-eda/pnr/arch"

// Bounds returns the region's derived bounding box: the box over its
// constrained bel set, or the full grid if the region is unconstrained.
// The full-grid box is computed once from a by every bel's location and
// cached; a constrained region's box is computed once from its own bel
// set and cached.
func (r *Region) Bounds(a arch.Arch) BoundingBox {
	if r.boundsSet {
		return r.bounds
	}
	bb := EmptyBB()
	if r.Bels == nil {
		for _, bel := range a.Bels() {
			loc := a.BelLocation(bel)
			bb = bb.Add(loc.X, loc.Y)
		}
	} else {
		for bel := range r.Bels {
			loc := a.BelLocation(bel)
			bb = bb.Add(loc.X, loc.Y)
		}
	}
	r.bounds = bb
	r.boundsSet = true
	return bb
}

// Contains reports whether bel belongs to the region (always true for
// an unconstrained region).
func (r *Region) Contains(bel arch.BelID) bool {
	if r.Bels == nil {
		return true
	}
	return r.Bels[bel]
}

// RegionOf returns the cell's region, or nil if unconstrained.
func (d *Design) RegionOf(c *Cell) *Region {
	if c.Region == "" {
		return nil
	}
	return d.Regions[c.Region]
}
