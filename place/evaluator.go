// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"math"
	"math/rand"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
)

// movedPortsFor builds the cost.MovedPort list for a single-cell move
// of cellIdx from oldBel to newBel, one entry per port the cell has
// that participates in a net.
func movedPortsFor(d *netlist.Design, cellIdx int, oldBel, newBel arch.BelID) []cost.MovedPort {
	c := d.Cells[cellIdx]
	var ports []cost.MovedPort
	for _, port := range c.Ports {
		if port.Net < 0 {
			continue
		}
		n := d.Nets[port.Net]
		mp := cost.MovedPort{
			NetIdx:    n.Udata(),
			OldBel:    oldBel,
			NewBel:    newBel,
			OldPlaced: oldBel != arch.NoBel,
			NewPlaced: newBel != arch.NoBel,
		}
		if n.Driver.Valid() && n.Driver.Cell == cellIdx && n.Driver.Port == port.Name {
			mp.IsDriver = true
		} else {
			for ui, u := range n.Users {
				if u.Cell == cellIdx && u.Port == port.Name {
					mp.UserIndex = ui
					break
				}
			}
		}
		ports = append(ports, mp)
	}
	return ports
}

// metropolis implements spec.md L1: accept if delta<0, else accept
// with probability exp(-delta/T) when T>1e-9 (a temperature at or
// below that floor never accepts an uphill move).
func metropolis(delta, temperature float64, draw func() float64) bool {
	if delta < 0 {
		return true
	}
	if temperature <= 1e-9 {
		return false
	}
	return draw() <= math.Exp(-delta/temperature)
}

// evalResult is the outcome of scoring one proposed move.
type evalResult struct {
	cellIdx  int
	bel      arch.BelID
	accepted bool
	delta    cost.Delta
	dCombined float64
}

// evaluateCandidate scores a single-cell move of cellIdx to bel against
// tc's overlay, without mutating any shared state, and applies the
// Metropolis criterion. lastWirelen/lastTiming are the model's totals
// as of the start of the batch.
func evaluateCandidate(
	m *cost.Model,
	d *netlist.Design,
	tc *ThreadContext,
	cellIdx int,
	bel arch.BelID,
	temperature float64,
	lastWirelen, lastTiming float64,
	rng *rand.Rand,
) evalResult {
	c := d.Cells[cellIdx]
	oldBel := c.Bel
	if ov, ok := tc.Overlay[cellIdx]; ok {
		oldBel = ov
	}

	loc := tc.locate(d)
	oldConstraint := cost.ConstraintDistanceCells(m.ArchOf(), d, []int{cellIdx}, loc)

	tc.Overlay[cellIdx] = bel
	newLoc := tc.locate(d)
	delta := m.Evaluate(movedPortsFor(d, cellIdx, oldBel, bel), newLoc)
	newConstraint := cost.ConstraintDistanceCells(m.ArchOf(), d, []int{cellIdx}, newLoc)

	dCombined := m.Combined(delta.DTiming, delta.DWirelen, lastTiming, lastWirelen, oldConstraint, newConstraint, temperature)
	accept := metropolis(dCombined, temperature, rng.Float64)
	if !accept {
		// undo the speculative overlay write so later cells in this
		// worker's batch see the pre-move state.
		if oldBel == arch.NoBel {
			delete(tc.Overlay, cellIdx)
		} else {
			tc.Overlay[cellIdx] = oldBel
		}
	}
	return evalResult{cellIdx: cellIdx, bel: bel, accepted: accept, delta: delta, dCombined: dCombined}
}
