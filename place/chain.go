// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/cost"
)

// tryChainMove attempts one chain move for the chain rooted at rootIdx:
// propose a new base bel with the same Z as the root's current bel, map
// every chain member to newBase+offset, and either commit the whole
// rigid move or leave the board untouched (spec.md §4.4). Any
// non-chain occupant of a target bel is weakly bound only (a strongly
// bound occupant aborts the move); it is displaced onto the requeue
// list exactly like initial placement's rip-up (spec.md §4.4 "Initial
// placement"), not homed into the chain's old positions, since the two
// blocks need not be the same shape. Runs on the controller goroutine
// only.
func (c *Controller) tryChainMove(rootIdx int) bool {
	root := c.d.Cells[rootIdx]
	if root.Bel == arch.NoBel {
		return false
	}
	oldLoc := c.a.BelLocation(root.Bel)

	newBase, ok := c.proposer.Propose(rootIdx, oldLoc.X, oldLoc.Y, c.D, c.D, oldLoc.Z, c.rng.Intn)
	if !ok {
		return false
	}
	newBaseLoc := c.a.BelLocation(newBase)

	members := append([]int{rootIdx}, root.ConstrChildren...)
	targets := make([]arch.BelID, len(members))
	targets[0] = newBase
	for i := 1; i < len(members); i++ {
		mc := c.d.Cells[members[i]]
		want := arch.Loc{X: newBaseLoc.X, Y: newBaseLoc.Y, Z: newBaseLoc.Z + mc.ConstrZ}
		bel, ok := c.a.BelByLocation(want)
		if !ok {
			return false
		}
		if c.a.BelType(bel) != mc.Type {
			return false
		}
		targets[i] = bel
	}

	seen := make(map[arch.BelID]bool, len(targets))
	for _, t := range targets {
		if seen[t] {
			return false // targets collide within the chain itself
		}
		seen[t] = true
	}

	// Reject up-front if any target holds a strongly-bound cell outside
	// the chain (spec.md §4.4); gather weak occupants to displace.
	var displaced []int
	for _, t := range targets {
		occName, occupied := c.a.BoundBelCell(t)
		if !occupied {
			continue
		}
		occIdx, found := c.d.CellByName(occName)
		if !found {
			return false
		}
		if inChain(members, occIdx) {
			continue
		}
		if c.d.Cells[occIdx].Strength >= arch.StrengthStrong {
			return false
		}
		displaced = append(displaced, occIdx)
	}

	oldBels := make(map[int]arch.BelID, len(members)+len(displaced))
	var performed []arch.BelID // bels bound so far, in order, for reverse-order unwind

	unwind := func() {
		for i := len(performed) - 1; i >= 0; i-- {
			_ = c.a.UnbindBel(performed[i])
		}
		for _, m := range members {
			old := oldBels[m]
			c.d.Cells[m].Bel = old
			if old != arch.NoBel {
				_ = c.a.BindBel(old, c.d.Cells[m].Name, c.d.Cells[m].Strength)
			}
		}
		for _, occIdx := range displaced {
			old := oldBels[occIdx]
			c.d.Cells[occIdx].Bel = old
			if old != arch.NoBel {
				_ = c.a.BindBel(old, c.d.Cells[occIdx].Name, c.d.Cells[occIdx].Strength)
			}
		}
	}

	for _, occIdx := range displaced {
		oldBels[occIdx] = c.d.Cells[occIdx].Bel
		if err := c.a.UnbindBel(c.d.Cells[occIdx].Bel); err != nil {
			unwind()
			return false
		}
	}
	for _, m := range members {
		oldBels[m] = c.d.Cells[m].Bel
		if c.d.Cells[m].Bel != arch.NoBel {
			if err := c.a.UnbindBel(c.d.Cells[m].Bel); err != nil {
				unwind()
				return false
			}
		}
	}
	for i, m := range members {
		if err := c.a.BindBel(targets[i], c.d.Cells[m].Name, c.d.Cells[m].Strength); err != nil {
			unwind()
			return false
		}
		performed = append(performed, targets[i])
		c.d.Cells[m].Bel = targets[i]
	}
	for _, occIdx := range displaced {
		c.d.Cells[occIdx].Bel = arch.NoBel
	}

	for i, m := range members {
		if !c.a.IsBelLocationValid(targets[i]) {
			unwind()
			return false
		}
		if r := c.d.RegionOf(c.d.Cells[m]); r != nil && !r.Contains(targets[i]) {
			unwind()
			return false
		}
	}

	touched := append(append([]int{}, members...), displaced...)
	locate := func(cellIdx int) (arch.BelID, bool) {
		bel := c.d.Cells[cellIdx].Bel
		return bel, bel != arch.NoBel
	}
	oldLocate := func(cellIdx int) (arch.BelID, bool) {
		bel, ok := oldBels[cellIdx]
		return bel, ok && bel != arch.NoBel
	}
	var ports []cost.MovedPort
	for _, m := range touched {
		ports = append(ports, movedPortsFor(c.d, m, oldBels[m], c.d.Cells[m].Bel)...)
	}
	delta := c.model.Evaluate(ports, locate)
	oldConstraint := cost.ConstraintDistanceCells(c.a, c.d, touched, oldLocate)
	newConstraint := cost.ConstraintDistanceCells(c.a, c.d, touched, locate)
	dCombined := c.model.Combined(delta.DTiming, delta.DWirelen, c.model.CurrTimingCost, c.model.CurrWirelenCost, oldConstraint, newConstraint, c.T)
	if !metropolis(dCombined, c.T, c.rng.Float64) {
		unwind()
		return false
	}
	c.model.Commit(delta)
	for _, occIdx := range displaced {
		c.queueForPlacement(occIdx)
	}
	return true
}

func inChain(members []int, idx int) bool {
	for _, m := range members {
		if m == idx {
			return true
		}
	}
	return false
}
