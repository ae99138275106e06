// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"github.com/pkg/errors"

	"github.com/vela-eda/pnr/arch"
)

// initialPlace gives every cell an initial legal bel before annealing
// starts (spec.md §4.4 "Initial placement"): cells are sorted by name
// and then shuffled with the controller's seeded rng, each is bound to
// a randomly chosen bel of its type, and a weakly-bound incumbent occupying that bel is
// ripped up and re-queued rather than blocking the cell outright. A
// cell that still has no candidate after maxInitialPlacementRetries
// passes is a fatal error unless cfg.Force is set.
func (c *Controller) initialPlace() error {
	c.belsCache = c.belsByType()
	bels := c.belsCache

	c.autoplaced = c.autoplaced[:0]
	order := make([]int, 0, len(c.d.Cells))
	for i, cell := range c.d.Cells {
		if cell.Strength >= arch.StrengthLocked {
			continue // user-pinned; already bound by the caller.
		}
		if cell.ConstrParent >= 0 {
			continue // placed as part of its chain root, below.
		}
		order = append(order, i)
	}
	c.sortCellNames(order)
	c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	queue := append([]int{}, order...)
	for len(queue) > 0 {
		cellIdx := queue[0]
		queue = queue[1:]
		cell := c.d.Cells[cellIdx]
		if cell.Bel != arch.NoBel {
			continue
		}

		if cell.IsChainRoot() {
			if err := c.placeChainInitial(cellIdx, bels, &queue); err != nil {
				return err
			}
			continue
		}

		if !c.placeOneCell(cellIdx, bels, &queue) {
			if c.cfg.Force {
				continue
			}
			return errors.Wrapf(ErrNoLegalBel, "cell %q (type %q)", cell.Name, cell.Type)
		}
		c.autoplaced = append(c.autoplaced, cellIdx)
	}
	c.requireLegal = true
	return nil
}

// placeOneCell binds cellIdx to a randomly chosen bel of its type that
// passes IsBelLocationValid (region membership is not checked here),
// ripping up a weakly-bound incumbent onto *queue rather than blocking
// the cell outright, exactly as initialPlace's per-cell pass does
// (spec.md §4.4 "Initial placement"). Shared with drainRequeue so a
// cell displaced mid-anneal by a chain move (chain.go's tryChainMove)
// is re-homed the same way a cell displaced at startup is.
func (c *Controller) placeOneCell(cellIdx int, bels map[string][]arch.BelID, queue *[]int) bool {
	cell := c.d.Cells[cellIdx]
	for attempt := 0; attempt < maxInitialPlacementRetries; attempt++ {
		cands := bels[cell.Type]
		if len(cands) == 0 {
			return false
		}
		bel := cands[c.rng.Intn(len(cands))]
		if occName, occupied := c.a.BoundBelCell(bel); occupied {
			occIdx, found := c.d.CellByName(occName)
			if !found || c.d.Cells[occIdx].Strength >= arch.StrengthStrong {
				continue
			}
			if err := c.a.UnbindBel(bel); err != nil {
				continue
			}
			c.d.Cells[occIdx].Bel = arch.NoBel
			*queue = append(*queue, occIdx)
		}
		if err := c.a.BindBel(bel, cell.Name, arch.StrengthWeak); err != nil {
			continue
		}
		if !c.a.IsBelLocationValid(bel) {
			_ = c.a.UnbindBel(bel)
			continue
		}
		cell.Bel = bel
		cell.Strength = arch.StrengthWeak
		return true
	}
	return false
}

// drainRequeue re-homes every cell a chain move displaced this
// iteration (chain.go's tryChainMove calls queueForPlacement on any
// weakly-bound non-chain occupant it evicts from the chain's new
// bels, since the vacated chain bels are not guaranteed to match the
// occupant's type). Spec.md §4.4 requires a chain move to "perform all
// swaps"; a displaced occupant with nowhere pre-arranged to go is
// re-placed exactly like an initial-placement rip-up, cascading through
// further weak occupants as needed.
func (c *Controller) drainRequeue() error {
	if len(c.toRequeue) == 0 {
		return nil
	}
	if c.belsCache == nil {
		c.belsCache = c.belsByType()
	}
	queue := c.toRequeue
	c.toRequeue = nil
	for len(queue) > 0 {
		cellIdx := queue[0]
		queue = queue[1:]
		cell := c.d.Cells[cellIdx]
		if cell.Bel != arch.NoBel {
			continue
		}
		if !c.placeOneCell(cellIdx, c.belsCache, &queue) {
			if c.cfg.Force {
				continue
			}
			return errors.Wrapf(ErrNoLegalBel, "cell %q (type %q) displaced by a chain move", cell.Name, cell.Type)
		}
	}
	return nil
}

// placeChainInitial places every member of the chain rooted at rootIdx
// as a rigid unit at a randomly chosen base location, ripping up weak
// incumbents onto queue exactly like a single-cell placement.
func (c *Controller) placeChainInitial(rootIdx int, bels map[string][]arch.BelID, queue *[]int) error {
	root := c.d.Cells[rootIdx]
	members := append([]int{rootIdx}, root.ConstrChildren...)
	cands := bels[root.Type]
	if len(cands) == 0 {
		if c.cfg.Force {
			return nil
		}
		return errors.Wrapf(ErrNoLegalBel, "chain root %q (type %q)", root.Name, root.Type)
	}

	for attempt := 0; attempt < maxInitialPlacementRetries; attempt++ {
		base := cands[c.rng.Intn(len(cands))]
		baseLoc := c.a.BelLocation(base)

		targets := make([]arch.BelID, len(members))
		targets[0] = base
		ok := true
		for i := 1; i < len(members); i++ {
			mc := c.d.Cells[members[i]]
			want := arch.Loc{X: baseLoc.X, Y: baseLoc.Y, Z: baseLoc.Z + mc.ConstrZ}
			bel, found := c.a.BelByLocation(want)
			if !found || c.a.BelType(bel) != mc.Type {
				ok = false
				break
			}
			targets[i] = bel
		}
		if !ok {
			continue
		}
		seen := make(map[arch.BelID]bool, len(targets))
		for _, t := range targets {
			if seen[t] {
				ok = false
				break
			}
			seen[t] = true
		}
		if !ok {
			continue
		}

		var toRipup []int
		for i, t := range targets {
			occName, occupied := c.a.BoundBelCell(t)
			if !occupied {
				continue
			}
			occIdx, found := c.d.CellByName(occName)
			if !found || c.d.Cells[occIdx].Strength >= arch.StrengthStrong {
				ok = false
				break
			}
			_ = i
			toRipup = append(toRipup, occIdx)
		}
		if !ok {
			continue
		}

		for _, occIdx := range toRipup {
			if err := c.a.UnbindBel(c.d.Cells[occIdx].Bel); err != nil {
				ok = false
				break
			}
			c.d.Cells[occIdx].Bel = arch.NoBel
		}
		if !ok {
			continue
		}

		bound := 0
		for i, m := range members {
			if err := c.a.BindBel(targets[i], c.d.Cells[m].Name, arch.StrengthWeak); err != nil {
				ok = false
				break
			}
			bound++
		}
		if !ok {
			for i := bound - 1; i >= 0; i-- {
				_ = c.a.UnbindBel(targets[i])
			}
			continue
		}
		for i, m := range members {
			c.d.Cells[m].Bel = targets[i]
			c.d.Cells[m].Strength = arch.StrengthWeak
		}
		*queue = append(*queue, toRipup...)
		return nil
	}
	if c.cfg.Force {
		return nil
	}
	return errors.Wrapf(ErrNoLegalBel, "chain rooted at %q", root.Name)
}

func (c *Controller) belsByType() map[string][]arch.BelID {
	out := make(map[string][]arch.BelID)
	for _, bel := range c.a.Bels() {
		t := c.a.BelType(bel)
		out[t] = append(out[t], bel)
	}
	return out
}
