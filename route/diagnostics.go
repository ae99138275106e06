// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package route

import (
	"github.com/google/btree"

	"github.com/vela-eda/pnr/arch"
)

// congestedWire is a btree.Item ordering wires by descending historical
// congestion cost, breaking ties on wire id so the tree has a total
// order even when two wires share a cost.
type congestedWire struct {
	wire arch.WireID
	cost float64
}

func (a congestedWire) Less(than btree.Item) bool {
	b := than.(congestedWire)
	if a.cost != b.cost {
		return a.cost > b.cost
	}
	return a.wire < b.wire
}

// mostCongestedWires returns up to n wires with the highest historical
// congestion cost, for the periodic diagnostic dump logged from Run.
// Kept as a btree.BTree rather than a full sort of state.Wires so the
// dump stays cheap even on architectures with hundreds of thousands of
// wires and only a handful ever accumulate congestion history.
func (c *Controller) mostCongestedWires(n int) []congestedWire {
	tr := btree.New(32)
	for w := range c.state.Wires {
		cost := c.state.Wires[w].HistCongCost
		if cost <= 0 {
			continue
		}
		tr.ReplaceOrInsert(congestedWire{wire: arch.WireID(w), cost: cost})
	}
	out := make([]congestedWire, 0, n)
	tr.Ascend(func(item btree.Item) bool {
		out = append(out, item.(congestedWire))
		return len(out) < n
	})
	return out
}
