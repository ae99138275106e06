// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package cost

import (
	"testing"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
	"github.com/vela-eda/pnr/pnrtest"
)

func newFixture(t *testing.T) (*pnrtest.Grid, *netlist.Design) {
	t.Helper()
	g := pnrtest.NewGrid(4, 4, 1)
	g.AddBel("lut0", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("lut1", "LUT", arch.Loc{X: 1, Y: 1})
	g.AddBel("ff0", "FF", arch.Loc{X: 3, Y: 3})
	d := pnrtest.TwoCellDesign(g)
	return g, d
}

func TestNetBBAndSetup(t *testing.T) {
	g, design := newFixture(t)

	lut, _ := design.CellByName("lut0")
	ff, _ := design.CellByName("ff0")
	lutBel, _ := g.BelByName("lut0")
	ffBel, _ := g.BelByName("ff0")
	design.Cells[lut].Bel = lutBel
	design.Cells[ff].Bel = ffBel

	restore := design.UdataScope()
	defer restore()

	m := New(DefaultConfig(), g, design)
	locate := func(idx int) (arch.BelID, bool) {
		bel := design.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	m.Setup(locate)

	if got, want := m.CurrWirelenCost, 6.0; got != want {
		t.Errorf("CurrWirelenCost = %v, want %v (HPWL of (0,0)-(3,3))", got, want)
	}
}

func TestEvaluateFlagsOnlyTouchedNet(t *testing.T) {
	g, design := newFixture(t)
	lut, _ := design.CellByName("lut0")
	ff, _ := design.CellByName("ff0")
	lutBel, _ := g.BelByName("lut0")
	ffBel, _ := g.BelByName("ff0")
	design.Cells[lut].Bel = lutBel
	design.Cells[ff].Bel = ffBel

	restore := design.UdataScope()
	defer restore()

	m := New(DefaultConfig(), g, design)
	locate := func(idx int) (arch.BelID, bool) {
		bel := design.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	m.Setup(locate)

	newBel, _ := g.BelByLocation(arch.Loc{X: 1, Y: 1})
	ports := []MovedPort{{NetIdx: design.Nets[0].Udata(), IsDriver: true, OldBel: lutBel, NewBel: newBel, OldPlaced: true, NewPlaced: true}}
	movedLocate := func(idx int) (arch.BelID, bool) {
		if idx == lut {
			return newBel, true
		}
		bel := design.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	delta := m.Evaluate(ports, movedLocate)
	if len(delta.TouchedBB) != 1 {
		t.Errorf("TouchedBB has %d entries, want 1", len(delta.TouchedBB))
	}
}

func TestConstraintDistanceZeroWhenSatisfied(t *testing.T) {
	g, design := newFixture(t)
	lut, _ := design.CellByName("lut0")
	ff, _ := design.CellByName("ff0")
	lutBel, _ := g.BelByName("lut0")
	ffBel, _ := g.BelByName("ff0")
	design.Cells[lut].Bel = lutBel
	design.Cells[ff].Bel = ffBel

	locate := func(idx int) (arch.BelID, bool) {
		bel := design.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	if got := ConstraintDistance(g, design, locate); got != 0 {
		t.Errorf("ConstraintDistance() = %v, want 0 (no regions/chains configured)", got)
	}
}
