// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"context"
	"strconv"
	"testing"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
	"github.com/vela-eda/pnr/pnrtest"
)

func twoBelGrid() *pnrtest.Grid {
	g := pnrtest.NewGrid(2, 1, 42)
	g.AddBel("lut0", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("ff0", "FF", arch.Loc{X: 1, Y: 0})
	return g
}

// TestSingleNetPlacementConverges exercises S1: one LUT driving one
// FF on a 2-bel grid should converge with wirelen 0 or 1.
func TestSingleNetPlacementConverges(t *testing.T) {
	g := twoBelGrid()
	d := pnrtest.TwoCellDesign(g)

	cfg := NewConfig().WithWorkers(2).WithStartTemp(10)
	c := NewController(g, d, cfg)
	checksum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if checksum == 0 {
		t.Errorf("Run() returned zero checksum")
	}
	for _, cell := range d.Cells {
		if cell.Bel == arch.NoBel {
			t.Errorf("cell %q left unplaced", cell.Name)
		}
	}
	if c.model.CurrWirelenCost > 1 {
		t.Errorf("CurrWirelenCost = %v, want 0 or 1", c.model.CurrWirelenCost)
	}
}

// TestRegionConstraintNeverViolated exercises S3: the proposer must
// never place the region-constrained cell outside x in [3,5].
func TestRegionConstraintNeverViolated(t *testing.T) {
	g := pnrtest.NewGrid(8, 8, 7)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			g.AddBel(namer("lut", x, y), "LUT", arch.Loc{X: x, Y: y})
		}
	}
	d, _ := pnrtest.RegionConstrainedDesign(g, "LUT", "R", 3, 5)

	cfg := NewConfig().WithWorkers(2).WithStartTemp(50)
	c := NewController(g, d, cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cell := d.Cells[0]
	if cell.Bel == arch.NoBel {
		t.Fatalf("cell left unplaced")
	}
	loc := g.BelLocation(cell.Bel)
	if loc.X < 3 || loc.X > 5 {
		t.Errorf("cell placed at x=%d, want x in [3,5]", loc.X)
	}
}

// TestDeterministicChecksum exercises P6/S6: two runs with the same
// seed and thread count must reach the same final checksum.
func TestDeterministicChecksum(t *testing.T) {
	run := func() uint64 {
		g := pnrtest.NewGrid(4, 4, 0x1234)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				g.AddBel(namer("lut", x, y), "LUT", arch.Loc{X: x, Y: y})
				g.AddBel(namer("ff", x, y), "FF", arch.Loc{X: x, Y: y})
			}
		}
		d := pnrtest.TwoCellDesign(g)
		cfg := NewConfig().WithWorkers(4).WithStartTemp(20)
		c := NewController(g, d, cfg)
		sum, err := c.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return sum
	}
	a := run()
	b := run()
	if a != b {
		t.Errorf("checksum mismatch across identical runs: %x != %x", a, b)
	}
}

// TestChainMovesAsRigidUnit exercises S2: a 3-cell chain placed away
// from its bound-at-construction location must still converge with
// every member at its root's location plus its Z offset, since chain
// members only ever move together through tryChainMove.
func TestChainMovesAsRigidUnit(t *testing.T) {
	g := pnrtest.NewGrid(4, 4, 99)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			for z := 0; z < 3; z++ {
				g.AddBel(namer("slice", x, y)+"_"+strconv.Itoa(z), "SLICE", arch.Loc{X: x, Y: y, Z: z})
			}
		}
	}
	d, err := pnrtest.ChainDesign(g, "SLICE", 3, 1, 1)
	if err != nil {
		t.Fatalf("ChainDesign() error = %v", err)
	}

	cfg := NewConfig().WithWorkers(2).WithStartTemp(50)
	c := NewController(g, d, cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	root := d.Cells[0]
	if root.Bel == arch.NoBel {
		t.Fatalf("chain root left unplaced")
	}
	rootLoc := g.BelLocation(root.Bel)
	for i, cell := range d.Cells {
		if cell.Bel == arch.NoBel {
			t.Fatalf("chain member %d left unplaced", i)
		}
		loc := g.BelLocation(cell.Bel)
		if loc.X != rootLoc.X || loc.Y != rootLoc.Y || loc.Z != rootLoc.Z+cell.ConstrZ {
			t.Errorf("chain member %d at %+v, want X=%d Y=%d Z=%d", i, loc, rootLoc.X, rootLoc.Y, rootLoc.Z+cell.ConstrZ)
		}
	}
}

// TestCriticalityDrivesTimingCost exercises the Config.Criticality hook
// wired into cost.Model: with a non-zero criticality map injected, the
// arc's ArcCost - and so CurrTimingCost - must move off 0, unlike the
// zero-default the model falls back to when no hook is configured.
func TestCriticalityDrivesTimingCost(t *testing.T) {
	g := twoBelGrid()
	d := pnrtest.TwoCellDesign(g)
	lut, _ := g.BelByName("lut0")
	ff, _ := g.BelByName("ff0")
	g.RegisterNet("n0", g.BelPinWire(lut, "OUT"), []arch.WireID{g.BelPinWire(ff, "IN")})

	cfg := NewConfig().WithWorkers(1).WithStartTemp(1).
		WithCriticality(func(*netlist.Design) cost.CriticalityFunc {
			return func(netIdx, userIndex int) float64 { return 1 }
		})
	c := NewController(g, d, cfg)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.model.CurrTimingCost <= 0 {
		t.Errorf("CurrTimingCost = %v, want > 0 with criticality forced to 1", c.model.CurrTimingCost)
	}
}

func namer(prefix string, x, y int) string {
	return prefix + "_" + strconv.Itoa(x) + "_" + strconv.Itoa(y)
}
