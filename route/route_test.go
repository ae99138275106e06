// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package route

import (
	"context"
	"math/rand"
	"testing"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
	"github.com/vela-eda/pnr/pnrtest"
)

// competingNetsDesign builds the S4 scenario: two single-arc nets whose
// only path between source and sink runs through the same (1,0) wire.
func competingNetsDesign(g *pnrtest.Grid) *netlist.Design {
	d := netlist.NewDesign()
	a0, _ := d.AddCell("a0", "LUT")
	a1, _ := d.AddCell("a1", "FF")
	b0, _ := d.AddCell("b0", "LUT")
	b1, _ := d.AddCell("b1", "FF")
	na, _ := d.AddNet("na")
	nb, _ := d.AddNet("nb")
	_ = d.Connect(a0, "OUT", arch.PortOut, na)
	_ = d.Connect(a1, "IN", arch.PortIn, na)
	_ = d.Connect(b0, "OUT", arch.PortOut, nb)
	_ = d.Connect(b1, "IN", arch.PortIn, nb)

	belA0, _ := g.BelByName("a0bel")
	belA1, _ := g.BelByName("a1bel")
	belB0, _ := g.BelByName("b0bel")
	belB1, _ := g.BelByName("b1bel")
	d.Cells[a0].Bel = belA0
	d.Cells[a1].Bel = belA1
	d.Cells[b0].Bel = belB0
	d.Cells[b1].Bel = belB1

	srcA := g.BelPinWire(belA0, "OUT")
	sinkA := g.BelPinWire(belA1, "IN")
	srcB := g.BelPinWire(belB0, "OUT")
	sinkB := g.BelPinWire(belB1, "IN")
	g.RegisterNet("na", srcA, []arch.WireID{sinkA})
	g.RegisterNet("nb", srcB, []arch.WireID{sinkB})
	return d
}

func TestCongestionAccountingFlagsOverusedWire(t *testing.T) {
	g := pnrtest.NewGrid(3, 1, 3)
	g.AddBel("a0bel", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("a1bel", "FF", arch.Loc{X: 2, Y: 0})
	g.AddBel("b0bel", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("b1bel", "FF", arch.Loc{X: 2, Y: 0})
	d := competingNetsDesign(g)

	restore := d.UdataScope()
	defer restore()
	s := NewState(g, d)

	shared := arch.WireID(1) // the (1,0) tile wire, the only path between x=0 and x=2
	s.BindPipSoft(d.Nets[0].Udata(), shared, arch.PipID(0))
	s.BindPipSoft(d.Nets[1].Udata(), shared, arch.PipID(1))

	if got := s.Wires[shared].Overuse(); got != 1 {
		t.Fatalf("Overuse() = %d, want 1", got)
	}

	cfg := NewConfig()
	c := &Controller{a: g, d: d, cfg: cfg, state: s, rng: rand.New(rand.NewSource(1))}
	overused, failed := c.accountCongestion()
	if overused != 1 {
		t.Errorf("overusedWires = %d, want 1", overused)
	}
	if !failed[d.Nets[0].Udata()] || !failed[d.Nets[1].Udata()] {
		t.Errorf("failedNets = %v, want both nets present", failed)
	}
	if got := s.Wires[shared].HistCongCost; got != cfg.HistCongWeight {
		t.Errorf("HistCongCost = %v, want %v", got, cfg.HistCongWeight)
	}
}

// TestReservedWireChainBlocksOtherNets exercises S5: a sink whose
// uphill approach converges to a single predecessor wire (on this 4x1
// mesh, only the (2,0) wire) marks that wire reserved, and
// wireUsableFor refuses it to any other net.
func TestReservedWireChainBlocksOtherNets(t *testing.T) {
	g := pnrtest.NewGrid(4, 1, 5)
	g.AddBel("src", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("sink", "FF", arch.Loc{X: 3, Y: 0})
	src, _ := g.BelByName("src")
	sink, _ := g.BelByName("sink")

	d := netlist.NewDesign()
	c0, _ := d.AddCell("c0", "LUT")
	c1, _ := d.AddCell("c1", "FF")
	n, _ := d.AddNet("n0")
	_ = d.Connect(c0, "OUT", arch.PortOut, n)
	_ = d.Connect(c1, "IN", arch.PortIn, n)
	d.Cells[c0].Bel = src
	d.Cells[c1].Bel = sink

	srcWire := g.BelPinWire(src, "OUT")
	sinkWire := g.BelPinWire(sink, "IN")
	g.RegisterNet("n0", srcWire, []arch.WireID{sinkWire})

	restore := d.UdataScope()
	defer restore()
	s := NewState(g, d)
	s.ComputeReservedWires()

	reservedAny := false
	for i := range s.Wires {
		if s.Wires[i].ReservedNet == d.Nets[0].Udata() {
			reservedAny = true
			if s.wireUsableFor(d.Nets[0].Udata()+1, arch.WireID(i), arch.NoPip) {
				t.Errorf("wireUsableFor let another net use wire %d reserved to n0", i)
			}
		}
	}
	if !reservedAny {
		t.Errorf("ComputeReservedWires marked no wire reserved for the sole net on a linear chain")
	}
}

func TestMostCongestedWiresOrdersByHistCost(t *testing.T) {
	g := pnrtest.NewGrid(3, 1, 2)
	d := netlist.NewDesign()
	restore := d.UdataScope()
	defer restore()
	s := NewState(g, d)
	s.Wires[0].HistCongCost = 5
	s.Wires[1].HistCongCost = 12
	s.Wires[2].HistCongCost = 0

	c := &Controller{a: g, d: d, cfg: NewConfig(), state: s}
	worst := c.mostCongestedWires(5)
	if len(worst) != 2 {
		t.Fatalf("mostCongestedWires returned %d entries, want 2 (zero-cost wires excluded)", len(worst))
	}
	if worst[0].wire != arch.WireID(1) || worst[1].wire != arch.WireID(0) {
		t.Errorf("mostCongestedWires order = %v, want [1, 0] (descending HistCongCost)", worst)
	}
}

func TestScoreWirePrefersLessCongestedWire(t *testing.T) {
	g := pnrtest.NewGrid(2, 1, 9)
	g.AddBel("x0", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("x1", "LUT", arch.Loc{X: 1, Y: 0})
	d := netlist.NewDesign()
	c0, _ := d.AddCell("c0", "LUT")
	n, _ := d.AddNet("n0")
	_ = d.Connect(c0, "OUT", arch.PortOut, n)
	restore := d.UdataScope()
	defer restore()
	s := NewState(g, d)

	req := ArcRequest{NetUdata: 0, Fanout: 1, BB: netlist.NewBB(0, 0, 1, 0)}
	quiet := arch.WireID(0)
	busy := arch.WireID(1)
	s.BindPipSoft(1, busy, arch.PipID(0))
	s.BindPipSoft(2, busy, arch.PipID(0))

	cfg := NewConfig()
	pip := g.PipsDownhill(quiet)[0]
	scoreQuiet := scoreWire(s, cfg, req, quiet, pip, 1.0)
	scoreBusy := scoreWire(s, cfg, req, busy, pip, 1.0)
	if scoreBusy <= scoreQuiet {
		t.Errorf("scoreWire(busy)=%v, want > scoreWire(quiet)=%v", scoreBusy, scoreQuiet)
	}
}

// TestControllerRunConvergesIndependentNets drives Controller.Run
// end-to-end on two nets that never contend for the same wire, the
// baseline convergence path.
func TestControllerRunConvergesIndependentNets(t *testing.T) {
	g := pnrtest.NewGrid(4, 2, 7)
	g.AddBel("a0bel", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("a1bel", "FF", arch.Loc{X: 3, Y: 0})
	g.AddBel("b0bel", "LUT", arch.Loc{X: 0, Y: 1})
	g.AddBel("b1bel", "FF", arch.Loc{X: 3, Y: 1})

	d := netlist.NewDesign()
	a0, _ := d.AddCell("a0", "LUT")
	a1, _ := d.AddCell("a1", "FF")
	b0, _ := d.AddCell("b0", "LUT")
	b1, _ := d.AddCell("b1", "FF")
	na, _ := d.AddNet("na")
	nb, _ := d.AddNet("nb")
	_ = d.Connect(a0, "OUT", arch.PortOut, na)
	_ = d.Connect(a1, "IN", arch.PortIn, na)
	_ = d.Connect(b0, "OUT", arch.PortOut, nb)
	_ = d.Connect(b1, "IN", arch.PortIn, nb)

	belA0, _ := g.BelByName("a0bel")
	belA1, _ := g.BelByName("a1bel")
	belB0, _ := g.BelByName("b0bel")
	belB1, _ := g.BelByName("b1bel")
	d.Cells[a0].Bel = belA0
	d.Cells[a1].Bel = belA1
	d.Cells[b0].Bel = belB0
	d.Cells[b1].Bel = belB1

	g.RegisterNet("na", g.BelPinWire(belA0, "OUT"), []arch.WireID{g.BelPinWire(belA1, "IN")})
	g.RegisterNet("nb", g.BelPinWire(belB0, "OUT"), []arch.WireID{g.BelPinWire(belB1, "IN")})

	restore := d.UdataScope()
	defer restore()

	c := NewController(g, d, NewConfig())
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	for i := range c.state.Wires {
		if ov := c.state.Wires[i].Overuse(); ov > 0 {
			t.Errorf("wire %d left overused (%d) after convergence", i, ov)
		}
	}
	for _, n := range d.Nets {
		if len(n.RouteTree) != len(n.Users) {
			t.Errorf("net %q: RouteTree has %d entries, want %d", n.Name, len(n.RouteTree), len(n.Users))
		}
		for u, tree := range n.RouteTree {
			if len(tree.Wires) < 2 {
				t.Errorf("net %q arc %d: RouteTree.Wires = %v, want at least source+sink", n.Name, u, tree.Wires)
			}
		}
	}
}

// TestControllerRunReroutesSharedPip drives an S4-style negotiation:
// na's only shortest path (0,0)-(1,0)-(2,0)-(3,0) forces it through the
// same (1,0)->(2,0) pip that is nb's entire, unique route. Both nets
// pick that pip on the first pass since it is each one's strictly
// cheapest option; accountCongestion then flags it as overused and
// CurrCongWeight doubles every subsequent iteration, so eventually one
// net's row-1 detour (available since the grid is a full mesh) becomes
// cheaper than paying the congestion penalty. Run must find that
// detour and converge instead of spinning to ErrUnroutable.
func TestControllerRunReroutesSharedPip(t *testing.T) {
	g := pnrtest.NewGrid(4, 2, 11)
	g.AddBel("a0bel", "LUT", arch.Loc{X: 0, Y: 0})
	g.AddBel("a1bel", "FF", arch.Loc{X: 3, Y: 0})
	g.AddBel("b0bel", "LUT", arch.Loc{X: 1, Y: 0})
	g.AddBel("b1bel", "FF", arch.Loc{X: 2, Y: 0})

	d := netlist.NewDesign()
	a0, _ := d.AddCell("a0", "LUT")
	a1, _ := d.AddCell("a1", "FF")
	b0, _ := d.AddCell("b0", "LUT")
	b1, _ := d.AddCell("b1", "FF")
	na, _ := d.AddNet("na")
	nb, _ := d.AddNet("nb")
	_ = d.Connect(a0, "OUT", arch.PortOut, na)
	_ = d.Connect(a1, "IN", arch.PortIn, na)
	_ = d.Connect(b0, "OUT", arch.PortOut, nb)
	_ = d.Connect(b1, "IN", arch.PortIn, nb)

	belA0, _ := g.BelByName("a0bel")
	belA1, _ := g.BelByName("a1bel")
	belB0, _ := g.BelByName("b0bel")
	belB1, _ := g.BelByName("b1bel")
	d.Cells[a0].Bel = belA0
	d.Cells[a1].Bel = belA1
	d.Cells[b0].Bel = belB0
	d.Cells[b1].Bel = belB1

	g.RegisterNet("na", g.BelPinWire(belA0, "OUT"), []arch.WireID{g.BelPinWire(belA1, "IN")})
	g.RegisterNet("nb", g.BelPinWire(belB0, "OUT"), []arch.WireID{g.BelPinWire(belB1, "IN")})

	restore := d.UdataScope()
	defer restore()

	c := NewController(g, d, NewConfig())
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil (a row-1 detour is always available)", err)
	}
	for i := range c.state.Wires {
		if ov := c.state.Wires[i].Overuse(); ov > 0 {
			t.Errorf("wire %d left overused (%d) after convergence", i, ov)
		}
	}
	for _, n := range d.Nets {
		if len(n.RouteTree) != len(n.Users) {
			t.Errorf("net %q: RouteTree has %d entries, want %d", n.Name, len(n.RouteTree), len(n.Users))
		}
	}
}
