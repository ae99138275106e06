// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package cost implements the placer's cost model (spec.md §4.2,
// component C3): per-net HPWL bounding boxes, per-arc timing cost, and
// the incremental delta computation the SA controller scores every
// move against. It is deliberately arch/board agnostic: every bel
// location lookup goes through a caller-supplied Locate function so the
// same Model can be scored against either the live arch or a
// thread-local shadow overlay (spec.md §9 "shadow state for
// multi-threaded evaluation").
package cost

import (
	"math"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
)

// Locate resolves a cell's current bel, following whatever overlay the
// caller wants observed (live arch, or a thread-local shadow map).
type Locate func(cellIdx int) (bel arch.BelID, placed bool)

// Config holds the cost-model tunables from spec.md §6's placer
// configuration surface.
type Config struct {
	TimingFanoutThresh int
	CritExp            float64
	Lambda             float64 // timing/wirelen mix, 0..1
	ConstraintWeight   float64
}

// DefaultConfig returns the spec.md-documented defaults.
func DefaultConfig() Config {
	return Config{
		TimingFanoutThresh: 32,
		CritExp:            8,
		Lambda:             0.5,
		ConstraintWeight:   10,
	}
}

// CriticalityFunc reports the timing analyser's normalised criticality
// for arc (netIdx, userIndex), 0..1. Timing analysis internals are an
// external collaborator out of scope here (spec.md §1); only the map
// it returns is consumed by ArcCost.
type CriticalityFunc func(netIdx, userIndex int) float64

// Model holds the running per-net cost state described in spec.md §3
// ("Placer state"): per-net bounding box, per-arc timing cost, and the
// global accumulators.
type Model struct {
	cfg Config
	a   arch.Arch
	d   *netlist.Design

	NetBounds   []netlist.BoundingBox // indexed by net.Udata()
	NetArcTCost [][]float64           // NetArcTCost[netUdata][userIndex]

	CurrWirelenCost float64
	CurrTimingCost  float64

	Criticality CriticalityFunc
}

// New creates a Model sized for d's current net count. d.UdataScope
// must already have been called by the caller (the placer owns the
// udata scope's lifetime, per spec.md §9).
func New(cfg Config, a arch.Arch, d *netlist.Design) *Model {
	m := &Model{cfg: cfg, a: a, d: d}
	m.NetBounds = make([]netlist.BoundingBox, len(d.Nets))
	m.NetArcTCost = make([][]float64, len(d.Nets))
	for i, n := range d.Nets {
		m.NetArcTCost[i] = make([]float64, len(n.Users))
	}
	if m.Criticality == nil {
		m.Criticality = func(int, int) float64 { return 0 }
	}
	return m
}

// ArchOf returns the arch the model was built against, for callers
// (such as the placer's evaluator) that need to price constraint
// distance without threading a second copy of the arch through.
func (m *Model) ArchOf() arch.Arch { return m.a }

// DesignOf returns the design the model was built against.
func (m *Model) DesignOf() *netlist.Design { return m.d }

// ignoresCost reports whether net n contributes 0 wirelength cost: it
// has no driver, or its driver is a global buffer (spec.md §4.2).
func (m *Model) ignoresCost(n *netlist.Net) bool {
	if !n.Driver.Valid() {
		return true
	}
	driverCell := m.d.Cells[n.Driver.Cell]
	if driverCell.Bel != arch.NoBel && m.a.BelGlobalBuf(driverCell.Bel) {
		return true
	}
	return n.Global
}

// NetBB computes net n's bounding box from scratch: HPWL over the bel
// locations of the driver and every placed user (spec.md §4.2).
func (m *Model) NetBB(n *netlist.Net, locate Locate) netlist.BoundingBox {
	if m.ignoresCost(n) {
		return netlist.EmptyBB()
	}
	bb := netlist.EmptyBB()
	if bel, ok := locate(n.Driver.Cell); ok {
		loc := m.a.BelLocation(bel)
		bb = bb.Add(loc.X, loc.Y)
	}
	for _, u := range n.Users {
		if bel, ok := locate(u.Cell); ok {
			loc := m.a.BelLocation(bel)
			bb = bb.Add(loc.X, loc.Y)
		}
	}
	return bb
}

// ArcCost computes the timing cost of arc (netIdx, userIndex): 0 if the
// driver's port timing class is TMGIgnore, else delay_ns * criticality
// ^ CritExp. delayNS uses the arch's predictDelay when both endpoints'
// bels are unshadowed (locate reports the same bel the arch itself
// would), or estimateDelay against the (possibly shadowed) wires
// otherwise.
func (m *Model) ArcCost(netIdx, userIndex int, locate Locate) float64 {
	n := m.d.Nets[netIdx]
	if !n.Driver.Valid() || userIndex >= len(n.Users) {
		return 0
	}
	driverCell := m.d.Cells[n.Driver.Cell]
	cc := m.a.PortTimingClass(driverCell.Type, n.Driver.Port)
	if cc == arch.TMGIgnore {
		return 0
	}
	driverBel, driverOK := locate(n.Driver.Cell)
	userCell := m.d.Cells[n.Users[userIndex].Cell]
	userBel, userOK := locate(n.Users[userIndex].Cell)
	if !driverOK || !userOK {
		return 0
	}
	var delayNS float64
	if driverBel == driverCell.Bel && userBel == userCell.Bel {
		delayNS = m.a.DelayNS(m.a.PredictDelay(n.Name, userIndex))
	} else {
		srcWire := m.a.BelPinWire(driverBel, "OUT")
		dstWire := m.a.BelPinWire(userBel, "IN")
		delayNS = m.a.DelayNS(m.a.EstimateDelay(srcWire, dstWire))
	}
	crit := m.Criticality(netIdx, userIndex)
	return delayNS * math.Pow(crit, m.cfg.CritExp)
}

// Setup recomputes NetBounds, NetArcTCost, CurrWirelenCost and
// CurrTimingCost entirely from scratch against locate. Spec.md §4.4:
// "After each iteration, re-run setup_costs and recompute curr_* from
// scratch to flush rounding drift."
func (m *Model) Setup(locate Locate) {
	var wl, tc float64
	for i, n := range m.d.Nets {
		bb := m.NetBB(n, locate)
		m.NetBounds[i] = bb
		wl += float64(bb.HPWL())
		if len(m.NetArcTCost[i]) != len(n.Users) {
			m.NetArcTCost[i] = make([]float64, len(n.Users))
		}
		for u := range n.Users {
			c := m.ArcCost(i, u, locate)
			m.NetArcTCost[i][u] = c
			tc += c
		}
	}
	m.CurrWirelenCost = wl
	m.CurrTimingCost = tc
}

// Delta is the outcome of Model.Evaluate for one proposed move: the
// wirelength and timing deltas, plus which nets/arcs were touched so
// the caller can apply them on commit.
type Delta struct {
	DWirelen float64
	DTiming  float64

	TouchedBB   map[int]netlist.BoundingBox // netUdata -> new bb
	TouchedArcs map[[2]int]float64          // (netUdata,userIndex) -> new arc cost
}

// scratch carries the "already_bounds_changed"/"already_changed_arcs"
// bitmaps described in spec.md §4.2, reset once per move so repeated
// ports on the same net don't get double-counted.
type scratch struct {
	boundsChanged map[int]bool
	arcsChanged   map[[2]int]bool
	allArcs       map[int]bool // netUdata -> every arc flagged
}

func newScratch() *scratch {
	return &scratch{
		boundsChanged: make(map[int]bool),
		arcsChanged:   make(map[[2]int]bool),
		allArcs:       make(map[int]bool),
	}
}

// MovedPort describes one port whose cell moved, for the purposes of
// flagging affected nets/arcs.
type MovedPort struct {
	NetIdx    int
	IsDriver  bool
	UserIndex int // valid when !IsDriver
	OldBel    arch.BelID
	NewBel    arch.BelID
	OldPlaced bool
	NewPlaced bool
}

// Evaluate computes the incremental cost delta of a move affecting
// ports, following spec.md §4.2's flagging rules:
//
//	(a) if the old bel touched a bb edge OR the new bel lies outside the
//	    current bb, flag the bb for recomputation;
//	(b) if the port is a driver and fanout < TimingFanoutThresh, flag
//	    every arc; if an input, flag that specific arc.
func (m *Model) Evaluate(ports []MovedPort, locate Locate) Delta {
	s := newScratch()
	for _, p := range ports {
		n := m.d.Nets[p.NetIdx]
		if m.ignoresCost(n) {
			continue
		}
		bb := m.NetBounds[p.NetIdx]
		oldTouch := p.OldPlaced && func() bool {
			l := m.a.BelLocation(p.OldBel)
			return bb.TouchesEdge(l.X, l.Y)
		}()
		newOutside := p.NewPlaced && func() bool {
			l := m.a.BelLocation(p.NewBel)
			return !bb.Contains(l.X, l.Y)
		}()
		if oldTouch || newOutside || bb.Empty() {
			s.boundsChanged[p.NetIdx] = true
		}
		if p.IsDriver {
			if len(n.Users) < m.cfg.TimingFanoutThresh {
				s.allArcs[p.NetIdx] = true
			}
		} else {
			s.arcsChanged[[2]int{p.NetIdx, p.UserIndex}] = true
		}
	}

	d := Delta{
		TouchedBB:   make(map[int]netlist.BoundingBox),
		TouchedArcs: make(map[[2]int]float64),
	}
	for netIdx := range s.boundsChanged {
		n := m.d.Nets[netIdx]
		newBB := m.NetBB(n, locate)
		d.DWirelen += float64(newBB.HPWL() - m.NetBounds[netIdx].HPWL())
		d.TouchedBB[netIdx] = newBB
	}
	for netIdx := range s.allArcs {
		n := m.d.Nets[netIdx]
		for u := range n.Users {
			key := [2]int{netIdx, u}
			if s.arcsChanged[key] {
				continue // will be handled below, avoid double work
			}
			s.arcsChanged[key] = true
		}
	}
	for key := range s.arcsChanged {
		newCost := m.ArcCost(key[0], key[1], locate)
		d.DTiming += newCost - m.NetArcTCost[key[0]][key[1]]
		d.TouchedArcs[key] = newCost
	}
	return d
}

// Commit applies a previously computed Delta into the running totals
// and per-net tables.
func (m *Model) Commit(d Delta) {
	for netIdx, bb := range d.TouchedBB {
		m.NetBounds[netIdx] = bb
	}
	for key, c := range d.TouchedArcs {
		m.NetArcTCost[key[0]][key[1]] = c
	}
	m.CurrWirelenCost += d.DWirelen
	m.CurrTimingCost += d.DTiming
}

// ConstraintDistance sums the Manhattan violation of every cell's
// region/chain constraint: for a region-constrained cell, the distance
// from its bel to the region's bounding box; for a chain member, the
// distance between its bel and root+offset (spec.md §4.2).
func ConstraintDistance(a arch.Arch, d *netlist.Design, locate Locate) float64 {
	return ConstraintDistanceCells(a, d, nil, locate)
}

// ConstraintDistanceCells is ConstraintDistance restricted to the given
// cell indices (nil means every cell), letting the placer price the
// constraint term of a single proposed move without re-summing the
// whole design.
func ConstraintDistanceCells(a arch.Arch, d *netlist.Design, cellIdxs []int, locate Locate) float64 {
	if cellIdxs == nil {
		cellIdxs = make([]int, len(d.Cells))
		for i := range d.Cells {
			cellIdxs[i] = i
		}
	}
	var total float64
	for _, i := range cellIdxs {
		c := d.Cells[i]
		bel, ok := locate(i)
		if !ok {
			continue
		}
		loc := a.BelLocation(bel)
		if r := d.RegionOf(c); r != nil {
			bb := r.Bounds(a)
			total += float64(bb.ManhattanOutside(loc.X, loc.Y))
		}
		if c.ConstrParent >= 0 {
			rootBel, ok := locate(c.ConstrParent)
			if ok {
				rootLoc := a.BelLocation(rootBel)
				wantZ := rootLoc.Z + c.ConstrZ
				dz := wantZ - loc.Z
				if dz < 0 {
					dz = -dz
				}
				if loc.X != rootLoc.X || loc.Y != rootLoc.Y {
					total += float64(abs(loc.X-rootLoc.X) + abs(loc.Y-rootLoc.Y))
				}
				total += float64(dz)
			}
		}
	}
	return total
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Combined computes the acceptance delta from spec.md §4.2:
//
//	Δ = λ·(Δtiming/last_timing) + (1−λ)·(Δwirelen/last_wirelen) +
//	    (constraintWeight/T)·(new_constraint_dist − old_constraint_dist)/last_wirelen
func (m *Model) Combined(dTiming, dWirelen, lastTiming, lastWirelen, oldConstraintDist, newConstraintDist, temperature float64) float64 {
	lambda := m.cfg.Lambda
	var timingTerm float64
	if lastTiming > 0 {
		timingTerm = lambda * (dTiming / lastTiming)
	}
	var wirelenTerm float64
	if lastWirelen > 0 {
		wirelenTerm = (1 - lambda) * (dWirelen / lastWirelen)
	}
	var constraintTerm float64
	if temperature > 1e-9 && lastWirelen > 0 {
		constraintTerm = (m.cfg.ConstraintWeight / temperature) * (newConstraintDist - oldConstraintDist) / lastWirelen
	}
	return timingTerm + wirelenTerm + constraintTerm
}
