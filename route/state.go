// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package route

import (
	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
)

// wireBinding is one net's soft claim on a wire: how many arcs of that
// net currently route through it, and which pip they entered it by
// (every arc of a net sharing a wire must agree on the driving pip,
// since a wire has only one physical driver).
type wireBinding struct {
	refCount   int
	drivingPip arch.PipID
}

// WireState is the per-wire soft-routing record described in spec.md
// §4.1/§4.5: bound_nets, historical congestion cost, an availability
// flag the arch may set (e.g. globally clocked wires), and the
// reserved-net marker from ComputeReservedWires.
type WireState struct {
	BoundNets    map[int]*wireBinding // net udata -> binding
	HistCongCost float64
	Unavailable  bool
	ReservedNet  int // net udata, or -1
}

// Overuse returns bound_nets.size()-1 clamped to 0 (spec.md §4.6.c).
func (ws *WireState) Overuse() int {
	n := len(ws.BoundNets)
	if n <= 1 {
		return 0
	}
	return n - 1
}

// State is the router's working state (C7): per-net bounding boxes and
// arc trees, and the per-wire soft-binding table shared read-write
// across the single-threaded phases (workers only read it in strict-bb
// mode, per spec.md §5).
type State struct {
	a arch.Arch
	d *netlist.Design

	Wires []WireState // indexed by arch.WireID
	NetBB []netlist.BoundingBox
	NetCx []float64
	NetCy []float64
}

// NewState builds router state sized for d against a, and computes each
// net's bounding box from its currently placed cells.
func NewState(a arch.Arch, d *netlist.Design) *State {
	s := &State{
		a:     a,
		d:     d,
		Wires: make([]WireState, len(a.Wires())),
		NetBB: make([]netlist.BoundingBox, len(d.Nets)),
		NetCx: make([]float64, len(d.Nets)),
		NetCy: make([]float64, len(d.Nets)),
	}
	for i := range s.Wires {
		s.Wires[i].ReservedNet = -1
	}
	s.RecomputeNetBounds()
	return s
}

// RecomputeNetBounds refreshes NetBB/NetCx/NetCy from the arch's
// RouteBoundingBox, which derives it from the current placement.
func (s *State) RecomputeNetBounds() {
	for _, n := range s.d.Nets {
		u := n.Udata()
		x0, y0, x1, y1, ok := s.a.RouteBoundingBox(n.Name)
		if !ok {
			s.NetBB[u] = netlist.EmptyBB()
			continue
		}
		bb := netlist.NewBB(x0, y0, x1, y1)
		s.NetBB[u] = bb
		cx, cy := bb.Center()
		s.NetCx[u], s.NetCy[u] = cx, cy
	}
}

// BindPipSoft records that netUdata's arc now uses pip p (whose
// destination wire is w) as its driving pip, ref-counting the claim.
func (s *State) BindPipSoft(netUdata int, w arch.WireID, p arch.PipID) {
	ws := &s.Wires[w]
	if ws.BoundNets == nil {
		ws.BoundNets = make(map[int]*wireBinding)
	}
	b, ok := ws.BoundNets[netUdata]
	if !ok {
		b = &wireBinding{drivingPip: p}
		ws.BoundNets[netUdata] = b
	}
	b.refCount++
	b.drivingPip = p
}

// UnbindNetFromWire releases one of netUdata's claims on w, dropping
// the entry once its ref count reaches 0.
func (s *State) UnbindNetFromWire(netUdata int, w arch.WireID) {
	ws := &s.Wires[w]
	b, ok := ws.BoundNets[netUdata]
	if !ok {
		return
	}
	b.refCount--
	if b.refCount <= 0 {
		delete(ws.BoundNets, netUdata)
	}
}

// RipUpArc releases every wire claim held by one committed arc tree.
func (s *State) RipUpArc(netUdata int, tree netlist.ArcTree) {
	for _, w := range tree.Wires {
		s.UnbindNetFromWire(netUdata, w)
	}
}

// wireUsableFor reports whether wire w (reached via candidate pip p)
// may carry netUdata's arc: not globally unavailable, not reserved to
// a different net, and not already driven into by a different pip on
// behalf of any other net sharing it (spec.md §4.5.2 "unavailable ...
// due to driver pip").
func (s *State) wireUsableFor(netUdata int, w arch.WireID, p arch.PipID) bool {
	ws := &s.Wires[w]
	if ws.Unavailable {
		return false
	}
	if ws.ReservedNet >= 0 && ws.ReservedNet != netUdata {
		return false
	}
	for nu, b := range ws.BoundNets {
		if nu == netUdata {
			continue
		}
		if b.drivingPip != p {
			return false
		}
	}
	return true
}

// ComputeReservedWires walks uphill from every sink of every net,
// marking the chain of wires that converges to a single driveable
// predecessor as reserved to that net (spec.md §4.6 "Reserved wires"),
// preventing other nets from poaching an exclusive sink/source
// approach. Must run before the first routing pass.
func (s *State) ComputeReservedWires() {
	for _, n := range s.d.Nets {
		if !n.Driver.Valid() {
			continue
		}
		for u := range n.Users {
			sink := s.a.NetinfoSinkWire(n.Name, u)
			if sink == arch.NoWire {
				continue
			}
			s.reserveChain(n.Udata(), sink)
		}
	}
}

func (s *State) reserveChain(netUdata int, from arch.WireID) {
	w := from
	seen := map[arch.WireID]bool{}
	for !seen[w] {
		seen[w] = true
		ups := s.a.PipsUphill(w)
		preds := map[arch.WireID]bool{}
		for _, p := range ups {
			src := s.a.PipSrcWire(p)
			// "ignoring wires with no driving pip and no source bel-pin":
			// a wire with pins is a true net source/sink approach and
			// always counts; a bare pass-through wire with no bel pins
			// only counts if it itself has an uphill pip (i.e. isn't a
			// dead end).
			if len(s.a.WireBelPins(src)) == 0 && len(s.a.PipsUphill(src)) == 0 {
				continue
			}
			preds[src] = true
		}
		if len(preds) != 1 {
			return
		}
		var only arch.WireID
		for k := range preds {
			only = k
		}
		s.Wires[only].ReservedNet = netUdata
		w = only
	}
}
