// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package pnrtest provides a small synthetic arch.Arch implementation
// and netlist builders for exercising the placer and router without a
// real device database, playing the same role for this module as the
// teacher's hwtest package plays for hwsim: a reusable, deterministic
// test harness rather than production code.
package pnrtest

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"github.com/vela-eda/pnr/arch"
)

// Grid is a synthetic device: a rectangular array of tiles, each
// holding zero or more bels of given types, fully connected by a
// regular wire/pip mesh (every wire at (x,y) has a pip to its four
// neighbours' wires; each bel's IN and OUT pins sit directly on its
// tile's wire, with no pips of their own). It implements arch.Arch.
type Grid struct {
	mu sync.Mutex

	W, H int

	bels     []belInfo
	belIdx   map[arch.BelID]int
	byName   map[string]arch.BelID
	byLoc    map[arch.Loc]arch.BelID

	wires    []wireInfo
	pips     []pipInfo
	uphill   map[arch.WireID][]arch.PipID
	downhill map[arch.WireID][]arch.PipID

	belBinding map[arch.BelID]string
	wireBinding map[arch.WireID]string
	pipBinding  map[arch.PipID]string

	belPinWire map[arch.BelID]map[string]arch.WireID
	wireBelPins map[arch.WireID][]arch.BelPin

	rng *rand.Rand

	// per-net helpers registered by the test harness (kept out of the
	// grid proper since real device databases derive these from the
	// elaborated netlist, not the routing graph).
	netSource map[string]arch.WireID
	netSinks  map[string][]arch.WireID
	netBB     map[string][4]int
}

type belInfo struct {
	id   arch.BelID
	typ  string
	loc  arch.Loc
	name string
}

type wireInfo struct {
	id  arch.WireID
	loc arch.Loc
}

type pipInfo struct {
	id       arch.PipID
	src, dst arch.WireID
	loc      arch.Loc
	delay    arch.Delay
}

// NewGrid builds a w*h grid with one wire per tile and a bidirectional
// mesh of pips between orthogonal neighbours. Callers add bels with
// AddBel.
func NewGrid(w, h int, seed int64) *Grid {
	g := &Grid{
		W: w, H: h,
		belIdx:      make(map[arch.BelID]int),
		byName:      make(map[string]arch.BelID),
		byLoc:       make(map[arch.Loc]arch.BelID),
		uphill:      make(map[arch.WireID][]arch.PipID),
		downhill:    make(map[arch.WireID][]arch.PipID),
		belBinding:  make(map[arch.BelID]string),
		wireBinding: make(map[arch.WireID]string),
		pipBinding:  make(map[arch.PipID]string),
		belPinWire:  make(map[arch.BelID]map[string]arch.WireID),
		wireBelPins: make(map[arch.WireID][]arch.BelPin),
		rng:         rand.New(rand.NewSource(seed)),
		netSource:   make(map[string]arch.WireID),
		netSinks:    make(map[string][]arch.WireID),
		netBB:       make(map[string][4]int),
	}
	wireAt := make(map[arch.Loc]arch.WireID, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := arch.WireID(len(g.wires))
			g.wires = append(g.wires, wireInfo{id: id, loc: arch.Loc{X: x, Y: y}})
			wireAt[arch.Loc{X: x, Y: y}] = id
		}
	}
	addPip := func(a, b arch.Loc) {
		wa, wb := wireAt[a], wireAt[b]
		mkPip := func(src, dst arch.WireID, loc arch.Loc) {
			id := arch.PipID(len(g.pips))
			g.pips = append(g.pips, pipInfo{id: id, src: src, dst: dst, loc: loc, delay: 0.1})
			g.downhill[src] = append(g.downhill[src], id)
			g.uphill[dst] = append(g.uphill[dst], id)
		}
		mkPip(wa, wb, a)
		mkPip(wb, wa, b)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x+1 < w {
				addPip(arch.Loc{X: x, Y: y}, arch.Loc{X: x + 1, Y: y})
			}
			if y+1 < h {
				addPip(arch.Loc{X: x, Y: y}, arch.Loc{X: x, Y: y + 1})
			}
		}
	}
	return g
}

// AddBel adds a bel of the given type at loc with an "IN"/"OUT" pin
// pair wired to the tile's wire, and returns its id.
func (g *Grid) AddBel(name, typ string, loc arch.Loc) arch.BelID {
	id := arch.BelID(len(g.bels))
	g.belIdx[id] = len(g.bels)
	g.bels = append(g.bels, belInfo{id: id, typ: typ, loc: loc, name: name})
	g.byName[name] = id
	g.byLoc[loc] = id
	w := g.wireAtLoc(loc)
	g.belPinWire[id] = map[string]arch.WireID{"IN": w, "OUT": w}
	g.wireBelPins[w] = append(g.wireBelPins[w], arch.BelPin{Bel: id, Pin: "IN"}, arch.BelPin{Bel: id, Pin: "OUT"})
	return id
}

func (g *Grid) wireAtLoc(loc arch.Loc) arch.WireID {
	return arch.WireID(loc.Y*g.W + loc.X)
}

// RegisterNet tells the grid which wire is a net's source and which
// wires are its sinks, mimicking the real arch's Netinfo* helpers which
// derive this from the elaborated netlist + placement.
func (g *Grid) RegisterNet(name string, source arch.WireID, sinks []arch.WireID) {
	g.netSource[name] = source
	g.netSinks[name] = sinks
	bb := [4]int{1 << 30, 1 << 30, -(1 << 30), -(1 << 30)}
	upd := func(w arch.WireID) {
		l := g.wires[w].loc
		if l.X < bb[0] {
			bb[0] = l.X
		}
		if l.Y < bb[1] {
			bb[1] = l.Y
		}
		if l.X > bb[2] {
			bb[2] = l.X
		}
		if l.Y > bb[3] {
			bb[3] = l.Y
		}
	}
	upd(source)
	for _, s := range sinks {
		upd(s)
	}
	g.netBB[name] = bb
}

var _ arch.Arch = (*Grid)(nil)

func (g *Grid) Bels() []arch.BelID {
	out := make([]arch.BelID, len(g.bels))
	for i, b := range g.bels {
		out[i] = b.id
	}
	return out
}

func (g *Grid) Wires() []arch.WireID {
	out := make([]arch.WireID, len(g.wires))
	for i, w := range g.wires {
		out[i] = w.id
	}
	return out
}

func (g *Grid) Pips() []arch.PipID {
	out := make([]arch.PipID, len(g.pips))
	for i, p := range g.pips {
		out[i] = p.id
	}
	return out
}

func (g *Grid) PipsUphill(w arch.WireID) []arch.PipID   { return g.uphill[w] }
func (g *Grid) PipsDownhill(w arch.WireID) []arch.PipID { return g.downhill[w] }
func (g *Grid) WireBelPins(w arch.WireID) []arch.BelPin { return g.wireBelPins[w] }
func (g *Grid) BelPinType(bel arch.BelID, pin string) arch.PortDir {
	if pin == "OUT" {
		return arch.PortOut
	}
	return arch.PortIn
}

func (g *Grid) BelType(bel arch.BelID) string     { return g.bels[g.belIdx[bel]].typ }
func (g *Grid) BelLocation(bel arch.BelID) arch.Loc { return g.bels[g.belIdx[bel]].loc }
func (g *Grid) BelName(bel arch.BelID) string     { return g.bels[g.belIdx[bel]].name }
func (g *Grid) BelByName(name string) (arch.BelID, bool) {
	id, ok := g.byName[name]
	return id, ok
}
func (g *Grid) BelByLocation(loc arch.Loc) (arch.BelID, bool) {
	id, ok := g.byLoc[loc]
	return id, ok
}
func (g *Grid) PipLocation(p arch.PipID) arch.Loc  { return g.pips[p].loc }
func (g *Grid) PipSrcWire(p arch.PipID) arch.WireID { return g.pips[p].src }
func (g *Grid) PipDstWire(p arch.PipID) arch.WireID { return g.pips[p].dst }
func (g *Grid) BelPinWire(bel arch.BelID, pin string) arch.WireID {
	return g.belPinWire[bel][pin]
}

func (g *Grid) BindBel(bel arch.BelID, cell string, strength arch.Strength) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, bound := g.belBinding[bel]; bound {
		return errBelBound
	}
	g.belBinding[bel] = cell
	return nil
}
func (g *Grid) UnbindBel(bel arch.BelID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.belBinding, bel)
	return nil
}
func (g *Grid) BindWire(w arch.WireID, net string, strength arch.Strength) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, bound := g.wireBinding[w]; bound && cur != net {
		return errWireBound
	}
	g.wireBinding[w] = net
	return nil
}
func (g *Grid) UnbindWire(w arch.WireID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.wireBinding, w)
	return nil
}
func (g *Grid) BindPip(p arch.PipID, net string, strength arch.Strength) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, bound := g.pipBinding[p]; bound && cur != net {
		return errPipBound
	}
	dst := g.pips[p].dst
	if cur, bound := g.wireBinding[dst]; bound && cur != net {
		return errWireBound
	}
	g.pipBinding[p] = net
	g.wireBinding[dst] = net
	return nil
}
func (g *Grid) UnbindPip(p arch.PipID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pipBinding, p)
	return nil
}
func (g *Grid) BoundBelCell(bel arch.BelID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.belBinding[bel]
	return c, ok
}
func (g *Grid) BoundWireNet(w arch.WireID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.wireBinding[w]
	return n, ok
}
func (g *Grid) BoundPipNet(p arch.PipID) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.pipBinding[p]
	return n, ok
}
func (g *Grid) CheckBelAvail(bel arch.BelID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, bound := g.belBinding[bel]
	return !bound
}
func (g *Grid) CheckWireAvail(w arch.WireID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, bound := g.wireBinding[w]
	return !bound
}
func (g *Grid) CheckPipAvail(p arch.PipID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, bound := g.pipBinding[p]
	return !bound
}
func (g *Grid) IsValidBelForCell(bel arch.BelID, cellType string) bool {
	return g.BelType(bel) == cellType
}
func (g *Grid) IsBelLocationValid(bel arch.BelID) bool { return true }
func (g *Grid) BelGlobalBuf(bel arch.BelID) bool       { return false }

func (g *Grid) PipDelay(p arch.PipID) arch.Delay  { return g.pips[p].delay }
func (g *Grid) WireDelay(w arch.WireID) arch.Delay { return 0.01 }
func (g *Grid) DelayNS(d arch.Delay) float64      { return float64(d) }
func (g *Grid) EstimateDelay(src, dst arch.WireID) arch.Delay {
	a, b := g.wires[src].loc, g.wires[dst].loc
	return arch.Delay(0.1 * float64(absI(a.X-b.X)+absI(a.Y-b.Y)))
}
func (g *Grid) PredictDelay(netName string, userIndex int) arch.Delay {
	src := g.netSource[netName]
	sinks := g.netSinks[netName]
	if userIndex < 0 || userIndex >= len(sinks) {
		return 0
	}
	return g.EstimateDelay(src, sinks[userIndex])
}
func (g *Grid) DelayEpsilon() arch.Delay { return 1e-6 }
func (g *Grid) PortTimingClass(cellType, port string) arch.TimingClass {
	if port == "OUT" {
		return arch.TMGCombOutput
	}
	return arch.TMGEndpoint
}

func (g *Grid) NetinfoSourceWire(netName string) arch.WireID { return g.netSource[netName] }
func (g *Grid) NetinfoSinkWire(netName string, userIndex int) arch.WireID {
	sinks := g.netSinks[netName]
	if userIndex < 0 || userIndex >= len(sinks) {
		return arch.NoWire
	}
	return sinks[userIndex]
}
func (g *Grid) RouteBoundingBox(netName string) (x0, y0, x1, y1 int, ok bool) {
	bb, found := g.netBB[netName]
	if !found {
		return 0, 0, 0, 0, false
	}
	return bb[0], bb[1], bb[2], bb[3], true
}

func (g *Grid) Rng() int64      { return g.rng.Int63() }
func (g *Grid) RngN(n int) int  { return g.rng.Intn(n) }
func (g *Grid) Rng64() int64    { return g.rng.Int63() }
func (g *Grid) Shuffle(n int, swap func(i, j int)) {
	g.rng.Shuffle(n, swap)
}
// SortedShuffle reorders the caller's n elements (addressed only
// through less/swap) into less order, then Fisher-Yates shuffles each
// run of elements less treats as equal, so ties break randomly without
// disturbing the sorted order between distinct priority groups.
func (g *Grid) SortedShuffle(n int, less func(i, j int) bool, swap func(i, j int)) {
	if n <= 1 {
		return
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return less(idx[i], idx[j]) })

	// Apply the target permutation with swap alone: cur[pos] is the
	// original element currently sitting at pos, loc[elem] its inverse.
	cur := make([]int, n)
	loc := make([]int, n)
	for i := range cur {
		cur[i] = i
		loc[i] = i
	}
	for i := 0; i < n; i++ {
		want := idx[i]
		from := loc[want]
		if from != i {
			swap(i, from)
			cur[i], cur[from] = cur[from], cur[i]
			loc[cur[i]] = i
			loc[cur[from]] = from
		}
	}

	for start := 0; start < n; {
		end := start + 1
		for end < n && !less(start, end) && !less(end, start) {
			end++
		}
		if run := end - start; run > 1 {
			g.rng.Shuffle(run, func(i, j int) { swap(start+i, start+j) })
		}
		start = end
	}
}
func (g *Grid) Checksum() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := fnv.New64a()
	belNames := make([]string, 0, len(g.bels))
	for _, b := range g.bels {
		belNames = append(belNames, b.name)
	}
	sort.Strings(belNames)
	for _, n := range belNames {
		id := g.byName[n]
		cell, bound := g.belBinding[id]
		h.Write([]byte(n))
		if bound {
			h.Write([]byte(cell))
		}
	}
	return h.Sum64()
}
func (g *Grid) Yield(ctx context.Context) {}
func (g *Grid) Lock()                     { g.mu.Lock() }
func (g *Grid) Unlock()                   { g.mu.Unlock() }

func absI(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
