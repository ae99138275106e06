// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package netlist holds the logical-design data model shared by the
// placer and router: cells with typed ports, nets connecting them,
// region constraints, chains, and the bounding-box arithmetic used by
// the cost model. Cells and nets are held in dense arena slices
// (cells[], nets[]) and referenced by index, mirroring the way the
// teacher module represents a chip's internal wiring as index-keyed
// nodes (see wiring.go's pin/node graph) rather than as pointer-heavy
// object graphs.
package netlist

import (
	"github.com/pkg/errors"
	"github.com/vela-eda/pnr/arch"
)

// PortRef names one port of one cell.
type PortRef struct {
	Cell int // index into Design.Cells, or -1
	Port string
}

// Valid reports whether the reference names a cell.
func (r PortRef) Valid() bool { return r.Cell >= 0 }

// Port is one named port of a Cell.
type Port struct {
	Name string
	Dir  arch.PortDir
	Net  int // index into Design.Nets, or -1 if unconnected
}

// Placement strength of a cell, mirroring arch.Strength but scoped to
// what the placer itself may change: locked cells are user placements
// the mover must never touch.
type PlacementStrength = arch.Strength

// Cell is one instance of the logical netlist.
type Cell struct {
	Name   string
	Type   string
	Ports  map[string]*Port
	Region string // region name, or "" if unconstrained

	// Chain relation: a chain root has ConstrParent == -1 and a
	// non-empty ConstrChildren; every other chain member has
	// ConstrParent set to its root's index and ConstrZ set to its
	// offset from the root's Z coordinate.
	ConstrParent   int
	ConstrChildren []int
	ConstrZ        int

	Strength PlacementStrength
	Bel      arch.BelID // arch.NoBel if unplaced

	udata int // scratch index, owned by whichever subsystem is active
}

// IsChainRoot reports whether c is the root of a chain: it has no
// parent and at least one child (a lone cell is not a chain root).
func (c *Cell) IsChainRoot() bool {
	return c.ConstrParent < 0 && len(c.ConstrChildren) > 0
}

// Net is one named net: an optional driver and an ordered list of user
// ports.
type Net struct {
	Name     string
	Driver   PortRef // Driver.Cell == -1 if the net is driverless
	Users    []PortRef
	Global   bool // clock/global-buffer-driven net; ignored by the cost model

	// RouteTree holds, once routed, the wire->incoming-pip map for each
	// arc (indexed like Users); nil until the router has committed the
	// net.
	RouteTree []ArcTree

	udata int
}

// ArcTree is the committed route for one arc of a net: for every wire
// on the path from source to this arc's sink, the pip that drives it.
// A wire absent from the map is the net's source wire (spec I5: "the
// recorded wire chain from sink to source ... terminates at the net's
// source wire").
type ArcTree struct {
	DrivingPip map[arch.WireID]arch.PipID
	Wires      []arch.WireID
}

// Region is a named subset of bels a cell may be constrained to.
type Region struct {
	Name       string
	Bels       map[arch.BelID]bool // nil means unconstrained: full grid
	bounds     BoundingBox
	boundsSet  bool
}

// Design is the arena holding every cell and net of one placement/
// routing invocation, plus the region table.
type Design struct {
	Cells   []*Cell
	Nets    []*Net
	Regions map[string]*Region

	byName     map[string]int
	netByName  map[string]int
}

// NewDesign returns an empty Design ready to be populated with AddCell/
// AddNet.
func NewDesign() *Design {
	return &Design{
		Regions:   make(map[string]*Region),
		byName:    make(map[string]int),
		netByName: make(map[string]int),
	}
}

// AddCell appends a new cell and returns its index.
func (d *Design) AddCell(name, typ string) (int, error) {
	if _, ok := d.byName[name]; ok {
		return -1, errors.Errorf("netlist: duplicate cell name %q", name)
	}
	idx := len(d.Cells)
	d.Cells = append(d.Cells, &Cell{
		Name:         name,
		Type:         typ,
		Ports:        make(map[string]*Port),
		ConstrParent: -1,
		Bel:          arch.NoBel,
	})
	d.byName[name] = idx
	return idx, nil
}

// AddNet appends a new (initially driverless, userless) net and returns
// its index.
func (d *Design) AddNet(name string) (int, error) {
	if _, ok := d.netByName[name]; ok {
		return -1, errors.Errorf("netlist: duplicate net name %q", name)
	}
	idx := len(d.Nets)
	d.Nets = append(d.Nets, &Net{Name: name, Driver: PortRef{Cell: -1}})
	d.netByName[name] = idx
	return idx, nil
}

// CellByName looks up a cell index by name.
func (d *Design) CellByName(name string) (int, bool) {
	idx, ok := d.byName[name]
	return idx, ok
}

// NetByName looks up a net index by name.
func (d *Design) NetByName(name string) (int, bool) {
	idx, ok := d.netByName[name]
	return idx, ok
}

// Connect wires cell.port to net, recording the connection on both
// sides. dir is the direction of the port as seen from the cell; a
// PortOut connection makes the cell the net's driver.
func (d *Design) Connect(cellIdx int, port string, dir arch.PortDir, netIdx int) error {
	if cellIdx < 0 || cellIdx >= len(d.Cells) {
		return errors.Errorf("netlist: cell index %d out of range", cellIdx)
	}
	if netIdx < 0 || netIdx >= len(d.Nets) {
		return errors.Errorf("netlist: net index %d out of range", netIdx)
	}
	c := d.Cells[cellIdx]
	n := d.Nets[netIdx]
	if _, exists := c.Ports[port]; exists {
		return errors.Errorf("netlist: cell %q port %q already connected", c.Name, port)
	}
	c.Ports[port] = &Port{Name: port, Dir: dir, Net: netIdx}
	ref := PortRef{Cell: cellIdx, Port: port}
	switch dir {
	case arch.PortOut:
		if n.Driver.Valid() {
			return errors.Errorf("netlist: net %q already has a driver (%s.%s)", n.Name, d.Cells[n.Driver.Cell].Name, n.Driver.Port)
		}
		n.Driver = ref
	default:
		n.Users = append(n.Users, ref)
	}
	return nil
}

// AddRegion declares a region. bels==nil means unconstrained (the full
// grid); the bounds are computed lazily via Region.Bounds.
func (d *Design) AddRegion(name string, bels map[arch.BelID]bool) *Region {
	r := &Region{Name: name, Bels: bels}
	d.Regions[name] = r
	return r
}

// SetChain establishes a rigid chain: root is the chain's base cell and
// members[i] sits at z-offset offsets[i] from the root. Every argument
// slice must have equal length.
func (d *Design) SetChain(root int, members []int, offsets []int) error {
	if len(members) != len(offsets) {
		return errors.New("netlist: SetChain: members/offsets length mismatch")
	}
	rc := d.Cells[root]
	rc.ConstrChildren = append(rc.ConstrChildren, members...)
	for i, m := range members {
		mc := d.Cells[m]
		mc.ConstrParent = root
		mc.ConstrZ = offsets[i]
	}
	return nil
}

// UdataScope reassigns every net's udata to consecutive indices
// starting at 0 (in Nets[] order), stashing the previous values, and
// returns a restore function that must be deferred by the caller. This
// mirrors spec.md §3/§9: "udata reassigned at subsystem entry and
// restored at exit", modelled as a scoped swap guarded by the
// subsystem's lifetime.
func (d *Design) UdataScope() (restore func()) {
	saved := make([]int, len(d.Nets))
	for i, n := range d.Nets {
		saved[i] = n.udata
		n.udata = i
	}
	return func() {
		for i, n := range d.Nets {
			n.udata = saved[i]
		}
	}
}

// Udata returns the net's current scratch index.
func (n *Net) Udata() int { return n.udata }

// CellUdataScope is the cell-side analogue of UdataScope, used by the
// placer to give every cell a dense worker-partitioning index.
func (d *Design) CellUdataScope() (restore func()) {
	saved := make([]int, len(d.Cells))
	for i, c := range d.Cells {
		saved[i] = c.udata
		c.udata = i
	}
	return func() {
		for i, c := range d.Cells {
			c.udata = saved[i]
		}
	}
}

// Udata returns the cell's current scratch index.
func (c *Cell) Udata() int { return c.udata }
