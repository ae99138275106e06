// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package pnrtest

import (
	"fmt"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
)

// TwoCellDesign builds the S1 scenario from spec.md §8: one LUT driving
// one FF through net "n0", on a grid with a matching bel for each cell
// type.
func TwoCellDesign(g *Grid) *netlist.Design {
	d := netlist.NewDesign()
	lut, _ := d.AddCell("lut0", "LUT")
	ff, _ := d.AddCell("ff0", "FF")
	n, _ := d.AddNet("n0")
	_ = d.Connect(lut, "OUT", arch.PortOut, n)
	_ = d.Connect(ff, "IN", arch.PortIn, n)
	return d
}

// ChainDesign builds the S2 scenario: a rigid chain of n cells of type
// typ, each connected to the next by its own net, based at (x,y,0).
func ChainDesign(g *Grid, typ string, n int, x, y int) (*netlist.Design, error) {
	d := netlist.NewDesign()
	members := make([]int, n)
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		idx, err := d.AddCell(fmt.Sprintf("c%d", i), typ)
		if err != nil {
			return nil, err
		}
		members[i] = idx
		offsets[i] = i
		if i > 0 {
			netIdx, err := d.AddNet(fmt.Sprintf("chain%d", i))
			if err != nil {
				return nil, err
			}
			if err := d.Connect(members[i-1], "OUT", arch.PortOut, netIdx); err != nil {
				return nil, err
			}
			if err := d.Connect(idx, "IN", arch.PortIn, netIdx); err != nil {
				return nil, err
			}
		}
	}
	root := members[0]
	if err := d.SetChain(root, members[1:], offsets[1:]); err != nil {
		return nil, err
	}
	for i, idx := range members {
		bel, ok := g.BelByLocation(arch.Loc{X: x, Y: y, Z: offsets[i]})
		if !ok {
			continue
		}
		if err := g.BindBel(bel, d.Cells[idx].Name, arch.StrengthWeak); err != nil {
			return nil, err
		}
		d.Cells[idx].Bel = bel
		d.Cells[idx].Strength = arch.StrengthWeak
	}
	return d, nil
}

// RegionConstrainedDesign builds the S3 scenario: a single cell of typ
// constrained to region name, whose bel set is every bel of typ with
// X in [xlo,xhi].
func RegionConstrainedDesign(g *Grid, typ, region string, xlo, xhi int) (*netlist.Design, *netlist.Region) {
	d := netlist.NewDesign()
	idx, _ := d.AddCell("c0", typ)
	bels := make(map[arch.BelID]bool)
	for _, b := range g.Bels() {
		if g.BelType(b) != typ {
			continue
		}
		loc := g.BelLocation(b)
		if loc.X >= xlo && loc.X <= xhi {
			bels[b] = true
		}
	}
	r := d.AddRegion(region, bels)
	d.Cells[idx].Region = region
	return d, r
}
