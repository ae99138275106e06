// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package netlist

import (
	"testing"

	"github.com/vela-eda/pnr/arch"
)

func TestDesignConnectDriverUser(t *testing.T) {
	d := NewDesign()
	lut, _ := d.AddCell("lut0", "LUT")
	ff, _ := d.AddCell("ff0", "FF")
	n, _ := d.AddNet("n0")

	if err := d.Connect(lut, "OUT", arch.PortOut, n); err != nil {
		t.Fatalf("Connect driver: %v", err)
	}
	if err := d.Connect(ff, "IN", arch.PortIn, n); err != nil {
		t.Fatalf("Connect user: %v", err)
	}

	net := d.Nets[n]
	if net.Driver.Cell != lut || net.Driver.Port != "OUT" {
		t.Errorf("driver = %+v, want cell %d port OUT", net.Driver, lut)
	}
	if len(net.Users) != 1 || net.Users[0].Cell != ff {
		t.Errorf("users = %+v, want one user cell %d", net.Users, ff)
	}
}

func TestDesignConnectDuplicateDriverRejected(t *testing.T) {
	d := NewDesign()
	a, _ := d.AddCell("a", "LUT")
	b, _ := d.AddCell("b", "LUT")
	n, _ := d.AddNet("n0")
	if err := d.Connect(a, "OUT", arch.PortOut, n); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := d.Connect(b, "OUT", arch.PortOut, n); err == nil {
		t.Fatalf("second driver Connect: want error, got nil")
	}
}

func TestUdataScopeRestoresOnExit(t *testing.T) {
	d := NewDesign()
	for i := 0; i < 3; i++ {
		if _, err := d.AddNet(string(rune('a' + i))); err != nil {
			t.Fatal(err)
		}
	}
	d.Nets[1].udata = 99

	restore := d.UdataScope()
	for i, n := range d.Nets {
		if n.Udata() != i {
			t.Errorf("net[%d].Udata() = %d, want %d", i, n.Udata(), i)
		}
	}
	restore()
	if d.Nets[1].Udata() != 99 {
		t.Errorf("after restore, Nets[1].Udata() = %d, want 99", d.Nets[1].Udata())
	}
}

func TestIsChainRoot(t *testing.T) {
	d := NewDesign()
	root, _ := d.AddCell("r", "LUT")
	member, _ := d.AddCell("m", "LUT")
	if d.Cells[root].IsChainRoot() {
		t.Fatalf("root with no children reports IsChainRoot() = true")
	}
	if err := d.SetChain(root, []int{member}, []int{1}); err != nil {
		t.Fatal(err)
	}
	if !d.Cells[root].IsChainRoot() {
		t.Errorf("IsChainRoot() = false, want true")
	}
	if d.Cells[member].ConstrParent != root {
		t.Errorf("member.ConstrParent = %d, want %d", d.Cells[member].ConstrParent, root)
	}
}
