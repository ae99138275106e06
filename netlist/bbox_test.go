// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package netlist

import "testing"

func TestBoundingBoxHPWL(t *testing.T) {
	tests := []struct {
		name string
		pts  [][2]int
		want int
	}{
		{"empty", nil, 0},
		{"single point", [][2]int{{3, 4}}, 0},
		{"two points", [][2]int{{0, 0}, {3, 4}}, 7},
		{"three points", [][2]int{{0, 0}, {3, 4}, {-1, 2}}, 4 + 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bb := EmptyBB()
			for _, p := range tt.pts {
				bb = bb.Add(p[0], p[1])
			}
			if got := bb.HPWL(); got != tt.want {
				t.Errorf("HPWL() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBoundingBoxTouchesEdge(t *testing.T) {
	bb := NewBB(0, 0, 4, 4)
	for _, p := range [][2]int{{0, 2}, {4, 2}, {2, 0}, {2, 4}} {
		if !bb.TouchesEdge(p[0], p[1]) {
			t.Errorf("TouchesEdge(%v) = false, want true", p)
		}
	}
	if bb.TouchesEdge(2, 2) {
		t.Errorf("TouchesEdge(2,2) = true, want false")
	}
}

func TestBoundingBoxManhattanOutside(t *testing.T) {
	bb := NewBB(2, 2, 5, 5)
	tests := []struct {
		x, y, want int
	}{
		{3, 3, 0},
		{2, 2, 0},
		{0, 3, 2},
		{7, 3, 2},
		{0, 0, 4},
	}
	for _, tt := range tests {
		if got := bb.ManhattanOutside(tt.x, tt.y); got != tt.want {
			t.Errorf("ManhattanOutside(%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}
