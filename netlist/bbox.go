// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package netlist

// BoundingBox is an axis-aligned, inclusive bounding box over bel
// locations. A zero-value BoundingBox is empty (see Empty).
type BoundingBox struct {
	X0, Y0, X1, Y1 int
	set            bool
}

// EmptyBB returns an empty bounding box, ready to be grown with Add.
func EmptyBB() BoundingBox {
	return BoundingBox{}
}

// NewBB returns the bounding box (x0,y0)-(x1,y1), normalised so that
// X0<=X1 and Y0<=Y1.
func NewBB(x0, y0, x1, y1 int) BoundingBox {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return BoundingBox{X0: x0, Y0: y0, X1: x1, Y1: y1, set: true}
}

// Empty reports whether the box has never been grown by Add.
func (b BoundingBox) Empty() bool { return !b.set }

// Add grows b (if necessary) so that (x,y) is contained in it, and
// returns the result.
func (b BoundingBox) Add(x, y int) BoundingBox {
	if !b.set {
		return BoundingBox{X0: x, Y0: y, X1: x, Y1: y, set: true}
	}
	if x < b.X0 {
		b.X0 = x
	}
	if x > b.X1 {
		b.X1 = x
	}
	if y < b.Y0 {
		b.Y0 = y
	}
	if y > b.Y1 {
		b.Y1 = y
	}
	return b
}

// HPWL returns the half-perimeter wirelength of the box: (x1-x0)+(y1-y0).
// An empty box has HPWL 0.
func (b BoundingBox) HPWL() int {
	if !b.set {
		return 0
	}
	return (b.X1 - b.X0) + (b.Y1 - b.Y0)
}

// Contains reports whether (x,y) lies within the box, inclusive.
func (b BoundingBox) Contains(x, y int) bool {
	if !b.set {
		return false
	}
	return x >= b.X0 && x <= b.X1 && y >= b.Y0 && y <= b.Y1
}

// TouchesEdge reports whether (x,y) lies on the box's boundary.
func (b BoundingBox) TouchesEdge(x, y int) bool {
	if !b.set {
		return false
	}
	return x == b.X0 || x == b.X1 || y == b.Y0 || y == b.Y1
}

// Grow returns b expanded by margin on every side.
func (b BoundingBox) Grow(margin int) BoundingBox {
	if !b.set {
		return b
	}
	return BoundingBox{X0: b.X0 - margin, Y0: b.Y0 - margin, X1: b.X1 + margin, Y1: b.Y1 + margin, set: true}
}

// GrowXY returns b expanded by mx on X and my on Y.
func (b BoundingBox) GrowXY(mx, my int) BoundingBox {
	if !b.set {
		return b
	}
	return BoundingBox{X0: b.X0 - mx, Y0: b.Y0 - my, X1: b.X1 + mx, Y1: b.Y1 + my, set: true}
}

// Center returns the box's centroid. An empty box returns (0,0).
func (b BoundingBox) Center() (cx, cy float64) {
	if !b.set {
		return 0, 0
	}
	return float64(b.X0+b.X1) / 2, float64(b.Y0+b.Y1) / 2
}

// ManhattanOutside returns the Manhattan distance by which (x,y) lies
// outside the box; 0 if (x,y) is contained.
func (b BoundingBox) ManhattanOutside(x, y int) int {
	if !b.set {
		return 0
	}
	dx := 0
	if x < b.X0 {
		dx = b.X0 - x
	} else if x > b.X1 {
		dx = x - b.X1
	}
	dy := 0
	if y < b.Y0 {
		dy = b.Y0 - y
	} else if y > b.Y1 {
		dy = y - b.Y1
	}
	return dx + dy
}

