// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package belindex

import (
	"math/rand"
	"testing"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/pnrtest"
)

func TestIndexSpatialVsRare(t *testing.T) {
	g := pnrtest.NewGrid(8, 8, 1)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			g.AddBel("lut", "LUT", arch.Loc{X: x, Y: y})
		}
	}
	g.AddBel("io0", "IO", arch.Loc{X: 0, Y: 0})

	idx := New(g, 4)
	if !idx.Spatial("LUT") {
		t.Errorf("Spatial(LUT) = false, want true (64 bels >= threshold 4)")
	}
	if idx.Spatial("IO") {
		t.Errorf("Spatial(IO) = true, want false (1 bel < threshold 4)")
	}
	if got := idx.Count("LUT"); got != 64 {
		t.Errorf("Count(LUT) = %d, want 64", got)
	}
}

func TestIndexBucketByLocation(t *testing.T) {
	g := pnrtest.NewGrid(4, 4, 1)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			g.AddBel("lut", "LUT", arch.Loc{X: x, Y: y})
		}
	}
	idx := New(g, 1)
	b := idx.Bucket("LUT", 2, 2)
	if len(b) != 1 {
		t.Fatalf("Bucket(LUT,2,2) has %d bels, want 1", len(b))
	}
	if want := (arch.Loc{X: 2, Y: 2}); g.BelLocation(b[0]) != want {
		t.Errorf("bucketed bel at %v, want %v", g.BelLocation(b[0]), want)
	}
}

func TestIndexPickEmptyBucket(t *testing.T) {
	g := pnrtest.NewGrid(2, 2, 1)
	idx := New(g, 1)
	rng := rand.New(rand.NewSource(1))
	if _, ok := idx.Pick("LUT", 0, 0, rng.Intn); ok {
		t.Errorf("Pick on empty index returned ok=true")
	}
}
