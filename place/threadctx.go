// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"hash/fnv"
	"math/rand"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
)

// rngWarmupSteps is the number of discarded draws used to decorrelate a
// freshly seeded per-cell rng from its seed's low bits (spec.md §4.4:
// "warmup 5 steps").
const rngWarmupSteps = 5

// deriveSeed computes the deterministic per-cell rng seed: an FNV-1a
// hash of (batchSeed, cellIndex, belChecksum), further XORed with
// cellIndex and (belChecksum<<32), after the seed ⊕ cell.name.index ⊕
// (bel_checksum<<32) shape of spec.md §4.4. cellIndex
// stands in for "cell.name.index" (a stable dense identity assigned at
// subsystem entry, see netlist.Design.CellUdataScope) and belChecksum
// is the arch's Checksum() sampled once per batch, so that two runs
// with the same seed and the same board state derive identical streams
// (spec.md P6/S6).
func deriveSeed(batchSeed int64, cellIndex int, belChecksum uint64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	putU64(&buf, uint64(batchSeed))
	h.Write(buf[:])
	putU64(&buf, uint64(cellIndex))
	h.Write(buf[:])
	putU64(&buf, belChecksum)
	h.Write(buf[:])
	return int64(h.Sum64() ^ (uint64(cellIndex)) ^ (belChecksum << 32))
}

func putU64(buf *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// newCellRng returns a *rand.Rand deterministically derived from
// (batchSeed, cellIndex, belChecksum), warmed up per spec.md §4.4.
func newCellRng(batchSeed int64, cellIndex int, belChecksum uint64) *rand.Rand {
	r := rand.New(rand.NewSource(deriveSeed(batchSeed, cellIndex, belChecksum)))
	for i := 0; i < rngWarmupSteps; i++ {
		r.Int63()
	}
	return r
}

// ProposedMove is a worker-accepted candidate, replayed serially by the
// controller (spec.md §4.4).
type ProposedMove struct {
	CellIdx int
	Bel     arch.BelID
}

// ThreadContext is the per-worker scratch state: workers read the arch
// and placer state but mutate only this struct (spec.md §5). Overlay is
// the "movedCells" shadow map every bel-location read inside scoring
// funnels through (spec.md §9).
type ThreadContext struct {
	Overlay map[int]arch.BelID
	Results []ProposedMove
}

func newThreadContext() *ThreadContext {
	return &ThreadContext{Overlay: make(map[int]arch.BelID)}
}

func (tc *ThreadContext) reset() {
	for k := range tc.Overlay {
		delete(tc.Overlay, k)
	}
	tc.Results = tc.Results[:0]
}

// locate builds a cost.Locate that consults tc.Overlay before falling
// back to the live design.
func (tc *ThreadContext) locate(d *netlist.Design) cost.Locate {
	return func(cellIdx int) (arch.BelID, bool) {
		if bel, ok := tc.Overlay[cellIdx]; ok {
			return bel, bel != arch.NoBel
		}
		bel := d.Cells[cellIdx].Bel
		return bel, bel != arch.NoBel
	}
}
