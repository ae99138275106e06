// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"sync"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
)

// batchJob is one unit of dispatched work: the cells this worker must
// propose+score a move for, plus the batch-wide parameters every cell's
// deterministic rng and the cost model are scored against.
type batchJob struct {
	cells       []int
	seed        int64
	belChecksum uint64
	diameter    int
	temperature float64
	lastWirelen float64
	lastTiming  float64
}

// worker is one entry in the placer's fixed-size pool. Its shape
// mirrors the teacher's Circuit worker (hwsim.go: a goroutine parked on
// a buffered signal channel, released once per Step and joined through
// a shared sync.WaitGroup) rather than a goroutine spawned per task.
type worker struct {
	tc   *ThreadContext
	wake chan batchJob
	die  chan struct{}
}

func newWorker() *worker {
	return &worker{
		tc:   newThreadContext(),
		wake: make(chan batchJob, 1),
		die:  make(chan struct{}),
	}
}

// run is the worker goroutine body. It never mutates the arch or the
// shared cost model: it only writes into its own ThreadContext.
func (w *worker) run(wg *sync.WaitGroup, c *Controller) {
	for {
		select {
		case job := <-w.wake:
			w.tc.reset()
			w.processBatch(c, job)
			wg.Done()
		case <-w.die:
			return
		}
	}
}

func (w *worker) processBatch(c *Controller, job batchJob) {
	for _, cellIdx := range job.cells {
		cell := c.d.Cells[cellIdx]
		bel := cell.Bel
		if ov, ok := w.tc.Overlay[cellIdx]; ok {
			bel = ov
		}
		if bel == arch.NoBel {
			continue
		}
		loc := c.a.BelLocation(bel)
		rng := newCellRng(job.seed, cellIdx, job.belChecksum)
		candidate, ok := c.proposer.Propose(cellIdx, loc.X, loc.Y, job.diameter, job.diameter, -1, rng.Intn)
		if !ok {
			continue
		}
		res := evaluateCandidate(c.model, c.d, w.tc, cellIdx, candidate, job.temperature, job.lastWirelen, job.lastTiming, rng)
		if res.accepted {
			w.tc.Results = append(w.tc.Results, ProposedMove{CellIdx: cellIdx, Bel: candidate})
		}
	}
}

// evalDelta scores ports with the same Model.Evaluate call the workers
// use, against a caller-chosen locate function. The controller's
// serial replay (trySwapPosition) calls Model.Evaluate directly.
func evalDelta(m *cost.Model, d *netlist.Design, ports []cost.MovedPort, locate cost.Locate) cost.Delta {
	return m.Evaluate(ports, locate)
}
