// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/belindex"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
)

// ErrNoLegalBel is returned when a cell's type has no legal bel
// anywhere on the device, or a user-pinned bel fails validity (spec.md
// §7, user-input errors).
var ErrNoLegalBel = errors.New("place: no legal bel for cell")

// ErrPlacementFatal marks a post-placement invariant violation (spec.md
// §7, invariant-violation errors): a bel's validity check failed, or a
// constrained cell's constraint distance was non-zero at commit.
var ErrPlacementFatal = errors.New("place: post-placement invariant violation")

const maxInitialPlacementRetries = 25

// Controller is the SA controller (C6): it owns the temperature
// schedule, search-diameter adaptation, worker pool, and the serial
// replay of worker-proposed moves onto the live arch.
type Controller struct {
	a   arch.Arch
	d   *netlist.Design
	idx *belindex.Index
	cfg Config

	proposer *Proposer
	model    *cost.Model

	T          float64
	D          int
	avgWirelen float64
	noProgress int
	iteration  int

	requireLegal bool

	autoplaced []int
	chainRoots []int
	toRequeue  []int
	belsCache  map[string][]arch.BelID

	rng *rand.Rand

	workers []*worker
	wg      sync.WaitGroup

	log logrus.FieldLogger
	id  xid.ID
}

// NewController builds the SA controller. It does not take ownership
// of d's udata scope; the caller must have already called
// d.CellUdataScope and defer its restore.
func NewController(a arch.Arch, d *netlist.Design, cfg Config) *Controller {
	idx := belindex.New(a, cfg.MinBelsForGridPick)
	c := &Controller{
		a:        a,
		d:        d,
		idx:      idx,
		cfg:      cfg,
		proposer: NewProposer(a, d, idx),
		T:        cfg.initialTemp(),
		D:        maxGridDim(a) + 1,
		rng:      rand.New(rand.NewSource(a.Rng())),
		log:      cfg.Logger,
		id:       xid.New(),
	}
	return c
}

func maxGridDim(a arch.Arch) int {
	maxD := 0
	for _, bel := range a.Bels() {
		loc := a.BelLocation(bel)
		if loc.X > maxD {
			maxD = loc.X
		}
		if loc.Y > maxD {
			maxD = loc.Y
		}
	}
	return maxD
}

// queueForPlacement marks cellIdx as displaced and in need of a new
// bel; drainRequeue processes the list at the end of the current outer
// iteration.
func (c *Controller) queueForPlacement(cellIdx int) {
	c.toRequeue = append(c.toRequeue, cellIdx)
}

// startWorkers launches the fixed-size worker pool, mirroring the
// teacher's Circuit worker startup in NewCircuit.
func (c *Controller) startWorkers() {
	n := c.cfg.Workers
	if n <= 0 {
		n = 1
	}
	c.workers = make([]*worker, n)
	for i := range c.workers {
		w := newWorker()
		c.workers[i] = w
		go w.run(&c.wg, c)
	}
}

func (c *Controller) stopWorkers() {
	for _, w := range c.workers {
		close(w.die)
	}
	c.workers = nil
}

// runBatch partitions cells evenly across the worker pool, dispatches
// one batchJob per worker, and joins them before returning every
// worker's accepted proposals in deterministic batch-then-index order
// (spec.md §5).
func (c *Controller) runBatch(cells []int) []ProposedMove {
	if len(c.workers) == 0 || len(cells) == 0 {
		return nil
	}
	n := len(c.workers)
	belChecksum := c.a.Checksum()
	seed := c.rng.Int63()

	size := len(cells) / n
	if size*n < len(cells) {
		size++
	}
	dispatched := 0
	for i, w := range c.workers {
		lo := i * size
		if lo >= len(cells) {
			c.wg.Add(1)
			w.wake <- batchJob{seed: seed, belChecksum: belChecksum}
			continue
		}
		hi := lo + size
		if hi > len(cells) {
			hi = len(cells)
		}
		c.wg.Add(1)
		dispatched++
		w.wake <- batchJob{
			cells:       cells[lo:hi],
			seed:        seed,
			belChecksum: belChecksum,
			diameter:    c.D,
			temperature: c.T,
			lastWirelen: c.model.CurrWirelenCost,
			lastTiming:  c.model.CurrTimingCost,
		}
	}
	c.wg.Wait()

	var out []ProposedMove
	for _, w := range c.workers {
		out = append(out, w.tc.Results...)
	}
	return out
}

// trySwapPosition is the serial replay described in spec.md §4.4: it
// performs the real bel swap on the arch, recomputes the delta against
// live state, re-applies the Metropolis criterion, and commits or
// reverts. It may re-reject a worker-accepted move if the board has
// changed underneath it since the worker scored it.
func (c *Controller) trySwapPosition(cellIdx int, targetBel arch.BelID) bool {
	cellA := c.d.Cells[cellIdx]
	oldBelA := cellA.Bel
	if oldBelA == targetBel {
		return false
	}

	var cellBIdx = -1
	if occName, occupied := c.a.BoundBelCell(targetBel); occupied {
		idx, found := c.d.CellByName(occName)
		if !found {
			return false
		}
		if idx == cellIdx {
			return false
		}
		if c.d.Cells[idx].Strength >= arch.StrengthLocked {
			return false
		}
		cellBIdx = idx
	}

	if err := c.a.UnbindBel(oldBelA); err != nil {
		return false
	}
	if cellBIdx >= 0 {
		if err := c.a.UnbindBel(targetBel); err != nil {
			_ = c.a.BindBel(oldBelA, cellA.Name, cellA.Strength)
			return false
		}
	}
	if err := c.a.BindBel(targetBel, cellA.Name, cellA.Strength); err != nil {
		if cellBIdx >= 0 {
			_ = c.a.BindBel(targetBel, c.d.Cells[cellBIdx].Name, c.d.Cells[cellBIdx].Strength)
		}
		_ = c.a.BindBel(oldBelA, cellA.Name, cellA.Strength)
		return false
	}
	if cellBIdx >= 0 {
		if err := c.a.BindBel(oldBelA, c.d.Cells[cellBIdx].Name, c.d.Cells[cellBIdx].Strength); err != nil {
			_ = c.a.UnbindBel(targetBel)
			_ = c.a.BindBel(targetBel, c.d.Cells[cellBIdx].Name, c.d.Cells[cellBIdx].Strength)
			_ = c.a.BindBel(oldBelA, cellA.Name, cellA.Strength)
			return false
		}
	}

	cellA.Bel = targetBel
	var oldBelB arch.BelID = arch.NoBel
	if cellBIdx >= 0 {
		oldBelB = targetBel
		c.d.Cells[cellBIdx].Bel = oldBelA
	}

	locate := func(idx int) (arch.BelID, bool) {
		bel := c.d.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	touched := []int{cellIdx}
	if cellBIdx >= 0 {
		touched = append(touched, cellBIdx)
	}
	var ports []cost.MovedPort
	ports = append(ports, movedPortsFor(c.d, cellIdx, oldBelA, targetBel)...)
	if cellBIdx >= 0 {
		ports = append(ports, movedPortsFor(c.d, cellBIdx, oldBelB, oldBelA)...)
	}
	delta := c.model.Evaluate(ports, locate)

	oldLocate := func(idx int) (arch.BelID, bool) {
		if idx == cellIdx {
			return oldBelA, oldBelA != arch.NoBel
		}
		if idx == cellBIdx {
			return oldBelB, oldBelB != arch.NoBel
		}
		bel := c.d.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	oldConstraint := cost.ConstraintDistanceCells(c.a, c.d, touched, oldLocate)
	newConstraint := cost.ConstraintDistanceCells(c.a, c.d, touched, locate)
	dCombined := c.model.Combined(delta.DTiming, delta.DWirelen, c.model.CurrTimingCost, c.model.CurrWirelenCost, oldConstraint, newConstraint, c.T)

	if !metropolis(dCombined, c.T, c.rng.Float64) {
		// revert: unbind both, rebind to original positions.
		_ = c.a.UnbindBel(targetBel)
		if cellBIdx >= 0 {
			_ = c.a.UnbindBel(oldBelA)
			_ = c.a.BindBel(targetBel, c.d.Cells[cellBIdx].Name, c.d.Cells[cellBIdx].Strength)
			c.d.Cells[cellBIdx].Bel = targetBel
		}
		_ = c.a.BindBel(oldBelA, cellA.Name, cellA.Strength)
		cellA.Bel = oldBelA
		return false
	}
	c.model.Commit(delta)
	return true
}

// Run drives the placer to convergence (spec.md §4.4/§4.7) and returns
// the arch's checksum on success (spec.md's supplemented determinism
// verification), or an error per spec.md §7.
func (c *Controller) Run(ctx context.Context) (uint64, error) {
	restoreNet := c.d.UdataScope()
	defer restoreNet()
	restoreCell := c.d.CellUdataScope()
	defer restoreCell()

	c.model = cost.New(c.cfg.costConfig(), c.a, c.d)
	if c.cfg.Criticality != nil {
		c.model.Criticality = c.cfg.Criticality(c.d)
	}
	c.model.Setup(func(idx int) (arch.BelID, bool) {
		bel := c.d.Cells[idx].Bel
		return bel, bel != arch.NoBel
	})
	c.avgWirelen = c.model.CurrWirelenCost

	if err := c.initialPlace(); err != nil {
		return 0, err
	}

	c.chainRoots = c.chainRoots[:0]
	for i, cell := range c.d.Cells {
		if cell.IsChainRoot() {
			c.chainRoots = append(c.chainRoots, i)
		}
	}

	// Every region's bounding box is memoized on first Bounds() call;
	// pre-warm them here, single-threaded, so workers (which only read
	// placer state) never race on that first write (spec.md §5).
	for _, r := range c.d.Regions {
		r.Bounds(c.a)
	}

	c.startWorkers()
	defer c.stopWorkers()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		var accepted, moved int
		for batch := 0; batch < 15; batch++ {
			proposals := c.runBatch(c.autoplacedBatch(batch))
			for _, p := range proposals {
				moved++
				if c.trySwapPosition(p.CellIdx, p.Bel) {
					accepted++
				}
			}
			for _, root := range c.chainRoots {
				moved++
				if c.tryChainMove(root) {
					accepted++
				}
			}
		}

		if err := c.drainRequeue(); err != nil {
			return 0, err
		}

		raccept := 0.0
		if moved > 0 {
			raccept = float64(accepted) / float64(moved)
		}
		improved := c.model.CurrWirelenCost < c.avgWirelen
		gridMax := maxGridDim(c.a) + 1

		if c.model.CurrWirelenCost < 0.95*c.avgWirelen {
			c.avgWirelen = 0.8*c.avgWirelen + 0.2*c.model.CurrWirelenCost
		} else {
			c.D = clampI(int(math.Round(float64(c.D)*(1-0.44+raccept))), 1, gridMax)
			switch {
			case raccept > 0.96:
				c.T *= 0.5
			case raccept > 0.8:
				c.T *= 0.9
			case raccept > 0.15 && c.D > 1:
				c.T *= 0.95
			default:
				c.T *= 0.8
			}
		}

		if improved {
			c.noProgress = 0
		} else {
			c.noProgress++
		}

		legalised := false
		if c.D < c.cfg.LegaliseDiameter && c.requireLegal && c.cfg.Legaliser != nil {
			movedN, err := c.cfg.Legaliser(c.d)
			if err != nil {
				return 0, errors.Wrap(err, "place: legaliser failed")
			}
			if movedN > 0 {
				c.rebuildAutoplaced()
				legalised = true
			}
			c.requireLegal = false
		}

		c.a.Yield(ctx)
		// spec.md §4.4: on budget-based timing, refresh slack every
		// slack_redist_iter; otherwise refresh criticalities every
		// iteration.
		if c.cfg.Criticality != nil {
			refresh := !c.cfg.BudgetBased
			if c.cfg.BudgetBased && c.cfg.SlackRedistIter > 0 && c.iteration%c.cfg.SlackRedistIter == 0 {
				refresh = true
			}
			if refresh {
				c.model.Criticality = c.cfg.Criticality(c.d)
			}
		}
		c.model.Setup(func(idx int) (arch.BelID, bool) {
			bel := c.d.Cells[idx].Bel
			return bel, bel != arch.NoBel
		})

		c.iteration++
		noProgressThreshold := 5
		if c.cfg.Refine {
			noProgressThreshold = 1
		}
		if c.log != nil {
			c.log.WithFields(logrus.Fields{
				"run":         c.id.String(),
				"iteration":   c.iteration,
				"temperature": c.T,
				"diameter":    c.D,
				"wirelen":     c.model.CurrWirelenCost,
				"timing":      c.model.CurrTimingCost,
				"accept_rate": raccept,
			}).Info("place: iteration")
		}
		if c.cfg.OnIteration != nil {
			c.cfg.OnIteration(IterationStats{
				Iteration:   c.iteration,
				Temperature: c.T,
				Diameter:    c.D,
				WirelenCost: c.model.CurrWirelenCost,
				TimingCost:  c.model.CurrTimingCost,
				AcceptRate:  raccept,
				Legalised:   legalised,
			})
		}

		if c.T <= 1e-7 && c.noProgress >= noProgressThreshold {
			break
		}
	}

	if err := c.finalCheck(); err != nil {
		return 0, err
	}
	sum := c.a.Checksum()
	if c.log != nil {
		c.log.WithFields(logrus.Fields{"run": c.id.String(), "checksum": sum}).Info("place: done")
	}
	return sum, nil
}

// rebuildAutoplaced repopulates autoplaced/chainRoots after legalisation
// may have moved cells (spec.md §4.4 "rebuild autoplaced/chain_basis").
// Chain members (root and children alike) are excluded from autoplaced:
// they only ever move as a rigid unit through chainRoots/tryChainMove.
func (c *Controller) rebuildAutoplaced() {
	c.autoplaced = c.autoplaced[:0]
	c.chainRoots = c.chainRoots[:0]
	for i, cell := range c.d.Cells {
		if cell.IsChainRoot() {
			c.chainRoots = append(c.chainRoots, i)
			continue
		}
		if cell.Strength < arch.StrengthLocked && cell.ConstrParent < 0 {
			c.autoplaced = append(c.autoplaced, i)
		}
	}
}

// autoplacedBatch returns a stable 32-cell slice of autoplaced (the
// whole set when it holds fewer cells), cycling through the whole set
// across the 15 inner batches of one outer iteration (spec.md §4.4:
// "15 inner batches x (parallel evaluation + chain tries)").
func (c *Controller) autoplacedBatch(batch int) []int {
	n := len(c.autoplaced)
	if n == 0 {
		return nil
	}
	size := c.cfg.BatchSize
	if size <= 0 {
		size = 32
	}
	if size > n {
		size = n
	}
	start := (batch * size) % n
	end := start + size
	if end <= n {
		return c.autoplaced[start:end]
	}
	out := append([]int{}, c.autoplaced[start:n]...)
	out = append(out, c.autoplaced[:end-n]...)
	return out
}

// finalCheck verifies spec.md P1 before returning success: every cell
// has a bel, every bel holds at most one cell (implied by the arch's
// own invariant I1), every cell's bel type matches and passes
// IsValidBelForCell, and constraint distance is 0.
func (c *Controller) finalCheck() error {
	for _, cell := range c.d.Cells {
		if cell.Bel == arch.NoBel {
			if c.cfg.Force {
				continue
			}
			return errors.Wrapf(ErrPlacementFatal, "cell %q left unplaced", cell.Name)
		}
		if c.a.BelType(cell.Bel) != cell.Type {
			return errors.Wrapf(ErrPlacementFatal, "cell %q bound to bel of wrong type", cell.Name)
		}
		if !c.a.IsValidBelForCell(cell.Bel, cell.Type) {
			return errors.Wrapf(ErrPlacementFatal, "cell %q fails IsValidBelForCell", cell.Name)
		}
		if !c.a.IsBelLocationValid(cell.Bel) {
			return errors.Wrapf(ErrPlacementFatal, "bel bound to cell %q is not location-valid", cell.Name)
		}
	}
	locate := func(idx int) (arch.BelID, bool) {
		bel := c.d.Cells[idx].Bel
		return bel, bel != arch.NoBel
	}
	if dist := cost.ConstraintDistance(c.a, c.d, locate); dist != 0 && !c.cfg.Force {
		return errors.Wrapf(ErrPlacementFatal, "non-zero constraint distance %v after placement", dist)
	}
	return nil
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sortCellNames sorts cell indices by name in place, the deterministic
// first step of initialPlace's sorted-then-shuffled ordering (spec.md
// §4.4).
func (c *Controller) sortCellNames(idxs []int) {
	sort.Slice(idxs, func(i, j int) bool { return c.d.Cells[idxs[i]].Name < c.d.Cells[idxs[j]].Name })
}
