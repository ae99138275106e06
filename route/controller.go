// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package route

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
)

// ErrUnroutable is returned when an arc cannot be routed even with the
// bounding-box constraint disabled (spec.md §7, routing-infeasible
// errors).
var ErrUnroutable = errors.New("route: arc unroutable")

// Controller is the router controller (C9): reserved-wire computation,
// the partitioned rip-up-and-reroute loop, congestion accounting and
// the final single-threaded commit to the arch.
type Controller struct {
	a   arch.Arch
	d   *netlist.Design
	cfg Config

	state *State
	rng   *rand.Rand
	log   logrus.FieldLogger
	id    xid.ID
}

// NewController builds a router controller. d.UdataScope must already
// be active (net udata drives State's per-net arrays), mirroring the
// placer's ownership convention.
func NewController(a arch.Arch, d *netlist.Design, cfg Config) *Controller {
	return &Controller{
		a:     a,
		d:     d,
		cfg:   cfg,
		state: NewState(a, d),
		rng:   rand.New(rand.NewSource(a.Rng())),
		log:   cfg.Logger,
		id:    xid.New(),
	}
}

// arcKey names one arc within the outstanding route queue.
type arcKey struct {
	netIdx    int
	userIndex int
}

// Run drives the router to a congestion-free, committed solution
// (spec.md §4.6) and returns the arch's checksum on success.
func (c *Controller) Run(ctx context.Context) (uint64, error) {
	restore := c.d.UdataScope()
	defer restore()

	c.state.ComputeReservedWires()

	queue := c.allArcs()
	iteration := 0

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		results, archFail := c.routePass(queue)

		overusedWires, failedNets := c.accountCongestion()

		var bindFailed []arcKey
		if overusedWires == 0 && archFail == 0 {
			committed, failed := c.bindAndCheckAll()
			if len(failed) == 0 {
				sum := c.a.Checksum()
				if c.log != nil {
					c.log.WithFields(logrus.Fields{
						"run":       c.id.String(),
						"iteration": iteration,
						"wires":     len(c.state.Wires),
						"nets":      committed,
						"checksum":  sum,
					}).Info("route: converged")
				}
				return sum, nil
			}
			// bind_and_check_all found an arch rejection: it has already
			// ripped up every rejected arc's soft state and rolled back
			// any sibling arc of the same net it had already committed
			// into the arch this pass. Fold the rejected arcs back into
			// the queue and keep negotiating.
			bindFailed = failed
		}

		queue = append(c.requeue(results, failedNets), bindFailed...)
		c.cfg.CurrCongWeight *= 2
		iteration++

		if c.log != nil {
			worst := c.mostCongestedWires(5)
			worstIDs := make([]arch.WireID, len(worst))
			for i, w := range worst {
				worstIDs[i] = w.wire
			}
			c.log.WithFields(logrus.Fields{
				"run":         c.id.String(),
				"iteration":   iteration,
				"total_wires": len(c.state.Wires),
				"overused":    overusedWires,
				"overuse":     c.totalOveruse(),
				"arch_fail":   archFail,
				"worst_wires": worstIDs,
			}).Info("route: iteration")
		}

		c.a.Yield(ctx)

		if iteration > maxRouteIterations {
			if c.cfg.Force {
				return c.a.Checksum(), nil
			}
			return 0, errors.Wrap(ErrUnroutable, "route: negotiated congestion did not converge")
		}
	}
}

const maxRouteIterations = 250

func (c *Controller) allArcs() []arcKey {
	var out []arcKey
	for i, n := range c.d.Nets {
		if n.Global || !n.Driver.Valid() {
			continue
		}
		for u := range n.Users {
			out = append(out, arcKey{netIdx: i, userIndex: u})
		}
	}
	return out
}

// routePass partitions queue into 5 bins by a median bb split and
// dispatches one worker goroutine per quadrant bin (up to cfg.Workers,
// at most 4) plus the controller goroutine on the cross-boundary bin,
// per spec.md §4.6.b. Quadrant bins without a worker, and every
// worker-reported failure, are run single-threaded with
// ARC_RETRY_WITHOUT_BB allowed.
func (c *Controller) routePass(queue []arcKey) (map[arcKey]arcOutcome, int) {
	results := make(map[arcKey]arcOutcome, len(queue))
	var mu sync.Mutex

	midX, midY := c.medianSplit(queue)
	bins := make([][]arcKey, 5)
	for _, k := range queue {
		n := c.d.Nets[k.netIdx]
		bb := c.state.NetBB[n.Udata()]
		bins[c.binOf(bb, midX, midY)] = append(bins[c.binOf(bb, midX, midY)], k)
	}

	var wg sync.WaitGroup
	nWorkers := c.cfg.Workers
	if nWorkers <= 0 || nWorkers > 4 {
		nWorkers = 4
	}
	for i := 0; i < nWorkers; i++ {
		bin := bins[i]
		wg.Add(1)
		go func(bin []arcKey) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(c.rng.Int63()))
			for _, k := range bin {
				res, wires, pips := c.routeOneArc(k, false, rng)
				mu.Lock()
				results[k] = arcOutcome{result: res, wires: wires, pips: pips}
				mu.Unlock()
			}
		}(bin)
	}
	wg.Wait()

	// cross-boundary bin and every worker failure re-run single-threaded.
	archFail := 0
	single := append([]arcKey{}, bins[4]...)
	for i := nWorkers; i < 4; i++ {
		single = append(single, bins[i]...)
	}
	for k, r := range results {
		if r.result != ArcSuccess {
			single = append(single, k)
		}
	}
	for _, k := range single {
		res, wires, pips := c.routeOneArc(k, true, c.rng)
		results[k] = arcOutcome{result: res, wires: wires, pips: pips}
		if res == ArcFatal {
			archFail++
		}
	}
	return results, archFail
}

type arcOutcome struct {
	result ArcResult
	wires  []arch.WireID
	pips   map[arch.WireID]arch.PipID
}

// medianSplit computes the (mid_x, mid_y) quadrant boundary from the
// queued arcs' net bounding-box centers.
func (c *Controller) medianSplit(queue []arcKey) (int, int) {
	if len(queue) == 0 {
		return 0, 0
	}
	xs := make([]int, 0, len(queue))
	ys := make([]int, 0, len(queue))
	for _, k := range queue {
		n := c.d.Nets[k.netIdx]
		bb := c.state.NetBB[n.Udata()]
		cx, cy := bb.Center()
		xs = append(xs, int(cx))
		ys = append(ys, int(cy))
	}
	sort.Ints(xs)
	sort.Ints(ys)
	return xs[len(xs)/2], ys[len(ys)/2]
}

// binOf assigns an arc's net bb to one of 5 bins: 4 quadrants around
// (midX,midY), or bin 4 if the bb straddles the split within bb_margin.
func (c *Controller) binOf(bb netlist.BoundingBox, midX, midY int) int {
	if bb.Empty() {
		return 4
	}
	left := bb.X1 < midX-c.cfg.BBMarginX
	right := bb.X0 > midX+c.cfg.BBMarginX
	top := bb.Y1 < midY-c.cfg.BBMarginY
	bottom := bb.Y0 > midY+c.cfg.BBMarginY
	switch {
	case left && top:
		return 0
	case right && top:
		return 1
	case left && bottom:
		return 2
	case right && bottom:
		return 3
	default:
		return 4
	}
}

// routeOneArc routes arc k inside its net's bounding box and, when
// allowRetry is set and that fails, routes it again with the box
// disabled.
func (c *Controller) routeOneArc(k arcKey, allowRetry bool, rng *rand.Rand) (ArcResult, []arch.WireID, map[arch.WireID]arch.PipID) {
	n := c.d.Nets[k.netIdx]
	src := c.a.NetinfoSourceWire(n.Name)
	sink := c.a.NetinfoSinkWire(n.Name, k.userIndex)
	bb := c.state.NetBB[n.Udata()].GrowXY(c.cfg.BBMarginX, c.cfg.BBMarginY)
	req := ArcRequest{
		NetUdata:  n.Udata(),
		NetName:   n.Name,
		UserIndex: k.userIndex,
		Source:    src,
		Sink:      sink,
		BB:        bb,
		Cx:        c.state.NetCx[n.Udata()],
		Cy:        c.state.NetCy[n.Udata()],
		Fanout:    len(n.Users),
		BBMode:    true,
	}
	res, wires, pips := RouteArc(c.state, c.cfg, req, rng)
	if res == ArcRetryWithoutBB && allowRetry {
		req.BBMode = false
		res, wires, pips = RouteArc(c.state, c.cfg, req, rng)
	}
	return res, wires, pips
}

// accountCongestion implements spec.md §4.6.c: for every wire,
// overuse = bound_nets.size()-1; if positive, add overuse*
// hist_cong_weight to hist_cong_cost and remember every net sharing
// that wire as failed.
func (c *Controller) accountCongestion() (overusedWires int, failedNets map[int]bool) {
	failedNets = make(map[int]bool)
	for i := range c.state.Wires {
		ws := &c.state.Wires[i]
		ov := ws.Overuse()
		if ov <= 0 {
			continue
		}
		overusedWires++
		ws.HistCongCost += float64(ov) * c.cfg.HistCongWeight
		for nu := range ws.BoundNets {
			failedNets[nu] = true
		}
	}
	return overusedWires, failedNets
}

func (c *Controller) totalOveruse() int {
	total := 0
	for i := range c.state.Wires {
		total += c.state.Wires[i].Overuse()
	}
	return total
}

// requeue rebuilds the route queue from failed nets, ripping up their
// existing soft state first so the next pass starts clean, per
// spec.md §4.6.e.
func (c *Controller) requeue(results map[arcKey]arcOutcome, failedNets map[int]bool) []arcKey {
	var out []arcKey
	for k, r := range results {
		n := c.d.Nets[k.netIdx]
		if r.result != ArcSuccess {
			out = append(out, k)
			continue
		}
		if failedNets[n.Udata()] {
			c.state.RipUpArc(n.Udata(), netlist.ArcTree{Wires: r.wires, DrivingPip: r.pips})
			out = append(out, k)
		}
	}
	return out
}

// bindAndCheckAll walks every net's arcs sink->source using their
// recorded soft routing and binds them into the arch (spec.md §4.6.d).
// A net commits atomically: if any of its arcs is rejected by the arch
// (a pip became unavailable, e.g. another net's strong binding
// intervened), every arc of that net already bound into the arch this
// pass is rolled back, the net's soft routing is ripped up, and all of
// its arcs are returned to the caller for re-queueing rather than
// leaving a half-committed net behind.
func (c *Controller) bindAndCheckAll() (committed int, failed []arcKey) {
	for i, n := range c.d.Nets {
		if n.Global || !n.Driver.Valid() {
			continue
		}

		trees := make([]netlist.ArcTree, len(n.Users))
		traced := 0
		for u := range n.Users {
			tree, err := c.traceArc(n, u)
			if err != nil {
				break
			}
			trees[u] = tree
			traced++
		}
		if traced != len(n.Users) {
			c.ripUpTraced(n, trees[:traced])
			for u := range n.Users {
				failed = append(failed, arcKey{netIdx: i, userIndex: u})
			}
			continue
		}

		bound := 0
		var commitErr error
		for u, tree := range trees {
			if commitErr = c.commitArc(n, u, tree); commitErr != nil {
				break
			}
			bound++
		}
		if commitErr != nil {
			for u := 0; u < bound; u++ {
				c.unbindCommittedArc(trees[u])
			}
			c.ripUpTraced(n, trees)
			for u := range n.Users {
				failed = append(failed, arcKey{netIdx: i, userIndex: u})
			}
			continue
		}

		n.RouteTree = trees
		committed++
		if c.cfg.OnCommit != nil {
			for u, tree := range trees {
				c.cfg.OnCommit(n.Name, u, tree.Wires)
			}
		}
	}
	return committed, failed
}

func (c *Controller) ripUpTraced(n *netlist.Net, trees []netlist.ArcTree) {
	for _, tree := range trees {
		c.state.RipUpArc(n.Udata(), tree)
	}
}

// traceArc reads the soft-routed sink->source wire/pip chain for one
// arc straight out of c.state, without touching the arch. It is the
// read side shared by commitArc (real binding) and bindAndCheckAll's
// rollback bookkeeping (rip-up needs the same wire list whether or not
// the arc ever reached the arch).
func (c *Controller) traceArc(n *netlist.Net, userIndex int) (netlist.ArcTree, error) {
	sink := c.a.NetinfoSinkWire(n.Name, userIndex)
	src := c.a.NetinfoSourceWire(n.Name)

	tree := netlist.ArcTree{DrivingPip: map[arch.WireID]arch.PipID{}}
	w := sink
	for w != src {
		b, ok := c.state.Wires[w].BoundNets[n.Udata()]
		if !ok || b.drivingPip == arch.NoPip {
			return netlist.ArcTree{}, errors.Errorf("route: arc %s[%d] has no recorded pip into wire %d", n.Name, userIndex, w)
		}
		tree.DrivingPip[w] = b.drivingPip
		tree.Wires = append(tree.Wires, w)
		w = c.a.PipSrcWire(b.drivingPip)
	}
	tree.Wires = append(tree.Wires, src)
	return tree, nil
}

// commitArc binds a traced arc's pips and source wire into the arch
// with StrengthWeak, unwinding anything it bound itself on failure.
// Rolling back sibling arcs of the same net already committed this
// pass is bindAndCheckAll's job, via unbindCommittedArc.
func (c *Controller) commitArc(n *netlist.Net, userIndex int, tree netlist.ArcTree) error {
	var boundPips []arch.PipID
	for _, w := range tree.Wires[:len(tree.Wires)-1] {
		pip := tree.DrivingPip[w]
		if err := c.a.BindPip(pip, n.Name, arch.StrengthWeak); err != nil {
			c.unbindArch(boundPips)
			return errors.Wrapf(err, "route: bind pip for arc %s[%d]", n.Name, userIndex)
		}
		boundPips = append(boundPips, pip)
	}
	src := tree.Wires[len(tree.Wires)-1]
	if err := c.a.BindWire(src, n.Name, arch.StrengthWeak); err != nil {
		c.unbindArch(boundPips)
		return errors.Wrapf(err, "route: bind source wire for arc %s[%d]", n.Name, userIndex)
	}
	return nil
}

// unbindCommittedArc undoes a fully-committed commitArc call: every
// pip the arc bound plus its source wire.
func (c *Controller) unbindCommittedArc(tree netlist.ArcTree) {
	if len(tree.Wires) == 0 {
		return
	}
	pips := make([]arch.PipID, 0, len(tree.Wires)-1)
	for _, w := range tree.Wires[:len(tree.Wires)-1] {
		pips = append(pips, tree.DrivingPip[w])
	}
	c.unbindArch(pips)
	_ = c.a.UnbindWire(tree.Wires[len(tree.Wires)-1])
}

func (c *Controller) unbindArch(pips []arch.PipID) {
	for i := len(pips) - 1; i >= 0; i-- {
		_ = c.a.UnbindPip(pips[i])
		_ = c.a.UnbindWire(c.a.PipDstWire(pips[i]))
	}
}
