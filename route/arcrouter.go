// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package route

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/vela-eda/pnr/arch"
	"github.com/vela-eda/pnr/netlist"
)

// ArcResult is the outcome of routing one arc (spec.md §4.5.4).
type ArcResult int

const (
	ArcSuccess ArcResult = iota
	ArcRetryWithoutBB
	ArcFatal
)

// ArcRequest names one arc to route: net udata/name, the user index
// within the net, its source/sink wires and the net's bounding box and
// centroid used by the bias term.
type ArcRequest struct {
	NetUdata  int
	NetName   string
	UserIndex int
	Source    arch.WireID
	Sink      arch.WireID
	BB        netlist.BoundingBox
	Cx, Cy    float64
	Fanout    int
	BBMode    bool // false disables the bounding-box constraint (spec.md ARC_RETRY_WITHOUT_BB replay)
}

// pqItem is one entry in the forward A* open set, ordered by
// cost+togo_cost with a randtag tiebreak (spec.md §4.5.2), mirroring
// the sort.Interface triad katalvlaran-lvlath's bb.go implements for
// its own priority structures, adapted here to container/heap.
type pqItem struct {
	wire     arch.WireID
	priority float64
	randtag  int64
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].randtag < pq[j].randtag
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(*pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

type visitEntry struct {
	total float64
	pip   arch.PipID
	from  arch.WireID
	seen  bool
}

// RouteArc routes one arc via the bidirectional search of spec.md §4.5:
// a bounded backwards BFS seed first, falling back to forward A* on the
// same wire graph. On success it commits the path's pips into s (soft
// binding) and returns the arc's wire chain source->sink.
func RouteArc(s *State, cfg Config, req ArcRequest, rng *rand.Rand) (ArcResult, []arch.WireID, map[arch.WireID]arch.PipID) {
	if wires, pips, ok := backwardSeed(s, cfg, req); ok {
		return ArcSuccess, wires, pips
	}
	return forwardAStar(s, cfg, req, rng)
}

// backwardSeed implements spec.md §4.5.1: from the sink, walk uphill
// pips up to cfg.BackwardsBFSLimit expansions, preferring to adopt an
// existing uncontested soft route that already reaches the source.
func backwardSeed(s *State, cfg Config, req ArcRequest) ([]arch.WireID, map[arch.WireID]arch.PipID, bool) {
	visitedFrom := map[arch.WireID]arch.PipID{}
	visitedSet := map[arch.WireID]bool{req.Sink: true}
	queue := []arch.WireID{req.Sink}
	expansions := 0

	reconstruct := func(reached arch.WireID) ([]arch.WireID, map[arch.WireID]arch.PipID) {
		wires := []arch.WireID{reached}
		pips := map[arch.WireID]arch.PipID{}
		w := reached
		for w != req.Sink {
			p := visitedFrom[w]
			down := s.a.PipDstWire(p)
			pips[down] = p
			w = down
			wires = append(wires, w)
		}
		// wires are built walking downhill, so already ordered
		// reached->sink (source->sink when reached is the source).
		return wires, pips
	}

	if req.Sink == req.Source {
		return []arch.WireID{req.Sink}, map[arch.WireID]arch.PipID{}, true
	}

	for len(queue) > 0 && expansions < cfg.BackwardsBFSLimit {
		cur := queue[0]
		queue = queue[1:]
		expansions++

		ws := &s.Wires[cur]
		if b, ok := ws.BoundNets[req.NetUdata]; ok && len(ws.BoundNets) == 1 && b.drivingPip != arch.NoPip {
			if wires, pips, ok2 := followExisting(s, req, cur); ok2 {
				// extend the adopted source->cur route with the BFS
				// path cur->sink.
				tail, tailPips := reconstruct(cur)
				wires = append(wires, tail[1:]...)
				for w, p := range tailPips {
					pips[w] = p
				}
				commit(s, req.NetUdata, wires, pips)
				return wires, pips, true
			}
		}

		for _, p := range s.a.PipsUphill(cur) {
			up := s.a.PipSrcWire(p)
			if visitedSet[up] {
				continue
			}
			if !s.wireUsableFor(req.NetUdata, up, p) {
				continue
			}
			ws2 := &s.Wires[up]
			cnt := len(ws2.BoundNets)
			if cnt > 1 {
				continue
			}
			if cnt == 1 {
				if _, ok := ws2.BoundNets[req.NetUdata]; !ok {
					continue
				}
			}
			visitedSet[up] = true
			visitedFrom[up] = p
			if up == req.Source {
				wires, pips := reconstruct(up)
				commit(s, req.NetUdata, wires, pips)
				return wires, pips, true
			}
			queue = append(queue, up)
		}
	}
	return nil, nil, false
}

// followExisting walks an already-bound chain of driving pips from cur
// toward req.Source, reusing it verbatim if it reaches the source
// (spec.md §4.5.1 "if the existing route reaches S, adopt it").
func followExisting(s *State, req ArcRequest, cur arch.WireID) ([]arch.WireID, map[arch.WireID]arch.PipID, bool) {
	wires := []arch.WireID{cur}
	pips := map[arch.WireID]arch.PipID{}
	w := cur
	for w != req.Source {
		b, ok := s.Wires[w].BoundNets[req.NetUdata]
		if !ok || b.drivingPip == arch.NoPip {
			return nil, nil, false
		}
		src := s.a.PipSrcWire(b.drivingPip)
		pips[w] = b.drivingPip
		w = src
		wires = append(wires, w)
		if len(wires) > 4096 {
			return nil, nil, false // pathological cycle guard
		}
	}
	for i, j := 0, len(wires)-1; i < j; i, j = i+1, j-1 {
		wires[i], wires[j] = wires[j], wires[i]
	}
	return wires, pips, true
}

// forwardAStar implements spec.md §4.5.2-3: a priority-first search
// from source to sink scored by delay/congestion/bias, budgeted at
// 25000*max(1,bb_width+bb_height) expansions.
func forwardAStar(s *State, cfg Config, req ArcRequest, rng *rand.Rand) (ArcResult, []arch.WireID, map[arch.WireID]arch.PipID) {
	visited := map[arch.WireID]*visitEntry{}
	pq := &priorityQueue{}
	heap.Init(pq)

	togo0 := togoCost(s, cfg, req, req.Source)
	visited[req.Source] = &visitEntry{total: 0, pip: arch.NoPip, from: arch.NoWire, seen: true}
	heap.Push(pq, &pqItem{wire: req.Source, priority: togo0, randtag: rng.Int63()})

	bbw := req.BB.X1 - req.BB.X0
	bbh := req.BB.Y1 - req.BB.Y0
	budget := cfg.ForwardBudgetFactor * maxInt(1, bbw+bbh)
	iter := 0
	found := false

	for pq.Len() > 0 && iter < budget {
		item := heap.Pop(pq).(*pqItem)
		cur := item.wire
		iter++
		if cur == req.Sink {
			found = true
			budget = minInt(budget, iter+5) // drain, spec.md "reduce budget to iter+5"
			continue
		}
		curEntry := visited[cur]
		for _, p := range s.a.PipsDownhill(cur) {
			dst := s.a.PipDstWire(p)
			if req.BBMode {
				loc := s.a.PipLocation(p)
				if loc.X < req.BB.X0-cfg.BBMarginX || loc.X > req.BB.X1+cfg.BBMarginX ||
					loc.Y < req.BB.Y0-cfg.BBMarginY || loc.Y > req.BB.Y1+cfg.BBMarginY {
					continue
				}
			}
			if !s.wireUsableFor(req.NetUdata, dst, p) {
				continue
			}
			base := s.a.DelayNS(s.a.PipDelay(p)) + s.a.DelayNS(s.a.WireDelay(dst)) + s.a.DelayNS(s.a.DelayEpsilon())
			cost := curEntry.total + scoreWire(s, cfg, req, dst, p, base)
			togo := togoCost(s, cfg, req, dst)
			total := cost + togo
			if e, ok := visited[dst]; !ok || cost < e.total {
				visited[dst] = &visitEntry{total: cost, pip: p, from: cur, seen: true}
				heap.Push(pq, &pqItem{wire: dst, priority: total, randtag: rng.Int63()})
			}
		}
	}

	if !found {
		if req.BBMode {
			return ArcRetryWithoutBB, nil, nil
		}
		return ArcFatal, nil, nil
	}

	wires := []arch.WireID{req.Sink}
	pips := map[arch.WireID]arch.PipID{}
	w := req.Sink
	for w != req.Source {
		e := visited[w]
		if e == nil || e.pip == arch.NoPip {
			return ArcFatal, nil, nil
		}
		pips[w] = e.pip
		w = e.from
		wires = append(wires, w)
	}
	for i, j := 0, len(wires)-1; i < j; i, j = i+1, j-1 {
		wires[i], wires[j] = wires[j], wires[i]
	}
	commit(s, req.NetUdata, wires, pips)
	return ArcSuccess, wires, pips
}

// scoreWire is spec.md §4.5.3's score_wire formula for candidate wire w
// reached via pip p, with the given delay base term.
func scoreWire(s *State, cfg Config, req ArcRequest, w arch.WireID, p arch.PipID, base float64) float64 {
	ws := &s.Wires[w]
	histCong := 1 + ws.HistCongCost
	others := 0
	for nu := range ws.BoundNets {
		if nu != req.NetUdata {
			others++
		}
	}
	presentCong := 1.0
	if others > 0 {
		presentCong = 1 + float64(others)*cfg.CurrCongWeight
	}
	sourceUses := 0
	if b, ok := ws.BoundNets[req.NetUdata]; ok {
		sourceUses = b.refCount
	}
	fanout := req.Fanout
	if fanout < 1 {
		fanout = 1
	}
	hpwl := req.BB.HPWL()
	if hpwl < 1 {
		hpwl = 1
	}
	loc := s.a.PipLocation(p)
	bias := 0.5 * (base / float64(fanout)) * (math.Abs(float64(loc.X)-req.Cx) + math.Abs(float64(loc.Y)-req.Cy)) / float64(hpwl)
	return base*histCong*presentCong/(1+float64(sourceUses)) + bias
}

// togoCost is spec.md §4.5.3's togo_cost estimate from wire w to the
// arc's sink.
func togoCost(s *State, cfg Config, req ArcRequest, w arch.WireID) float64 {
	sourceUses := 0
	if b, ok := s.Wires[w].BoundNets[req.NetUdata]; ok {
		sourceUses = b.refCount
	}
	est := s.a.DelayNS(s.a.EstimateDelay(w, req.Sink))
	return math.Max(0, est-cfg.IpinCost)/(1+float64(sourceUses)) + cfg.IpinCost
}

func commit(s *State, netUdata int, wires []arch.WireID, pips map[arch.WireID]arch.PipID) {
	for _, w := range wires {
		if p, ok := pips[w]; ok {
			s.BindPipSoft(netUdata, w, p)
		} else {
			s.BindPipSoft(netUdata, w, arch.NoPip)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
