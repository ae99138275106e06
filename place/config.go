// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package place

import (
	"github.com/sirupsen/logrus"
	"github.com/vela-eda/pnr/cost"
	"github.com/vela-eda/pnr/netlist"
)

// Legaliser is invoked when the search diameter has shrunk below
// LegaliseDiameter while legalisation is still required (spec.md
// §4.4). It reports how many cells it moved; a non-zero count tells the
// controller to rebuild its autoplaced/chain_basis working sets.
type Legaliser func(d *netlist.Design) (moved int, err error)

// OnIteration is called once per outer SA iteration with the current
// temperature/search-diameter/cost snapshot, mirroring spec.md §7's
// "every iteration logs temperature, timing cost, wirelen".
type OnIteration func(stats IterationStats)

// Criticality is the hook through which the placer receives the
// timing analyser's criticality map (spec.md §1: timing analysis
// internals are an external collaborator, only the map it returns is
// consumed). The controller calls it once before the first cost pass
// and again on the refresh schedule described by BudgetBased/
// SlackRedistIter (spec.md §4.4).
type Criticality func(d *netlist.Design) cost.CriticalityFunc

// IterationStats is the per-iteration snapshot passed to OnIteration.
type IterationStats struct {
	Iteration   int
	Temperature float64
	Diameter    int
	WirelenCost float64
	TimingCost  float64
	AcceptRate  float64
	Legalised   bool
}

// Config holds the placer's tunables, following spec.md §6's
// configuration surface and built with the teacher/pack's immutable
// With* builder idiom (see sarchlab-akkalat's config.WaferScaleGPUBuilder)
// rather than flags or a file format, since the placer is a library
// called by a host toolchain.
type Config struct {
	Workers              int
	MinBelsForGridPick   int
	TimingFanoutThresh   int
	StartTemp            float64
	Refine               bool
	BudgetBased          bool
	ConstraintWeight     float64
	Lambda               float64
	CritExp              float64
	SlackRedistIter      int
	LegaliseDiameter     int
	BatchSize            int
	Force                bool
	Legaliser            Legaliser
	OnIteration          OnIteration
	Criticality          Criticality
	Logger               logrus.FieldLogger
}

// NewConfig returns the spec.md-documented defaults.
func NewConfig() Config {
	return Config{
		Workers:            8,
		MinBelsForGridPick: 64,
		TimingFanoutThresh: 32,
		StartTemp:          10000,
		ConstraintWeight:   10,
		Lambda:             0.5,
		CritExp:            8,
		SlackRedistIter:    5,
		LegaliseDiameter:   4,
		BatchSize:          32,
		Logger:             logrus.StandardLogger(),
	}
}

func (c Config) WithWorkers(n int) Config              { c.Workers = n; return c }
func (c Config) WithMinBelsForGridPick(n int) Config   { c.MinBelsForGridPick = n; return c }
func (c Config) WithTimingFanoutThresh(n int) Config   { c.TimingFanoutThresh = n; return c }
func (c Config) WithStartTemp(t float64) Config        { c.StartTemp = t; return c }
func (c Config) WithRefine(b bool) Config              { c.Refine = b; return c }
func (c Config) WithBudgetBased(b bool) Config         { c.BudgetBased = b; return c }
func (c Config) WithConstraintWeight(w float64) Config { c.ConstraintWeight = w; return c }
func (c Config) WithLambda(l float64) Config           { c.Lambda = l; return c }
func (c Config) WithCritExp(e float64) Config          { c.CritExp = e; return c }
func (c Config) WithSlackRedistIter(n int) Config      { c.SlackRedistIter = n; return c }
func (c Config) WithLegaliseDiameter(n int) Config     { c.LegaliseDiameter = n; return c }
func (c Config) WithBatchSize(n int) Config            { c.BatchSize = n; return c }
func (c Config) WithForce(b bool) Config               { c.Force = b; return c }
func (c Config) WithLegaliser(l Legaliser) Config      { c.Legaliser = l; return c }
func (c Config) WithOnIteration(f OnIteration) Config  { c.OnIteration = f; return c }
func (c Config) WithCriticality(f Criticality) Config  { c.Criticality = f; return c }
func (c Config) WithLogger(l logrus.FieldLogger) Config {
	c.Logger = l
	return c
}

func (c Config) costConfig() cost.Config {
	return cost.Config{
		TimingFanoutThresh: c.TimingFanoutThresh,
		CritExp:            c.CritExp,
		Lambda:             c.Lambda,
		ConstraintWeight:   c.ConstraintWeight,
	}
}

// initialTemp returns startTemp for a fresh run, or the refine-mode
// floor from spec.md §4.4 ("refine mode uses 1e-7").
func (c Config) initialTemp() float64 {
	if c.Refine {
		return 1e-7
	}
	return c.StartTemp
}
