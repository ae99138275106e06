// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package route implements the negotiated-congestion router: per-net/
// arc soft-binding state (C7), the bidirectional arc router (C8), and
// the rip-up-and-reroute controller (C9) from spec.md §4.5-§4.7.
package route

import (
	"github.com/sirupsen/logrus"

	"github.com/vela-eda/pnr/arch"
)

// OnCommit is invoked once per committed arc during bind_and_check_all
// (spec.md §4.6.d), giving a host writer a hook without this module
// depending on any particular netlist output format.
type OnCommit func(netName string, arcUser int, wires []arch.WireID)

// Config holds the router's tunables (spec.md §6 "Configuration surface
// (router)"), built with the same immutable With* idiom as place.Config.
type Config struct {
	Workers int

	CurrCongWeight float64
	HistCongWeight float64
	BBMarginX      int
	BBMarginY      int

	BackwardsBFSLimit   int
	ForwardBudgetFactor int
	IpinCost            float64

	Force    bool
	OnCommit OnCommit
	Logger   logrus.FieldLogger
}

// NewConfig returns the spec.md-documented defaults.
func NewConfig() Config {
	return Config{
		Workers:             4,
		CurrCongWeight:      0.5,
		HistCongWeight:      1.0,
		BBMarginX:           4,
		BBMarginY:           4,
		BackwardsBFSLimit:   10,
		ForwardBudgetFactor: 25000,
		IpinCost:            0,
		Logger:              logrus.StandardLogger(),
	}
}

func (c Config) WithWorkers(n int) Config                { c.Workers = n; return c }
func (c Config) WithCurrCongWeight(w float64) Config     { c.CurrCongWeight = w; return c }
func (c Config) WithHistCongWeight(w float64) Config     { c.HistCongWeight = w; return c }
func (c Config) WithBBMargin(x, y int) Config            { c.BBMarginX, c.BBMarginY = x, y; return c }
func (c Config) WithBackwardsBFSLimit(n int) Config      { c.BackwardsBFSLimit = n; return c }
func (c Config) WithForwardBudgetFactor(n int) Config    { c.ForwardBudgetFactor = n; return c }
func (c Config) WithIpinCost(v float64) Config           { c.IpinCost = v; return c }
func (c Config) WithForce(b bool) Config                 { c.Force = b; return c }
func (c Config) WithOnCommit(f OnCommit) Config          { c.OnCommit = f; return c }
func (c Config) WithLogger(l logrus.FieldLogger) Config  { c.Logger = l; return c }
