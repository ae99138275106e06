// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package arch declares the device-adapter interface consumed by the
// placer and router. The concrete FPGA/CPLD device database (bel and
// wire enumeration, pip validity, delay estimation, name/id mapping) is
// an external collaborator, out of scope for this module: it lives on
// the host toolchain's side and only needs to satisfy Arch.
package arch

import "context"

// BelID identifies a placement site (a LUT, FF, IO, BRAM, ...).
type BelID int32

// WireID identifies a routing node in the device graph.
type WireID int32

// PipID identifies a directed programmable interconnect point between
// two wires.
type PipID int32

// NoBel, NoWire and NoPip are the -1 sentinels for their respective id
// types; the arch never assigns them to a real object.
const (
	NoBel  BelID  = -1
	NoWire WireID = -1
	NoPip  PipID  = -1
)

// Strength is the binding strength used when a cell or wire is bound to
// a bel or net. Stronger bindings may displace weaker ones during
// legalisation and rip-up.
type Strength int

const (
	StrengthNone Strength = iota
	StrengthWeak
	StrengthStrong
	StrengthLocked // user constraint; never displaced
)

// TimingClass classifies a driver port for the purpose of timing-cost
// evaluation. TMGIgnore ports contribute no per-arc timing cost.
type TimingClass int

const (
	TMGIgnore TimingClass = iota
	TMGRegisterOutput
	TMGCombOutput
	TMGStartpoint
	TMGEndpoint
)

// Loc is an integer grid location. Z distinguishes multiple bels
// stacked at the same (X, Y), e.g. slots within a tile.
type Loc struct {
	X, Y, Z int
}

// Delay is a signal propagation estimate in nanoseconds.
type Delay float64

// Arch is the device adapter consumed by the placer and router. It owns
// the final committed binding of cells to bels and nets to wires/pips;
// the placer and router only ever read enumeration/geometry/delay
// information from it and write bindings back through Bind*/Unbind*.
//
// Implementations must be safe for concurrent read-only calls (every
// method below except the Bind*/Unbind* family and Lock/Unlock) since
// both place and route dispatch read-only work across worker pools.
type Arch interface {
	// Enumeration.
	Bels() []BelID
	Wires() []WireID
	Pips() []PipID
	PipsUphill(w WireID) []PipID
	PipsDownhill(w WireID) []PipID
	WireBelPins(w WireID) []BelPin
	BelPinType(bel BelID, pin string) PortDir

	// Identity/geometry.
	BelType(bel BelID) string
	BelLocation(bel BelID) Loc
	BelName(bel BelID) string
	BelByName(name string) (BelID, bool)
	BelByLocation(loc Loc) (BelID, bool)
	PipLocation(p PipID) Loc
	PipSrcWire(p PipID) WireID
	PipDstWire(p PipID) WireID
	BelPinWire(bel BelID, pin string) WireID

	// Binding.
	BindBel(bel BelID, cell string, strength Strength) error
	UnbindBel(bel BelID) error
	BindWire(w WireID, net string, strength Strength) error
	UnbindWire(w WireID) error
	BindPip(p PipID, net string, strength Strength) error
	UnbindPip(p PipID) error
	BoundBelCell(bel BelID) (string, bool)
	BoundWireNet(w WireID) (string, bool)
	BoundPipNet(p PipID) (string, bool)
	CheckBelAvail(bel BelID) bool
	CheckWireAvail(w WireID) bool
	CheckPipAvail(p PipID) bool
	IsValidBelForCell(bel BelID, cellType string) bool
	IsBelLocationValid(bel BelID) bool
	BelGlobalBuf(bel BelID) bool

	// Delay.
	PipDelay(p PipID) Delay
	WireDelay(w WireID) Delay
	DelayNS(d Delay) float64
	EstimateDelay(src, dst WireID) Delay
	PredictDelay(netName string, userIndex int) Delay
	DelayEpsilon() Delay
	PortTimingClass(cellType, port string) TimingClass

	// Net-routing helpers.
	NetinfoSourceWire(netName string) WireID
	NetinfoSinkWire(netName string, userIndex int) WireID
	RouteBoundingBox(netName string) (x0, y0, x1, y1 int, ok bool)

	// Utilities.
	Rng() int64
	RngN(n int) int
	Rng64() int64
	Shuffle(n int, swap func(i, j int))
	SortedShuffle(n int, less func(i, j int) bool, swap func(i, j int))
	Checksum() uint64
	Yield(ctx context.Context)
	Lock()
	Unlock()
}

// BelPin names a bel pin reachable from a wire.
type BelPin struct {
	Bel BelID
	Pin string
}

// PortDir is the direction of a cell port or bel pin.
type PortDir int

const (
	PortIn PortDir = iota
	PortOut
	PortInOut
)
