package mavftp

import "math/rand"

// LossPolicy decides whether an outgoing or incoming frame is silently
// dropped before it reaches the transport or the dispatcher. It exists as a
// testing facility: protocol logic never consults randomness directly, so
// fault-injection tests can substitute a deterministic policy.
type LossPolicy interface {
	// DropTX reports whether the next outgoing frame should be discarded.
	DropTX() bool

	// DropRX reports whether the next incoming frame should be discarded.
	DropRX() bool
}

// NoLoss is the default policy: nothing is dropped.
type NoLoss struct{}

func (NoLoss) DropTX() bool { return false }
func (NoLoss) DropRX() bool { return false }

// RandomLoss drops a configurable fraction of frames in each direction.
type RandomLoss struct {
	// TX and RX are drop probabilities in [0, 1].
	TX float64
	RX float64

	// Rand is the randomness source. A nil Rand uses the shared global
	// source; supply a seeded *rand.Rand for reproducible runs.
	Rand *rand.Rand
}

func (p *RandomLoss) roll() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}

func (p *RandomLoss) DropTX() bool { return p.TX > 0 && p.roll() < p.TX }
func (p *RandomLoss) DropRX() bool { return p.RX > 0 && p.roll() < p.RX }
