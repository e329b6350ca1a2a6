// Package nettest provides a simulated lossy/duplicating/reordering
// link implementing the narrow Transport contract this module's
// scenario and soak tests drive their Connections over: best-effort
// send, non-blocking recv, bounded by a fixed max packet size.
package nettest

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// Transport is the narrow contract a Connection is driven through:
// best-effort send, a non-blocking recv, and a fixed max packet size.
type Transport interface {
	Send(addr net.Addr, data []byte) error
	Recv() (net.Addr, []byte, bool)
	MaxPacketSize() int
}

type pkt struct {
	src       net.Addr
	dst       net.Addr
	data      []byte
	deliverAt time.Time
}

// Addr is a simple named net.Addr for use in tests, since no real
// socket is involved.
type Addr string

func (a Addr) Network() string { return "nettest" }
func (a Addr) String() string  { return string(a) }

// LinkConfig controls the fault injection a Network applies to every
// packet crossing it.
type LinkConfig struct {
	LossRate      float64       // probability a packet is dropped entirely
	DuplicateRate float64       // probability a packet is delivered twice
	MinDelay      time.Duration // minimum one-way delay
	MaxDelay      time.Duration // maximum one-way delay; delay is uniform in [MinDelay, MaxDelay]
	MaxPacketSize int
}

// DefaultLinkConfig returns a lossless, zero-delay link — the
// baseline for plain-reliable scenario tests.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{MaxPacketSize: 1200}
}

// Network is a shared, in-memory simulated link between any number of
// named endpoints. Each Endpoint obtained from it is a Transport
// talking to every other endpoint on the same Network.
type Network struct {
	mu     sync.Mutex
	cfg    LinkConfig
	rng    *rand.Rand
	inbox  map[net.Addr][]pkt
}

// NewNetwork builds a Network with the given fault-injection config
// and a deterministic seed, so scenario tests reproduce failures.
func NewNetwork(cfg LinkConfig, seed int64) *Network {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 1200
	}
	return &Network{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		inbox: make(map[net.Addr][]pkt),
	}
}

// Endpoint returns a Transport bound to addr on this Network.
func (n *Network) Endpoint(addr net.Addr) *Endpoint {
	return &Endpoint{net: n, self: addr}
}

func (n *Network) deliver(now time.Time, p pkt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbox[p.dst] = append(n.inbox[p.dst], p)
}

// Advance does nothing. Send stamps each packet with a delivery time
// taken from the wall clock, and Recv compares it against time.Now(),
// not against the now passed here.
func (n *Network) Advance(now time.Time) {
	// Delivery timing is encoded directly in deliverAt and checked by
	// Recv; Advance exists for symmetry with a real event loop and to
	// let soak tests express "drain until now" without reaching into
	// Network internals.
	_ = now
}

// Endpoint is one named Transport participant on a Network.
type Endpoint struct {
	net  *Network
	self net.Addr
}

// MaxPacketSize implements Transport.
func (e *Endpoint) MaxPacketSize() int { return e.net.cfg.MaxPacketSize }

// Send implements Transport, applying the Network's configured
// loss/duplicate/delay to this packet.
func (e *Endpoint) Send(dst net.Addr, data []byte) error {
	n := e.net
	n.mu.Lock()
	lose := n.rng.Float64() < n.cfg.LossRate
	dup := n.rng.Float64() < n.cfg.DuplicateRate
	delay := n.cfg.MinDelay
	if n.cfg.MaxDelay > n.cfg.MinDelay {
		delay += time.Duration(n.rng.Int63n(int64(n.cfg.MaxDelay - n.cfg.MinDelay)))
	}
	n.mu.Unlock()

	if lose {
		return nil
	}

	cp := append([]byte(nil), data...)
	now := time.Now()
	n.deliver(now, pkt{src: e.self, dst: dst, data: cp, deliverAt: now.Add(delay)})
	if dup {
		cp2 := append([]byte(nil), data...)
		n.deliver(now, pkt{src: e.self, dst: dst, data: cp2, deliverAt: now.Add(delay)})
	}
	return nil
}

// Recv implements Transport: non-blocking, returns the oldest
// deliverable packet addressed to this endpoint, if any has reached
// its simulated delivery time.
func (e *Endpoint) Recv() (net.Addr, []byte, bool) {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()

	queue := n.inbox[e.self]
	now := time.Now()
	best := -1
	for i, p := range queue {
		if p.deliverAt.After(now) {
			continue
		}
		if best == -1 || p.deliverAt.Before(queue[best].deliverAt) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil, false
	}
	p := queue[best]
	n.inbox[e.self] = append(queue[:best:best], queue[best+1:]...)
	return p.src, p.data, true
}
