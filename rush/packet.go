// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

package rush

import (
	"runtime"
)

// PayloadSize is the maximum amount of payload in any given packet.
const PayloadSize = 1024 * 10

// FreelistSize is the number of packets initially on the freelist.
const FreelistSize = 100_000

// Packet is a unit of network data with associated metadata. Packets
// are allocated from a process-wide freelist populated once by
// Init(). A packet must always be in exactly one of three places: on
// the freelist, enqueued on a single Link, or held by exactly one
// app. A packet which becomes unreachable without having been
// returned via Free is a bug, and the runtime will abort the process
// when it notices one (see leak trap below).
type Packet struct {
	// Length is the length of the payload in Data.
	Length uint16
	// Data is the packet payload.
	Data [PayloadSize]byte
}

// The freelist is an array of packet pointers and a fill counter.
// Slots above nfree are stale and must not be dereferenced.
type freelist struct {
	list  []*Packet
	nfree int
}

var fl freelist
var packetsInitialized bool

// newPacket allocates a zeroed packet on the heap and arms the leak
// trap: if the collector ever finds the packet unreachable, it was
// lost without a matching Free and the process aborts. Allocate
// removes the freelist's reference to a packet in flight, so a
// leaked packet is in fact unreachable.
func newPacket() *Packet {
	p := new(Packet)
	runtime.SetFinalizer(p, func(*Packet) {
		panic("packet leaked")
	})
	return p
}

// Init populates the freelist with FreelistSize packets. It must be
// called exactly once, before any call to Allocate or Free. A second
// call is a fatal error.
func Init() {
	if packetsInitialized {
		panic("packet freelist already initialized")
	}
	packetsInitialized = true
	fl.list = make([]*Packet, FreelistSize)
	for fl.nfree < FreelistSize {
		fl.list[fl.nfree] = newPacket()
		fl.nfree++
	}
}

// Allocate takes an empty packet off the freelist for use. The
// returned packet has zero length. Allocating from an exhausted
// freelist is a fatal error: it means packets were lost or are being
// hoarded somewhere outside the engine's accounting.
func Allocate() *Packet {
	if fl.nfree == 0 {
		panic("packet freelist underflow")
	}
	fl.nfree--
	p := fl.list[fl.nfree]
	fl.list[fl.nfree] = nil
	return p
}

// Free returns a packet to the freelist and accounts for it in the
// global engine statistics. The caller must not retain a reference
// to p. Freeing onto a full freelist is a fatal error: some packet
// was freed twice.
func Free(p *Packet) {
	stats.Frees++
	stats.Freebytes += uint64(p.Length)
	// Bits of physical capacity required for the packet on 10GbE:
	// minimum data size plus the overhead of CRC and inter-packet gap.
	stats.Freebits += (max(uint64(p.Length), 46) + 4 + 5) * 8
	freeInternal(p)
}

func freeInternal(p *Packet) {
	if fl.nfree == FreelistSize {
		panic("packet freelist overflow")
	}
	p.Length = 0
	fl.list[fl.nfree] = p
	fl.nfree++
}

// Clone allocates a new packet and copies the length and payload of
// p into it.
func Clone(p *Packet) *Packet {
	np := Allocate()
	np.Length = p.Length
	copy(np.Data[:p.Length], p.Data[:p.Length])
	return np
}

// Nfree returns the current fill level of the freelist. All packets
// are home when it equals FreelistSize.
func Nfree() int {
	return fl.nfree
}
