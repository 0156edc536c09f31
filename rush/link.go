// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

package rush

// LinkRingSize is the size of a link's ring buffer. Must be a power
// of two.
const LinkRingSize = 1024

// LinkMaxPackets is the usable capacity of a Link. One slot is kept
// empty to distinguish a full ring from an empty one.
const LinkMaxPackets = LinkRingSize - 1

// Link is a unidirectional, bounded queue of packets between two app
// ports, implemented as a circular ring buffer:
//
//	http://en.wikipedia.org/wiki/Circular_buffer
//
// A link has exactly one producing app and one consuming app (which
// may be the same app). The engine's cooperative schedule serializes
// their accesses, so the ring needs no synchronization.
//
// Backpressure is not propagated: transmitting onto a full link
// frees the packet and counts it in TxDrop.
type Link struct {
	packets [LinkRingSize]*Packet

	// Two cursors:
	//   read:  the next element to be read
	//   write: the next element to be written
	read, write int

	// Transmit side counters. TxDrop counts packets dropped
	// because the ring was full.
	TxPackets, TxBytes, TxDrop uint64

	// Receive side counters.
	RxPackets, RxBytes uint64

	// Creation sequence number assigned by the engine; breaks
	// scheduling ties for graphs with cycles.
	seq uint64
}

// NewLink allocates a new empty link with zeroed cursors and
// counters.
func NewLink() *Link {
	return &Link{}
}

// Empty returns true if no packets are queued on the link.
func (l *Link) Empty() bool {
	return l.read == l.write
}

// Full returns true if the link has no room for another packet.
func (l *Link) Full() bool {
	return (l.write+1)&(LinkRingSize-1) == l.read
}

// Transmit enqueues a packet on the link. The packet is moved into
// the link and the caller must not touch it afterwards. If the link
// is full the packet is freed and the drop is counted in TxDrop.
func (l *Link) Transmit(p *Packet) {
	if l.Full() {
		l.TxDrop++
		Free(p)
		return
	}
	l.TxPackets++
	l.TxBytes += uint64(p.Length)
	l.packets[l.write] = p
	l.write = (l.write + 1) & (LinkRingSize - 1)
}

// Receive dequeues a packet from the link and passes ownership to
// the caller. Receiving from an empty link is a fatal error; callers
// gate on Empty.
func (l *Link) Receive() *Packet {
	if l.Empty() {
		panic("link underflow")
	}
	p := l.packets[l.read]
	l.packets[l.read] = nil
	l.read = (l.read + 1) & (LinkRingSize - 1)
	l.RxPackets++
	l.RxBytes += uint64(p.Length)
	return p
}

// nqueued returns the number of packets currently on the link.
func (l *Link) nqueued() int {
	return (l.write - l.read) & (LinkRingSize - 1)
}
