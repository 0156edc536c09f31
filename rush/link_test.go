package rush

import (
	"testing"
)

func TestLinkTransmitReceive(t *testing.T) {
	assert := newAssert(t, false)
	assertFail := newAssert(t, true)

	l := NewLink()
	assert(l.Empty())
	assert(!l.Full())

	const toTransmit = 2000
	for n := 1; n <= toTransmit; n++ {
		p := Allocate()
		p.Length = uint16(n % 100)
		p.Data[0] = 42
		l.Transmit(p)
	}

	// The ring holds LinkMaxPackets; the overflow was freed and
	// counted as drops.
	assertFail(l.Full())
	assert(!l.Empty())
	assert(l.TxPackets == LinkMaxPackets)
	assert(l.TxDrop == toTransmit-LinkMaxPackets)

	n := 0
	for !l.Empty() {
		n++
		p := l.Receive()
		assert(p.Length == uint16(n%100))
		assert(p.Data[0] == 42)
		Free(p)
	}
	assert(n == LinkMaxPackets)
	assert(l.RxPackets == LinkMaxPackets)
	assert(l.RxPackets == l.TxPackets)
	assert(l.RxBytes == l.TxBytes)

	assert(Nfree() == FreelistSize)
}

func TestLinkCounters(t *testing.T) {
	assert := newAssert(t, false)

	l := NewLink()
	var bytes uint64
	for n := 1; n <= 10; n++ {
		p := Allocate()
		p.Length = uint16(n)
		bytes += uint64(n)
		l.Transmit(p)
	}
	assert(l.TxPackets == 10)
	assert(l.TxBytes == bytes)
	assert(l.TxDrop == 0)

	for !l.Empty() {
		Free(l.Receive())
	}
	assert(l.RxPackets == 10)
	assert(l.RxBytes == bytes)
}

func TestLinkBounds(t *testing.T) {
	assert := newAssert(t, false)

	// 0 <= queued <= LinkMaxPackets at every step of a fill/drain
	// cycle.
	l := NewLink()
	for n := 0; n < LinkMaxPackets+100; n++ {
		assert(l.nqueued() >= 0 && l.nqueued() <= LinkMaxPackets)
		l.Transmit(Allocate())
	}
	assert(l.nqueued() == LinkMaxPackets)
	for !l.Empty() {
		assert(l.nqueued() >= 0 && l.nqueued() <= LinkMaxPackets)
		Free(l.Receive())
	}
	assert(l.nqueued() == 0)
}

func TestLinkUnderflow(t *testing.T) {
	assertFail := newAssert(t, true)

	l := NewLink()
	defer func() {
		assertFail(recover() != nil)
	}()
	l.Receive()
}
