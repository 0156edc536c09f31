package rush

import (
	"testing"
)

func TestPacketAllocateFree(t *testing.T) {
	assert := newAssert(t, false)

	nfree := Nfree()
	p := Allocate()
	assert(Nfree() == nfree-1)
	assert(p.Length == 0)

	p.Length = 1
	p.Data[0] = 42

	Free(p)
	assert(Nfree() == nfree)
}

func TestPacketFreeResetsLength(t *testing.T) {
	assert := newAssert(t, false)

	p := Allocate()
	p.Length = 1234
	Free(p)

	// The freelist hands out empty packets only.
	q := Allocate()
	assert(q.Length == 0)
	Free(q)
}

func TestPacketClone(t *testing.T) {
	assert := newAssert(t, false)

	p := Allocate()
	p.Length = 3
	p.Data[0], p.Data[1], p.Data[2] = 1, 2, 3
	p.Data[3] = 99 // beyond Length, must not be copied

	q := Clone(p)
	assert(q != p)
	assert(q.Length == 3)
	assert(q.Data[0] == 1 && q.Data[1] == 2 && q.Data[2] == 3)
	assert(q.Data[3] == 0)

	Free(p)
	Free(q)
}

func TestPacketInitTwice(t *testing.T) {
	assertFail := newAssert(t, true)

	defer func() {
		assertFail(recover() != nil)
	}()
	Init()
}

func TestPacketFreelistUnderflow(t *testing.T) {
	assert := newAssert(t, false)
	assertFail := newAssert(t, true)

	// Drain the freelist completely, then one more allocation must
	// abort.
	packets := make([]*Packet, 0, FreelistSize)
	for Nfree() > 0 {
		packets = append(packets, Allocate())
	}
	assert(len(packets) == FreelistSize)

	func() {
		defer func() {
			assertFail(recover() != nil)
		}()
		Allocate()
	}()

	for _, p := range packets {
		Free(p)
	}
	assert(Nfree() == FreelistSize)
}

func TestFreebitsAccounting(t *testing.T) {
	assert := newAssert(t, false)

	// A freed packet of length l counts (max(l, 46)+9)*8 bits of
	// 10GbE capacity: minimum frame, CRC and inter-packet gap.
	for _, length := range []uint16{0, 10, 46, 60, 1514, PayloadSize} {
		p := Allocate()
		p.Length = length
		before := Stats()
		Free(p)
		after := Stats()

		assert(after.Frees-before.Frees == 1)
		assert(after.Freebytes-before.Freebytes == uint64(length))
		assert(after.Freebits-before.Freebits ==
			(max(uint64(length), 46)+4+5)*8)
	}
}
