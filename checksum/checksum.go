// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

// Package checksum provides a ones-complement checksum routine as
// used by IP, TCP and UDP.
package checksum

// Ipsum returns the ones-complement checksum for the given region of
// memory.
//
// data is the byte slice to be checksummed, of which the first
// length bytes are considered. initial is an unsigned 16-bit number
// in host byte order which is used as the starting value of the
// accumulator. The result is the IP checksum over the data in host
// byte order.
//
// The initial argument can be used to verify a checksum or to
// calculate the checksum in an incremental manner over chunks of
// memory. To check whether the checksum over a block of data equals
// a given value:
//
//	if Ipsum(data, len(data), value) == 0 {
//		// checksum correct
//	}
//
// To chain the calculation over multiple blocks of data, pass the
// ones-complement of the checksum of one block as the initial value
// for the following block:
//
//	sum1 := Ipsum(data1, length1, 0)
//	total := Ipsum(data2, length2, ^sum1)
func Ipsum(data []byte, length int, initial uint16) uint16 {
	// The accumulator sums 16-bit words assembled little-endian from
	// byte pairs; initial and the result are byte-swapped at the
	// boundaries to preserve host order.
	csum := uint64(initial>>8 | initial<<8)
	i := length
	for i > 1 {
		off := length - i
		csum += uint64(data[off]) | uint64(data[off+1])<<8
		i -= 2
	}
	if i == 1 {
		csum += uint64(data[length-1])
	}
	for {
		carry := csum >> 16
		if carry == 0 {
			break
		}
		csum = (csum & 0xffff) + carry
	}
	folded := uint16(^csum) & 0xffff
	return folded>>8 | folded<<8
}
