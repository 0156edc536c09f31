// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

package checksum

import (
	"encoding/binary"
	"math/rand"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reference is an independent big-endian word fold of the same
// checksum, used to cross-check Ipsum.
func reference(data []byte, length int) uint16 {
	var sum uint32
	i := 0
	for ; i+1 < length; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i:]))
	}
	if i < length {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

func TestIpsum(t *testing.T) {
	cases := [][]byte{
		{0xff, 0xff, 0xff, 0xff, 0xff},
		{0, 0, 0, 0, 0},
		{42, 41, 40, 39, 38, 37, 36, 35, 34, 33, 32, 31, 30, 29, 28},
		{},
		{
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
		},
	}
	for _, c := range cases {
		for l := 0; l <= len(c); l++ {
			assert.Equal(t, reference(c, l), Ipsum(c, l, 0), "len %d of %v", l, c)
		}
	}
}

func TestIpsumRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for l := 0; l <= 1500; l++ {
		c := make([]byte, l)
		rng.Read(c)
		assert.Equal(t, reference(c, l), Ipsum(c, l, 0), "len %d", l)
	}
}

func TestIpsumVerify(t *testing.T) {
	// Checksumming data together with its own checksum yields zero.
	data := []byte{0x45, 0x00, 0x00, 0x3c, 0xa6, 0xc3, 0x40, 0x00, 0x40, 0x06}
	sum := Ipsum(data, len(data), 0)
	assert.Equal(t, uint16(0), Ipsum(data, len(data), sum))
}

func TestIpsumChained(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 1024)
	rng.Read(data)

	whole := Ipsum(data, len(data), 0)
	// Even split keeps word alignment across the chain.
	sum1 := Ipsum(data[:512], 512, 0)
	assert.Equal(t, whole, Ipsum(data[512:], 512, ^sum1))
}

func TestIpsumBench(t *testing.T) {
	nchunks := 1_000_000
	if val, ok := os.LookupEnv("RUSH_CHECKSUM_NCHUNKS"); ok {
		n, err := strconv.Atoi(val)
		require.NoError(t, err)
		nchunks = n
	}
	chunksize := 60
	if val, ok := os.LookupEnv("RUSH_CHECKSUM_CHUNKSIZE"); ok {
		n, err := strconv.Atoi(val)
		require.NoError(t, err)
		chunksize = n
	}

	chunk := make([]byte, chunksize)
	acc := 0
	for i := 0; i < nchunks; i++ {
		acc += int(Ipsum(chunk, chunksize, 0))
	}
	assert.Equal(t, nchunks*0xffff, acc)
	t.Logf("checksummed %d * %d byte chunks", nchunks, chunksize)
}

func BenchmarkIpsum(b *testing.B) {
	data := make([]byte, 1500)
	for i := 0; i < b.N; i++ {
		_ = Ipsum(data, len(data), 0)
	}
}
