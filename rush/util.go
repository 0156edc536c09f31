// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

package rush

import "strconv"

// Fill sets the first length bytes of dst to value, bounded by the
// size of dst.
func Fill(dst []byte, length int, value byte) {
	if length > len(dst) {
		length = len(dst)
	}
	for i := 0; i < length; i++ {
		dst[i] = value
	}
}

// Align increases value to be a multiple of size (if it is not
// already).
func Align(value, size int) int {
	if value%size == 0 {
		return value
	}
	return value + size - (value % size)
}

// CommaValue renders n with thousands separators, e.g. 1,234,567.
func CommaValue(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < len(s); i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
