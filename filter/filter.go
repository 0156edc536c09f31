// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

// Package filter implements packet filtering for the engine. Filters
// are classic BPF programs executed by a virtual machine; the
// package also provides ready-made programs for common L4 matches
// and an app which applies a filter to a packet stream.
package filter

import (
	"golang.org/x/net/bpf"
)

// Filter is the implementation of packet filtering.
type Filter interface {
	// Match returns zero if the packet is filtered out.
	Match([]byte) int
}

// FilterFunc is a Filter implementation as a standalone function.
type FilterFunc func([]byte) int

// Match implements Filter.
func (f FilterFunc) Match(b []byte) int {
	return f(b)
}

// VM compiles a classic BPF program into a Filter. Match returns the
// program's verdict: the number of packet bytes accepted, or zero
// for a non-matching packet.
func VM(prog []bpf.Instruction) (Filter, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, err
	}
	return FilterFunc(func(b []byte) int {
		n, err := vm.Run(b)
		if err != nil {
			return 0
		}
		return n
	}), nil
}
