// Copyright 2019 Yerden Zhumabekov. All rights reserved.
//
// Use of this source code is governed by MIT license which
// can be found in the LICENSE file in the root of the source
// tree.

package filter

import (
	"golang.org/x/net/bpf"
)

const (
	EthernetHdrLen = 14

	EtherTypeIPv4 = 0x0800
	EtherTypeVlan = 0x8100
	EtherTypeIPv6 = 0x86dd
)

const (
	protoTCP = 6
	protoUDP = 17
)

// snaplen is the verdict returned for matching packets.
const snaplen = 65535

// TCPPortFilter returns a program matching untagged IPv4 TCP packets
// with the given source or destination port.
func TCPPortFilter(port uint16) []bpf.Instruction {
	return portFilter(protoTCP, port)
}

// UDPPortFilter returns a program matching untagged IPv4 UDP packets
// with the given source or destination port.
func UDPPortFilter(port uint16) []bpf.Instruction {
	return portFilter(protoUDP, port)
}

// portFilter emits the classic "proto port N" match: IPv4 ethertype,
// protocol, not a later fragment, then source or destination port at
// the offset given by the IP header length. VLAN-tagged traffic does
// not match; supply an explicit program for tagged links.
func portFilter(proto byte, port uint16) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: EtherTypeIPv4, SkipTrue: 10},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(proto), SkipTrue: 8},
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 6},
		bpf.LoadMemShift{Off: EthernetHdrLen},
		bpf.LoadIndirect{Off: EthernetHdrLen, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: 2},
		bpf.LoadIndirect{Off: EthernetHdrLen + 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(port), SkipTrue: 1},
		bpf.RetConstant{Val: snaplen},
		bpf.RetConstant{Val: 0},
	}
}
