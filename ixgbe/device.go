// Package ixgbe implements a user-space driver for Intel 82599 10
// GbE network adapters, and an app which exposes such an adapter to
// the engine.
//
// The driver maps the device's registers through sysfs, owns the rx
// and tx descriptor rings in DMA-able memory, and exchanges engine
// packets with the hardware in batches. Register programming follows
// the Intel 82599 datasheet; section numbers are noted next to the
// corresponding steps.
package ixgbe

import (
	"github.com/yerden/go-rush/rush"
)

// MaxQueues is the maximum number of rx or tx queues that can be
// configured per device.
const MaxQueues = 64

// DeviceStats accumulates hardware counters of a device. ReadStats
// adds the delta since the last read, so one DeviceStats zeroed once
// and passed to every read accumulates totals since ResetStats; a
// fresh zeroed DeviceStats receives only the counts since the
// previous read.
type DeviceStats struct {
	// Packets received and sent by the hardware interface.
	RxPkts, TxPkts uint64
	// Raw bytes received and sent by the hardware interface.
	RxBytes, TxBytes uint64
}

// Device is the contract between a NIC driver and the device app
// consuming it.
type Device interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// PCIAddr returns the PCI address of the device.
	PCIAddr() string

	// MACAddr returns the MAC address of the device.
	MACAddr() [6]byte

	// SetMACAddr sets the MAC address of the device.
	SetMACAddr(mac [6]byte)

	// RxBatch transmits up to max received packets onto output.
	// It returns the number of packets moved and never fails.
	RxBatch(queue int, output *rush.Link, max int) int

	// TxBatch moves as many packets as possible from input into
	// the device's tx queue. It returns the number of packets
	// moved and never fails.
	TxBatch(queue int, input *rush.Link) int

	// ReadStats adds the hardware counter deltas since the last
	// read into stats.
	ReadStats(stats *DeviceStats)

	// ResetStats clears the hardware counters.
	ResetStats()

	// LinkSpeed returns the negotiated link speed in Mbit/s, or
	// zero if the link is down.
	LinkSpeed() int

	// SetPromisc enables or disables promiscuous mode.
	SetPromisc(enabled bool)

	// Close releases the device: ring buffers go back to the
	// freelist and mapped memory is unmapped.
	Close() error
}
