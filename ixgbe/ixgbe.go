package ixgbe

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/yerden/go-rush/rush"
)

const driverName = "ixgbe"

// Ring geometry. Entry counts must be powers of two so that index
// arithmetic can mask instead of divide.
const numRxQueueEntries = 512
const numTxQueueEntries = 512

// txCleanBatch is the granularity of the transmit cleanup path: sent
// packets return to the freelist this many descriptors at a time.
const txCleanBatch = 32

// Descriptors are 16 bytes in both the read and writeback formats.
const descSize = 16

func wrapRing(index, ringSize int) int {
	return (index + 1) & (ringSize - 1)
}

// Ixgbe is a handle to an initialized 82599 device. It implements
// Device.
type Ixgbe struct {
	pciAddr string
	regs    []byte

	numRxQueues int
	numTxQueues int
	rxQueues    []*rxQueue
	txQueues    []*txQueue
}

// rxQueue is one receive descriptor ring. bufsInUse maps descriptor
// slots to the packets whose buffers the hardware currently owns;
// those packets must not be touched until their descriptor reports
// done.
type rxQueue struct {
	ring           []byte
	numDescriptors int
	bufsInUse      []*rush.Packet
	rxIndex        int
}

// txQueue is one transmit descriptor ring. bufsInUse holds in-flight
// packets in descriptor order; the cleanup path frees them once the
// hardware sets their done bit.
type txQueue struct {
	ring           []byte
	numDescriptors int
	bufsInUse      []*rush.Packet
	cleanIndex     int
	txIndex        int
}

// Init maps and initializes the 82599 at the given PCI address with
// the requested number of rx and tx queues. irqTimeout is accepted
// for interface compatibility and ignored; the driver always polls.
// PCI mapping problems are reported as errors; configuring more
// queues than the hardware supports is a fatal error.
func Init(pciAddr string, numRxQueues, numTxQueues, irqTimeout int) (*Ixgbe, error) {
	_ = irqTimeout

	if numRxQueues > MaxQueues {
		panic(fmt.Sprintf("cannot configure %d rx queues: limit is %d",
			numRxQueues, MaxQueues))
	}
	if numTxQueues > MaxQueues {
		panic(fmt.Sprintf("cannot configure %d tx queues: limit is %d",
			numTxQueues, MaxQueues))
	}

	regs, err := pciMapResource(pciAddr)
	if err != nil {
		return nil, err
	}

	d := &Ixgbe{
		pciAddr:     pciAddr,
		regs:        regs,
		numRxQueues: numRxQueues,
		numTxQueues: numTxQueues,
		rxQueues:    make([]*rxQueue, 0, numRxQueues),
		txQueues:    make([]*txQueue, 0, numTxQueues),
	}
	d.resetAndInit()
	return d, nil
}

// DriverName implements Device.
func (d *Ixgbe) DriverName() string {
	return driverName
}

// PCIAddr implements Device.
func (d *Ixgbe) PCIAddr() string {
	return d.pciAddr
}

// MACAddr implements Device.
func (d *Ixgbe) MACAddr() [6]byte {
	low := d.getReg32(ixgbeRAL(0))
	high := d.getReg32(ixgbeRAH(0))
	return [6]byte{
		byte(low), byte(low >> 8), byte(low >> 16), byte(low >> 24),
		byte(high), byte(high >> 8),
	}
}

// SetMACAddr implements Device.
func (d *Ixgbe) SetMACAddr(mac [6]byte) {
	low := uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24
	high := uint32(mac[4]) | uint32(mac[5])<<8
	d.setReg32(ixgbeRAL(0), low)
	d.setReg32(ixgbeRAH(0), high)
}

// RxBatch transmits up to max packets received on the given queue
// onto output. Each filled descriptor yields its packet buffer,
// stamped with the hardware's length, and gets a fresh buffer from
// the freelist installed in its place so the ring never runs dry.
func (d *Ixgbe) RxBatch(queue int, output *rush.Link, max int) int {
	q := d.rxQueues[queue]
	rxIndex := q.rxIndex
	lastRxIndex := q.rxIndex
	received := 0

	for ; received < max; received++ {
		status := q.descStatus(rxIndex)
		if status&ixgbeRXDStatDD == 0 {
			break
		}
		if status&ixgbeRXDStatEOP == 0 {
			panic("multi-descriptor packet: increase buffer size or decrease MTU")
		}

		// Take the filled buffer, replace it with a fresh one and
		// hand the DMA address of the replacement to the hardware.
		p := q.bufsInUse[rxIndex]
		p.Length = q.descLength(rxIndex)

		np := rush.Allocate()
		q.bufsInUse[rxIndex] = np

		output.Transmit(p)

		q.setDescAddrs(rxIndex, virtToPhys(unsafe.Pointer(&np.Data[0])), 0)

		lastRxIndex = rxIndex
		rxIndex = wrapRing(rxIndex, q.numDescriptors)
	}

	if rxIndex != lastRxIndex {
		// Tail points at the last descriptor the hardware may use.
		d.setReg32(ixgbeRDT(queue), uint32(lastRxIndex))
		q.rxIndex = rxIndex
	}

	return received
}

// TxBatch moves as many packets as possible from input into the
// given transmit queue. Sent packets stay owned by the hardware
// until the cleanup pass observes their done bit and frees them.
func (d *Ixgbe) TxBatch(queue int, input *rush.Link) int {
	q := d.txQueues[queue]
	sent := 0

	curIndex := q.txIndex
	cleanIndex := q.clean()

	for !input.Empty() {
		nextIndex := wrapRing(curIndex, q.numDescriptors)
		if cleanIndex == nextIndex {
			// Device tx queue is full.
			break
		}

		p := input.Receive()
		q.txIndex = wrapRing(q.txIndex, q.numDescriptors)

		q.fillDesc(curIndex,
			virtToPhys(unsafe.Pointer(&p.Data[0])),
			ixgbeTXDDCmdEOP|ixgbeTXDDCmdRS|ixgbeTXDDCmdIFCS|
				ixgbeTXDDCmdDEXT|ixgbeTXDDTypData|uint32(p.Length),
			uint32(p.Length)<<ixgbeTXDPaylenShift)

		q.bufsInUse = append(q.bufsInUse, p)

		curIndex = nextIndex
		sent++
	}

	d.setReg32(ixgbeTDT(queue), uint32(q.txIndex))

	return sent
}

// clean walks completed transmit descriptors in batches of
// txCleanBatch and returns the packets of each fully completed batch
// to the freelist.
func (q *txQueue) clean() int {
	cleanIndex := q.cleanIndex
	curIndex := q.txIndex

	for {
		cleanable := curIndex - cleanIndex
		if cleanable < 0 {
			cleanable += q.numDescriptors
		}
		if cleanable < txCleanBatch {
			break
		}

		cleanupTo := cleanIndex + txCleanBatch - 1
		if cleanupTo >= q.numDescriptors {
			cleanupTo -= q.numDescriptors
		}

		if q.descStatus(cleanupTo)&ixgbeTXDStatDD == 0 {
			break
		}
		n := txCleanBatch
		if n > len(q.bufsInUse) {
			n = len(q.bufsInUse)
		}
		for _, p := range q.bufsInUse[:n] {
			rush.Free(p)
		}
		q.bufsInUse = q.bufsInUse[:copy(q.bufsInUse, q.bufsInUse[n:])]
		cleanIndex = wrapRing(cleanupTo, q.numDescriptors)
	}

	q.cleanIndex = cleanIndex
	return cleanIndex
}

// ReadStats implements Device. The hardware counters clear on read.
func (d *Ixgbe) ReadStats(stats *DeviceStats) {
	stats.RxPkts += uint64(d.getReg32(ixgbeGPRC))
	stats.TxPkts += uint64(d.getReg32(ixgbeGPTC))
	stats.RxBytes += uint64(d.getReg32(ixgbeGORCL)) | uint64(d.getReg32(ixgbeGORCH))<<32
	stats.TxBytes += uint64(d.getReg32(ixgbeGOTCL)) | uint64(d.getReg32(ixgbeGOTCH))<<32
}

// ResetStats implements Device. The counters are reset-on-read
// registers, reading them once is enough.
func (d *Ixgbe) ResetStats() {
	d.getReg32(ixgbeGPRC)
	d.getReg32(ixgbeGPTC)
	d.getReg32(ixgbeGORCL)
	d.getReg32(ixgbeGORCH)
	d.getReg32(ixgbeGOTCL)
	d.getReg32(ixgbeGOTCH)
}

// LinkSpeed implements Device.
func (d *Ixgbe) LinkSpeed() int {
	links := d.getReg32(ixgbeLINKS)
	if links&ixgbeLINKSUp == 0 {
		return 0
	}
	switch links & ixgbeLINKSSpeedMask {
	case ixgbeLINKSSpeed100:
		return 100
	case ixgbeLINKSSpeed1G:
		return 1000
	case ixgbeLINKSSpeed10G:
		return 10000
	}
	return 0
}

// SetPromisc implements Device.
func (d *Ixgbe) SetPromisc(enabled bool) {
	if enabled {
		log.Debugf("%s: enabling promisc mode", d.pciAddr)
		d.setFlags32(ixgbeFCTRL, ixgbeFCTRLMPE|ixgbeFCTRLUPE)
	} else {
		log.Debugf("%s: disabling promisc mode", d.pciAddr)
		d.clearFlags32(ixgbeFCTRL, ixgbeFCTRLMPE|ixgbeFCTRLUPE)
	}
}

// Close stops the device and releases everything Init acquired. Ring
// buffers owned by the hardware go back to the freelist, descriptor
// memory is freed and the register mapping is unmapped.
func (d *Ixgbe) Close() error {
	// Stop accepting and delivering packets.
	d.clearFlags32(ixgbeRXCTRL, ixgbeRXCTRLRXEn)
	d.disableInterrupts()

	for _, q := range d.rxQueues {
		for _, p := range q.bufsInUse {
			rush.Free(p)
		}
		q.bufsInUse = nil
		dmaFree(q.ring)
	}
	d.rxQueues = nil
	for _, q := range d.txQueues {
		for _, p := range q.bufsInUse {
			rush.Free(p)
		}
		q.bufsInUse = nil
		dmaFree(q.ring)
	}
	d.txQueues = nil

	err := unix.Munmap(d.regs)
	d.regs = nil
	return err
}

// resetAndInit resets and initializes the device following the
// datasheet's software initialization sequence.
func (d *Ixgbe) resetAndInit() {
	log.Infof("%s: resetting device", d.pciAddr)

	// section 4.6.3.1 - disable all interrupts
	d.disableInterrupts()

	// section 4.6.3.2 - global reset
	d.setReg32(ixgbeCTRL, ixgbeCTRLRstMask)
	d.waitClearReg32(ixgbeCTRL, ixgbeCTRLRstMask)
	time.Sleep(10 * time.Millisecond)

	// section 4.6.3.1 - disable interrupts again after reset
	d.disableInterrupts()

	mac := d.MACAddr()
	log.Infof("%s: initializing device, mac address %02x:%02x:%02x:%02x:%02x:%02x",
		d.pciAddr, mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])

	// section 4.6.3 - wait for EEPROM auto read completion
	d.waitSetReg32(ixgbeEEC, ixgbeEECARD)

	// section 4.6.3 - wait for dma initialization done
	d.waitSetReg32(ixgbeRDRXCTL, ixgbeRDRXCTLDMAIDone)

	// skip the last step from 4.6.3 - we don't want interrupts

	// section 4.6.4 - initialize link (auto negotiation)
	d.initLink()

	// section 4.6.5 - statistical counters
	d.ResetStats()

	// section 4.6.7 - init rx
	d.initRx()

	// section 4.6.8 - init tx
	d.initTx()

	for i := 0; i < d.numRxQueues; i++ {
		d.startRxQueue(i)
	}
	for i := 0; i < d.numTxQueues; i++ {
		d.startTxQueue(i)
	}

	// enable promisc mode by default to make testing easier
	d.SetPromisc(true)

	d.waitForLink()
}

// initRx initializes the rx queues, see section 4.6.7.
func (d *Ixgbe) initRx() {
	// disable rx while re-configuring it
	d.clearFlags32(ixgbeRXCTRL, ixgbeRXCTRLRXEn)

	// section 4.6.11.3.4 - allocate all queues and traffic to PB0
	d.setReg32(ixgbeRXPBSIZE(0), ixgbeRXPBSize128KB)
	for i := 1; i < 8; i++ {
		d.setReg32(ixgbeRXPBSIZE(i), 0)
	}

	// enable CRC offloading
	d.setFlags32(ixgbeHLREG0, ixgbeHLREG0RXCRCStrip)
	d.setFlags32(ixgbeRDRXCTL, ixgbeRDRXCTLCRCStrip)

	// accept broadcast packets
	d.setFlags32(ixgbeFCTRL, ixgbeFCTRLBAM)

	for i := 0; i < d.numRxQueues; i++ {
		log.Debugf("%s: initializing rx queue %d", d.pciAddr, i)

		// enable advanced rx descriptors
		d.setReg32(ixgbeSRRCTL(i),
			(d.getReg32(ixgbeSRRCTL(i))&^uint32(ixgbeSRRCTLDescTypeMask))|
				ixgbeSRRCTLDescTypeAdvOneBuf)
		// let the nic drop packets if no rx descriptor is
		// available instead of buffering them
		d.setFlags32(ixgbeSRRCTL(i), ixgbeSRRCTLDropEn)

		// section 7.1.9 - setup descriptor ring
		ringSize := numRxQueueEntries * descSize
		ring := dmaAlloc(ringSize, 128)
		// initialize to 0xff to prevent rogue memory accesses on
		// premature dma activation
		for j := range ring {
			ring[j] = 0xff
		}
		phys := virtToPhys(unsafe.Pointer(&ring[0]))

		d.setReg32(ixgbeRDBAL(i), uint32(phys))
		d.setReg32(ixgbeRDBAH(i), uint32(phys>>32))
		d.setReg32(ixgbeRDLEN(i), uint32(ringSize))
		log.Debugf("%s: rx ring %d phys addr %#x", d.pciAddr, i, phys)

		// ring is empty at start
		d.setReg32(ixgbeRDH(i), 0)
		d.setReg32(ixgbeRDT(i), 0)

		d.rxQueues = append(d.rxQueues, &rxQueue{
			ring:           ring,
			numDescriptors: numRxQueueEntries,
			bufsInUse:      make([]*rush.Packet, numRxQueueEntries),
		})
	}

	// last sentence of section 4.6.7 - set some magic bits
	d.setFlags32(ixgbeCTRLEXT, ixgbeCTRLEXTNSDis)

	// this flag is initialized to 1 by the hardware but must be 0
	for i := 0; i < d.numRxQueues; i++ {
		d.clearFlags32(ixgbeDCARXCTRL(i), 1<<12)
	}

	// start rx
	d.setFlags32(ixgbeRXCTRL, ixgbeRXCTRLRXEn)
}

// initTx initializes the tx queues, see section 4.6.8.
func (d *Ixgbe) initTx() {
	// crc offload and small packet padding
	d.setFlags32(ixgbeHLREG0, ixgbeHLREG0TXCRCEn|ixgbeHLREG0TXPadEn)

	// section 4.6.11.3.4 - set default buffer size allocations
	d.setReg32(ixgbeTXPBSIZE(0), ixgbeTXPBSize40KB)
	for i := 1; i < 8; i++ {
		d.setReg32(ixgbeTXPBSIZE(i), 0)
	}

	// required when not using DCB/VTd
	d.setReg32(ixgbeDTXMXSZRQ, 0xffff)
	d.clearFlags32(ixgbeRTTDCS, ixgbeRTTDCSArbDis)

	for i := 0; i < d.numTxQueues; i++ {
		log.Debugf("%s: initializing tx queue %d", d.pciAddr, i)

		// section 7.1.9 - setup descriptor ring
		ringSize := numTxQueueEntries * descSize
		ring := dmaAlloc(ringSize, 128)
		for j := range ring {
			ring[j] = 0xff
		}
		phys := virtToPhys(unsafe.Pointer(&ring[0]))

		d.setReg32(ixgbeTDBAL(i), uint32(phys))
		d.setReg32(ixgbeTDBAH(i), uint32(phys>>32))
		d.setReg32(ixgbeTDLEN(i), uint32(ringSize))
		log.Debugf("%s: tx ring %d phys addr %#x", d.pciAddr, i, phys)

		// descriptor writeback magic values, important to get good
		// performance and low PCIe overhead, see 7.2.3.4.1 and
		// 7.2.3.5; these are the defaults DPDK uses
		txdctl := d.getReg32(ixgbeTXDCTL(i))
		// pthresh 6:0, hthresh 14:8, wthresh 22:16
		txdctl &^= 0x3F | (0x3F << 8) | (0x3F << 16)
		txdctl |= 36 | (8 << 8) | (4 << 16)
		d.setReg32(ixgbeTXDCTL(i), txdctl)

		d.txQueues = append(d.txQueues, &txQueue{
			ring:           ring,
			numDescriptors: numTxQueueEntries,
			bufsInUse:      make([]*rush.Packet, 0, numTxQueueEntries),
		})
	}

	// final step: enable DMA
	d.setReg32(ixgbeDMATXCTL, ixgbeDMATXCTLTE)
}

// startRxQueue fills the queue's descriptors with freshly allocated
// packet buffers and enables the queue.
func (d *Ixgbe) startRxQueue(queue int) {
	log.Debugf("%s: starting rx queue %d", d.pciAddr, queue)
	q := d.rxQueues[queue]

	if q.numDescriptors&(q.numDescriptors-1) != 0 {
		panic("number of queue entries must be a power of 2")
	}

	for i := 0; i < q.numDescriptors; i++ {
		// remember which descriptor entry owns which buffer
		np := rush.Allocate()
		q.bufsInUse[i] = np
		q.setDescAddrs(i, virtToPhys(unsafe.Pointer(&np.Data[0])), 0)
	}

	// enable queue and wait if necessary
	d.setFlags32(ixgbeRXDCTL(queue), ixgbeRXDCTLEnable)
	d.waitSetReg32(ixgbeRXDCTL(queue), ixgbeRXDCTLEnable)

	// rx queue starts out full
	d.setReg32(ixgbeRDH(queue), 0)
	d.setReg32(ixgbeRDT(queue), uint32(q.numDescriptors-1))
}

// startTxQueue enables the queue.
func (d *Ixgbe) startTxQueue(queue int) {
	log.Debugf("%s: starting tx queue %d", d.pciAddr, queue)
	q := d.txQueues[queue]

	if q.numDescriptors&(q.numDescriptors-1) != 0 {
		panic("number of queue entries must be a power of 2")
	}

	// tx queue starts out empty
	d.setReg32(ixgbeTDH(queue), 0)
	d.setReg32(ixgbeTDT(queue), 0)

	// enable queue and wait if necessary
	d.setFlags32(ixgbeTXDCTL(queue), ixgbeTXDCTLEnable)
	d.waitSetReg32(ixgbeTXDCTL(queue), ixgbeTXDCTLEnable)
}

// initLink brings up the link, see section 4.6.4: 10G XAUI serial
// with restarted auto negotiation.
func (d *Ixgbe) initLink() {
	d.setReg32(ixgbeAUTOC,
		(d.getReg32(ixgbeAUTOC)&^uint32(ixgbeAUTOCLMSMask))|ixgbeAUTOCLMS10GSerial)
	d.setReg32(ixgbeAUTOC,
		(d.getReg32(ixgbeAUTOC)&^uint32(ixgbeAUTOC10GPMAPMDMask))|ixgbeAUTOC10GXAUI)
	// negotiate link
	d.setFlags32(ixgbeAUTOC, ixgbeAUTOCANRestart)
	// the datasheet wants us to wait for the link here, but we can
	// continue and wait afterwards
}

// waitForLink waits up to 10 seconds for the link to come up.
func (d *Ixgbe) waitForLink() {
	log.Infof("%s: waiting for link", d.pciAddr)
	deadline := time.Now().Add(10 * time.Second)
	speed := d.LinkSpeed()
	for speed == 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		speed = d.LinkSpeed()
	}
	log.Infof("%s: link speed is %d Mbit/s", d.pciAddr, speed)
}

// Register access. Offsets outside the mapped BAR are programming
// errors and fatal.

func (d *Ixgbe) getReg32(reg int) uint32 {
	if reg < 0 || reg > len(d.regs)-4 {
		panic("memory access out of bounds")
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&d.regs[reg])))
}

func (d *Ixgbe) setReg32(reg int, value uint32) {
	if reg < 0 || reg > len(d.regs)-4 {
		panic("memory access out of bounds")
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&d.regs[reg])), value)
}

func (d *Ixgbe) setFlags32(reg int, flags uint32) {
	d.setReg32(reg, d.getReg32(reg)|flags)
}

func (d *Ixgbe) clearFlags32(reg int, flags uint32) {
	d.setReg32(reg, d.getReg32(reg)&^flags)
}

func (d *Ixgbe) waitClearReg32(reg int, value uint32) {
	for d.getReg32(reg)&value != 0 {
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *Ixgbe) waitSetReg32(reg int, value uint32) {
	for d.getReg32(reg)&value != value {
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *Ixgbe) clearInterrupts() {
	d.setReg32(ixgbeEIMC, ixgbeIRQClearMask)
	d.getReg32(ixgbeEICR)
}

func (d *Ixgbe) disableInterrupts() {
	d.setReg32(ixgbeEIMS, 0)
	d.clearInterrupts()
}

// Descriptor accessors. The hardware reads and writes descriptor
// memory concurrently with us, so the status words are accessed
// atomically.

func (q *rxQueue) desc(i int) unsafe.Pointer {
	return unsafe.Pointer(&q.ring[i*descSize])
}

// descStatus returns the writeback status_error word of descriptor i.
func (q *rxQueue) descStatus(i int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(q.desc(i), 8)))
}

// descLength returns the writeback length of descriptor i.
func (q *rxQueue) descLength(i int) uint16 {
	return uint16(atomic.LoadUint32((*uint32)(unsafe.Add(q.desc(i), 12))))
}

// setDescAddrs rewrites descriptor i in read format: the packet
// buffer's physical address and a null header buffer address.
func (q *rxQueue) setDescAddrs(i int, pktAddr, hdrAddr uint64) {
	atomic.StoreUint64((*uint64)(q.desc(i)), pktAddr)
	atomic.StoreUint64((*uint64)(unsafe.Add(q.desc(i), 8)), hdrAddr)
}

func (q *txQueue) desc(i int) unsafe.Pointer {
	return unsafe.Pointer(&q.ring[i*descSize])
}

// descStatus returns the writeback status word of descriptor i.
func (q *txQueue) descStatus(i int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(q.desc(i), 12)))
}

// fillDesc writes descriptor i in read format.
func (q *txQueue) fillDesc(i int, bufferAddr uint64, cmdTypeLen, olinfoStatus uint32) {
	atomic.StoreUint64((*uint64)(q.desc(i)), bufferAddr)
	atomic.StoreUint32((*uint32)(unsafe.Add(q.desc(i), 8)), cmdTypeLen)
	atomic.StoreUint32((*uint32)(unsafe.Add(q.desc(i), 12)), olinfoStatus)
}
