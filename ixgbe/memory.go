package ixgbe

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DMA memory for descriptor rings. Rings are small, so each
// allocation takes a dedicated huge page: hugetlb memory is pinned
// and physically contiguous, which is what the device requires.

const hugePageBits = 21
const hugePageSize = 1 << hugePageBits

// dmaAlloc returns size bytes of DMA-able, zeroed memory with the
// requested alignment. DMA allocation failures are fatal: they mean
// the system has no huge pages configured, and the device cannot be
// driven without them.
func dmaAlloc(size, align int) []byte {
	if size > hugePageSize {
		panic(fmt.Sprintf("DMA allocation of %d bytes exceeds huge page size", size))
	}
	if align > hugePageSize || hugePageSize%align != 0 {
		panic(fmt.Sprintf("cannot satisfy DMA alignment of %d", align))
	}
	mem, err := unix.Mmap(-1, 0, hugePageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		panic(fmt.Sprintf("DMA allocation failed (no huge pages?): %v", err))
	}
	if err := unix.Mlock(mem); err != nil {
		panic(fmt.Sprintf("cannot lock DMA memory: %v", err))
	}
	return mem[:size]
}

func dmaFree(mem []byte) {
	_ = unix.Munmap(mem[:cap(mem)])
}

// virtToPhys translates a virtual address of this process into a
// physical address using the procfs page map. The page holding the
// address must be resident, otherwise it panics. Descriptor rings
// are locked at allocation time; packet buffers live on the Go heap
// and are not locked.
func virtToPhys(p unsafe.Pointer) uint64 {
	addr := uintptr(p)
	pagesize := uintptr(os.Getpagesize())

	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		panic(fmt.Sprintf("open pagemap: %v", err))
	}
	defer f.Close()

	var entry [8]byte
	if _, err := f.ReadAt(entry[:], int64(addr/pagesize)*8); err != nil {
		panic(fmt.Sprintf("read pagemap: %v", err))
	}
	pfn := *(*uint64)(unsafe.Pointer(&entry[0])) & 0x7fffffffffffff
	if pfn == 0 {
		panic("page not present in pagemap; are we running as root?")
	}
	return pfn*uint64(pagesize) + uint64(addr%pagesize)
}
