package ixgbe

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pciMapResource maps BAR0 of the given PCI device into the process.
// The kernel driver, if any, is unbound first and bus mastering is
// enabled so the device may DMA. The returned slice stays valid
// until unmapped with unix.Munmap.
func pciMapResource(pciAddr string) ([]byte, error) {
	device := "/sys/bus/pci/devices/" + pciAddr

	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("no PCI device %s: %w", pciAddr, err)
	}

	unbindDriver(pciAddr)
	if err := enableDMA(pciAddr); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(device+"/resource0", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open BAR0 of %s: %w", pciAddr, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat BAR0 of %s: %w", pciAddr, err)
	}

	regs, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap BAR0 of %s: %w", pciAddr, err)
	}
	return regs, nil
}

// unbindDriver detaches the currently bound kernel driver, if any.
// The device cannot be driven from user space while a kernel driver
// owns it.
func unbindDriver(pciAddr string) {
	path := "/sys/bus/pci/devices/" + pciAddr + "/driver/unbind"
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		// No driver bound.
		return
	}
	defer f.Close()
	if _, err := f.WriteString(pciAddr); err == nil {
		log.Debugf("unbound kernel driver from %s", pciAddr)
	}
}

// enableDMA sets the bus master bit in the PCI command register.
func enableDMA(pciAddr string) error {
	path := "/sys/bus/pci/devices/" + pciAddr + "/config"
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open config space of %s: %w", pciAddr, err)
	}
	defer f.Close()

	// Command register is at offset 4; bit 2 is bus master enable.
	cmd := make([]byte, 2)
	if _, err := f.ReadAt(cmd, 4); err != nil {
		return fmt.Errorf("read config space of %s: %w", pciAddr, err)
	}
	cmd[0] |= 1 << 2
	if _, err := f.WriteAt(cmd, 4); err != nil {
		return fmt.Errorf("write config space of %s: %w", pciAddr, err)
	}
	return nil
}
