package ixgbe

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/yerden/go-rush/rush"
)

// Nic is an app configuration which drives an Intel 82599 network
// adapter. Received packets appear on the app's "output" port;
// packets arriving on its "input" port are transmitted on the wire.
type Nic struct {
	// PCI address of the adapter, e.g. "0000:01:00.0".
	PCI string
}

// New implements rush.AppConfig. Initialization maps the device's
// registers and allocates its descriptor rings. A register mapping
// failure is reported and surfaces from Configure; a DMA allocation
// failure is fatal.
func (c Nic) New() (rush.App, error) {
	if os.Getuid() != 0 {
		return nil, errors.New("need to be root to drive PCI devices")
	}
	dev, err := Init(c.PCI, 1, 1, 0)
	if err != nil {
		return nil, err
	}
	return &nicApp{dev: dev}, nil
}

type nicApp struct {
	dev   *Ixgbe
	stats DeviceStats
}

func (a *nicApp) Pull(app *rush.AppState) {
	if output, ok := app.Output["output"]; ok {
		a.dev.RxBatch(0, output, rush.PullNpackets)
	}
}

func (a *nicApp) Push(app *rush.AppState) {
	if input, ok := app.Input["input"]; ok {
		a.dev.TxBatch(0, input)
	}
}

func (a *nicApp) Report() {
	last := a.stats
	a.dev.ReadStats(&a.stats)
	log.Infof("  device stats for %s since last report:", a.dev.PCIAddr())
	log.Infof("     rxpackets:\t%10s", rush.CommaValue(a.stats.RxPkts-last.RxPkts))
	log.Infof("     rxbytes:\t%10s", rush.CommaValue(a.stats.RxBytes-last.RxBytes))
	log.Infof("     txpackets:\t%10s", rush.CommaValue(a.stats.TxPkts-last.TxPkts))
	log.Infof("     txbytes:\t%10s", rush.CommaValue(a.stats.TxBytes-last.TxBytes))
}

func (a *nicApp) Stop() {
	if err := a.dev.Close(); err != nil {
		log.Warnf("%s: close: %v", a.dev.PCIAddr(), err)
	}
}
