package ixgbe

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/yerden/go-rush/rush"
)

// packetGen transmits copies of a synthesized Ethernet frame as fast
// as its output link accepts them.
type packetGen struct {
	Dst, Src string
	Size     uint16
}

func (c packetGen) New() (rush.App, error) {
	dst, err := net.ParseMAC(c.Dst)
	if err != nil {
		return nil, err
	}
	src, err := net.ParseMAC(c.Src)
	if err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	payload := make([]byte, int(c.Size)-14)
	err = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{
			SrcMAC:       src,
			DstMAC:       dst,
			EthernetType: layers.EthernetType(c.Size - 14),
		},
		gopacket.Payload(payload))
	if err != nil {
		return nil, err
	}

	template := rush.Allocate()
	template.Length = uint16(copy(template.Data[:], buf.Bytes()))
	return &packetGenApp{template: template}, nil
}

type packetGenApp struct {
	template *rush.Packet
}

func (a *packetGenApp) Pull(app *rush.AppState) {
	if output, ok := app.Output["output"]; ok {
		for !output.Full() {
			output.Transmit(rush.Clone(a.template))
		}
	}
}

func (a *packetGenApp) Stop() {
	rush.Free(a.template)
}

// TestIxgbeSendRecv drives traffic through two 82599 adapters cabled
// back to back. It needs hardware, so it skips unless RUSH_INTEL10G0
// and RUSH_INTEL10G1 name the PCI addresses of the two adapters and
// the test runs as root.
func TestIxgbeSendRecv(t *testing.T) {
	nic0, ok := os.LookupEnv("RUSH_INTEL10G0")
	if !ok {
		t.Skip("need RUSH_INTEL10G0")
	}
	nic1, ok := os.LookupEnv("RUSH_INTEL10G1")
	if !ok {
		t.Skip("need RUSH_INTEL10G1")
	}
	if os.Getuid() != 0 {
		t.Skip("need to be root")
	}

	rush.Init()
	engine := rush.NewEngine()

	c := rush.NewConfig()
	c.SetApp("nic0", Nic{PCI: nic0})
	c.SetApp("nic1", Nic{PCI: nic1})
	c.SetApp("source", packetGen{
		Dst:  "52:54:00:00:00:01",
		Src:  "52:54:00:00:00:02",
		Size: 60,
	})
	c.SetApp("sink", rush.Sink{})
	c.AddLink("source.output -> nic0.input")
	c.AddLink("nic1.output -> sink.input")
	if err := rush.Configure(engine, c); err != nil {
		t.Fatal(err)
	}

	statsBefore := rush.Stats()
	for i := 0; i < 3; i++ {
		rush.Main(engine,
			rush.WithDuration(time.Second),
			rush.WithReportLoad(),
			rush.WithReportApps(),
			rush.WithReportLinks())
	}
	statsAfter := rush.Stats()

	if statsAfter.Frees == statsBefore.Frees {
		t.Error("no packets moved")
	}

	// The counters clear on read and each app report already read
	// them, so accumulate into the apps' own running totals.
	tx := engine.App("nic0").App().(*nicApp)
	rx := engine.App("nic1").App().(*nicApp)
	tx.dev.ReadStats(&tx.stats)
	rx.dev.ReadStats(&rx.stats)
	if tx.stats.TxPkts == 0 {
		t.Error("nic0 transmitted nothing")
	}
	if rx.stats.RxPkts == 0 {
		t.Error("nic1 received nothing")
	}
}
