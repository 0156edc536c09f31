package rush

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Load reporting state: the statistics counters as of the previous
// ReportLoad call.
var lastLoadReport time.Time
var reportedFrees uint64
var reportedFreebits uint64
var reportedFreebytes uint64
var reportedBreaths uint64

// ReportLoad logs several metrics covering the interval since the
// previous call:
//
//	time  - period of time that the metrics were collected over
//	fps   - frees per second (how many calls to Free)
//	fpb   - frees per breath
//	bpp   - bytes per packet (average packet size)
//	sleep - usecs of sleep between breaths
//
// The first call only establishes the interval start.
func ReportLoad() {
	frees := stats.Frees
	freebits := stats.Freebits
	freebytes := stats.Freebytes
	breaths := stats.Breaths
	if !lastLoadReport.IsZero() {
		interval := Now().Sub(lastLoadReport).Seconds()
		newFrees := frees - reportedFrees
		newBits := freebits - reportedFreebits
		newBytes := freebytes - reportedFreebytes
		newBreaths := breaths - reportedBreaths
		fps := uint64(float64(newFrees) / interval)
		fbps := float64(newBits) / interval
		var fpb, bpp uint64
		if newBreaths > 0 {
			fpb = newFrees / newBreaths
		}
		if newFrees > 0 {
			bpp = newBytes / newFrees
		}
		log.Infof("load: time: %.2f fps: %s fpGbps: %.3f fpb: %s bpp: %s sleep: %d",
			interval, CommaValue(fps), fbps/1e9, CommaValue(fpb),
			CommaValue(bpp), sleepMicros)
	}
	lastLoadReport = Now()
	reportedFrees = frees
	reportedFreebits = freebits
	reportedFreebytes = freebytes
	reportedBreaths = breaths
}

// ReportLinks logs the packets sent and the loss rate of every link,
// sorted by name for reproducible output.
func ReportLinks(state *EngineState) {
	for _, name := range sortedKeys(state.linkTable) {
		link := state.linkTable[name]
		log.Infof("%s sent on %s (loss rate: %d%%)",
			CommaValue(link.TxPackets), name,
			lossRate(link.TxDrop, link.TxPackets))
	}
}

// ReportApps lets every app which implements Reporter print its own
// statistics, in name order.
func ReportApps(state *EngineState) {
	for _, name := range sortedKeys(state.appTable) {
		if reporter, ok := state.appTable[name].app.(Reporter); ok {
			log.Infof("report for app %s:", name)
			reporter.Report()
		}
	}
}

func lossRate(drop, sent uint64) uint64 {
	if sent == 0 {
		return 0
	}
	return drop * 100 / (drop + sent)
}
