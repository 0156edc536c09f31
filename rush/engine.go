/*
Package rush implements a user-space packet processing engine.

The engine drives a directed graph of apps connected by
unidirectional links. Programs describe the desired graph with a
Config, apply it with Configure, and run it with Main, which
repeatedly "breathes": every app with a pull capability inhales
packets into the network, then every app with a push capability
exhales them towards their destination.

Packets come from a fixed, preallocated freelist and are moved, never
copied, between links. The engine is single-threaded and cooperative:
one breath runs to completion, app callbacks return promptly, and the
engine sleeps between breaths only when the network is idle.
*/
package rush

import (
	"fmt"
	"sort"
	"time"
)

// EngineStats holds counters for global engine statistics. All
// counters are monotonically non-decreasing for the lifetime of the
// process.
type EngineStats struct {
	// Breaths is the total number of breaths taken.
	Breaths uint64
	// Frees is the total number of packets freed.
	Frees uint64
	// Freebits is the total packet bits freed, accounted at
	// 10GbE on-wire cost.
	Freebits uint64
	// Freebytes is the total packet bytes freed.
	Freebytes uint64
}

var stats EngineStats

// Stats returns a snapshot of the global engine statistics.
func Stats() EngineStats {
	return stats
}

// PullNpackets is the recommended number of packets for an app to
// inhale per output link in its Pull method. It is a soft budget
// that keeps rings from monopolising memory and bounds latency.
const PullNpackets = LinkMaxPackets / 10

// App is an app instance. Apps advertise capabilities by
// implementing any of the optional Puller, Pusher, Stopper and
// Reporter interfaces; the engine discovers them when it builds the
// breathe schedule and skips no-op invocations.
type App any

// Puller is implemented by apps which inhale packets into the app
// network by transmitting them onto their output links. Pull must
// not read input links.
type Puller interface {
	Pull(app *AppState)
}

// Pusher is implemented by apps which exhale packets out of the app
// network: they receive from their input links and transmit onto
// output links or peripheral device queues. Push should drain its
// inputs or bound its work by a batch budget.
type Pusher interface {
	Push(app *AppState)
}

// Stopper is implemented by apps which need to release resources.
// Stop is called once, before the instance is discarded during a
// reconfiguration. The app's links may already be gone; Stop must
// not touch them.
type Stopper interface {
	Stop()
}

// Reporter is implemented by apps which can print statistics about
// themselves, see ReportApps.
type Reporter interface {
	Report()
}

// AppConfig constructs app instances. Implementations are value
// types holding the app's parameters; the engine derives each
// config's identity from its type and parameters to decide whether a
// live app can be reused across reconfigurations.
type AppConfig interface {
	New() (App, error)
}

// AppState is the engine's record of a single app instance: the
// instance itself, the configuration it was built from, and its
// active input and output links indexed by port name. Apps receive
// their AppState in Pull and Push and see only the links attached to
// their own ports.
type AppState struct {
	app   App
	conf  AppConfig
	ident string

	// Input and Output map port names to links.
	Input  map[string]*Link
	Output map[string]*Link
}

// App returns the app instance.
func (a *AppState) App() App {
	return a.app
}

// EngineState is the set of all active apps and links in the system,
// indexed by name, together with the derived breathe schedule.
type EngineState struct {
	linkTable map[string]*Link
	appTable  map[string]*AppState

	// Breathe schedule, recomputed on every Configure: app names
	// in deterministic graph order, restricted to pull and push
	// capable apps respectively.
	inhale, exhale []string

	// Monotonic counter stamped into new links; drives the
	// schedule's cycle tie-break.
	linkSeq uint64
}

var engineInitialized bool

// NewEngine initializes the engine and returns its state. There is
// one engine per process: a second call is a fatal error.
func NewEngine() *EngineState {
	if engineInitialized {
		panic("engine already initialized")
	}
	engineInitialized = true
	return &EngineState{
		linkTable: make(map[string]*Link),
		appTable:  make(map[string]*AppState),
	}
}

// App returns the state of the named app, or nil.
func (s *EngineState) App(name string) *AppState {
	return s.appTable[name]
}

// Link returns the link created for the given spec string, or nil.
func (s *EngineState) Link(spec string) *Link {
	return s.linkTable[spec]
}

// Inhale returns the pull schedule of the current configuration.
func (s *EngineState) Inhale() []string {
	return append([]string(nil), s.inhale...)
}

// Exhale returns the push schedule of the current configuration.
func (s *EngineState) Exhale() []string {
	return append([]string(nil), s.exhale...)
}

// Configure migrates the running app network to match config.
// Successive calls make only the changes needed: links absent from
// the new config are removed first (so apps observe consistent port
// maps), apps whose name or configuration identity changed are
// stopped, missing apps are started, and every link in the config is
// wired into the port maps of its endpoint apps. An app that
// survives keeps its instance and internal state; a link that
// survives keeps its counters.
//
// The only reported errors are app constructor failures (device
// apps propagate PCI mapping problems this way). A link
// spec naming an app absent from the config is a fatal error.
func Configure(state *EngineState, config *Config) error {
	// First determine the links that are going away and remove them.
	for _, spec := range sortedKeys(state.linkTable) {
		if !config.hasLink(spec) {
			state.unlinkApps(spec)
		}
	}
	// Do the same for apps.
	for _, name := range sortedKeys(state.appTable) {
		old := state.appTable[name]
		if conf, ok := config.apps[name]; !ok || old.ident != identity(conf) {
			state.stopApp(name)
		}
	}
	// Start new apps.
	for _, name := range sortedKeys(config.apps) {
		if _, ok := state.appTable[name]; !ok {
			if err := state.startApp(name, config.apps[name]); err != nil {
				return err
			}
		}
	}
	// Rebuild links.
	for _, spec := range config.links {
		state.linkApps(spec)
	}
	state.computeSchedule()
	return nil
}

// startApp inserts a new app instance into the network.
func (s *EngineState) startApp(name string, conf AppConfig) error {
	app, err := conf.New()
	if err != nil {
		return fmt.Errorf("start app %q: %w", name, err)
	}
	s.appTable[name] = &AppState{
		app:    app,
		conf:   conf,
		ident:  identity(conf),
		Input:  make(map[string]*Link),
		Output: make(map[string]*Link),
	}
	return nil
}

// stopApp removes an app instance from the network.
func (s *EngineState) stopApp(name string) {
	app := s.appTable[name]
	delete(s.appTable, name)
	if stopper, ok := app.app.(Stopper); ok {
		stopper.Stop()
	}
}

// linkApps wires the link for spec into the port maps of its
// endpoint apps, creating the link if the spec is new.
func (s *EngineState) linkApps(spec string) {
	link, ok := s.linkTable[spec]
	if !ok {
		link = NewLink()
		s.linkSeq++
		link.seq = s.linkSeq
		s.linkTable[spec] = link
	}
	parts := mustParseLink(spec)
	from, ok := s.appTable[parts.from]
	if !ok {
		panic(fmt.Sprintf("link %q: no such app: %q", spec, parts.from))
	}
	to, ok := s.appTable[parts.to]
	if !ok {
		panic(fmt.Sprintf("link %q: no such app: %q", spec, parts.to))
	}
	from.Output[parts.output] = link
	to.Input[parts.input] = link
}

// unlinkApps removes the link for spec from the network. Removing a
// link that still holds packets would leak them, which is a fatal
// error.
func (s *EngineState) unlinkApps(spec string) {
	link := s.linkTable[spec]
	if !link.Empty() {
		panic(fmt.Sprintf("link %q is not empty", spec))
	}
	delete(s.linkTable, spec)
	parts := mustParseLink(spec)
	if from, ok := s.appTable[parts.from]; ok {
		delete(from.Output, parts.output)
	}
	if to, ok := s.appTable[parts.to]; ok {
		delete(to.Input, parts.input)
	}
}

// computeSchedule derives the inhale and exhale orders from the
// graph. Apps are topologically sorted along data-flow edges so that
// consecutive producers and consumers run back to back. Edges are
// considered in link creation order and an edge that would close a
// cycle is ignored, so the earliest-added edges define the order and
// the result is deterministic for a given configuration history.
// Ties between ready apps break lexicographically by name.
func (s *EngineState) computeSchedule() {
	type edge struct {
		from, to string
		seq      uint64
	}
	edges := make([]edge, 0, len(s.linkTable))
	for spec, link := range s.linkTable {
		parts := mustParseLink(spec)
		edges = append(edges, edge{from: parts.from, to: parts.to, seq: link.seq})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].seq < edges[j].seq })

	succ := make(map[string]map[string]int)
	indeg := make(map[string]int)
	for _, name := range sortedKeys(s.appTable) {
		succ[name] = make(map[string]int)
		indeg[name] = 0
	}
	for _, e := range edges {
		if e.from == e.to || reaches(succ, e.to, e.from) {
			// Would close a cycle; the earlier-added edges win.
			continue
		}
		succ[e.from][e.to]++
		indeg[e.to]++
	}

	names := sortedKeys(s.appTable)
	done := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	for len(order) < len(names) {
		for _, name := range names {
			if !done[name] && indeg[name] == 0 {
				done[name] = true
				order = append(order, name)
				for next, n := range succ[name] {
					indeg[next] -= n
				}
				break
			}
		}
	}

	s.inhale = s.inhale[:0]
	s.exhale = s.exhale[:0]
	for _, name := range order {
		if _, ok := s.appTable[name].app.(Puller); ok {
			s.inhale = append(s.inhale, name)
		}
		if _, ok := s.appTable[name].app.(Pusher); ok {
			s.exhale = append(s.exhale, name)
		}
	}
}

// reaches reports whether to is reachable from from along succ.
func reaches(succ map[string]map[string]int, from, to string) bool {
	if from == to {
		return true
	}
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for next := range succ[cur] {
			stack = append(stack, next)
		}
	}
	return false
}

// breathe performs a single breath: inhale, then exhale.
func breathe(state *EngineState) {
	monotonicNow = time.Now()
	for _, name := range state.inhale {
		app := state.appTable[name]
		app.app.(Puller).Pull(app)
	}
	for _, name := range state.exhale {
		app := state.appTable[name]
		app.app.(Pusher).Push(app)
	}
	stats.Breaths++
}

// Engine time. Within one breath Now returns the timestamp taken at
// the start of the breath, so a timer started during a breath cannot
// fire within the same breath.
var monotonicNow time.Time

// Now returns the current monotonic engine time. Can be used to
// drive timers in apps.
func Now() time.Time {
	if monotonicNow.IsZero() {
		return time.Now()
	}
	return monotonicNow
}

// Timeout returns a function which returns true once the given
// duration has passed, measured in engine time. Timers are not
// cancellable; discard the predicate instead.
func Timeout(duration time.Duration) func() bool {
	deadline := Now().Add(duration)
	return func() bool {
		return Now().After(deadline)
	}
}

// DonePredicate is evaluated after every breath to decide whether
// Main should return.
type DonePredicate func(state *EngineState, stats *EngineStats) bool

// Options to Main.
type mainOpts struct {
	done        DonePredicate
	duration    time.Duration
	hasDuration bool
	noReport    bool
	reportLoad  bool
	reportLinks bool
	reportApps  bool
}

// Option specifies an option for running the engine, see Main.
type Option struct {
	f func(*mainOpts)
}

// WithDone runs the engine until the predicate returns true. May not
// be combined with WithDuration.
func WithDone(done DonePredicate) Option {
	return Option{func(opts *mainOpts) {
		opts.done = done
	}}
}

// WithDuration runs the engine for the given duration. May not be
// combined with WithDone.
func WithDuration(duration time.Duration) Option {
	return Option{func(opts *mainOpts) {
		opts.duration = duration
		opts.hasDuration = true
	}}
}

// WithReportLoad prints a load report when the engine returns.
func WithReportLoad() Option {
	return Option{func(opts *mainOpts) {
		opts.reportLoad = true
	}}
}

// WithReportLinks prints per-link statistics when the engine
// returns.
func WithReportLinks() Option {
	return Option{func(opts *mainOpts) {
		opts.reportLinks = true
	}}
}

// WithReportApps lets every report-capable app print its own
// statistics when the engine returns.
func WithReportApps() Option {
	return Option{func(opts *mainOpts) {
		opts.reportApps = true
	}}
}

// WithoutReport disables all engine reporting on return.
func WithoutReport() Option {
	return Option{func(opts *mainOpts) {
		opts.noReport = true
	}}
}

// Main runs the engine breathe loop until the termination condition
// given in the options is met. With neither WithDuration nor
// WithDone the loop runs forever; with both it panics. At least one
// breath is always taken. Termination is checked once per breath, so
// its resolution is one breath.
func Main(state *EngineState, options ...Option) {
	var opts mainOpts
	for _, opt := range options {
		opt.f(&opts)
	}
	done := opts.done
	if opts.hasDuration {
		if done != nil {
			panic("you can not have both a duration and a done predicate")
		}
		deadline := Timeout(opts.duration)
		done = func(*EngineState, *EngineStats) bool { return deadline() }
	}

	breathe(state)
	for done == nil || !done(state, &stats) {
		paceBreathing()
		breathe(state)
	}
	if !opts.noReport {
		if opts.reportLoad {
			ReportLoad()
		}
		if opts.reportApps {
			ReportApps(state)
		}
		if opts.reportLinks {
			ReportLinks(state)
		}
	}

	monotonicNow = time.Time{}
}

// MaxSleep is the longest pause between breaths, in microseconds.
const MaxSleep = 100

var lastFrees uint64
var sleepMicros uint64

// paceBreathing reduces CPU usage when idle. If packets were
// processed during the last breath the sleep period is halved and no
// sleep is taken; if none were, the period grows by one microsecond
// up to MaxSleep and the engine sleeps for it.
func paceBreathing() {
	if lastFrees == stats.Frees {
		sleepMicros = min(sleepMicros+1, MaxSleep)
		time.Sleep(time.Duration(sleepMicros) * time.Microsecond)
	} else {
		sleepMicros /= 2
	}
	lastFrees = stats.Frees
}

// sortedKeys returns the keys of a link or app table in sorted
// order.
func sortedKeys[V any](table map[string]V) []string {
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
