package rush

// Basic apps which demonstrate and exercise the app contract.

// Source generates synthetic packets of a fixed size filled with
// zeros.
type Source struct {
	Size uint16
}

// New implements AppConfig.
func (c Source) New() (App, error) {
	return &sourceApp{size: c.Size}, nil
}

type sourceApp struct {
	size uint16
}

func (a *sourceApp) Pull(app *AppState) {
	for _, output := range app.Output {
		for i := 0; i < PullNpackets; i++ {
			p := Allocate()
			Fill(p.Data[:], int(a.size), 0)
			p.Length = a.size
			output.Transmit(p)
		}
	}
}

// Sink receives and discards packets.
type Sink struct{}

// New implements AppConfig.
func (c Sink) New() (App, error) {
	return &sinkApp{}, nil
}

type sinkApp struct{}

func (a *sinkApp) Push(app *AppState) {
	for _, input := range app.Input {
		for !input.Empty() {
			Free(input.Receive())
		}
	}
}

// Tee copies every input packet to all outputs.
type Tee struct{}

// New implements AppConfig.
func (c Tee) New() (App, error) {
	return &teeApp{}, nil
}

type teeApp struct{}

func (a *teeApp) Push(app *AppState) {
	for _, input := range app.Input {
		for !input.Empty() {
			p := input.Receive()
			for _, output := range app.Output {
				output.Transmit(Clone(p))
			}
			Free(p)
		}
	}
}

// SourceSink is a pseudo I/O device: it generates packets on its
// outputs like Source and discards whatever arrives on its inputs
// like Sink.
type SourceSink struct {
	Size uint16
}

// New implements AppConfig.
func (c SourceSink) New() (App, error) {
	return &sourceSinkApp{size: c.Size}, nil
}

type sourceSinkApp struct {
	size uint16
}

func (a *sourceSinkApp) Pull(app *AppState) {
	for _, output := range app.Output {
		for i := 0; i < PullNpackets; i++ {
			p := Allocate()
			Fill(p.Data[:], int(a.size), 0)
			p.Length = a.size
			output.Transmit(p)
		}
	}
}

func (a *sourceSinkApp) Push(app *AppState) {
	for _, input := range app.Input {
		for !input.Empty() {
			Free(input.Receive())
		}
	}
}
