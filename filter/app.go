package filter

import (
	"golang.org/x/net/bpf"

	"github.com/yerden/go-rush/rush"
)

// App is an app configuration for a filtering app. Packets arriving
// on the "input" port which match Program are forwarded to the
// "output" port; the rest are dropped (freed). Two App configs are
// identical exactly when their programs are.
type App struct {
	Program []bpf.Instruction
}

// New implements rush.AppConfig.
func (c App) New() (rush.App, error) {
	f, err := VM(c.Program)
	if err != nil {
		return nil, err
	}
	return &filterApp{filter: f}, nil
}

type filterApp struct {
	filter Filter
}

func (a *filterApp) Push(app *rush.AppState) {
	input, ok := app.Input["input"]
	if !ok {
		return
	}
	output := app.Output["output"]
	for !input.Empty() {
		p := input.Receive()
		if output == nil || a.filter.Match(p.Data[:p.Length]) == 0 {
			rush.Free(p)
			continue
		}
		output.Transmit(p)
	}
}
