package rush

import (
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
)

// The freelist and the engine are process-wide singletons, so all
// tests share one engine and are responsible for leaving it empty
// (links drained, empty configuration applied) when they finish.
var testEngine *EngineState

func TestMain(m *testing.M) {
	log.SetLevel(log.WarnLevel)
	Init()
	testEngine = NewEngine()
	os.Exit(m.Run())
}

func newAssert(t *testing.T, fail bool) func(bool) {
	return func(expected bool) {
		if !expected {
			t.Helper()
			t.Error("Something's not right")
			if fail {
				t.FailNow()
			}
		}
	}
}

// teardown drains every link of the current graph and applies an
// empty configuration, so the next test starts from scratch.
func teardown(t *testing.T) {
	t.Helper()
	for _, spec := range sortedKeys(testEngine.linkTable) {
		link := testEngine.linkTable[spec]
		for !link.Empty() {
			Free(link.Receive())
		}
	}
	if err := Configure(testEngine, NewConfig()); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if n := Nfree(); n != FreelistSize {
		t.Fatalf("teardown: %d packets missing from the freelist", FreelistSize-n)
	}
}
