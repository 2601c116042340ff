package device

import (
	"os"
	"testing"

	"go.uber.org/goleak"
)

// The device package is the only one that ever spawns a long-lived
// goroutine (NewSocketIn's OSC listener); verify none of its tests leak one.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}
