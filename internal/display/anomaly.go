package display

import (
	"fmt"

	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

// anomalyLog counts unknown records and decode failures and keeps the most
// recent one for display under the value table.
type anomalyLog struct {
	unknown  int
	failures int
	last     string
}

// add records ev if it is an anomaly, reporting whether it was.
func (a *anomalyLog) add(ev tlv.Event) bool {
	switch ev.Kind {
	case tlv.EventUnknownRecord:
		a.unknown++
	case tlv.EventDecodeFailure:
		a.failures++
	default:
		return false
	}
	a.last = ev.String()
	return true
}

func (a anomalyLog) empty() bool { return a.unknown == 0 && a.failures == 0 }

func (a anomalyLog) summary() string {
	return fmt.Sprintf("Unknown records: %d, decode failures: %d", a.unknown, a.failures)
}
