package dispatch

import (
	"time"

	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// Status is the outcome class of one dispatch.
type Status string

const (
	// StatusCompleted means the process scanned the whole sub-range and
	// exited cleanly without finding the key.
	StatusCompleted Status = "completed"
	// StatusFoundKey means the output carried key material. The coordinator
	// halts the puzzle for operator review.
	StatusFoundKey Status = "found_key"
	// StatusCrashed covers abnormal exits, error markers in the output, and
	// exceeded deadlines. The sub-range was not (fully) scanned.
	StatusCrashed Status = "crashed"
	// StatusCancelled means the coordinator itself stopped the run (pause,
	// shutdown, or a pool collision). Not an error.
	StatusCancelled Status = "cancelled"
)

// Result is everything the scheduler needs to know about one finished
// dispatch. KeysChecked and SpeedMks are best-effort telemetry parsed from
// the process output; zero when the process never reported them.
type Result struct {
	DispatchID string
	SubRange   interval.Span
	Status     Status

	// FoundLines holds the raw output lines around a key find, verbatim.
	// Key material is never parsed or derived here.
	FoundLines []string

	KeysChecked uint64
	SpeedMks    float64
	Elapsed     time.Duration

	// Err classifies crashes; nil for the other statuses.
	Err error
}
