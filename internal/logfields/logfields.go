package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPuzzle      = "puzzle"
	KeyDispatchID  = "dispatch_id"
	KeyState       = "state"
	KeyStatus      = "status"
	KeyRangeStart  = "range_start"
	KeyRangeEnd    = "range_end"
	KeyKeysChecked = "keys_checked"
	KeyDurationMS  = "duration_ms"
	KeySpeed       = "speed_mks"
	KeyAttempt     = "attempt"
	KeyCursor      = "cursor"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Puzzle(id int) slog.Attr           { return slog.Int(KeyPuzzle, id) }
func DispatchID(id string) slog.Attr    { return slog.String(KeyDispatchID, id) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func Status(s string) slog.Attr         { return slog.String(KeyStatus, s) }
func RangeStart(hex string) slog.Attr   { return slog.String(KeyRangeStart, hex) }
func RangeEnd(hex string) slog.Attr     { return slog.String(KeyRangeEnd, hex) }
func KeysChecked(n int64) slog.Attr     { return slog.Int64(KeyKeysChecked, n) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Speed(mks float64) slog.Attr       { return slog.Float64(KeySpeed, mks) }
func Attempt(n int) slog.Attr           { return slog.Int(KeyAttempt, n) }
func Cursor(hex string) slog.Attr       { return slog.String(KeyCursor, hex) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
