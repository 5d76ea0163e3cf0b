package dispatch

import (
	"regexp"
	"strconv"
	"strings"
)

// Output markers of the search process. The stream is noisy and its format
// is not versioned, so parsing is tolerant: unknown lines are ignored and
// telemetry extraction is best-effort.
var (
	foundMarkers = []string{"PubAddress:", "Priv"}
	errorMarkers = []string{"Wrong args", "ERROR", "Error:"}

	speedPattern    = regexp.MustCompile(`([\d.]+)\s*([MG]?)[Kk]/s`)
	progressPattern = regexp.MustCompile(`T:\s*([\d,]+)`)
)

// IsFoundMarker reports whether the line carries key material.
func IsFoundMarker(line string) bool {
	return containsAny(line, foundMarkers)
}

// IsErrorMarker reports whether the line signals a process-level failure.
func IsErrorMarker(line string) bool {
	return containsAny(line, errorMarkers)
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// ParseSpeed extracts a scan speed and normalizes it to Mkeys/s. Plain k/s
// and Gk/s variants are scaled accordingly.
func ParseSpeed(line string) (float64, bool) {
	m := speedPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "M":
	case "G":
		v *= 1000
	default:
		v /= 1000
	}
	return v, true
}

// ParseProgress extracts the cumulative keys-checked counter the process
// prints as "T: 1,234,567".
func ParseProgress(line string) (uint64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
