// Package pool fetches and decodes the public pool's progress page, turning
// its compressed range IDs into concrete key intervals.
package pool

import (
	"math/big"
	"regexp"
	"sort"

	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// The pool publishes two compressed forms. A range ID like 50XA1EC (two hex
// digits, a literal X wildcard, then a 4-5 hex digit suffix) expands to 16
// blocks, one per wildcard digit. A completed challenge like "✅7FXXXXX"
// covers every range under the two-digit prefix and expands to 256 blocks.
var (
	rangeIDPattern   = regexp.MustCompile(`[0-9A-F]{2}X[0-9A-F]{4,5}`)
	challengePattern = regexp.MustCompile(`✅([0-9A-F]{2})XXXXX`)
)

const hexDigits = "0123456789ABCDEF"

// Padding that turns an expanded ID into absolute block bounds. The page
// drops the trailing digits; every published block spans one 0x1000000000
// aligned slice whose third-from-front nibble group is 3.
const (
	rangeStartPad     = "3000000000"
	rangeEndPad       = "3FFFFFFFFF"
	challengeStartPad = "0003000000000"
	challengeEndPad   = "0003FFFFFFFFF"
)

// DecodePageText extracts and expands every unique range ID and completed
// challenge in the page text. Malformed candidates are skipped; the result
// is sorted and deduplicated but not clamped to any puzzle's bounds.
func DecodePageText(text string) []interval.Span {
	var spans []interval.Span

	for _, id := range uniqueStrings(rangeIDPattern.FindAllString(text, -1)) {
		spans = append(spans, decodeRangeID(id)...)
	}
	for _, m := range uniqueMatches(challengePattern.FindAllStringSubmatch(text, -1)) {
		spans = append(spans, decodeChallenge(m)...)
	}

	return interval.Normalize(spans)
}

// decodeRangeID expands PPXSSSS into 16 blocks, substituting each hex digit
// for the wildcard.
func decodeRangeID(id string) []interval.Span {
	prefix := id[0:2]
	suffix := id[3:]

	spans := make([]interval.Span, 0, 16)
	for _, x := range hexDigits {
		start, ok1 := new(big.Int).SetString(prefix+string(x)+suffix+rangeStartPad, 16)
		end, ok2 := new(big.Int).SetString(prefix+string(x)+suffix+rangeEndPad, 16)
		if !ok1 || !ok2 {
			continue
		}
		spans = append(spans, interval.Span{Start: start, End: end})
	}
	return spans
}

// decodeChallenge expands a completed two-digit prefix into 256 blocks.
func decodeChallenge(prefix string) []interval.Span {
	spans := make([]interval.Span, 0, 256)
	for _, x1 := range hexDigits {
		for _, x2 := range hexDigits {
			head := prefix + string(x1) + string(x2)
			start, ok1 := new(big.Int).SetString(head+challengeStartPad, 16)
			end, ok2 := new(big.Int).SetString(head+challengeEndPad, 16)
			if !ok1 || !ok2 {
				continue
			}
			spans = append(spans, interval.Span{Start: start, End: end})
		}
	}
	return spans
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func uniqueMatches(matches [][]string) []string {
	var prefixes []string
	for _, m := range matches {
		if len(m) > 1 {
			prefixes = append(prefixes, m[1])
		}
	}
	return uniqueStrings(prefixes)
}
