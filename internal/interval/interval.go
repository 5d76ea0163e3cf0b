// Package interval provides arbitrary-precision interval arithmetic over
// private key index ranges. Keyspaces above puzzle 63 exceed uint64, so all
// bounds are big.Int and spans are inclusive on both ends.
package interval

import (
	"fmt"
	"math/big"
	"sort"
)

var one = big.NewInt(1)

// Span is an inclusive range [Start, End] of key indexes.
// Constructors copy their inputs; a Span never aliases caller-owned big.Ints.
type Span struct {
	Start *big.Int
	End   *big.Int
}

// New validates and copies the given bounds into a Span.
func New(start, end *big.Int) (Span, error) {
	if start == nil || end == nil {
		return Span{}, fmt.Errorf("interval: nil bound")
	}
	if start.Sign() < 0 {
		return Span{}, fmt.Errorf("interval: negative start %s", start)
	}
	if start.Cmp(end) > 0 {
		return Span{}, fmt.Errorf("interval: start %s after end %s", start, end)
	}
	return Span{Start: new(big.Int).Set(start), End: new(big.Int).Set(end)}, nil
}

// FromHex parses two hex bounds (no 0x prefix, case-insensitive) into a Span.
func FromHex(startHex, endHex string) (Span, error) {
	start, ok := new(big.Int).SetString(startHex, 16)
	if !ok {
		return Span{}, fmt.Errorf("interval: bad hex start %q", startHex)
	}
	end, ok := new(big.Int).SetString(endHex, 16)
	if !ok {
		return Span{}, fmt.Errorf("interval: bad hex end %q", endHex)
	}
	return New(start, end)
}

// MustFromHex is FromHex for statically known bounds; it panics on bad input.
func MustFromHex(startHex, endHex string) Span {
	s, err := FromHex(startHex, endHex)
	if err != nil {
		panic(err)
	}
	return s
}

// String renders the span the way the search binary expects ranges: START:END
// in upper-case hex without prefix.
func (s Span) String() string {
	return fmt.Sprintf("%X:%X", s.Start, s.End)
}

// Length returns the number of keys in the span (End - Start + 1).
func (s Span) Length() *big.Int {
	n := new(big.Int).Sub(s.End, s.Start)
	return n.Add(n, one)
}

// Contains reports whether k lies inside the span.
func (s Span) Contains(k *big.Int) bool {
	return s.Start.Cmp(k) <= 0 && k.Cmp(s.End) <= 0
}

// Overlaps reports whether the two spans share at least one key.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Cmp(o.End) <= 0 && o.Start.Cmp(s.End) <= 0
}

// Equal reports whether both bounds match.
func (s Span) Equal(o Span) bool {
	return s.Start.Cmp(o.Start) == 0 && s.End.Cmp(o.End) == 0
}

// Clone returns an independent copy of the span.
func (s Span) Clone() Span {
	return Span{Start: new(big.Int).Set(s.Start), End: new(big.Int).Set(s.End)}
}

// Normalize sorts the spans and merges every overlapping or adjacent pair
// (adjacent: next.Start == cur.End+1). The result is the minimal sorted set
// covering exactly the union of the inputs, and is identical for any input
// ordering of the same multiset. The input slice is not modified.
func Normalize(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].Start.Cmp(sorted[j].Start); c != 0 {
			return c < 0
		}
		return sorted[i].End.Cmp(sorted[j].End) < 0
	})

	out := make([]Span, 0, len(sorted))
	cur := sorted[0].Clone()
	for _, s := range sorted[1:] {
		boundary := new(big.Int).Add(cur.End, one)
		if s.Start.Cmp(boundary) <= 0 {
			if s.End.Cmp(cur.End) > 0 {
				cur.End.Set(s.End)
			}
			continue
		}
		out = append(out, cur)
		cur = s.Clone()
	}
	return append(out, cur)
}

// NextGap returns the first maximal uncovered span at or after from, bounded
// above by rangeEnd. Returns nil when everything from from to rangeEnd is
// already covered. covered need not be normalized.
func NextGap(covered []Span, from, rangeEnd *big.Int) *Span {
	cur := new(big.Int).Set(from)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
	if cur.Cmp(rangeEnd) > 0 {
		return nil
	}
	for _, s := range Normalize(covered) {
		if s.End.Cmp(cur) < 0 {
			continue
		}
		if s.Start.Cmp(cur) > 0 {
			end := new(big.Int).Sub(s.Start, one)
			if end.Cmp(rangeEnd) > 0 {
				end.Set(rangeEnd)
			}
			return &Span{Start: cur, End: end}
		}
		cur.Add(s.End, one)
		if cur.Cmp(rangeEnd) > 0 {
			return nil
		}
	}
	return &Span{Start: cur, End: new(big.Int).Set(rangeEnd)}
}

// Clip truncates the span to at most maxKeys keys, keeping Start fixed.
// A nil or non-positive maxKeys leaves the span unchanged.
func Clip(s Span, maxKeys *big.Int) Span {
	if maxKeys == nil || maxKeys.Sign() <= 0 {
		return s.Clone()
	}
	if s.Length().Cmp(maxKeys) <= 0 {
		return s.Clone()
	}
	end := new(big.Int).Add(s.Start, maxKeys)
	end.Sub(end, one)
	return Span{Start: new(big.Int).Set(s.Start), End: end}
}

// Clamp restricts the span to the given bounds. The second return is false
// when the span lies entirely outside them.
func Clamp(s Span, bounds Span) (Span, bool) {
	if !s.Overlaps(bounds) {
		return Span{}, false
	}
	out := s.Clone()
	if out.Start.Cmp(bounds.Start) < 0 {
		out.Start.Set(bounds.Start)
	}
	if out.End.Cmp(bounds.End) > 0 {
		out.End.Set(bounds.End)
	}
	return out, true
}

// Carve splits the span into consecutive sub-spans of at most size keys each.
// The last sub-span may be shorter.
func Carve(s Span, size *big.Int) []Span {
	if size == nil || size.Sign() <= 0 {
		return []Span{s.Clone()}
	}
	var out []Span
	start := new(big.Int).Set(s.Start)
	for start.Cmp(s.End) <= 0 {
		end := new(big.Int).Add(start, size)
		end.Sub(end, one)
		if end.Cmp(s.End) > 0 {
			end.Set(s.End)
		}
		out = append(out, Span{Start: new(big.Int).Set(start), End: end})
		start = new(big.Int).Add(end, one)
	}
	return out
}

// Sum returns the total number of distinct keys covered by the spans.
func Sum(spans []Span) *big.Int {
	total := new(big.Int)
	for _, s := range Normalize(spans) {
		total.Add(total, s.Length())
	}
	return total
}
