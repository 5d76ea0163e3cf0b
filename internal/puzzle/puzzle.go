// Package puzzle defines the catalog of scan targets. A puzzle is a known
// funded address whose private key lies in a publicly stated bit range.
package puzzle

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// Puzzle describes one scan target. Immutable once registered.
type Puzzle struct {
	ID      int
	Bits    int
	Address string
	Range   interval.Span
	Reward  string
}

// RangeForBits returns the canonical keyspace for an n-bit puzzle:
// [2^(n-1), 2^n - 1].
func RangeForBits(bits int) interval.Span {
	start := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	end := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	end.Sub(end, big.NewInt(1))
	return interval.Span{Start: start, End: end}
}

// KeyspaceSize returns the number of keys in the puzzle's range.
func (p Puzzle) KeyspaceSize() *big.Int {
	return p.Range.Length()
}

// Validate checks internal consistency. The address must decode as a mainnet
// address and, when Bits is set, the range must sit inside the canonical
// keyspace for that width.
func (p Puzzle) Validate() error {
	if p.ID <= 0 {
		return errdefs.ConfigInvalid("puzzle.id", "must be positive")
	}
	if p.Range.Start == nil || p.Range.End == nil {
		return errdefs.ConfigInvalid("puzzle.range", "missing bounds")
	}
	if p.Range.Start.Cmp(p.Range.End) > 0 {
		return errdefs.ConfigInvalid("puzzle.range", "start after end")
	}
	if err := ValidateAddress(p.Address); err != nil {
		return errdefs.ConfigInvalid("puzzle.address", err.Error())
	}
	if p.Bits > 0 {
		canonical := RangeForBits(p.Bits)
		if p.Range.Start.Cmp(canonical.Start) < 0 || p.Range.End.Cmp(canonical.End) > 0 {
			return errdefs.ConfigInvalid("puzzle.range",
				fmt.Sprintf("outside the %d-bit keyspace %s", p.Bits, canonical))
		}
	}
	return nil
}

// ValidateAddress checks that the string decodes as a Bitcoin mainnet
// address. Only the encoding is verified; keys are never derived here.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}
	decoded, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("decode address %q: %w", address, err)
	}
	if !decoded.IsForNet(&chaincfg.MainNetParams) {
		return fmt.Errorf("address %q is not a mainnet address", address)
	}
	return nil
}

// Registry holds the resolved set of puzzles for a run. Built once at
// startup from presets plus configured custom puzzles.
type Registry struct {
	byID map[int]Puzzle
}

// NewRegistry validates and indexes the given puzzles. Duplicate IDs are
// rejected.
func NewRegistry(puzzles ...Puzzle) (*Registry, error) {
	r := &Registry{byID: make(map[int]Puzzle, len(puzzles))}
	for _, p := range puzzles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("puzzle %d: %w", p.ID, err)
		}
		if _, exists := r.byID[p.ID]; exists {
			return nil, errdefs.ConfigInvalid("puzzle.id", fmt.Sprintf("duplicate puzzle %d", p.ID))
		}
		r.byID[p.ID] = p
	}
	return r, nil
}

// Get returns the puzzle with the given ID.
func (r *Registry) Get(id int) (Puzzle, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns every registered puzzle sorted by ID.
func (r *Registry) All() []Puzzle {
	out := make([]Puzzle, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns every registered puzzle ID sorted ascending.
func (r *Registry) IDs() []int {
	out := make([]int, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
