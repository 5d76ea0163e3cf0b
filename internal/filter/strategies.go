package filter

import (
	"fmt"
	"math/big"
	"strings"

	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// RepeatedDigits skips a sub-range when either bound's hex form contains a
// run of at least MinRun identical non-zero digits. Runs of zeros are
// exempt: aligned range bounds are full of them.
type RepeatedDigits struct {
	MinRun    int
	reduction float64
}

// NewRepeatedDigits builds the rule. The advertised reductions come from the
// observed hit rates of the two deployed run lengths: triples eliminate more
// of the space than quadruples.
func NewRepeatedDigits(minRun int) RepeatedDigits {
	if minRun < 2 {
		minRun = 3
	}
	reduction := 0.40
	if minRun <= 3 {
		reduction = 0.60
	}
	return RepeatedDigits{MinRun: minRun, reduction: reduction}
}

func (r RepeatedDigits) Name() string { return fmt.Sprintf("repeated-%d", r.MinRun) }

func (r RepeatedDigits) Reduction() float64 { return r.reduction }

func (r RepeatedDigits) Skip(s interval.Span) (bool, string) {
	if hasRepeatedDigits(hexUpper(s.Start), r.MinRun) || hasRepeatedDigits(hexUpper(s.End), r.MinRun) {
		return true, r.Name()
	}
	return false, ""
}

// UniformClass skips a sub-range when either bound's hex form is entirely
// letters or entirely digits. Mixed bounds pass.
type UniformClass struct{}

func (UniformClass) Name() string { return "alphanum-only" }

func (UniformClass) Reduction() float64 { return 0.30 }

func (UniformClass) Skip(s interval.Span) (bool, string) {
	if isUniformClass(hexUpper(s.Start)) || isUniformClass(hexUpper(s.End)) {
		return true, "alphanum-only"
	}
	return false, ""
}

// hexUpper renders the bound the way the rules expect: upper-case, no
// prefix, no leading zeros.
func hexUpper(v *big.Int) string {
	return strings.ToUpper(v.Text(16))
}

func hasRepeatedDigits(hex string, minRun int) bool {
	count := 1
	var prev byte
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		if c == prev {
			count++
			if count >= minRun && c != '0' {
				return true
			}
		} else {
			count = 1
			prev = c
		}
	}
	return false
}

func isUniformClass(hex string) bool {
	var hasAlpha, hasNumeric bool
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		switch {
		case c >= 'A' && c <= 'F':
			hasAlpha = true
		case c >= '0' && c <= '9':
			hasNumeric = true
		}
	}
	return hasAlpha != hasNumeric
}
