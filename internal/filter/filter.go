// Package filter decides whether a sub-range is worth dispatching. The
// pattern rules mark ranges whose bounds look statistically unlike random
// keys; skipping them trades a small miss risk for a large cut in search
// volume. Disabling the filter yields exhaustive coverage.
package filter

import (
	"log/slog"
	"math/big"
	"sync"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// maxAdvertisedReduction caps the summed per-rule estimates; the rules
// overlap, so their reductions cannot combine additively.
const maxAdvertisedReduction = 0.95

// Strategy is one pattern rule. Skip inspects a sub-range and reports
// whether to pass it over, with a short reason for the audit log.
type Strategy interface {
	Name() string
	Skip(s interval.Span) (bool, string)
	// Reduction is the advertised fraction of the keyspace this rule is
	// expected to eliminate. A heuristic estimate, not a measurement.
	Reduction() float64
}

// Decision is the outcome of evaluating one sub-range.
type Decision struct {
	Scan      bool
	Rule      string  // rule that voted skip, empty when scanning
	Reduction float64 // advertised reduction of the skipping rule
}

// Accounting tracks the cumulative volume of filter decisions.
type Accounting struct {
	ScannedKeys *big.Int
	SkippedKeys *big.Int
}

// SkipRatio returns skipped / (scanned + skipped), 0 when nothing was seen.
func (a Accounting) SkipRatio() float64 {
	if a.ScannedKeys == nil || a.SkippedKeys == nil {
		return 0
	}
	total := new(big.Int).Add(a.ScannedKeys, a.SkippedKeys)
	if total.Sign() == 0 {
		return 0
	}
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(a.SkippedKeys),
		new(big.Float).SetInt(total),
	).Float64()
	return ratio
}

// Filter evaluates sub-ranges against a set of strategies and keeps the
// skipped-versus-scanned accounting.
type Filter struct {
	enabled    bool
	strategies []Strategy

	mu      sync.Mutex
	scanned *big.Int
	skipped *big.Int
}

// New builds a filter. With enabled false every sub-range is admitted
// (exhaustive mode) and the strategies are ignored.
func New(enabled bool, strategies ...Strategy) *Filter {
	return &Filter{
		enabled:    enabled,
		strategies: strategies,
		scanned:    new(big.Int),
		skipped:    new(big.Int),
	}
}

// FromConfig builds the filter from the validated configuration.
func FromConfig(cfg config.FilterConfig) (*Filter, error) {
	if !cfg.IsEnabled() {
		return New(false), nil
	}
	strategies := make([]Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		switch name {
		case config.StrategyRepeatedDigits:
			strategies = append(strategies, NewRepeatedDigits(cfg.MinRepeat))
		case config.StrategyUniformClass:
			strategies = append(strategies, UniformClass{})
		default:
			return nil, errdefs.ConfigInvalid("filter.strategies", "unknown strategy "+name)
		}
	}
	return New(true, strategies...), nil
}

// Enabled reports whether any rule will be applied.
func (f *Filter) Enabled() bool { return f.enabled }

// Evaluate decides scan-or-skip for the sub-range and updates the
// accounting. Every decision is logged with the bounds and, on skip, the
// rule and its advertised reduction.
func (f *Filter) Evaluate(s interval.Span) Decision {
	if f.enabled {
		for _, strat := range f.strategies {
			skip, reason := strat.Skip(s)
			if !skip {
				continue
			}
			f.account(s, false)
			slog.Debug("filter skipped sub-range",
				slog.String("range", s.String()),
				slog.String("rule", reason),
				slog.Float64("reduction", strat.Reduction()))
			return Decision{Scan: false, Rule: reason, Reduction: strat.Reduction()}
		}
	}
	f.account(s, true)
	slog.Debug("filter admitted sub-range", slog.String("range", s.String()))
	return Decision{Scan: true}
}

// EstimatedReduction returns the summed advertised reduction of the active
// rules, capped because the rules overlap. Zero when disabled.
func (f *Filter) EstimatedReduction() float64 {
	if !f.enabled {
		return 0
	}
	var sum float64
	for _, strat := range f.strategies {
		sum += strat.Reduction()
	}
	if sum > maxAdvertisedReduction {
		return maxAdvertisedReduction
	}
	return sum
}

// Accounting returns a copy of the cumulative decision volumes.
func (f *Filter) Accounting() Accounting {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Accounting{
		ScannedKeys: new(big.Int).Set(f.scanned),
		SkippedKeys: new(big.Int).Set(f.skipped),
	}
}

func (f *Filter) account(s interval.Span, scan bool) {
	n := s.Length()
	f.mu.Lock()
	defer f.mu.Unlock()
	if scan {
		f.scanned.Add(f.scanned, n)
	} else {
		f.skipped.Add(f.skipped, n)
	}
}
