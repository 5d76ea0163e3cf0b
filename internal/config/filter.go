package config

// Known filter strategy names.
const (
	StrategyRepeatedDigits = "repeated-digits"
	StrategyUniformClass   = "uniform-class"
)

// FilterConfig tunes the pattern heuristic that skips improbable-looking
// ranges. Disabling it yields exhaustive coverage.
type FilterConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	// MinRepeat is the run length of identical non-zero hex digits that
	// triggers the repeated-digits strategy.
	MinRepeat  int      `yaml:"min_repeat,omitempty"`
	Strategies []string `yaml:"strategies,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (f FilterConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}
