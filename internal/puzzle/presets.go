package puzzle

// Presets returns the built-in catalog of currently unsolved puzzles.
// Ranges are derived from the bit width, addresses are the published
// targets. 71 is the lowest unsolved entry.
func Presets() []Puzzle {
	defs := []struct {
		id      int
		address string
		reward  string
	}{
		{71, "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU", "7.1 BTC"},
		{72, "1JTK7s9YVYywfm5XUH7RNhHJH1LshCaRFR", "7.2 BTC"},
		{73, "12VVRNPi4SJqUTsp6FmqDqY5sGosDtysn4", "7.3 BTC"},
		{74, "1FWGcVDK3JGzCC3WtkYetULPszMaK2Jksv", "7.4 BTC"},
		{75, "1DJh2eHFYQfACPmrvpyWc8MSTYKh7w9eRF", "7.5 BTC"},
	}

	out := make([]Puzzle, 0, len(defs))
	for _, d := range defs {
		out = append(out, Puzzle{
			ID:      d.id,
			Bits:    d.id,
			Address: d.address,
			Range:   RangeForBits(d.id),
			Reward:  d.reward,
		})
	}
	return out
}

// Preset returns the built-in puzzle with the given ID.
func Preset(id int) (Puzzle, bool) {
	for _, p := range Presets() {
		if p.ID == id {
			return p, true
		}
	}
	return Puzzle{}, false
}
