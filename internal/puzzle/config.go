package puzzle

import (
	"fmt"
	"sort"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/util/sets"
)

// FromConfig resolves the configured selection against the built-in catalog
// plus any custom entries. Custom puzzles are selected implicitly; a custom
// entry reusing a catalog ID replaces it.
func FromConfig(cfg *config.Config) (*Registry, error) {
	catalog := make(map[int]Puzzle)
	for _, p := range Presets() {
		catalog[p.ID] = p
	}

	selected := sets.New(cfg.Puzzles...)
	for _, c := range cfg.CustomPuzzles {
		p, err := fromCustom(c)
		if err != nil {
			return nil, err
		}
		catalog[p.ID] = p
		selected.Add(p.ID)
	}

	ids := make([]int, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	puzzles := make([]Puzzle, 0, len(ids))
	for _, id := range ids {
		p, ok := catalog[id]
		if !ok {
			return nil, errdefs.ConfigInvalid("puzzles",
				fmt.Sprintf("puzzle %d is not in the catalog and has no custom entry", id))
		}
		puzzles = append(puzzles, p)
	}
	return NewRegistry(puzzles...)
}

func fromCustom(c config.CustomPuzzle) (Puzzle, error) {
	r, err := interval.FromHex(c.RangeStart, c.RangeEnd)
	if err != nil {
		return Puzzle{}, errdefs.ConfigInvalid(
			fmt.Sprintf("custom_puzzles[%d].range", c.ID), err.Error())
	}
	return Puzzle{
		ID:      c.ID,
		Bits:    c.Bits,
		Address: c.Address,
		Range:   r,
	}, nil
}
