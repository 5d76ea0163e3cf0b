package puzzle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/scancoord/internal/config"
)

func TestFromConfigSelectsCatalogPuzzles(t *testing.T) {
	reg, err := FromConfig(&config.Config{Puzzles: []int{72, 71}})
	require.NoError(t, err)
	require.Equal(t, []int{71, 72}, reg.IDs())

	p, ok := reg.Get(71)
	require.True(t, ok)
	require.Equal(t, "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU", p.Address)
}

func TestFromConfigSelectsCustomImplicitly(t *testing.T) {
	cfg := &config.Config{
		Puzzles: []int{71},
		CustomPuzzles: []config.CustomPuzzle{{
			ID:         999,
			Address:    "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
			RangeStart: "0",
			RangeEnd:   "FFFF",
		}},
	}
	reg, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []int{71, 999}, reg.IDs())

	p, ok := reg.Get(999)
	require.True(t, ok)
	require.Equal(t, "0:FFFF", p.Range.String())
}

func TestFromConfigCustomOverridesCatalog(t *testing.T) {
	cfg := &config.Config{
		CustomPuzzles: []config.CustomPuzzle{{
			ID:         71,
			Address:    "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
			RangeStart: "400000000000000000",
			RangeEnd:   "4FFFFFFFFFFFFFFFFF",
		}},
	}
	reg, err := FromConfig(cfg)
	require.NoError(t, err)

	p, ok := reg.Get(71)
	require.True(t, ok)
	require.Equal(t, "400000000000000000:4FFFFFFFFFFFFFFFFF", p.Range.String(),
		"custom entry narrows the catalog range")
}

func TestFromConfigRejectsUnknownSelection(t *testing.T) {
	_, err := FromConfig(&config.Config{Puzzles: []int{12345}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "12345")
}

func TestFromConfigRejectsBadCustomRange(t *testing.T) {
	cfg := &config.Config{
		CustomPuzzles: []config.CustomPuzzle{{
			ID:         999,
			Address:    "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
			RangeStart: "ZZZ",
			RangeEnd:   "FFFF",
		}},
	}
	_, err := FromConfig(cfg)
	require.Error(t, err)
}
