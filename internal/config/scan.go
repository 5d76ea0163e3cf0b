package config

import (
	"fmt"
	"math/big"
	"time"
)

// ScanConfig shapes how the keyspace is carved up. Sizes are hex strings
// without 0x prefix; keyspaces above puzzle 63 do not fit in uint64.
type ScanConfig struct {
	// BlockSize is the number of keys claimed per scheduling round.
	BlockSize string `yaml:"block_size,omitempty"`
	// SubRangeSize is the number of keys handed to one search process.
	// Defaults to BlockSize (one process per block).
	SubRangeSize string `yaml:"sub_range_size,omitempty"`
	// Stride is how far the cursor advances after a completed block.
	// Defaults to BlockSize (contiguous coverage); larger values leave
	// deliberate gaps for interleaved instances.
	Stride string `yaml:"stride,omitempty"`
	// InterRangeDelay is the pause between recording one block and seeking
	// the next, giving the GPU time to settle.
	InterRangeDelay time.Duration `yaml:"inter_range_delay,omitempty"`
}

// ScanParams is the parsed, validated form of ScanConfig.
type ScanParams struct {
	BlockSize       *big.Int
	SubRangeSize    *big.Int
	Stride          *big.Int
	InterRangeDelay time.Duration
}

// Params parses the hex size fields. Call Validate first for friendly
// errors; this returns plain parse failures.
func (s ScanConfig) Params() (ScanParams, error) {
	block, err := parseHexSize("scan.block_size", s.BlockSize)
	if err != nil {
		return ScanParams{}, err
	}

	sub := new(big.Int).Set(block)
	if s.SubRangeSize != "" {
		if sub, err = parseHexSize("scan.sub_range_size", s.SubRangeSize); err != nil {
			return ScanParams{}, err
		}
	}

	stride := new(big.Int).Set(block)
	if s.Stride != "" {
		if stride, err = parseHexSize("scan.stride", s.Stride); err != nil {
			return ScanParams{}, err
		}
	}

	return ScanParams{
		BlockSize:       block,
		SubRangeSize:    sub,
		Stride:          stride,
		InterRangeDelay: s.InterRangeDelay,
	}, nil
}

func parseHexSize(field, raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("%s: not a hex number: %q", field, raw)
	}
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("%s: must be positive, got %s", field, n)
	}
	return n, nil
}
