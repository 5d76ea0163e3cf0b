package config

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
)

// Validate checks the configuration before anything is scheduled. It returns
// the first problem found as a config_invalid error naming the field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errdefs.ConfigInvalid("data_dir", "must not be empty")
	}

	if len(c.Puzzles) == 0 && len(c.CustomPuzzles) == 0 {
		return errdefs.ConfigInvalid("puzzles", "select at least one puzzle")
	}

	seen := make(map[int]bool)
	for i, id := range c.Puzzles {
		if id <= 0 {
			return errdefs.ConfigInvalid(fmt.Sprintf("puzzles[%d]", i), "must be positive")
		}
		if seen[id] {
			return errdefs.ConfigInvalid(fmt.Sprintf("puzzles[%d]", i), fmt.Sprintf("puzzle %d listed twice", id))
		}
		seen[id] = true
	}
	for i, cp := range c.CustomPuzzles {
		field := fmt.Sprintf("custom_puzzles[%d]", i)
		if cp.ID <= 0 {
			return errdefs.ConfigInvalid(field+".id", "must be positive")
		}
		if seen[cp.ID] {
			return errdefs.ConfigInvalid(field+".id", fmt.Sprintf("puzzle %d listed twice", cp.ID))
		}
		seen[cp.ID] = true
		if strings.TrimSpace(cp.Address) == "" {
			return errdefs.ConfigInvalid(field+".address", "must not be empty")
		}
		if _, ok := new(big.Int).SetString(cp.RangeStart, 16); !ok {
			return errdefs.ConfigInvalid(field+".range_start", fmt.Sprintf("not a hex number: %q", cp.RangeStart))
		}
		if _, ok := new(big.Int).SetString(cp.RangeEnd, 16); !ok {
			return errdefs.ConfigInvalid(field+".range_end", fmt.Sprintf("not a hex number: %q", cp.RangeEnd))
		}
	}

	params, err := c.Scan.Params()
	if err != nil {
		return errdefs.ConfigInvalid("scan", err.Error())
	}
	if params.SubRangeSize.Cmp(params.BlockSize) > 0 {
		return errdefs.ConfigInvalid("scan.sub_range_size", "must not exceed scan.block_size")
	}
	if params.Stride.Cmp(params.BlockSize) < 0 {
		return errdefs.ConfigInvalid("scan.stride", "must be at least scan.block_size")
	}
	if params.InterRangeDelay < 0 {
		return errdefs.ConfigInvalid("scan.inter_range_delay", "must not be negative")
	}

	if c.Pool.IsEnabled() {
		u, err := url.Parse(c.Pool.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errdefs.ConfigInvalid("pool.base_url", fmt.Sprintf("not an http(s) URL: %q", c.Pool.BaseURL))
		}
		if c.Pool.Timeout <= 0 {
			return errdefs.ConfigInvalid("pool.timeout", "must be positive")
		}
		if c.Pool.SyncInterval <= 0 {
			return errdefs.ConfigInvalid("pool.sync_interval", "must be positive")
		}
	}

	if c.Filter.IsEnabled() {
		if c.Filter.MinRepeat < 2 {
			return errdefs.ConfigInvalid("filter.min_repeat", "must be at least 2")
		}
		for i, name := range c.Filter.Strategies {
			switch name {
			case StrategyRepeatedDigits, StrategyUniformClass:
			default:
				return errdefs.ConfigInvalid(fmt.Sprintf("filter.strategies[%d]", i),
					fmt.Sprintf("unknown strategy %q", name))
			}
		}
	}

	if strings.TrimSpace(c.Dispatch.Binary) == "" {
		return errdefs.ConfigInvalid("dispatch.binary", "must not be empty")
	}
	if c.Dispatch.Threads < 0 {
		return errdefs.ConfigInvalid("dispatch.threads", "must not be negative")
	}
	if c.Dispatch.Timeout < 0 {
		return errdefs.ConfigInvalid("dispatch.timeout", "must not be negative")
	}
	if c.Dispatch.RetryDelay < 0 {
		return errdefs.ConfigInvalid("dispatch.retry_delay", "must not be negative")
	}
	if c.Dispatch.RetryBackoff != "" {
		if _, err := retryBackoffNormalizer.NormalizeWithError(c.Dispatch.RetryBackoff); err != nil {
			return errdefs.ConfigInvalid("dispatch.retry_backoff", err.Error())
		}
	}

	if c.Daemon.NATS.URL != "" {
		if _, err := url.Parse(c.Daemon.NATS.URL); err != nil {
			return errdefs.ConfigInvalid("daemon.nats.url", err.Error())
		}
	}

	return nil
}
