package config

import "time"

// PoolConfig configures the public pool progress feed. The pool is advisory:
// when it is disabled or unreachable the coordinator runs on local coverage
// alone.
type PoolConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (p PoolConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}
