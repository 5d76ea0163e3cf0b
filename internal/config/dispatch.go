package config

import "time"

// DispatchConfig describes the external search binary and how to drive it.
type DispatchConfig struct {
	// Binary is the path to the search executable (KeyHunt-Cuda or
	// compatible: anything accepting --range START:END plus an address).
	Binary  string `yaml:"binary"`
	Threads int    `yaml:"threads,omitempty"`
	GPU     bool   `yaml:"gpu,omitempty"`
	GPUID   int    `yaml:"gpu_id,omitempty"`
	GPUGrid string `yaml:"gpu_grid,omitempty"`
	Mode    string `yaml:"mode,omitempty"`
	Coin    string `yaml:"coin,omitempty"`
	// FoundFile is where the binary appends matches, relative to DataDir
	// unless absolute.
	FoundFile string `yaml:"found_file,omitempty"`
	// Timeout bounds one sub-range run. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// RetryDelay is the pause before re-dispatching a crashed sub-range.
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
	// RetryBackoff selects how the pause grows across attempts: fixed,
	// linear or exponential. Empty means fixed.
	RetryBackoff string `yaml:"retry_backoff,omitempty"`
	// ExtraArgs are appended verbatim before the address.
	ExtraArgs []string `yaml:"extra_args,omitempty"`
}
