package config

import "time"

// Default values for everything the file may omit. Sizes are hex.
const (
	DefaultBlockSize       = "1000000000"
	DefaultInterRangeDelay = 2 * time.Second
	DefaultPoolBaseURL     = "https://btcpuzzle.info"
	DefaultPoolTimeout     = 30 * time.Second
	DefaultPoolInterval    = time.Hour
	DefaultHTTPAddr        = ":8714"
	DefaultBinary          = "./KeyHunt-Cuda"
	DefaultGPUGrid         = "256,256"
	DefaultMode            = "address"
	DefaultCoin            = "BTC"
	DefaultFoundFile       = "Found.txt"
	DefaultRetryDelay      = 3 * time.Second
	DefaultMinRepeat       = 3
	DefaultSubjectPrefix   = "scancoord"
)

func (c *Config) applyDefaults() {
	if c.Scan.BlockSize == "" {
		c.Scan.BlockSize = DefaultBlockSize
	}
	if c.Scan.InterRangeDelay == 0 {
		c.Scan.InterRangeDelay = DefaultInterRangeDelay
	}

	if c.Pool.BaseURL == "" {
		c.Pool.BaseURL = DefaultPoolBaseURL
	}
	if c.Pool.Timeout == 0 {
		c.Pool.Timeout = DefaultPoolTimeout
	}
	if c.Pool.SyncInterval == 0 {
		c.Pool.SyncInterval = DefaultPoolInterval
	}

	if c.Filter.MinRepeat == 0 {
		c.Filter.MinRepeat = DefaultMinRepeat
	}
	if len(c.Filter.Strategies) == 0 {
		c.Filter.Strategies = []string{StrategyRepeatedDigits, StrategyUniformClass}
	}

	if c.Dispatch.Binary == "" {
		c.Dispatch.Binary = DefaultBinary
	}
	if c.Dispatch.GPUGrid == "" {
		c.Dispatch.GPUGrid = DefaultGPUGrid
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DefaultMode
	}
	if c.Dispatch.Coin == "" {
		c.Dispatch.Coin = DefaultCoin
	}
	if c.Dispatch.FoundFile == "" {
		c.Dispatch.FoundFile = DefaultFoundFile
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = DefaultRetryDelay
	}

	if c.Daemon.HTTPAddr == "" {
		c.Daemon.HTTPAddr = DefaultHTTPAddr
	}
	if c.Daemon.NATS.SubjectPrefix == "" {
		c.Daemon.NATS.SubjectPrefix = DefaultSubjectPrefix
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}
}
