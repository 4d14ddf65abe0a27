package server

import "github.com/zalo/netplaycore/internal/netplaycfg"

// Config holds the daemon's startup configuration: the closed set of
// per-room knobs validated by netplaycfg, plus process-level settings that
// are not per-room.
type Config struct {
	netplaycfg.Config

	// Development toggles the development-mode log encoder.
	Development bool
}

// DefaultConfig returns a Config with netplaycfg's defaults and
// development logging off.
func DefaultConfig() *Config {
	return &Config{Config: *netplaycfg.Default()}
}
