package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// DefaultHistoryPath is where run reports are archived unless configured
// otherwise.
func DefaultHistoryPath() string {
	return filepath.Join(xdg.DataHome, "actiontree", "history.db")
}

// DefaultConfig returns the default configuration: one action at a time,
// fail-fast, warnings only, history in the XDG data directory.
func DefaultConfig() *Config {
	return &Config{
		Jobs:        1,
		KeepGoing:   false,
		Verbosity:   0,
		HistoryPath: DefaultHistoryPath(),
		Retry: RetryConfig{
			InitialInterval:     Duration(100 * time.Millisecond),
			MaxInterval:         Duration(10 * time.Second),
			MaxElapsedTime:      Duration(2 * time.Minute),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: BreakerConfig{
			Enabled:  false,
			Trip:     5,
			Cooldown: Duration(30 * time.Second),
		},
	}
}
